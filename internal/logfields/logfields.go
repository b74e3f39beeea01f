package logfields

import "log/slog"

// Canonical log field names shared by the sweeps and clients.
const (
	KeyBuildID  = "build_id"
	KeyTaskID   = "task_id"
	KeySiteID   = "site_id"
	KeyUserID   = "user_id"
	KeyRunID    = "run_id"
	KeyPriority = "priority"
	KeyRepo     = "repository"
	KeyError    = "error"
)

func BuildID(id int64) slog.Attr    { return slog.Int64(KeyBuildID, id) }
func TaskID(id int64) slog.Attr     { return slog.Int64(KeyTaskID, id) }
func SiteID(id int64) slog.Attr     { return slog.Int64(KeySiteID, id) }
func UserID(id int64) slog.Attr     { return slog.Int64(KeyUserID, id) }
func RunID(id string) slog.Attr     { return slog.String(KeyRunID, id) }
func Priority(p int) slog.Attr      { return slog.Int(KeyPriority, p) }
func Repository(r string) slog.Attr { return slog.String(KeyRepo, r) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
