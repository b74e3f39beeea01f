package app

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/k11v/pages/internal/audit"
	"github.com/k11v/pages/internal/backend"
	"github.com/k11v/pages/internal/build"
)

const (
	KindTimeoutBuilds = "timeout-builds"
	KindAuditUsers    = "audit-users"
	KindAuditSites    = "audit-sites"
)

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

type TimeoutReport struct {
	RunID  string         `json:"run_id"`
	At     time.Time      `json:"at"`
	Builds []CancelResult `json:"builds"`
}

type CancelResult struct {
	BuildID  int64  `json:"build_id"`
	Canceled bool   `json:"canceled"`
	NotFound bool   `json:"not_found,omitempty"`
	Error    string `json:"error,omitempty"`
}

func NewTimeoutReport(at time.Time, outcomes []build.CancelOutcome) *TimeoutReport {
	r := &TimeoutReport{RunID: uuid.NewString(), At: at, Builds: make([]CancelResult, len(outcomes))}
	for i, o := range outcomes {
		r.Builds[i] = CancelResult{
			BuildID:  o.BuildID,
			Canceled: o.Err == nil,
			NotFound: errors.Is(o.Err, backend.ErrTaskNotFound),
			Error:    errorString(o.Err),
		}
	}
	return r
}

// Failed counts builds whose cancellation failed.
func (r *TimeoutReport) Failed() int {
	n := 0
	for _, b := range r.Builds {
		if !b.Canceled {
			n++
		}
	}
	return n
}

type UserAuditReport struct {
	RunID string            `json:"run_id"`
	At    time.Time         `json:"at"`
	Users []UserAuditResult `json:"users"`
}

type UserAuditResult struct {
	UserID           int64   `json:"user_id"`
	RemovedFromSites []int64 `json:"removed_from_sites,omitempty"`
	Error            string  `json:"error,omitempty"`
}

func NewUserAuditReport(at time.Time, outcomes []audit.UserOutcome) *UserAuditReport {
	r := &UserAuditReport{RunID: uuid.NewString(), At: at, Users: make([]UserAuditResult, len(outcomes))}
	for i, o := range outcomes {
		r.Users[i] = UserAuditResult{UserID: o.UserID, RemovedFromSites: o.Removed, Error: errorString(o.Err)}
	}
	return r
}

func (r *UserAuditReport) Removed() int {
	n := 0
	for _, u := range r.Users {
		n += len(u.RemovedFromSites)
	}
	return n
}

func (r *UserAuditReport) Failed() int {
	n := 0
	for _, u := range r.Users {
		if u.Error != "" {
			n++
		}
	}
	return n
}

type SiteAuditReport struct {
	RunID string            `json:"run_id"`
	At    time.Time         `json:"at"`
	Sites []SiteAuditResult `json:"sites"`
}

type SiteAuditResult struct {
	SiteID       int64   `json:"site_id"`
	RemovedUsers []int64 `json:"removed_users,omitempty"`
	Skipped      bool    `json:"skipped,omitempty"`
	Error        string  `json:"error,omitempty"`
}

func NewSiteAuditReport(at time.Time, outcomes []audit.SiteOutcome) *SiteAuditReport {
	r := &SiteAuditReport{RunID: uuid.NewString(), At: at, Sites: make([]SiteAuditResult, len(outcomes))}
	for i, o := range outcomes {
		r.Sites[i] = SiteAuditResult{SiteID: o.SiteID, RemovedUsers: o.Removed, Skipped: o.Skipped, Error: errorString(o.Err)}
	}
	return r
}

func (r *SiteAuditReport) Removed() int {
	n := 0
	for _, s := range r.Sites {
		n += len(s.RemovedUsers)
	}
	return n
}

func (r *SiteAuditReport) Failed() int {
	n := 0
	for _, s := range r.Sites {
		if s.Error != "" {
			n++
		}
	}
	return n
}

type TaskReport struct {
	BuildID  int64           `json:"build_id"`
	Created  []int64         `json:"created"`
	Enqueued []EnqueueResult `json:"enqueued,omitempty"`
}

type EnqueueResult struct {
	TaskID       int64  `json:"task_id"`
	Priority     int    `json:"priority,omitempty"`
	Inconsistent bool   `json:"inconsistent,omitempty"`
	Error        string `json:"error,omitempty"`
}

func newEnqueueResults(outcomes []build.EnqueueOutcome) []EnqueueResult {
	results := make([]EnqueueResult, len(outcomes))
	for i, o := range outcomes {
		var inconsistency *build.InconsistencyError
		results[i] = EnqueueResult{
			TaskID:       o.TaskID,
			Priority:     o.Priority,
			Inconsistent: errors.As(o.Err, &inconsistency),
			Error:        errorString(o.Err),
		}
	}
	return results
}
