package auditpg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/k11v/pages/internal/audit"
)

const (
	actionRemove   = "remove"
	targetTypeUser = "user"
	eventTypeAudit = "audit"
	labelSiteUser  = "site_user"
	modelUser      = "User"
)

// Querier is satisfied by *pgxpool.Pool and *pgx.Conn.
type Querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var _ audit.Database = (*Database)(nil)

type Database struct {
	db Querier // required
}

func NewDatabase(db Querier) *Database {
	return &Database{db: db}
}

type userRow struct {
	ID                int64      `db:"id"`
	Username          string     `db:"username"`
	GitHubAccessToken *string    `db:"github_access_token"`
	SignedInAt        *time.Time `db:"signed_in_at"`
}

func rowToUser(collectableRow pgx.CollectableRow) (*audit.User, error) {
	r, err := pgx.RowToStructByName[userRow](collectableRow)
	if err != nil {
		return nil, fmt.Errorf("row to user: %w", err)
	}
	return &audit.User{
		ID:                r.ID,
		Username:          r.Username,
		GitHubAccessToken: r.GitHubAccessToken,
		SignedInAt:        r.SignedInAt,
	}, nil
}

type siteRow struct {
	ID         int64  `db:"id"`
	Owner      string `db:"owner"`
	Repository string `db:"repository"`
}

func rowToSite(collectableRow pgx.CollectableRow) (*audit.Site, error) {
	r, err := pgx.RowToStructByName[siteRow](collectableRow)
	if err != nil {
		return nil, fmt.Errorf("row to site: %w", err)
	}
	return &audit.Site{ID: r.ID, Owner: r.Owner, Repository: r.Repository}, nil
}

// GetUser implements audit.Database.
func (d *Database) GetUser(ctx context.Context, params *audit.DatabaseGetUserParams) (*audit.User, error) {
	query := `
		SELECT id, username, github_access_token, signed_in_at
		FROM users
		WHERE id = $1
	`
	args := []any{params.ID}

	rows, _ := d.db.Query(ctx, query, args...)
	u, err := pgx.CollectExactlyOneRow(rows, rowToUser)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, audit.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	return u, nil
}

// GetUserByUsername implements audit.Database.
func (d *Database) GetUserByUsername(ctx context.Context, params *audit.DatabaseGetUserByUsernameParams) (*audit.User, error) {
	query := `
		SELECT id, username, github_access_token, signed_in_at
		FROM users
		WHERE username = $1
	`
	args := []any{params.Username}

	rows, _ := d.db.Query(ctx, query, args...)
	u, err := pgx.CollectExactlyOneRow(rows, rowToUser)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, audit.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get user by username: %w", err)
	}

	return u, nil
}

// ListAuditableUsers implements audit.Database.
func (d *Database) ListAuditableUsers(ctx context.Context) ([]*audit.User, error) {
	query := `
		SELECT id, username, github_access_token, signed_in_at
		FROM users
		WHERE github_access_token IS NOT NULL AND signed_in_at IS NOT NULL
		ORDER BY signed_in_at DESC, id
	`

	rows, _ := d.db.Query(ctx, query)
	users, err := pgx.CollectRows(rows, rowToUser)
	if err != nil {
		return nil, fmt.Errorf("list auditable users: %w", err)
	}

	return users, nil
}

// ListUserSites implements audit.Database.
func (d *Database) ListUserSites(ctx context.Context, params *audit.DatabaseListUserSitesParams) ([]*audit.Site, error) {
	query := `
		SELECT s.id, s.owner, s.repository
		FROM sites s
		JOIN site_users su ON su.site_id = s.id
		WHERE su.user_id = $1
		ORDER BY s.id
	`
	args := []any{params.UserID}

	rows, _ := d.db.Query(ctx, query, args...)
	sites, err := pgx.CollectRows(rows, rowToSite)
	if err != nil {
		return nil, fmt.Errorf("list user sites: %w", err)
	}

	return sites, nil
}

type siteMemberRow struct {
	SiteID            int64      `db:"site_id"`
	Owner             string     `db:"owner"`
	Repository        string     `db:"repository"`
	UserID            *int64     `db:"user_id"`
	Username          *string    `db:"username"`
	GitHubAccessToken *string    `db:"github_access_token"`
	SignedInAt        *time.Time `db:"signed_in_at"`
}

// ListSitesWithMembers implements audit.Database.
func (d *Database) ListSitesWithMembers(ctx context.Context) ([]*audit.Site, error) {
	query := `
		SELECT
			s.id AS site_id, s.owner, s.repository,
			u.id AS user_id, u.username, u.github_access_token, u.signed_in_at
		FROM sites s
		LEFT JOIN site_users su ON su.site_id = s.id
		LEFT JOIN users u ON u.id = su.user_id AND u.github_access_token IS NOT NULL
		ORDER BY s.id, u.signed_in_at DESC NULLS LAST, u.id
	`

	rows, _ := d.db.Query(ctx, query)
	memberRows, err := pgx.CollectRows(rows, pgx.RowToStructByName[siteMemberRow])
	if err != nil {
		return nil, fmt.Errorf("list sites with members: %w", err)
	}

	var sites []*audit.Site
	for _, r := range memberRows {
		if len(sites) == 0 || sites[len(sites)-1].ID != r.SiteID {
			sites = append(sites, &audit.Site{ID: r.SiteID, Owner: r.Owner, Repository: r.Repository})
		}
		if r.UserID == nil {
			continue
		}
		s := sites[len(sites)-1]
		s.Members = append(s.Members, &audit.User{
			ID:                *r.UserID,
			Username:          *r.Username,
			GitHubAccessToken: r.GitHubAccessToken,
			SignedInAt:        r.SignedInAt,
		})
	}

	return sites, nil
}

// RemoveSiteUser implements audit.Database.
func (d *Database) RemoveSiteUser(ctx context.Context, params *audit.DatabaseRemoveSiteUserParams) (bool, error) {
	removed := false
	err := pgx.BeginFunc(ctx, d.db, func(tx pgx.Tx) error {
		query := `
			DELETE FROM site_users
			WHERE site_id = $1 AND user_id = $2
			RETURNING user_id
		`
		rows, _ := tx.Query(ctx, query, params.SiteID, params.UserID)
		_, err := pgx.CollectExactlyOneRow(rows, pgx.RowTo[int64])
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		} else if err != nil {
			return fmt.Errorf("delete site user: %w", err)
		}

		query = `
			INSERT INTO user_actions (user_id, target_id, target_type, action, site_id)
			VALUES ($1, $2, $3, $4, $5)
		`
		if _, err = tx.Exec(ctx, query, params.AuditorID, params.UserID, targetTypeUser, actionRemove, params.SiteID); err != nil {
			return fmt.Errorf("insert user action: %w", err)
		}

		query = `
			INSERT INTO events (type, label, model, model_id, body)
			VALUES ($1, $2, $3, $4, $5)
		`
		body := map[string]any{"message": params.Message, "siteId": params.SiteID}
		if _, err = tx.Exec(ctx, query, eventTypeAudit, labelSiteUser, modelUser, params.UserID, body); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}

		removed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("remove site user: %w", err)
	}

	return removed, nil
}
