// Package audit removes site members who lost write access to the site's repository.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/k11v/pages/internal/sourcehost"
)

const (
	SweepUsers = "users"
	SweepSites = "sites"

	RemovalMessage = "Removed user from site. User does not have write permissions"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAuditorNotFound = errors.New("auditor not found")
	ErrNoCredential    = errors.New("user has no credential")
)

// Config configures one audit run.
type Config struct {
	AuditorUsername string `env:"USER_AUDITOR"`

	// Concurrency limits how many users or sites are audited at once.
	// Zero means no limit.
	Concurrency int `env:"AUDIT_CONCURRENCY" envDefault:"0"`
}

type User struct {
	ID                int64
	Username          string
	GitHubAccessToken *string
	SignedInAt        *time.Time
}

type Site struct {
	ID         int64
	Owner      string
	Repository string

	// Members holds credentialed members, most recently signed in first.
	Members []*User
}

// FullName returns owner/repository.
func (s *Site) FullName() string {
	return s.Owner + "/" + s.Repository
}

type Database interface {
	GetUser(ctx context.Context, params *DatabaseGetUserParams) (*User, error)
	GetUserByUsername(ctx context.Context, params *DatabaseGetUserByUsernameParams) (*User, error)

	// ListAuditableUsers returns users with a credential and a sign-in time,
	// most recently signed in first.
	ListAuditableUsers(ctx context.Context) ([]*User, error)

	// ListUserSites returns the sites the user is a member of. Members are not loaded.
	ListUserSites(ctx context.Context, params *DatabaseListUserSitesParams) ([]*Site, error)

	// ListSitesWithMembers returns every site with its credentialed members.
	ListSitesWithMembers(ctx context.Context) ([]*Site, error)

	// RemoveSiteUser deletes the membership and records who removed it,
	// all in one transaction. It reports false if there was nothing to remove.
	RemoveSiteUser(ctx context.Context, params *DatabaseRemoveSiteUserParams) (removed bool, err error)
}

type DatabaseGetUserParams struct {
	ID int64
}

type DatabaseGetUserByUsernameParams struct {
	Username string
}

type DatabaseListUserSitesParams struct {
	UserID int64
}

type DatabaseRemoveSiteUserParams struct {
	SiteID    int64
	UserID    int64
	AuditorID int64
	Message   string
}

// SourceHost is satisfied by *sourcehost.Client.
type SourceHost interface {
	GetRepositories(ctx context.Context, token string) ([]*sourcehost.Repository, error)
	GetCollaborators(ctx context.Context, token, owner, repo string) ([]*sourcehost.Collaborator, error)
}

// UserOutcome is the settled result of auditing one user.
type UserOutcome struct {
	UserID  int64
	Removed []int64 // site IDs
	Err     error
}

// SiteOutcome is the settled result of auditing one site.
type SiteOutcome struct {
	SiteID  int64
	Removed []int64 // user IDs

	// Skipped is set when no member credential could list collaborators.
	Skipped bool
	Err     error
}
