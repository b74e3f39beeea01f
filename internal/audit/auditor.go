package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/k11v/pages/internal/logfields"
	"github.com/k11v/pages/internal/metrics"
)

type Auditor struct {
	database   Database          // required
	sourceHost SourceHost        // required
	log        *slog.Logger      // required
	metrics    *metrics.Recorder // optional
}

func NewAuditor(database Database, sourceHost SourceHost, log *slog.Logger, recorder *metrics.Recorder) *Auditor {
	if log == nil {
		log = slog.Default()
	}
	return &Auditor{
		database:   database,
		sourceHost: sourceHost,
		log:        log.With("component", "auditor"),
		metrics:    recorder,
	}
}

func (a *Auditor) auditor(ctx context.Context, cfg *Config) (*User, error) {
	if cfg.AuditorUsername == "" {
		return nil, fmt.Errorf("%w: username not configured", ErrAuditorNotFound)
	}
	u, err := a.database.GetUserByUsername(ctx, &DatabaseGetUserByUsernameParams{Username: cfg.AuditorUsername})
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAuditorNotFound, cfg.AuditorUsername)
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func newGroup(ctx context.Context, limit int) (*errgroup.Group, context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	return g, ctx
}

// AuditAllUsers checks every credentialed user's repository permissions and
// removes them from sites whose repository they can't push to.
//
// Users are audited concurrently. A failure auditing one user is recorded in
// its outcome and doesn't affect the others. An error is returned only if
// the run couldn't start.
func (a *Auditor) AuditAllUsers(ctx context.Context, cfg *Config) ([]UserOutcome, error) {
	auditor, err := a.auditor(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("audit.Auditor: %w", err)
	}
	users, err := a.database.ListAuditableUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit.Auditor: %w", err)
	}

	log := a.log.With("sweep", SweepUsers, logfields.RunID(uuid.NewString()))
	outcomes := make([]UserOutcome, len(users))
	g, gctx := newGroup(ctx, cfg.Concurrency)
	for i, u := range users {
		g.Go(func() error {
			outcomes[i] = a.auditUser(gctx, log, auditor, u)
			return nil
		})
	}
	_ = g.Wait()

	log.Info("audited users", "count", len(users), "removed", countRemovedByUser(outcomes))
	return outcomes, nil
}

// AuditUser audits a single user on demand.
func (a *Auditor) AuditUser(ctx context.Context, cfg *Config, userID int64) (*UserOutcome, error) {
	auditor, err := a.auditor(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("audit.Auditor: %w", err)
	}
	u, err := a.database.GetUser(ctx, &DatabaseGetUserParams{ID: userID})
	if err != nil {
		return nil, fmt.Errorf("audit.Auditor: %w", err)
	}
	if u.GitHubAccessToken == nil {
		return nil, fmt.Errorf("audit.Auditor: user %d: %w", userID, ErrNoCredential)
	}

	outcome := a.auditUser(ctx, a.log.With("sweep", SweepUsers), auditor, u)
	return &outcome, nil
}

func (a *Auditor) auditUser(ctx context.Context, log *slog.Logger, auditor, u *User) UserOutcome {
	outcome := UserOutcome{UserID: u.ID}
	log = log.With(logfields.UserID(u.ID))
	if u.GitHubAccessToken == nil {
		return a.userFailed(log, outcome, ErrNoCredential)
	}

	repos, err := a.sourceHost.GetRepositories(ctx, *u.GitHubAccessToken)
	if err != nil {
		return a.userFailed(log, outcome, fmt.Errorf("get repositories: %w", err))
	}
	pushable := make(map[string]bool, len(repos))
	for _, r := range repos {
		pushable[strings.ToUpper(r.FullName)] = r.Permissions.Push
	}

	sites, err := a.database.ListUserSites(ctx, &DatabaseListUserSitesParams{UserID: u.ID})
	if err != nil {
		return a.userFailed(log, outcome, fmt.Errorf("list sites: %w", err))
	}

	var errs []error
	for _, s := range sites {
		if pushable[strings.ToUpper(s.FullName())] {
			continue
		}
		removed, err := a.remove(ctx, auditor, s, u)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if removed {
			log.Info("removed user from site", logfields.SiteID(s.ID), logfields.Repository(s.FullName()))
			outcome.Removed = append(outcome.Removed, s.ID)
		}
	}
	a.metrics.AddMembersRemoved(SweepUsers, len(outcome.Removed))

	if err = errors.Join(errs...); err != nil {
		return a.userFailed(log, outcome, err)
	}
	return outcome
}

func (a *Auditor) userFailed(log *slog.Logger, outcome UserOutcome, err error) UserOutcome {
	a.metrics.IncAuditFailure(SweepUsers)
	log.Warn("didn't audit user", logfields.Error(err))
	outcome.Err = err
	return outcome
}

// AuditAllSites checks every site's collaborators using its members'
// credentials and removes members without push access.
//
// Sites are audited concurrently. Within a site, members are tried one at a
// time, most recently signed in first, until one credential returns a
// non-empty collaborator list. If none does, the site is skipped.
func (a *Auditor) AuditAllSites(ctx context.Context, cfg *Config) ([]SiteOutcome, error) {
	auditor, err := a.auditor(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("audit.Auditor: %w", err)
	}
	sites, err := a.database.ListSitesWithMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit.Auditor: %w", err)
	}

	log := a.log.With("sweep", SweepSites, logfields.RunID(uuid.NewString()))
	outcomes := make([]SiteOutcome, len(sites))
	g, gctx := newGroup(ctx, cfg.Concurrency)
	for i, s := range sites {
		g.Go(func() error {
			outcomes[i] = a.auditSite(gctx, log, auditor, s)
			return nil
		})
	}
	_ = g.Wait()

	log.Info("audited sites", "count", len(sites), "removed", countRemovedBySite(outcomes))
	return outcomes, nil
}

func (a *Auditor) auditSite(ctx context.Context, log *slog.Logger, auditor *User, s *Site) SiteOutcome {
	outcome := SiteOutcome{SiteID: s.ID}
	log = log.With(logfields.SiteID(s.ID), logfields.Repository(s.FullName()))

	pushers, found := a.pushers(ctx, log, s)
	if !found {
		log.Info("skipped site, no member credential listed collaborators", "members", len(s.Members))
		outcome.Skipped = true
		return outcome
	}

	var errs []error
	for _, m := range s.Members {
		if pushers[strings.ToLower(m.Username)] {
			continue
		}
		removed, err := a.remove(ctx, auditor, s, m)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if removed {
			log.Info("removed user from site", logfields.UserID(m.ID))
			outcome.Removed = append(outcome.Removed, m.ID)
		}
	}
	a.metrics.AddMembersRemoved(SweepSites, len(outcome.Removed))

	if err := errors.Join(errs...); err != nil {
		a.metrics.IncAuditFailure(SweepSites)
		log.Warn("didn't audit site", logfields.Error(err))
		outcome.Err = err
	}
	return outcome
}

// pushers returns the lower-cased logins with push access, as seen by the
// first member whose credential returns a non-empty collaborator list.
func (a *Auditor) pushers(ctx context.Context, log *slog.Logger, s *Site) (map[string]bool, bool) {
	for _, m := range s.Members {
		if m.GitHubAccessToken == nil {
			continue
		}
		collaborators, err := a.sourceHost.GetCollaborators(ctx, *m.GitHubAccessToken, s.Owner, s.Repository)
		if err != nil {
			log.Warn("didn't get collaborators", logfields.UserID(m.ID), logfields.Error(err))
			continue
		}
		if len(collaborators) == 0 {
			continue
		}

		pushers := make(map[string]bool, len(collaborators))
		for _, c := range collaborators {
			if c.Permissions.Push {
				pushers[strings.ToLower(c.Login)] = true
			}
		}
		return pushers, true
	}
	return nil, false
}

func (a *Auditor) remove(ctx context.Context, auditor *User, s *Site, u *User) (bool, error) {
	removed, err := a.database.RemoveSiteUser(ctx, &DatabaseRemoveSiteUserParams{
		SiteID:    s.ID,
		UserID:    u.ID,
		AuditorID: auditor.ID,
		Message:   RemovalMessage,
	})
	if err != nil {
		return false, fmt.Errorf("remove user %d from site %d: %w", u.ID, s.ID, err)
	}
	return removed, nil
}

func countRemovedByUser(outcomes []UserOutcome) int {
	n := 0
	for _, o := range outcomes {
		n += len(o.Removed)
	}
	return n
}

func countRemovedBySite(outcomes []SiteOutcome) int {
	n := 0
	for _, o := range outcomes {
		n += len(o.Removed)
	}
	return n
}
