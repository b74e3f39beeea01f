package audit

import (
	"context"
	"slices"
	"sync"

	"github.com/k11v/pages/internal/sourcehost"
)

var _ Database = (*SpyDatabase)(nil)

type removal struct {
	SiteID    int64
	UserID    int64
	AuditorID int64
	Message   string
}

// SpyDatabase keeps users and memberships in memory and records removals.
type SpyDatabase struct {
	Users   []*User           // ordered as ListAuditableUsers returns them
	Sites   []*Site           // Members ordered as ListSitesWithMembers returns them
	Members map[int64][]int64 // site ID to member user IDs

	RemoveErr map[int64]error // by user ID

	mu       sync.Mutex
	removals []removal
}

func (d *SpyDatabase) Removals() []removal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.removals)
}

func (d *SpyDatabase) GetUser(ctx context.Context, params *DatabaseGetUserParams) (*User, error) {
	for _, u := range d.Users {
		if u.ID == params.ID {
			return u, nil
		}
	}
	return nil, ErrNotFound
}

func (d *SpyDatabase) GetUserByUsername(ctx context.Context, params *DatabaseGetUserByUsernameParams) (*User, error) {
	for _, u := range d.Users {
		if u.Username == params.Username {
			return u, nil
		}
	}
	return nil, ErrNotFound
}

func (d *SpyDatabase) ListAuditableUsers(ctx context.Context) ([]*User, error) {
	var users []*User
	for _, u := range d.Users {
		if u.GitHubAccessToken != nil && u.SignedInAt != nil {
			users = append(users, u)
		}
	}
	return users, nil
}

func (d *SpyDatabase) ListUserSites(ctx context.Context, params *DatabaseListUserSitesParams) ([]*Site, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var sites []*Site
	for _, s := range d.Sites {
		if slices.Contains(d.Members[s.ID], params.UserID) {
			sites = append(sites, &Site{ID: s.ID, Owner: s.Owner, Repository: s.Repository})
		}
	}
	return sites, nil
}

func (d *SpyDatabase) ListSitesWithMembers(ctx context.Context) ([]*Site, error) {
	return d.Sites, nil
}

func (d *SpyDatabase) RemoveSiteUser(ctx context.Context, params *DatabaseRemoveSiteUserParams) (bool, error) {
	if err := d.RemoveErr[params.UserID]; err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	members := d.Members[params.SiteID]
	i := slices.Index(members, params.UserID)
	if i < 0 {
		return false, nil
	}
	d.Members[params.SiteID] = slices.Delete(members, i, i+1)
	d.removals = append(d.removals, removal{
		SiteID:    params.SiteID,
		UserID:    params.UserID,
		AuditorID: params.AuditorID,
		Message:   params.Message,
	})
	return true, nil
}

var _ SourceHost = (*StubSourceHost)(nil)

// StubSourceHost answers by token. A token missing from the maps fails.
type StubSourceHost struct {
	Repositories  map[string][]*sourcehost.Repository
	Collaborators map[string][]*sourcehost.Collaborator

	mu     sync.Mutex
	tokens []string
}

func (h *StubSourceHost) GetRepositories(ctx context.Context, token string) ([]*sourcehost.Repository, error) {
	h.record(token)
	repos, ok := h.Repositories[token]
	if !ok {
		return nil, sourcehost.ErrUnauthorized
	}
	return repos, nil
}

func (h *StubSourceHost) GetCollaborators(ctx context.Context, token, owner, repo string) ([]*sourcehost.Collaborator, error) {
	h.record(token)
	collaborators, ok := h.Collaborators[token]
	if !ok {
		return nil, sourcehost.ErrUnauthorized
	}
	return collaborators, nil
}

func (h *StubSourceHost) record(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tokens = append(h.tokens, token)
}

func (h *StubSourceHost) Tokens() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.tokens)
}
