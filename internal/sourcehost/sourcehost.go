// Package sourcehost queries repository permissions on GitHub.
package sourcehost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/k11v/pages/internal/httputil"
)

const perPage = 100

var (
	ErrUnauthorized    = errors.New("credential rejected")
	ErrNotFound        = errors.New("not found")
	ErrInvalidResponse = errors.New("invalid response")
)

// Config holds the source host configuration.
type Config struct {
	APIURL            string  `env:"API_URL" envDefault:"https://api.github.com"`
	RequestsPerSecond float64 `env:"REQUESTS_PER_SECOND" envDefault:"10"`
}

type Permissions struct {
	Push bool
}

type Repository struct {
	FullName    string
	Permissions Permissions
}

type Collaborator struct {
	Login       string
	Permissions Permissions
}

type Client struct {
	apiURL  string        // required
	limiter *rate.Limiter // required
	log     *slog.Logger  // required

	// newHTTPClient returns a client authorized with token.
	newHTTPClient func(ctx context.Context, token string) *httputil.Client
}

func NewClient(cfg *Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "sourcehost")

	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	return &Client{
		apiURL:  cfg.APIURL,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
		newHTTPClient: func(ctx context.Context, token string) *httputil.Client {
			ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
			return &httputil.Client{HTTPClient: oauth2.NewClient(ctx, ts), Log: log}
		},
	}
}

type permissionsJSON struct {
	Push *bool `json:"push"`
}

type repositoryJSON struct {
	FullName    *string          `json:"full_name"`
	Permissions *permissionsJSON `json:"permissions"`
}

type collaboratorJSON struct {
	Login       *string          `json:"login"`
	Permissions *permissionsJSON `json:"permissions"`
}

// GetRepositories lists every repository the credential's user can access.
func (c *Client) GetRepositories(ctx context.Context, token string) ([]*Repository, error) {
	var repos []*Repository
	err := c.paginate(ctx, token, "/user/repos", func(ctx context.Context, cli *httputil.Client, newRequest requestFunc) (int, error) {
		var page []repositoryJSON
		if _, err := cli.Do(ctx, newRequest, &page); err != nil {
			return 0, err
		}
		for i, r := range page {
			if r.FullName == nil || *r.FullName == "" || r.Permissions == nil || r.Permissions.Push == nil {
				return 0, fmt.Errorf("repository %d: missing full_name or permissions.push: %w", len(repos)+i, ErrInvalidResponse)
			}
			repos = append(repos, &Repository{
				FullName:    *r.FullName,
				Permissions: Permissions{Push: *r.Permissions.Push},
			})
		}
		return len(page), nil
	})
	if err != nil {
		return nil, fmt.Errorf("sourcehost.Client: get repositories: %w", err)
	}
	return repos, nil
}

// GetCollaborators lists the collaborators of owner/repo as seen by the credential.
func (c *Client) GetCollaborators(ctx context.Context, token, owner, repo string) ([]*Collaborator, error) {
	endpoint := "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo) + "/collaborators"
	var collaborators []*Collaborator
	err := c.paginate(ctx, token, endpoint, func(ctx context.Context, cli *httputil.Client, newRequest requestFunc) (int, error) {
		var page []collaboratorJSON
		if _, err := cli.Do(ctx, newRequest, &page); err != nil {
			return 0, err
		}
		for i, r := range page {
			if r.Login == nil || *r.Login == "" || r.Permissions == nil || r.Permissions.Push == nil {
				return 0, fmt.Errorf("collaborator %d: missing login or permissions.push: %w", len(collaborators)+i, ErrInvalidResponse)
			}
			collaborators = append(collaborators, &Collaborator{
				Login:       *r.Login,
				Permissions: Permissions{Push: *r.Permissions.Push},
			})
		}
		return len(page), nil
	})
	if err != nil {
		return nil, fmt.Errorf("sourcehost.Client: get collaborators for %s/%s: %w", owner, repo, err)
	}
	return collaborators, nil
}

type requestFunc = func(ctx context.Context) (*http.Request, error)

// paginate calls fetch for pages 1, 2, ... until a page has fewer than
// perPage items.
func (c *Client) paginate(ctx context.Context, token, endpoint string, fetch func(context.Context, *httputil.Client, requestFunc) (int, error)) error {
	cli := c.newHTTPClient(ctx, token)
	for page := 1; ; page++ {
		n, err := fetch(ctx, cli, c.newRequest(endpoint, page))
		if err != nil {
			return classify(err)
		}
		if n < perPage {
			return nil
		}
	}
}

func (c *Client) newRequest(endpoint string, page int) requestFunc {
	return func(ctx context.Context) (*http.Request, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		u, err := url.JoinPath(c.apiURL, endpoint)
		if err != nil {
			return nil, err
		}
		query := url.Values{
			"per_page": {strconv.Itoa(perPage)},
			"page":     {strconv.Itoa(page)},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u+"?"+query.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
		return req, nil
	}
}

func classify(err error) error {
	var statusErr *httputil.StatusError
	if !errors.As(err, &statusErr) {
		return err
	}
	switch statusErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	default:
		return err
	}
}
