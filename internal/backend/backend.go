// Package backend talks to the remote build backend that runs build jobs.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/k11v/pages/internal/httputil"
	"github.com/k11v/pages/internal/logfields"
)

// ErrTaskNotFound is returned when the backend has no job for a build.
var ErrTaskNotFound = errors.New("backend task not found")

// Config holds the build backend configuration.
type Config struct {
	APIURL       string `env:"API_URL"`
	TokenURL     string `env:"TOKEN_URL"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
}

type Client struct {
	apiURL string           // required
	http   *httputil.Client // required
	log    *slog.Logger     // required
}

// NewClient returns a client that authenticates with the OAuth2 client
// credentials grant. ctx is used for token requests only.
func NewClient(ctx context.Context, cfg *Config, log *slog.Logger) *Client {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "backend")
	return &Client{
		apiURL: cfg.APIURL,
		http:   &httputil.Client{HTTPClient: cc.Client(ctx), Log: log},
		log:    log,
	}
}

// TaskName is the name of the backend job that runs a build.
func TaskName(buildID int64) string {
	return "build-" + strconv.FormatInt(buildID, 10)
}

type task struct {
	GUID  string `json:"guid"`
	Name  string `json:"name"`
	State string `json:"state"`
}

type taskList struct {
	Resources []task `json:"resources"`
}

// CancelBuildTask cancels the backend job running the build.
// It implements build.Canceler.
func (c *Client) CancelBuildTask(ctx context.Context, buildID int64) error {
	t, err := c.findTask(ctx, TaskName(buildID))
	if err != nil {
		return fmt.Errorf("backend.Client: %w", err)
	}

	endpoint := "/v3/tasks/" + url.PathEscape(t.GUID) + "/actions/cancel"
	_, err = c.http.Do(ctx, c.newRequest(http.MethodPost, endpoint, nil), nil)
	if err != nil {
		return fmt.Errorf("backend.Client: cancel task %s: %w", t.GUID, err)
	}

	c.log.Info("canceled build task", logfields.BuildID(buildID), "task_guid", t.GUID)
	return nil
}

func (c *Client) findTask(ctx context.Context, name string) (*task, error) {
	query := url.Values{"names": {name}}
	var list taskList
	if _, err := c.http.Do(ctx, c.newRequest(http.MethodGet, "/v3/tasks", query), &list); err != nil {
		return nil, fmt.Errorf("find task %s: %w", name, err)
	}
	for _, t := range list.Resources {
		if t.Name == name && t.GUID != "" {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("find task %s: %w", name, ErrTaskNotFound)
}

func (c *Client) newRequest(method, endpoint string, query url.Values) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		u, err := url.JoinPath(c.apiURL, endpoint)
		if err != nil {
			return nil, err
		}
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, method, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}
}

// ErrNotConfigured is returned by Validate when a required setting is empty.
var ErrNotConfigured = errors.New("backend not configured")

// Validate reports whether every setting needed to reach the backend is set.
func (cfg *Config) Validate() error {
	if cfg.APIURL == "" || cfg.TokenURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return ErrNotConfigured
	}
	return nil
}
