package sourcehost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-cmp/cmp"

	"github.com/k11v/pages/internal/httputil"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := NewClient(&Config{APIURL: server.URL}, nil)
	newHTTPClient := c.newHTTPClient
	c.newHTTPClient = func(ctx context.Context, token string) *httputil.Client {
		cli := newHTTPClient(ctx, token)
		cli.NewBackOff = func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1)
		}
		return cli
	}
	return c
}

func TestClientGetRepositories(t *testing.T) {
	ctx := context.Background()

	t.Run("follows pages", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got, want := r.Header.Get("Authorization"), "Bearer alice-token"; got != want {
				t.Errorf("got authorization %q, want %q", got, want)
			}
			var items []string
			switch r.URL.Query().Get("page") {
			case "1":
				for i := range perPage {
					items = append(items, fmt.Sprintf(`{"full_name":"octo/repo-%d","permissions":{"push":true}}`, i))
				}
			case "2":
				items = append(items, `{"full_name":"octo/pages","permissions":{"push":false}}`)
			}
			_, _ = w.Write([]byte("[" + strings.Join(items, ",") + "]"))
		})
		c := newTestClient(t, handler)

		repos, err := c.GetRepositories(ctx, "alice-token")
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}

		if got, want := len(repos), perPage+1; got != want {
			t.Fatalf("got %d repositories, want %d", got, want)
		}
		want := &Repository{FullName: "octo/pages", Permissions: Permissions{Push: false}}
		if diff := cmp.Diff(want, repos[perPage]); diff != "" {
			t.Errorf("repository mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("rejects repositories without permissions", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[{"full_name":"octo/pages"}]`))
		})
		c := newTestClient(t, handler)

		_, err := c.GetRepositories(ctx, "alice-token")
		if !errors.Is(err, ErrInvalidResponse) {
			t.Fatalf("got %v, want %v", err, ErrInvalidResponse)
		}
	})

	t.Run("maps unauthorized", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"message":"Bad credentials"}`, http.StatusUnauthorized)
		})
		c := newTestClient(t, handler)

		_, err := c.GetRepositories(ctx, "revoked")
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("got %v, want %v", err, ErrUnauthorized)
		}
	})
}

func TestClientGetCollaborators(t *testing.T) {
	ctx := context.Background()

	t.Run("gets collaborators", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got, want := r.URL.Path, "/repos/octo/pages/collaborators"; got != want {
				t.Errorf("got path %q, want %q", got, want)
			}
			_, _ = w.Write([]byte(`[
				{"login":"Alice","permissions":{"push":true}},
				{"login":"bob","permissions":{"push":false}}
			]`))
		})
		c := newTestClient(t, handler)

		got, err := c.GetCollaborators(ctx, "alice-token", "octo", "pages")
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}

		want := []*Collaborator{
			{Login: "Alice", Permissions: Permissions{Push: true}},
			{Login: "bob", Permissions: Permissions{Push: false}},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("collaborators mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("maps not found", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
		c := newTestClient(t, handler)

		_, err := c.GetCollaborators(ctx, "alice-token", "octo", "gone")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("got %v, want %v", err, ErrNotFound)
		}
	})

	t.Run("rejects collaborators without login", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[{"permissions":{"push":true}}]`))
		})
		c := newTestClient(t, handler)

		_, err := c.GetCollaborators(ctx, "alice-token", "octo", "pages")
		if !errors.Is(err, ErrInvalidResponse) {
			t.Fatalf("got %v, want %v", err, ErrInvalidResponse)
		}
	})
}
