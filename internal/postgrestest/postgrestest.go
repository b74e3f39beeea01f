// Package postgrestest starts throwaway Postgres containers for integration tests.
package postgrestest

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/k11v/pages/internal/postgresutil"
)

const (
	image    = "postgres:17-alpine"
	user     = "postgres"
	password = "postgres"
	database = "postgres"
)

// Setup starts a Postgres container with the schema applied.
// The caller must call teardown even if err is not nil.
func Setup(ctx context.Context) (connectionString string, teardown func() error, err error) {
	teardown = func() error { return nil }

	req := testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: image,
			Env: map[string]string{
				"POSTGRES_USER":     user,
				"POSTGRES_PASSWORD": password,
				"POSTGRES_DB":       database,
			},
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	}
	container, err := testcontainers.GenericContainer(ctx, req)
	if container != nil {
		teardown = func() error {
			return testcontainers.TerminateContainer(container)
		}
	}
	if err != nil {
		return "", teardown, err
	}

	host, err := container.Host(ctx)
	if err != nil {
		return "", teardown, err
	}
	mappedPort, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return "", teardown, err
	}

	connectionString = fmt.Sprintf(
		"postgres://%s:%s@%s/%s?sslmode=disable",
		user, password, net.JoinHostPort(host, mappedPort.Port()), database,
	)

	if err = postgresutil.Setup(connectionString); err != nil {
		return "", teardown, err
	}

	return connectionString, teardown, nil
}

// NewPool returns a pool connected to a fresh migrated database.
// It skips the test in short mode.
func NewPool(tb testing.TB, ctx context.Context) *pgxpool.Pool {
	tb.Helper()

	if testing.Short() {
		tb.Skip("skipping in short mode")
	}

	connectionString, teardown, err := Setup(ctx)
	tb.Cleanup(func() {
		if teardownErr := teardown(); teardownErr != nil {
			tb.Errorf("didn't want %q", teardownErr)
		}
	})
	if err != nil {
		tb.Fatalf("didn't want %q", err)
	}

	pool, err := postgresutil.NewPool(ctx, connectionString)
	if err != nil {
		tb.Fatalf("didn't want %q", err)
	}
	tb.Cleanup(pool.Close)

	return pool
}
