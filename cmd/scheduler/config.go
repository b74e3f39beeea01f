package main

import (
	"errors"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/k11v/pages/internal/app"
	"github.com/k11v/pages/internal/server"
)

// config holds the scheduler configuration.
type config struct {
	App      app.Config     `envPrefix:"PAGES_"`
	Schedule scheduleConfig `envPrefix:"PAGES_SCHEDULE_"`
	Server   server.Config  `envPrefix:"PAGES_SERVER_"`
}

type scheduleConfig struct {
	TimeoutBuilds time.Duration `env:"TIMEOUT_BUILDS" envDefault:"5m"`
	AuditUsers    time.Duration `env:"AUDIT_USERS" envDefault:"24h"`
	AuditSites    time.Duration `env:"AUDIT_SITES" envDefault:"24h"`
}

// parseConfig parses the scheduler configuration from the environment variables.
func parseConfig(environ []string) (*config, error) {
	var cfg config

	err := env.ParseWithOptions(&cfg, env.Options{
		Environment: env.ToMap(environ),
	})
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDotenv loads .env into the process environment if it exists.
func loadDotenv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
