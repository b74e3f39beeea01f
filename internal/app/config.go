package app

import (
	"time"

	"github.com/k11v/pages/internal/amqputil"
	"github.com/k11v/pages/internal/audit"
	"github.com/k11v/pages/internal/backend"
	"github.com/k11v/pages/internal/postgresutil"
	"github.com/k11v/pages/internal/sourcehost"
)

// Config holds the settings shared by the commands.
type Config struct {
	Postgres postgresutil.Config `envPrefix:"POSTGRES_"`
	AMQP     amqputil.Config     `envPrefix:"AMQP_"`
	Backend  backend.Config      `envPrefix:"BACKEND_"`
	GitHub   sourcehost.Config   `envPrefix:"GITHUB_"`
	Audit    audit.Config

	// BuildTimeout is in minutes.
	BuildTimeout      int `env:"BUILD_TIMEOUT" envDefault:"45"`
	CancelConcurrency int `env:"CANCEL_CONCURRENCY" envDefault:"10"`

	// S3URL enables the report archive, e.g. http://key:secret@s3:9000.
	S3URL string `env:"S3_URL"`
}

func (cfg *Config) buildTimeout() time.Duration {
	return time.Duration(cfg.BuildTimeout) * time.Minute
}
