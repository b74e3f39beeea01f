// Package app wires the stores and clients behind the sweeps and task operations.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/k11v/pages/internal/amqputil"
	"github.com/k11v/pages/internal/audit"
	"github.com/k11v/pages/internal/audit/auditpg"
	"github.com/k11v/pages/internal/backend"
	"github.com/k11v/pages/internal/build"
	"github.com/k11v/pages/internal/build/buildamqp"
	"github.com/k11v/pages/internal/build/buildpg"
	"github.com/k11v/pages/internal/logfields"
	"github.com/k11v/pages/internal/metrics"
	"github.com/k11v/pages/internal/postgresutil"
	"github.com/k11v/pages/internal/reportstore"
	"github.com/k11v/pages/internal/sourcehost"
)

type App struct {
	cfg        *Config            // required
	pool       *pgxpool.Pool      // required
	log        *slog.Logger       // required
	metrics    *metrics.Recorder  // optional
	sourceHost *sourcehost.Client // required
	reports    *reportstore.Store // optional
}

// New connects to Postgres and prepares the clients. The caller must call Close.
func New(ctx context.Context, cfg *Config, log *slog.Logger, recorder *metrics.Recorder) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	var reports *reportstore.Store
	if cfg.S3URL != "" {
		client, err := reportstore.NewClient(cfg.S3URL)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		reports = reportstore.NewStore(client)
	}

	pool, err := postgresutil.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	return &App{
		cfg:        cfg,
		pool:       pool,
		log:        log,
		metrics:    recorder,
		sourceHost: sourcehost.NewClient(&cfg.GitHub, log),
		reports:    reports,
	}, nil
}

func (a *App) Close() {
	a.pool.Close()
}

// Ping checks the database connection.
func (a *App) Ping(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

// Setup applies migrations and creates the report bucket if the archive is enabled.
func Setup(ctx context.Context, cfg *Config) error {
	if err := postgresutil.Setup(cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("app: migrate: %w", err)
	}
	if cfg.S3URL != "" {
		client, err := reportstore.NewClient(cfg.S3URL)
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		if err = reportstore.Setup(ctx, client); err != nil {
			return fmt.Errorf("app: reports: %w", err)
		}
	}
	return nil
}

func (a *App) buildDatabase() *buildpg.Database {
	return buildpg.NewDatabase(a.pool)
}

func (a *App) enqueuer() (*build.Enqueuer, error) {
	if err := a.cfg.AMQP.Validate(); err != nil {
		return nil, err
	}
	client := amqputil.NewClient(a.cfg.AMQP.URL, a.cfg.AMQP.QueueDeclareParams())
	return build.NewEnqueuer(a.buildDatabase(), buildamqp.NewBroker(client), a.log, a.metrics), nil
}

func (a *App) auditor() *audit.Auditor {
	return audit.NewAuditor(auditpg.NewDatabase(a.pool), a.sourceHost, a.log, a.metrics)
}

// TimeoutBuilds fails builds stuck past their deadline and cancels their
// backend jobs. A zero at means now.
func (a *App) TimeoutBuilds(ctx context.Context, at time.Time) (*TimeoutReport, error) {
	if err := a.cfg.Backend.Validate(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	if at.IsZero() {
		at = time.Now()
	}

	canceler := backend.NewClient(ctx, &a.cfg.Backend, a.log)
	sweeper := build.NewTimeoutSweeper(a.buildDatabase(), canceler, a.log, a.metrics)
	outcomes, err := sweeper.Sweep(ctx, &build.TimeoutSweeperSweepParams{
		Now: at,
		Config: build.SweepConfig{
			BuildTimeout:      a.cfg.buildTimeout(),
			CancelConcurrency: a.cfg.CancelConcurrency,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	report := NewTimeoutReport(at, outcomes)
	a.archive(ctx, KindTimeoutBuilds, report.RunID, report.At, report)
	return report, nil
}

// AuditUsers runs the per-user access audit.
func (a *App) AuditUsers(ctx context.Context) (*UserAuditReport, error) {
	at := time.Now()
	outcomes, err := a.auditor().AuditAllUsers(ctx, &a.cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	report := NewUserAuditReport(at, outcomes)
	a.archive(ctx, KindAuditUsers, report.RunID, report.At, report)
	return report, nil
}

// AuditUser audits one user.
func (a *App) AuditUser(ctx context.Context, userID int64) (*UserAuditReport, error) {
	at := time.Now()
	outcome, err := a.auditor().AuditUser(ctx, &a.cfg.Audit, userID)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return NewUserAuditReport(at, []audit.UserOutcome{*outcome}), nil
}

// AuditSites runs the per-site access audit.
func (a *App) AuditSites(ctx context.Context) (*SiteAuditReport, error) {
	at := time.Now()
	outcomes, err := a.auditor().AuditAllSites(ctx, &a.cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	report := NewSiteAuditReport(at, outcomes)
	a.archive(ctx, KindAuditSites, report.RunID, report.At, report)
	return report, nil
}

// CreateTasks creates the tasks of a build and optionally enqueues them.
func (a *App) CreateTasks(ctx context.Context, buildID int64, enqueue bool) (*TaskReport, error) {
	var enqueuer *build.Enqueuer
	if enqueue {
		var err error
		if enqueuer, err = a.enqueuer(); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}

	tasks, err := build.NewTaskCreator(a.buildDatabase(), a.log).Create(ctx, &build.TaskCreatorCreateParams{BuildID: buildID})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	ids := make([]int64, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	report := &TaskReport{BuildID: buildID, Created: ids}
	if enqueuer != nil {
		report.Enqueued = newEnqueueResults(enqueuer.EnqueueAll(ctx, ids))
	}
	return report, nil
}

// EnqueueTask enqueues one created task.
func (a *App) EnqueueTask(ctx context.Context, taskID int64) (*build.EnqueuerEnqueueResult, error) {
	enqueuer, err := a.enqueuer()
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	result, err := enqueuer.Enqueue(ctx, &build.EnqueuerEnqueueParams{TaskID: taskID})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return result, nil
}

// UpdateTaskStatus applies a worker-reported status.
func (a *App) UpdateTaskStatus(ctx context.Context, taskID int64, status build.TaskStatus) (*build.Task, error) {
	t, err := build.NewTaskUpdater(a.buildDatabase()).UpdateStatus(ctx, &build.TaskUpdaterUpdateStatusParams{ID: taskID, Status: status})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return t, nil
}

func (a *App) archive(ctx context.Context, kind, runID string, at time.Time, report any) {
	if a.reports == nil {
		return
	}
	key, err := a.reports.Put(ctx, &reportstore.StorePutParams{Kind: kind, RunID: runID, At: at, Report: report})
	if err != nil {
		a.log.Warn("didn't archive report", "kind", kind, logfields.RunID(runID), logfields.Error(err))
		return
	}
	a.log.Info("archived report", "kind", kind, logfields.RunID(runID), "key", key)
}
