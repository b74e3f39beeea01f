package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/k11v/pages/internal/app"
	"github.com/k11v/pages/internal/logfields"
	"github.com/k11v/pages/internal/metrics"
)

const (
	jobTimeoutBuilds = "timeout-builds"
	jobAuditUsers    = "audit-users"
	jobAuditSites    = "audit-sites"
)

// Scheduler runs the sweeps periodically. Runs of the same job never overlap.
type Scheduler struct {
	scheduler gocron.Scheduler
	app       *app.App          // required
	log       *slog.Logger      // required
	metrics   *metrics.Recorder // optional
}

func NewScheduler(a *app.App, log *slog.Logger, recorder *metrics.Recorder) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	return &Scheduler{
		scheduler: s,
		app:       a,
		log:       log.With("component", "scheduler"),
		metrics:   recorder,
	}, nil
}

// Register adds the sweep jobs. A non-positive interval disables a job.
func (s *Scheduler) Register(ctx context.Context, cfg *scheduleConfig) error {
	jobs := []struct {
		name     string
		interval time.Duration
		run      func(context.Context) error
	}{
		{jobTimeoutBuilds, cfg.TimeoutBuilds, s.timeoutBuilds},
		{jobAuditUsers, cfg.AuditUsers, s.auditUsers},
		{jobAuditSites, cfg.AuditSites, s.auditSites},
	}

	for _, j := range jobs {
		name, run := j.name, j.run
		if j.interval <= 0 {
			s.log.Info("job disabled", "job", j.name)
			continue
		}
		_, err := s.scheduler.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(func() { s.execute(ctx, name, run) }),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("scheduler: %s: %w", j.name, err)
		}
		s.log.Info("job registered", "job", j.name, "interval", j.interval)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.log.Info("starting scheduler")
	s.scheduler.Start()
}

func (s *Scheduler) Shutdown() error {
	s.log.Info("stopping scheduler")
	return s.scheduler.Shutdown()
}

func (s *Scheduler) execute(ctx context.Context, name string, run func(context.Context) error) {
	start := time.Now()
	err := run(ctx)
	s.metrics.ObserveJob(name, start, err)
	if err != nil {
		s.log.Error("job failed", "job", name, logfields.Error(err))
		return
	}
	s.log.Info("job finished", "job", name, "duration", time.Since(start))
}

func (s *Scheduler) timeoutBuilds(ctx context.Context) error {
	report, err := s.app.TimeoutBuilds(ctx, time.Time{})
	if err != nil {
		return err
	}
	s.log.Info("builds timed out", logfields.RunID(report.RunID), "count", len(report.Builds), "cancel_failed", report.Failed())
	return nil
}

func (s *Scheduler) auditUsers(ctx context.Context) error {
	report, err := s.app.AuditUsers(ctx)
	if err != nil {
		return err
	}
	s.log.Info("users audited", logfields.RunID(report.RunID), "count", len(report.Users), "removed", report.Removed(), "failed", report.Failed())
	return nil
}

func (s *Scheduler) auditSites(ctx context.Context) error {
	report, err := s.app.AuditSites(ctx)
	if err != nil {
		return err
	}
	s.log.Info("sites audited", logfields.RunID(report.RunID), "count", len(report.Sites), "removed", report.Removed(), "failed", report.Failed())
	return nil
}
