package build

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/k11v/pages/internal/logfields"
	"github.com/k11v/pages/internal/metrics"
)

const (
	DefaultBuildTimeout = 45 * time.Minute

	// TaskAckTimeout is how long a tasked build may wait for the worker
	// to report processing.
	TaskAckTimeout = 5 * time.Minute

	TimeoutErrorMessage = "The build timed out"
)

// Canceler cancels the backend job of a build.
type Canceler interface {
	CancelBuildTask(ctx context.Context, buildID int64) error
}

// SweepConfig configures one timeout sweep.
type SweepConfig struct {
	BuildTimeout time.Duration // default: DefaultBuildTimeout

	// CancelConcurrency limits concurrent cancellation requests.
	// Zero means no limit.
	CancelConcurrency int
}

func (c *SweepConfig) buildTimeout() time.Duration {
	if c.BuildTimeout <= 0 {
		return DefaultBuildTimeout
	}
	return c.BuildTimeout
}

type TimeoutSweeper struct {
	database Database          // required
	canceler Canceler          // required
	log      *slog.Logger      // required
	metrics  *metrics.Recorder // optional
}

func NewTimeoutSweeper(database Database, canceler Canceler, log *slog.Logger, recorder *metrics.Recorder) *TimeoutSweeper {
	if log == nil {
		log = slog.Default()
	}
	return &TimeoutSweeper{
		database: database,
		canceler: canceler,
		log:      log.With("component", "timeout_sweeper"),
		metrics:  recorder,
	}
}

type TimeoutSweeperSweepParams struct {
	Now    time.Time // zero value means time.Now()
	Config SweepConfig
}

// CancelOutcome pairs a timed out build with its cancellation result.
// Err is nil if the backend accepted the cancellation.
type CancelOutcome struct {
	BuildID int64
	Err     error
}

// Sweep fails builds stuck in processing or tasked past their deadline and
// asks the backend to cancel their jobs.
//
// The state change is one conditional bulk update and is final once it
// commits. Cancellation failures are reported per build and never undo it.
// An error is returned only if the update itself failed.
func (s *TimeoutSweeper) Sweep(ctx context.Context, params *TimeoutSweeperSweepParams) ([]CancelOutcome, error) {
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	cfg := params.Config
	log := s.log.With(logfields.RunID(uuid.NewString()))

	builds, err := s.database.TimeoutBuilds(ctx, &DatabaseTimeoutBuildsParams{
		Now:                     now,
		ProcessingStartedBefore: now.Add(-cfg.buildTimeout()),
		TaskedUpdatedBefore:     now.Add(-TaskAckTimeout),
		Error:                   TimeoutErrorMessage,
	})
	if err != nil {
		return nil, fmt.Errorf("build.TimeoutSweeper: %w", err)
	}
	s.metrics.AddBuildsTimedOut(len(builds))

	slices.SortFunc(builds, func(a, b *Build) int {
		return cmp.Compare(a.ID, b.ID)
	})

	outcomes := make([]CancelOutcome, len(builds))
	g := new(errgroup.Group)
	if cfg.CancelConcurrency > 0 {
		g.SetLimit(cfg.CancelConcurrency)
	}
	for i, b := range builds {
		g.Go(func() error {
			err := s.canceler.CancelBuildTask(ctx, b.ID)
			s.metrics.IncCancellation(err)
			if err != nil {
				log.Warn("didn't cancel timed out build", logfields.BuildID(b.ID), logfields.Error(err))
			}
			outcomes[i] = CancelOutcome{BuildID: b.ID, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	if len(builds) > 0 {
		log.Info("timed out builds", "count", len(builds))
	}
	return outcomes, nil
}
