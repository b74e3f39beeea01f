// Package metrics records sweep and dispatch outcomes with Prometheus.
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "pages"

type Recorder struct {
	buildsTimedOut  prom.Counter
	cancellations   *prom.CounterVec
	tasksEnqueued   *prom.CounterVec
	membersRemoved  *prom.CounterVec
	auditFailures   *prom.CounterVec
	inconsistencies prom.Counter
	jobDuration     *prom.HistogramVec
	jobLastSuccess  *prom.GaugeVec
}

// NewRecorder creates the metrics and registers them with reg.
// A nil reg gets a fresh registry.
func NewRecorder(reg prom.Registerer) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{
		buildsTimedOut: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "builds_timed_out_total",
			Help:      "Builds moved to error by the timeout sweep",
		}),
		cancellations: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_cancellations_total",
			Help:      "Cancellation requests sent to the build backend by result",
		}, []string{"result"}),
		tasksEnqueued: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_enqueued_total",
			Help:      "Build task enqueue attempts by result",
		}, []string{"result"}),
		membersRemoved: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "site_members_removed_total",
			Help:      "Site members removed by the access audit",
		}, []string{"sweep"}),
		auditFailures: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "audit_failures_total",
			Help:      "Users or sites that failed to audit",
		}, []string{"sweep"}),
		inconsistencies: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "task_inconsistencies_total",
			Help:      "Tasks published without the store recording it",
		}),
		jobDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of scheduled job runs by result",
			Buckets:   prom.ExponentialBuckets(0.1, 2, 12),
		}, []string{"job", "result"}),
		jobLastSuccess: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run of a scheduled job",
		}, []string{"job"}),
	}
	reg.MustRegister(
		r.buildsTimedOut, r.cancellations, r.tasksEnqueued, r.membersRemoved,
		r.auditFailures, r.inconsistencies, r.jobDuration, r.jobLastSuccess,
	)
	return r
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func (r *Recorder) AddBuildsTimedOut(n int) {
	if r == nil {
		return
	}
	r.buildsTimedOut.Add(float64(n))
}

func (r *Recorder) IncCancellation(err error) {
	if r == nil {
		return
	}
	r.cancellations.WithLabelValues(result(err)).Inc()
}

func (r *Recorder) IncTaskEnqueued(err error) {
	if r == nil {
		return
	}
	r.tasksEnqueued.WithLabelValues(result(err)).Inc()
}

func (r *Recorder) IncInconsistency() {
	if r == nil {
		return
	}
	r.inconsistencies.Inc()
}

func (r *Recorder) AddMembersRemoved(sweep string, n int) {
	if r == nil {
		return
	}
	r.membersRemoved.WithLabelValues(sweep).Add(float64(n))
}

func (r *Recorder) IncAuditFailure(sweep string) {
	if r == nil {
		return
	}
	r.auditFailures.WithLabelValues(sweep).Inc()
}

// ObserveJob records one run of a scheduled job that started at start.
func (r *Recorder) ObserveJob(job string, start time.Time, err error) {
	if r == nil {
		return
	}
	r.jobDuration.WithLabelValues(job, result(err)).Observe(time.Since(start).Seconds())
	if err == nil {
		r.jobLastSuccess.WithLabelValues(job).SetToCurrentTime()
	}
}
