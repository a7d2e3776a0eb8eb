package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerMetrics tracks background job health.
type SchedulerMetrics struct {
	JobRuns     *prometheus.CounterVec
	JobErrors   *prometheus.CounterVec
	JobTimeouts *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	Processed   *prometheus.CounterVec
}

// NewSchedulerMetrics registers job instruments on the default registry.
func NewSchedulerMetrics() (*SchedulerMetrics, error) {
	return NewSchedulerMetricsWith(prometheus.DefaultRegisterer)
}

func NewSchedulerMetricsWith(reg prometheus.Registerer) (*SchedulerMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &SchedulerMetrics{
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerd_scheduler_job_runs_total",
			Help: "Scheduler job runs by name.",
		}, []string{"job"}),
		JobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerd_scheduler_job_errors_total",
			Help: "Scheduler job failures by name.",
		}, []string{"job"}),
		JobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerd_scheduler_job_timeouts_total",
			Help: "Scheduler jobs that hit their deadline.",
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledgerd_scheduler_job_duration_seconds",
			Help:    "Scheduler job latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"job"}),
		Processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerd_scheduler_processed_total",
			Help: "Rows changed by scheduler jobs.",
		}, []string{"job"}),
	}

	var err error
	if m.JobRuns, err = registerCounterVec(reg, m.JobRuns); err != nil {
		return nil, err
	}
	if m.JobErrors, err = registerCounterVec(reg, m.JobErrors); err != nil {
		return nil, err
	}
	if m.JobTimeouts, err = registerCounterVec(reg, m.JobTimeouts); err != nil {
		return nil, err
	}
	if m.Processed, err = registerCounterVec(reg, m.Processed); err != nil {
		return nil, err
	}
	if err := reg.Register(m.jobDuration); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		m.jobDuration = are.ExistingCollector.(*prometheus.HistogramVec)
	}
	return m, nil
}

func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		return are.ExistingCollector.(*prometheus.CounterVec), nil
	}
	return c, nil
}

// ObserveJob records one job run. A nil receiver is a no-op.
func (m *SchedulerMetrics) ObserveJob(job string, elapsed time.Duration, processed int, err error) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(job).Inc()
	m.jobDuration.WithLabelValues(job).Observe(elapsed.Seconds())
	if processed > 0 {
		m.Processed.WithLabelValues(job).Add(float64(processed))
	}
	if err == nil {
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		m.JobTimeouts.WithLabelValues(job).Inc()
		return
	}
	m.JobErrors.WithLabelValues(job).Inc()
}
