package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	auditdomain "github.com/smallbiznis/ledgerd/internal/audit/domain"
	"github.com/smallbiznis/ledgerd/internal/clock"
	invoicedomain "github.com/smallbiznis/ledgerd/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/ledgerd/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

const jobMarkOverdue = "mark_overdue"

type Params struct {
	fx.In

	Log        *zap.Logger
	InvoiceSvc invoicedomain.Service
	AuditSvc   auditdomain.Service          `optional:"true"`
	Clock      clock.Clock                  `optional:"true"`
	Metrics    *obsmetrics.SchedulerMetrics `optional:"true"`
	Redis      *redis.Client                `optional:"true"`
	Config     Config                       `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	metrics    *obsmetrics.SchedulerMetrics
	invoiceSvc invoicedomain.Service
	auditSvc   auditdomain.Service
	locker     *Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.InvoiceSvc == nil {
		return nil, ErrInvalidConfig
	}
	s := &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		metrics:    p.Metrics,
		invoiceSvc: p.InvoiceSvc,
		auditSvc:   p.AuditSvc,
		locker:     NewLocker(p.Redis),
	}
	if s.clock == nil {
		s.clock = clock.System()
	}
	return s, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	fn func(ctx context.Context) (int, error),
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	token, acquired, err := s.locker.TryLock(ctx, name, s.cfg.JobTimeout)
	if err != nil {
		return fmt.Errorf("%s: lock: %w", name, err)
	}
	if !acquired {
		s.log.Debug("job held by another instance", zap.String("job", name))
		return nil
	}
	defer func() {
		if err := s.locker.Release(context.Background(), name, token); err != nil {
			s.log.Warn("job lock release failed", zap.String("job", name), zap.Error(err))
		}
	}()

	ctx = auditdomain.WithActor(ctx, auditdomain.ActorTypeSystem, "scheduler")
	ctx, run := s.startJobRun(ctx, name)
	processed, err := fn(ctx)
	run.AddProcessed(processed)
	if err != nil {
		run.IncError()
	}
	s.metrics.ObserveJob(name, time.Since(start), processed, err)
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the next tick resumes
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes every enabled job a single time.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) (int, error)
	}{
		{jobMarkOverdue, s.MarkOverdueJob},
	}

	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			err = errors.Join(err, s.runJob(parent, job.Name, job.Run))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// MarkOverdueJob flags issued invoices past their due date, draining
// up to one batch per call.
func (s *Scheduler) MarkOverdueJob(ctx context.Context) (int, error) {
	n, err := s.invoiceSvc.MarkOverdue(ctx, s.clock.Now(), s.cfg.BatchSize)
	if err != nil || n == 0 {
		return n, err
	}
	s.emitAuditEvent(ctx, auditdomain.Entry{
		Action:     "invoice.mark_overdue",
		TargetType: "invoice",
		Metadata:   map[string]any{"count": n},
	})
	return n, nil
}

func (s *Scheduler) emitAuditEvent(ctx context.Context, entry auditdomain.Entry) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.Record(ctx, entry); err != nil {
		s.logger(ctx).Warn("audit record dropped", zap.String("action", entry.Action), zap.Error(err))
	}
}
