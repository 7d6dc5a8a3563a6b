package cron

import (
	"context"
	"fmt"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	// RunOnStart executes every job once before the schedule takes over.
	RunOnStart bool
}

// Service executes registered jobs on their schedules. Each run takes the
// job's distributed lock so only one replica executes it.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Lock
	metrics    *metrics.CronJobMetrics
	runOnStart bool
	parser     robfig.Parser
}

// NewService builds a cron service and validates every schedule.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	parser := robfig.NewParser(robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor)
	for _, entry := range registry.Entries() {
		if _, err := parser.Parse(entry.Schedule); err != nil {
			return nil, fmt.Errorf("job %s: invalid schedule %q: %w", entry.Job.Name(), entry.Schedule, err)
		}
	}
	return &Service{
		logg:       params.Logger,
		registry:   registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		runOnStart: params.RunOnStart,
		parser:     parser,
	}, nil
}

// Run schedules every job and blocks until ctx is canceled. In-flight jobs
// finish before Run returns.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.runOnStart {
		s.RunAll(ctx)
	}

	scheduler := robfig.New(
		robfig.WithParser(s.parser),
		robfig.WithLocation(time.UTC),
		robfig.WithChain(robfig.SkipIfStillRunning(cronLogger{ctx: ctx, logg: s.logg})),
	)
	for _, entry := range s.registry.Entries() {
		job := entry.Job
		if _, err := scheduler.AddFunc(entry.Schedule, func() { s.runLocked(ctx, job) }); err != nil {
			return fmt.Errorf("schedule %s: %w", job.Name(), err)
		}
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{"job": job.Name(), "schedule": entry.Schedule}), "job scheduled")
	}

	scheduler.Start()
	<-ctx.Done()
	s.logg.Info(ctx, "cron service context canceled")
	<-scheduler.Stop().Done()
	return ctx.Err()
}

// RunAll executes every registered job once, in registration order.
func (s *Service) RunAll(ctx context.Context) {
	for _, entry := range s.registry.Entries() {
		s.runLocked(ctx, entry.Job)
	}
}

func (s *Service) runLocked(ctx context.Context, job Job) {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	locked, err := s.lock.Acquire(jobCtx, job.Name())
	if err != nil {
		s.logg.Error(jobCtx, "lock acquire failed", err)
		s.metrics.IncFailure(job.Name())
		return
	}
	if !locked {
		s.logg.Info(jobCtx, "job running on another instance; skipping")
		return
	}
	defer func() {
		if relErr := s.lock.Release(jobCtx, job.Name()); relErr != nil {
			s.logg.Error(jobCtx, "failed to release cron lock", relErr)
		}
	}()
	s.runJob(jobCtx, job)
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithField(ctx, "event", "cron.job")
	s.logg.Info(jobCtx, "job start")
	start := time.Now()
	err := job.Run(jobCtx)
	duration := time.Since(start)
	s.metrics.ObserveDuration(job.Name(), duration)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		s.metrics.IncFailure(job.Name())
		return
	}
	s.logg.Info(jobCtx, "job completed")
	s.metrics.IncSuccess(job.Name())
}

// cronLogger routes scheduler diagnostics into the service logger.
type cronLogger struct {
	ctx  context.Context
	logg *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logg.Debug(l.logg.WithFields(l.ctx, kvFields(keysAndValues)), msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logg.Error(l.logg.WithFields(l.ctx, kvFields(keysAndValues)), msg, err)
}

func kvFields(keysAndValues []any) map[string]any {
	fields := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
