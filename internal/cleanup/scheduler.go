package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lfgkeeper/internal/observability"

	"github.com/robfig/cron/v3"
)

// Job is one periodic task. Its error is logged and counted; the schedule continues.
type Job func(ctx context.Context) error

// Scheduler runs named jobs on cron expressions with seconds precision.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	jobs []string
}

// cronLogger routes cron's own messages through slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append([]interface{}{slog.String("error", err.Error())}, keysAndValues...)...)
}

// NewScheduler creates a scheduler. Overlapping runs of the same job are skipped and a
// panicking job is recovered.
func NewScheduler() *Scheduler {
	logger := cronLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		ctx: context.Background(),
	}
}

// Add registers job under name. An empty spec disables the job.
func (s *Scheduler) Add(name, spec string, job Job) error {
	if spec == "" {
		slog.Info("scheduled job disabled", slog.String("job", name))
		return nil
	}
	_, err := s.cron.AddFunc(spec, func() {
		ctx := s.ctx
		if ctx.Err() != nil {
			return
		}
		if err := job(ctx); err != nil && ctx.Err() == nil {
			observability.JobErrors.WithLabelValues(name, "run").Inc()
			slog.ErrorContext(ctx, "scheduled job failed",
				slog.String("job", name),
				slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.jobs = append(s.jobs, name)
	return nil
}

// Jobs lists the registered job names.
func (s *Scheduler) Jobs() []string {
	return append([]string(nil), s.jobs...)
}

// Run starts the schedule and blocks until ctx is done, then waits for running jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	slog.InfoContext(ctx, "scheduler started", slog.Any("jobs", s.jobs))

	<-ctx.Done()
	<-s.cron.Stop().Done()
	slog.InfoContext(ctx, "scheduler stopped")
	return nil
}
