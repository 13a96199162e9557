// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"time"
)

// JobLogger provides structured logging for background jobs (sweeps, retries, subscribers).
type JobLogger struct {
	job string
}

// NewJobLogger creates a JobLogger. Lines go to slog.Default as of the moment they are written.
func NewJobLogger(job string) *JobLogger {
	return &JobLogger{job: job}
}

func (l *JobLogger) logger() *slog.Logger {
	return slog.Default()
}

// Start logs the beginning of a run and returns a function that logs its end.
func (l *JobLogger) Start(ctx context.Context, fields ...any) func(result ...any) {
	start := time.Now()
	attrs := append([]any{slog.String("job", l.job), slog.String("type", "job_start")}, fields...)
	l.logger().DebugContext(ctx, "job started", attrs...)

	return func(result ...any) {
		elapsed := time.Since(start)
		JobDuration.WithLabelValues(l.job).Observe(elapsed.Seconds())
		attrs := append([]any{
			slog.String("job", l.job),
			slog.String("type", "job_end"),
			slog.Duration("elapsed", elapsed),
		}, result...)
		l.logger().InfoContext(ctx, "job completed", attrs...)
	}
}

// Error logs a failed step inside a job without aborting it.
func (l *JobLogger) Error(ctx context.Context, err error, step string, fields ...any) {
	JobErrors.WithLabelValues(l.job, step).Inc()
	attrs := append([]any{
		slog.String("job", l.job),
		slog.String("step", step),
		slog.String("error", err.Error()),
	}, fields...)
	l.logger().ErrorContext(ctx, "job step failed", attrs...)
}

// Warn logs a non-fatal condition inside a job.
func (l *JobLogger) Warn(ctx context.Context, msg string, fields ...any) {
	attrs := append([]any{slog.String("job", l.job)}, fields...)
	l.logger().WarnContext(ctx, msg, attrs...)
}
