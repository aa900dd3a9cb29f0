package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Run carries the correlation identity of one orchestrated run.
type Run struct {
	ID          string
	Procedure   string
	Participant string
	Session     string
}

type runCtxKey struct{}
type loggerCtxKey struct{}

// WithRun stores run correlation data in ctx.
func WithRun(ctx context.Context, run Run) context.Context {
	return context.WithValue(ctx, runCtxKey{}, run)
}

// RunFromContext returns the run stored in ctx, if any.
func RunFromContext(ctx context.Context) (Run, bool) {
	run, ok := ctx.Value(runCtxKey{}).(Run)
	return run, ok
}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 7)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if run, ok := RunFromContext(ctx); ok {
		if run.ID != "" {
			fields = append(fields, zap.String("run.id", run.ID))
		}
		if run.Procedure != "" {
			fields = append(fields, zap.String("procedure", run.Procedure))
		}
		if run.Participant != "" {
			fields = append(fields, zap.String("participant", run.Participant))
		}
		if run.Session != "" {
			fields = append(fields, zap.String("session", run.Session))
		}
	}

	return fields
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
