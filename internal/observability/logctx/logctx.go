// Package logctx carries the request or event scoped logger through a context.
package logctx

import (
	"context"

	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"go.opentelemetry.io/otel/trace"
)

type loggerKey struct{}

func With(ctx context.Context, logger observability.Logger) context.Context {
	if ctx == nil || logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

func From(ctx context.Context) observability.Logger {
	if ctx == nil {
		return nil
	}
	logger, _ := ctx.Value(loggerKey{}).(observability.Logger)
	return logger
}

// FromOr returns the scoped logger, or fallback when ctx carries none.
func FromOr(ctx context.Context, fallback observability.Logger) observability.Logger {
	if logger := From(ctx); logger != nil {
		return logger
	}
	return fallback
}

// TraceFields returns trace_id and span_id for the active span, or nothing.
func TraceFields(ctx context.Context) []observability.Field {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return []observability.Field{
		observability.F("trace_id", sc.TraceID().String()),
		observability.F("span_id", sc.SpanID().String()),
	}
}

// Scope derives a logger from base with fields plus the trace ids of ctx and
// stores it on the returned context.
func Scope(ctx context.Context, base observability.Logger, fields ...observability.Field) (context.Context, observability.Logger) {
	if base == nil {
		base = FromOr(ctx, observability.NopLogger())
	}
	all := append(fields[:len(fields):len(fields)], TraceFields(ctx)...)
	logger := base.With(all...)
	return With(ctx, logger), logger
}
