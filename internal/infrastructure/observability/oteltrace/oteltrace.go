// Package oteltrace backs observability.Tracer with the global OpenTelemetry provider.
package oteltrace

import (
	"context"
	"strings"

	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultName   = "minishop-checkout"
	useCasePrefix = "UC."
)

type tracer struct{ t trace.Tracer }

// New uses the global provider; spans are no-ops until an SDK provider is installed.
func New(name string) observability.Tracer {
	if name == "" {
		name = DefaultName
	}
	return &tracer{t: otel.Tracer(name)}
}

// Start opens an internal span. Spans named "UC.<Name>" also carry a use_case attribute.
func (t *tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if uc, ok := strings.CutPrefix(name, useCasePrefix); ok && uc != "" {
		attrs = append(attrs, attribute.String("use_case", uc))
	}
	return t.t.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(attrs...))
}

// InstallPropagator makes W3C trace context and baggage the global propagator.
func InstallPropagator() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}
