package oteltrace

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type recordingTracer struct {
	noop.Tracer
	name string
	cfg  trace.SpanConfig
}

func (r *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	r.name = name
	r.cfg = trace.NewSpanStartConfig(opts...)
	return r.Tracer.Start(ctx, name, opts...)
}

func TestUseCaseSpansCarryUseCaseAttribute(t *testing.T) {
	rec := &recordingTracer{}
	tr := &tracer{t: rec}

	_, span := tr.Start(context.Background(), "UC.SubmitCheckout", attribute.String("session_id", "s-1"))
	span.End()

	assert.Equal(t, "UC.SubmitCheckout", rec.name)
	assert.Equal(t, trace.SpanKindInternal, rec.cfg.SpanKind())
	assert.Contains(t, rec.cfg.Attributes(), attribute.String("use_case", "SubmitCheckout"))
	assert.Contains(t, rec.cfg.Attributes(), attribute.String("session_id", "s-1"))
}

func TestOtherSpansHaveNoUseCaseAttribute(t *testing.T) {
	rec := &recordingTracer{}
	tr := &tracer{t: rec}

	_, span := tr.Start(context.Background(), "kafka.publish")
	span.End()

	assert.Empty(t, rec.cfg.Attributes())
}

func TestInstallPropagatorInjectsTraceparent(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })
	InstallPropagator()

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{2},
		TraceFlags: trace.FlagsSampled,
	})
	h := http.Header{}
	otel.GetTextMapPropagator().Inject(trace.ContextWithSpanContext(context.Background(), sc), propagation.HeaderCarrier(h))

	assert.NotEmpty(t, h.Get("traceparent"))
}

func TestNewDefaultsName(t *testing.T) {
	assert.NotNil(t, New(""))
}
