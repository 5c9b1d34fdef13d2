// Package observability assembles the concrete tracer, logger and metrics
// behind the observability ports.
package observability

import (
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
)

type (
	Counters   = map[observability.MetricKey]observability.Counter
	Histograms = map[observability.MetricKey]observability.Histogram
)

// Instruments registers every catalog entry on reg.
func Instruments(reg prometrics.Registry) (Counters, Histograms) {
	counters, histograms := Counters{}, Histograms{}
	if reg == nil {
		return counters, histograms
	}
	for _, spec := range observability.Catalog() {
		switch spec.Kind {
		case observability.KindCounter:
			counters[spec.Key] = reg.Counter(string(spec.Key), spec.Help, spec.Labels...)
		case observability.KindHistogram:
			histograms[spec.Key] = reg.Histogram(string(spec.Key), spec.Help, spec.Buckets, spec.Labels...)
		}
	}
	return counters, histograms
}

// New bundles tracer, logger and instruments. Nil parts and keys missing from
// the maps resolve to nops.
func New(tracer observability.Tracer, logger observability.Logger, counters Counters, histograms Histograms) observability.Observability {
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	m := catalogMetrics{counters: Counters{}, histograms: Histograms{}}
	for k, c := range counters {
		if c != nil {
			m.counters[k] = c
		}
	}
	for k, h := range histograms {
		if h != nil {
			m.histograms[k] = h
		}
	}
	return &provider{tracer: tracer, logger: logger, metrics: m}
}

// NewPrometheus registers the catalog on reg and returns the assembled provider.
func NewPrometheus(tracer observability.Tracer, logger observability.Logger, reg prometheus.Registerer) observability.Observability {
	counters, histograms := Instruments(prometrics.New("", "", reg))
	return New(tracer, logger, counters, histograms)
}

type provider struct {
	tracer  observability.Tracer
	logger  observability.Logger
	metrics catalogMetrics
}

func (p *provider) Tracer() observability.Tracer   { return p.tracer }
func (p *provider) Logger() observability.Logger   { return p.logger }
func (p *provider) Metrics() observability.Metrics { return p.metrics }

type catalogMetrics struct {
	counters   Counters
	histograms Histograms
}

func (m catalogMetrics) Counter(name observability.MetricKey) observability.Counter {
	if c, ok := m.counters[name]; ok {
		return c
	}
	return observability.NopCounter()
}

func (m catalogMetrics) Histogram(name observability.MetricKey) observability.Histogram {
	if h, ok := m.histograms[name]; ok {
		return h
	}
	return observability.NopHistogram()
}
