// Package prometrics backs the observability metric ports with Prometheus vectors.
package prometrics

import (
	"errors"
	"sync"

	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
)

// MissingLabel is recorded for a declared label the caller did not supply.
const MissingLabel = "unknown"

type Registry interface {
	Counter(name string, help string, labelKeys ...string) observability.Counter
	Histogram(name string, help string, buckets []float64, labelKeys ...string) observability.Histogram
}

type registry struct {
	namespace string
	subsystem string
	reg       prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*counter
	histograms map[string]*histogram
}

// New registers vectors on reg, or on the default registerer when reg is nil.
// Asking twice for the same name returns the same vector.
func New(namespace, subsystem string, reg prometheus.Registerer) Registry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &registry{
		namespace:  namespace,
		subsystem:  subsystem,
		reg:        reg,
		counters:   make(map[string]*counter),
		histograms: make(map[string]*histogram),
	}
}

func (r *registry) Counter(name string, help string, labelKeys ...string) observability.Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	vec := register(r.reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace, Subsystem: r.subsystem, Name: name, Help: help,
	}, labelKeys))
	c := &counter{vec: vec, keys: labelKeys}
	r.counters[name] = c
	return c
}

func (r *registry) Histogram(name string, help string, buckets []float64, labelKeys ...string) observability.Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h
	}
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	vec := register(r.reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace, Subsystem: r.subsystem, Name: name, Help: help, Buckets: buckets,
	}, labelKeys))
	h := &histogram{vec: vec, keys: labelKeys}
	r.histograms[name] = h
	return h
}

// register adopts a collector another Registry already put on reg.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			panic(err)
		}
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
		panic(err)
	}
	return c
}

// values orders labels by keys. Unknown label keys are dropped.
func values(keys []string, labels []observability.Label) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = MissingLabel
		for _, l := range labels {
			if l.Key == k {
				out[i] = l.Value
				break
			}
		}
	}
	return out
}

type counter struct {
	vec  *prometheus.CounterVec
	keys []string
}

func (c *counter) Add(d float64, labels ...observability.Label) {
	c.vec.WithLabelValues(values(c.keys, labels)...).Add(d)
}

func (c *counter) Bind(labels ...observability.Label) observability.BoundCounter {
	return c.vec.WithLabelValues(values(c.keys, labels)...)
}

type histogram struct {
	vec  *prometheus.HistogramVec
	keys []string
}

func (h *histogram) Observe(v float64, labels ...observability.Label) {
	h.vec.WithLabelValues(values(h.keys, labels)...).Observe(v)
}

func (h *histogram) Bind(labels ...observability.Label) observability.BoundHistogram {
	return h.vec.WithLabelValues(values(h.keys, labels)...)
}
