// Package prometheus exports engine and receiver metrics through
// client_golang.
package prometheus

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goliatone/go-mailevents/core"
)

// Labels are fixed per collector; tags outside this set are dropped and
// missing ones are exported as "".
var Labels = []string{"operation", "status", "outcome", "reason", "event_type", "hook", "listener"}

type Recorder struct {
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	buckets    []float64

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

type Option func(*Recorder)

func WithBuckets(buckets []float64) Option {
	return func(r *Recorder) {
		if len(buckets) > 0 {
			r.buckets = append([]float64(nil), buckets...)
		}
	}
}

// NewRecorder registers collectors lazily on registry. A nil registry gets a
// private one.
func NewRecorder(registry *prometheus.Registry, opts ...Option) *Recorder {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	recorder := &Recorder{
		registerer: registry,
		gatherer:   registry,
		buckets:    []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(recorder)
		}
	}
	return recorder
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	counter := r.counter(MetricName(name))
	if counter == nil {
		return
	}
	counter.With(labelValues(tags)).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	histogram := r.histogram(MetricName(name))
	if histogram == nil {
		return
	}
	histogram.With(labelValues(tags)).Observe(value)
}

// Handler serves the registry in the exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.gatherer
}

func (r *Recorder) counter(name string) *prometheus.CounterVec {
	if name == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.counters[name]; ok {
		return existing
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: name,
		Help: "Count of " + strings.ReplaceAll(name, "_", " ") + ".",
	}, Labels)
	if err := r.registerer.Register(vec); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil
		}
		vec = existing
	}
	r.counters[name] = vec
	return vec
}

func (r *Recorder) histogram(name string) *prometheus.HistogramVec {
	if name == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.histograms[name]; ok {
		return existing
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name,
		Help:    "Distribution of " + strings.ReplaceAll(name, "_", " ") + ".",
		Buckets: r.buckets,
	}, Labels)
	if err := r.registerer.Register(vec); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil
		}
		existing, ok := already.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return nil
		}
		vec = existing
	}
	r.histograms[name] = vec
	return vec
}

// MetricName maps dotted recorder names onto the prometheus charset, e.g.
// "mailevents.webhook.total" becomes "mailevents_webhook_total".
func MetricName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == ':':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func labelValues(tags map[string]string) prometheus.Labels {
	labels := make(prometheus.Labels, len(Labels))
	for _, key := range Labels {
		labels[key] = strings.TrimSpace(tags[key])
	}
	return labels
}

var _ core.MetricsRecorder = (*Recorder)(nil)
