package metrics

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus implements Metrics over a caller-owned registry. Collectors are
// created lazily on first use of each metric name; the label key set seen
// first is binding for that name.
type Prometheus struct {
	registry  *prometheus.Registry
	namespace string

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// NewPrometheus returns a Metrics implementation registering into reg.
func NewPrometheus(reg *prometheus.Registry, namespace string) *Prometheus {
	return &Prometheus{
		registry:   reg,
		namespace:  namespace,
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
		gauges:     map[string]*prometheus.GaugeVec{},
	}
}

func (p *Prometheus) IncrementCounter(name string, labels map[string]string) {
	keys, values := splitLabels(labels)
	p.mu.Lock()
	vec, ok := p.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      name,
		}, keys)
		p.registry.MustRegister(vec)
		p.counters[name] = vec
	}
	p.mu.Unlock()
	vec.WithLabelValues(values...).Inc()
}

func (p *Prometheus) ObserveHistogram(name string, value float64, labels map[string]string) {
	keys, values := splitLabels(labels)
	p.mu.Lock()
	vec, ok := p.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Name:      name,
			Buckets:   prometheus.DefBuckets,
		}, keys)
		p.registry.MustRegister(vec)
		p.histograms[name] = vec
	}
	p.mu.Unlock()
	vec.WithLabelValues(values...).Observe(value)
}

func (p *Prometheus) SetGauge(name string, value float64, labels map[string]string) {
	keys, values := splitLabels(labels)
	p.mu.Lock()
	vec, ok := p.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Name:      name,
		}, keys)
		p.registry.MustRegister(vec)
		p.gauges[name] = vec
	}
	p.mu.Unlock()
	vec.WithLabelValues(values...).Set(value)
}

// splitLabels returns label keys sorted with their values aligned, so a given
// label map always addresses the same child series.
func splitLabels(labels map[string]string) ([]string, []string) {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = labels[k]
	}
	return keys, values
}
