// Package metrics defines the narrow instrumentation capability injected into
// pipeline components, with a no-op default and a Prometheus implementation
// over a caller-owned registry.
package metrics

// Metric names emitted by the pipeline.
const (
	ValidationErrorsTotal = "validation_errors_total"
	SpanStatusTotal       = "span_status_total"
	BarrierBlocksTotal    = "barrier_blocks_total"
	LayerSeconds          = "layer_seconds"
	EntitiesExtracted     = "entities_extracted"
)

// Metrics is the instrumentation surface components depend on. Implementations
// must tolerate arbitrary metric names and label sets.
type Metrics interface {
	IncrementCounter(name string, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

// Nop discards every observation. The default when no backend is wired.
type Nop struct{}

func (Nop) IncrementCounter(string, map[string]string)          {}
func (Nop) ObserveHistogram(string, float64, map[string]string) {}
func (Nop) SetGauge(string, float64, map[string]string)         {}
