package core

import (
	"context"
	"log/slog"
)

// Metrics is the sink for aggregate counters and gauges emitted by the
// scheduler and breakers. Backends are external; the module ships a
// slog-backed sink and a no-op.
type Metrics interface {
	Counter(name string, value float64, dims map[string]string)
	Gauge(name string, value float64, dims map[string]string)
	Histogram(name string, value float64, dims map[string]string)
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) Counter(string, float64, map[string]string)   {}
func (NopMetrics) Gauge(string, float64, map[string]string)     {}
func (NopMetrics) Histogram(string, float64, map[string]string) {}

// SlogMetrics emits each measurement as one structured debug event.
type SlogMetrics struct {
	Logger *slog.Logger
}

// NewSlogMetrics returns a metrics sink that logs through the given
// logger, or slog.Default() when nil.
func NewSlogMetrics(logger *slog.Logger) *SlogMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogMetrics{Logger: logger}
}

func (m *SlogMetrics) emit(kind, name string, value float64, dims map[string]string) {
	attrs := make([]slog.Attr, 0, len(dims)+3)
	attrs = append(attrs,
		slog.String("metric", name),
		slog.String("kind", kind),
		slog.Float64("value", value),
	)
	for k, v := range dims {
		attrs = append(attrs, slog.String(k, v))
	}
	m.Logger.LogAttrs(context.Background(), slog.LevelDebug, "metric recorded", attrs...)
}

func (m *SlogMetrics) Counter(name string, value float64, dims map[string]string) {
	m.emit("counter", name, value, dims)
}

func (m *SlogMetrics) Gauge(name string, value float64, dims map[string]string) {
	m.emit("gauge", name, value, dims)
}

func (m *SlogMetrics) Histogram(name string, value float64, dims map[string]string) {
	m.emit("histogram", name, value, dims)
}
