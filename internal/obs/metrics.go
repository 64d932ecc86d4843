package obs

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Label is a key/value pair attached to measurements.
type Label struct {
	Key   string
	Value string
}

// Meter is a very small interface for emitting counters/histograms.
// Implementations may no-op or bridge to a metrics system.
type Meter interface {
	Counter(name string, value float64, labels ...Label)
	Histogram(name string, value float64, labels ...Label)
}

// NopMeter is a Meter that discards all measurements.
type NopMeter struct{}

func (NopMeter) Counter(name string, value float64, labels ...Label)   {}
func (NopMeter) Histogram(name string, value float64, labels ...Label) {}

// OtelMeter bridges Meter to an OpenTelemetry metric.Meter. Instruments
// are created lazily and cached by name.
type OtelMeter struct {
	M metric.Meter

	mu     sync.Mutex
	counts map[string]metric.Float64Counter
	hists  map[string]metric.Float64Histogram
}

// NewOtelMeter returns a Meter backed by m.
func NewOtelMeter(m metric.Meter) *OtelMeter {
	return &OtelMeter{
		M:      m,
		counts: make(map[string]metric.Float64Counter),
		hists:  make(map[string]metric.Float64Histogram),
	}
}

func (o *OtelMeter) Counter(name string, value float64, labels ...Label) {
	o.mu.Lock()
	c, ok := o.counts[name]
	if !ok {
		var err error
		c, err = o.M.Float64Counter(name)
		if err != nil {
			o.mu.Unlock()
			return
		}
		o.counts[name] = c
	}
	o.mu.Unlock()
	c.Add(context.Background(), value, metric.WithAttributes(attrs(labels)...))
}

func (o *OtelMeter) Histogram(name string, value float64, labels ...Label) {
	o.mu.Lock()
	h, ok := o.hists[name]
	if !ok {
		var err error
		h, err = o.M.Float64Histogram(name)
		if err != nil {
			o.mu.Unlock()
			return
		}
		o.hists[name] = h
	}
	o.mu.Unlock()
	h.Record(context.Background(), value, metric.WithAttributes(attrs(labels)...))
}

func attrs(labels []Label) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(labels))
	for _, l := range labels {
		out = append(out, attribute.String(l.Key, l.Value))
	}
	return out
}
