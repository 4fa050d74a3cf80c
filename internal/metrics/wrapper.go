package metrics

import "github.com/prometheus/client_golang/prometheus"

// Interfaces for metrics to avoid circular imports between domain
// packages and this one.
type MetricsCounter interface {
	Inc()
}

type MetricsGauge interface {
	Set(float64)
	Add(float64)
}

type MetricsHistogram interface {
	Observe(float64)
}

type Counter = MetricsCounter
type Gauge = MetricsGauge
type Histogram = MetricsHistogram

// MetricsWrapper exposes a narrow, interface-typed view of Metrics so
// domain packages (entry, trigger, detector) can record observations
// without importing the concrete prometheus types directly.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) EntriesSubmitted() MetricsCounter {
	return &CounterWrapper{w.m.EntriesSubmitted}
}

func (w *MetricsWrapper) OpenPositions() MetricsGauge {
	return &GaugeWrapper{w.m.OpenPositions}
}

func (w *MetricsWrapper) EntryDuration() MetricsHistogram {
	return &HistogramWrapper{w.m.EntryDuration}
}

func (w *MetricsWrapper) UpdateOpenPositions(count int) {
	w.m.UpdateOpenPositions(count)
}

type CounterWrapper struct {
	c prometheus.Counter
}

func (cw *CounterWrapper) Inc() {
	cw.c.Inc()
}

type GaugeWrapper struct {
	g prometheus.Gauge
}

func (gw *GaugeWrapper) Set(v float64) {
	gw.g.Set(v)
}

func (gw *GaugeWrapper) Add(v float64) {
	gw.g.Add(v)
}

type HistogramWrapper struct {
	h prometheus.Histogram
}

func (hw *HistogramWrapper) Observe(v float64) {
	hw.h.Observe(v)
}
