// Package metrics provides Prometheus metrics collection for the trading
// engine. It defines and manages the counters, gauges, and histograms
// exposed via the Prometheus metrics endpoint for monitoring and
// alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric the engine publishes.
type Metrics struct {
	// Detector and arming
	MovementsDetected prometheus.Counter // Total number of anomaly triggers detected
	AccountsArmed      prometheus.Counter // Total number of (account, symbol) arm transitions

	// Entry
	EntriesSubmitted        prometheus.Counter   // Total number of entry+stop order batches submitted
	EntryFailures           prometheus.Counter   // Total number of failed entry attempts
	StopLossPlacementFailed prometheus.Counter   // Total number of stop-loss placements that failed after entry
	EntryDuration           prometheus.Histogram // Duration of ArmCheck-to-submission, in seconds

	// Trigger ladder
	LadderAdvances      prometheus.Counter // Total number of trigger ladder advances
	TrailStopRetries    prometheus.Counter // Total number of trailing-stop placement retries
	TrailStopExhausted   prometheus.Counter // Total number of positions closed after retry exhaustion
	OpenPositions        prometheus.Gauge   // Number of currently open positions across all accounts

	// Market and user stream
	WSReconnects    prometheus.Counter // Total number of WebSocket reconnections
	KlinesReceived  prometheus.Counter // Total number of kline messages received
	CandlesClosed   prometheus.Counter // Total number of closed candles appended to history
	UserStreamEvents prometheus.Counter // Total number of user-stream account/order events processed

	// System
	ErrorsTotal prometheus.Counter // Total number of errors encountered
}

// New creates and registers all Prometheus metrics using the default
// registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics registered against a custom registry,
// useful for isolated collection in tests.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		MovementsDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "movements_detected_total",
			Help: "Total number of anomaly triggers detected by the movement detector",
		}),
		AccountsArmed: factory.NewCounter(prometheus.CounterOpts{
			Name: "accounts_armed_total",
			Help: "Total number of (account, symbol) arm transitions",
		}),
		EntriesSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "entries_submitted_total",
			Help: "Total number of entry+stop order batches submitted",
		}),
		EntryFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "entry_failures_total",
			Help: "Total number of failed entry attempts",
		}),
		StopLossPlacementFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "stop_loss_placement_failed_total",
			Help: "Total number of stop-loss placements that failed after entry",
		}),
		EntryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "entry_duration_seconds",
			Help:    "Duration from breach detection to order submission, in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		LadderAdvances: factory.NewCounter(prometheus.CounterOpts{
			Name: "ladder_advances_total",
			Help: "Total number of trigger ladder advances",
		}),
		TrailStopRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "trail_stop_retries_total",
			Help: "Total number of trailing-stop placement retries",
		}),
		TrailStopExhausted: factory.NewCounter(prometheus.CounterOpts{
			Name: "trail_stop_exhausted_total",
			Help: "Total number of positions closed after stop placement retry exhaustion",
		}),
		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "open_positions",
			Help: "Number of currently open positions across all accounts",
		}),
		WSReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "ws_reconnects_total",
			Help: "Total number of WebSocket reconnections",
		}),
		KlinesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "klines_received_total",
			Help: "Total number of kline messages received",
		}),
		CandlesClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "candles_closed_total",
			Help: "Total number of closed candles appended to history",
		}),
		UserStreamEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "user_stream_events_total",
			Help: "Total number of user-stream account/order events processed",
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}

// UpdateOpenPositions sets the open-positions gauge from a snapshot count.
func (m *Metrics) UpdateOpenPositions(count int) {
	m.OpenPositions.Set(float64(count))
}
