package bitunix

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// StreamStats tracks message throughput and connection health for the
// kline and user-data websocket streams, periodically logging allocation
// growth so a leak shows up in the logs before it shows up as an OOM.
type StreamStats struct {
	MessagesProcessed int64
	DroppedMessages   int64

	ActiveConnections int32
	TotalConnections  int64

	LastReportedAlloc uint64
	PeakAlloc         uint64

	monitoringActive     int32
	monitoringInterval   time.Duration
	leakThresholdPercent float64
}

// NewStreamStats creates a new stream statistics tracker.
func NewStreamStats() *StreamStats {
	return &StreamStats{
		monitoringInterval:   30 * time.Second,
		leakThresholdPercent: 10.0,
	}
}

// StartMonitoring begins periodic memory usage monitoring.
func (ms *StreamStats) StartMonitoring() {
	if !atomic.CompareAndSwapInt32(&ms.monitoringActive, 0, 1) {
		return
	}

	go func() {
		ticker := time.NewTicker(ms.monitoringInterval)
		defer ticker.Stop()

		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		atomic.StoreUint64(&ms.LastReportedAlloc, m.Alloc)
		atomic.StoreUint64(&ms.PeakAlloc, m.Alloc)

		log.Info().
			Uint64("alloc_mb", m.Alloc/1024/1024).
			Uint64("sys_mb", m.Sys/1024/1024).
			Int("goroutines", runtime.NumGoroutine()).
			Msg("stream memory monitoring started")

		for range ticker.C {
			if atomic.LoadInt32(&ms.monitoringActive) == 0 {
				return
			}

			runtime.ReadMemStats(&m)

			for {
				peak := atomic.LoadUint64(&ms.PeakAlloc)
				if m.Alloc <= peak {
					break
				}
				if atomic.CompareAndSwapUint64(&ms.PeakAlloc, peak, m.Alloc) {
					break
				}
			}

			lastAlloc := atomic.LoadUint64(&ms.LastReportedAlloc)
			growthPercent := 0.0
			if lastAlloc > 0 {
				growthPercent = (float64(m.Alloc) - float64(lastAlloc)) / float64(lastAlloc) * 100.0
			}

			logEvent := log.Info()
			if growthPercent > ms.leakThresholdPercent {
				logEvent = log.Warn().Bool("potential_leak", true)
			}

			logEvent.
				Uint64("alloc_mb", m.Alloc/1024/1024).
				Uint64("sys_mb", m.Sys/1024/1024).
				Uint64("peak_alloc_mb", atomic.LoadUint64(&ms.PeakAlloc)/1024/1024).
				Float64("growth_percent", growthPercent).
				Int64("messages_processed", atomic.LoadInt64(&ms.MessagesProcessed)).
				Int64("dropped_messages", atomic.LoadInt64(&ms.DroppedMessages)).
				Int32("active_connections", atomic.LoadInt32(&ms.ActiveConnections)).
				Int("goroutines", runtime.NumGoroutine()).
				Msg("stream memory usage stats")

			atomic.StoreUint64(&ms.LastReportedAlloc, m.Alloc)
		}
	}()
}

// StopMonitoring stops the memory monitoring.
func (ms *StreamStats) StopMonitoring() {
	atomic.StoreInt32(&ms.monitoringActive, 0)
}

// TrackMessageProcessed records a successfully handled stream message.
func (ms *StreamStats) TrackMessageProcessed() {
	atomic.AddInt64(&ms.MessagesProcessed, 1)
}

// TrackMessageDropped records a message that failed to parse or route.
func (ms *StreamStats) TrackMessageDropped() {
	atomic.AddInt64(&ms.DroppedMessages, 1)
}

// TrackConnectionActive records a newly established connection.
func (ms *StreamStats) TrackConnectionActive() {
	atomic.AddInt32(&ms.ActiveConnections, 1)
	atomic.AddInt64(&ms.TotalConnections, 1)
}

// TrackConnectionClosed records a connection going away.
func (ms *StreamStats) TrackConnectionClosed() {
	atomic.AddInt32(&ms.ActiveConnections, -1)
}

// GetStats returns a snapshot of current stream statistics.
func (ms *StreamStats) GetStats() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"alloc_mb":            m.Alloc / 1024 / 1024,
		"sys_mb":              m.Sys / 1024 / 1024,
		"peak_alloc_mb":       atomic.LoadUint64(&ms.PeakAlloc) / 1024 / 1024,
		"messages_processed":  atomic.LoadInt64(&ms.MessagesProcessed),
		"dropped_messages":    atomic.LoadInt64(&ms.DroppedMessages),
		"active_connections":  atomic.LoadInt32(&ms.ActiveConnections),
		"goroutines":          runtime.NumGoroutine(),
	}
}
