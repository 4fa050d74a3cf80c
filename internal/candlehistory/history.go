// Package candlehistory holds the fixed-capacity rolling candle window the
// movement detector reads from. One ring per symbol,
// guarded by a single mutex the way the teacher's in-memory stores guard
// their maps.
package candlehistory

import (
	"sync"

	"perpmomentum/internal/model"
	"perpmomentum/internal/tradeerr"
)

// History is a fixed-capacity, FIFO-evicting sequence of candles per
// symbol. Appending a candle whose OpenTime matches the current last
// candle's OpenTime replaces that last candle in place instead of
// growing the window — this is the "late update" idempotence rule: a
// kline stream may re-deliver the still-open candle multiple times
// before it closes, and only the closed version should ever be
// durably appended.
type History struct {
	mu       sync.Mutex
	capacity int
	bySymbol map[string][]model.Candle
}

// New returns a History with the given per-symbol capacity. capacity must
// be positive; callers validate this via configuration before construction.
func New(capacity int) *History {
	return &History{
		capacity: capacity,
		bySymbol: make(map[string][]model.Candle),
	}
}

// Register creates an empty window for symbol if one does not already
// exist. Symbols not registered are rejected by Append and Snapshot with
// tradeerr.ErrUnknownSymbol.
func (h *History) Register(symbol string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.bySymbol[symbol]; !ok {
		h.bySymbol[symbol] = make([]model.Candle, 0, h.capacity)
	}
}

// Append adds c to symbol's window, replacing the last candle in place if
// c.OpenTime matches it, otherwise appending and evicting the oldest
// candle once the window exceeds capacity.
func (h *History) Append(symbol string, c model.Candle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	window, ok := h.bySymbol[symbol]
	if !ok {
		return tradeerr.ErrUnknownSymbol
	}
	if n := len(window); n > 0 && window[n-1].OpenTime == c.OpenTime {
		window[n-1] = c
		h.bySymbol[symbol] = window
		return nil
	}
	window = append(window, c)
	if len(window) > h.capacity {
		window = window[len(window)-h.capacity:]
	}
	h.bySymbol[symbol] = window
	return nil
}

// Snapshot returns a defensive copy of symbol's current window, oldest
// first. The returned slice is safe to read after the call without
// holding any lock.
func (h *History) Snapshot(symbol string) ([]model.Candle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	window, ok := h.bySymbol[symbol]
	if !ok {
		return nil, tradeerr.ErrUnknownSymbol
	}
	out := make([]model.Candle, len(window))
	copy(out, window)
	return out, nil
}

// Len returns the current number of candles held for symbol.
func (h *History) Len(symbol string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.bySymbol[symbol])
}

// Backfill replaces symbol's entire window with candles, truncated to the
// most recent capacity entries. It is used once at startup to seed history
// from the REST klines endpoint before the websocket stream takes over.
func (h *History) Backfill(symbol string, candles []model.Candle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.bySymbol[symbol]; !ok {
		return tradeerr.ErrUnknownSymbol
	}
	if len(candles) > h.capacity {
		candles = candles[len(candles)-h.capacity:]
	}
	window := make([]model.Candle, len(candles))
	copy(window, candles)
	h.bySymbol[symbol] = window
	return nil
}
