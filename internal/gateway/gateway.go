// Package gateway defines the ports the engine drives: order submission,
// the market kline feed, and the user stream of account/order events.
// Concrete adapters live under internal/exchange.
package gateway

import (
	"context"

	"perpmomentum/internal/model"
)

// Side is an order side, consistent with model.Side but named for the
// order-submission boundary (BUY/SELL rather than long/short).
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Precision holds the exchange's price and quantity decimal precision
// for a symbol, cached after first lookup.
type Precision struct {
	PricePrecision    int
	QuantityPrecision int
}

// EntryResult is returned by a successful paired entry+stop submission.
type EntryResult struct {
	EntryOrderID string
	StopOrderID  string
}

// OrderGateway translates engine intent into exchange orders.
type OrderGateway interface {
	// GetSymbolPrecision returns the cached precision for symbol,
	// fetching and caching it on first call.
	GetSymbolPrecision(ctx context.Context, symbol string) (Precision, error)

	// SubmitEntryWithStop places a MARKET entry and a STOP_MARKET
	// protective stop (closePosition, MARK_PRICE trigger, opposite
	// side) as one batch.
	SubmitEntryWithStop(ctx context.Context, symbol string, side Side, qty, stopPrice float64) (EntryResult, error)

	// PlaceTrailStop installs a trailing stop at stopPrice for the
	// position opposite to forSide. If an equal STOP_MARKET already
	// exists it is treated as success; otherwise existing open orders
	// are cancelled and a new one submitted.
	PlaceTrailStop(ctx context.Context, symbol string, forSide Side, stopPrice float64) error

	// CancelAllOpenOrders cancels every open order for symbol.
	CancelAllOpenOrders(ctx context.Context, symbol string) error

	// ClosePosition reads the current position for symbol and, if
	// non-zero, issues an opposite-side MARKET order for its absolute
	// quantity, rounded to the symbol's quantity precision.
	ClosePosition(ctx context.Context, symbol string) error

	// PositionExists reports whether the exchange currently shows a
	// non-zero position for symbol, used as the entry-race guard.
	PositionExists(ctx context.Context, symbol string) (bool, error)
}

// MarketFeed streams kline updates for a set of symbols at a configured
// interval.
type MarketFeed interface {
	// Backfill returns the most recent limit closed candles for symbol.
	Backfill(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error)

	// Subscribe starts streaming klines for symbols at interval,
	// invoking onKline for every message (closed or not). It blocks
	// until ctx is cancelled or the connection is exhausted.
	Subscribe(ctx context.Context, symbols []string, interval string, onKline func(KlineEvent)) error
}

// KlineEvent is one kline stream message.
type KlineEvent struct {
	Symbol string
	Candle model.Candle
	Closed bool
}

// AccountUpdate reports the exchange's view of a position after a fill
// or reconciliation.
type AccountUpdate struct {
	Symbol         string
	PositionAmount float64
	EntryPrice     float64
	PositionSide   string
}

// OrderUpdate reports an order-lifecycle event.
type OrderUpdate struct {
	Symbol           string
	OrderStatus      string
	OrderType        string
	AveragePrice     float64
	StopPrice        float64
	LastFilledPrice  float64
}

// UserStream delivers account and order events for one account.
type UserStream interface {
	Subscribe(ctx context.Context, onAccountUpdate func(AccountUpdate), onOrderUpdate func(OrderUpdate)) error
}
