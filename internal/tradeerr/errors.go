// Package tradeerr defines the sentinel errors returned across engine
// boundaries so callers can branch with errors.Is instead of string
// matching, mirroring how the exchange client reports classified failures.
package tradeerr

import "errors"

var (
	// ErrConfig marks a configuration load or validation failure.
	ErrConfig = errors.New("config error")

	// ErrTransport marks a network/exchange transport failure (REST or
	// websocket) that the caller may retry.
	ErrTransport = errors.New("transport error")

	// ErrPositionAlreadyExists is returned by ArmCheck when the exchange
	// already shows a non-zero position for the symbol it is about to enter.
	ErrPositionAlreadyExists = errors.New("position already exists")

	// ErrStopLossPlacementFailed marks a protective-stop order that could
	// not be placed: the stop leg of a paired entry batch was not returned,
	// or trailing-stop placement failed on every attempt.
	ErrStopLossPlacementFailed = errors.New("stop loss placement failed")

	// ErrMissingHistory is returned when a computation needs more candle
	// history than CandleHistory currently holds for the symbol.
	ErrMissingHistory = errors.New("missing candle history")

	// ErrUnknownSymbol is returned when an operation references a symbol
	// that was never registered with CandleHistory.
	ErrUnknownSymbol = errors.New("unknown symbol")

	// ErrInvariantViolation marks a state transition that would break a
	// documented data-model invariant; it should never be reachable in
	// production and indicates a bug if it is.
	ErrInvariantViolation = errors.New("invariant violation")
)
