// Package entry implements ArmCheck: the per-tick check that turns an
// armed position into an open one once price breaches the lock
// threshold in either direction.
package entry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"perpmomentum/internal/accountstate"
	"perpmomentum/internal/cfg"
	"perpmomentum/internal/common"
	"perpmomentum/internal/gateway"
	"perpmomentum/internal/ladder"
	"perpmomentum/internal/lockset"
	"perpmomentum/internal/model"
	"perpmomentum/internal/tradeerr"
)

// Engine runs ArmCheck against one OrderGateway and AccountState,
// serializing the armed→entering→open transition per (account, symbol)
// with a try-acquire entry lock.
type Engine struct {
	state   *accountstate.State
	gateway gateway.OrderGateway
	locks   *lockset.Set
	log     zerolog.Logger

	pendingMu   sync.Mutex
	pendingSide map[string]model.Side
}

// New returns an Engine wired to state and gw.
func New(state *accountstate.State, gw gateway.OrderGateway, log zerolog.Logger) *Engine {
	return &Engine{
		state:       state,
		gateway:     gw,
		locks:       lockset.New(),
		log:         log,
		pendingSide: make(map[string]model.Side),
	}
}

func lockKey(account, symbol string) string {
	return account + "|" + symbol
}

// ArmCheck evaluates one price tick for (account, symbol). It is a no-op
// unless the position is armed and the tick breaches the lock threshold;
// contention on the entry lock is also a silent no-op (the tick is
// skipped, not queued).
func (e *Engine) ArmCheck(ctx context.Context, account, symbol string, currentPrice float64, pair cfg.PairConfig) error {
	pos := e.state.GetPosition(account, symbol)
	if pos.Status != model.StatusArmed {
		return nil
	}
	if pos.LockClosePrice <= 0 || pos.MovementThreshold <= 0 {
		return nil
	}

	lock := pos.LockClosePrice
	m := pos.MovementThreshold / 100
	f := pair.FeesExemptionPercentage / 100

	var side gateway.Side
	var modelSide model.Side
	var stopPrice float64
	switch {
	case currentPrice >= lock*(1+m):
		side, modelSide = gateway.SideBuy, model.SideLong
		stopPrice = currentPrice * (1 - m)
	case currentPrice <= lock*(1-m):
		side, modelSide = gateway.SideSell, model.SideShort
		stopPrice = currentPrice * (1 + m)
	default:
		return nil
	}
	_ = f // fees_exemption is applied in the ladder, not the entry stop

	key := lockKey(account, symbol)
	if !e.locks.TryAcquire(key) {
		return nil
	}
	releaseOnExit := true
	defer func() {
		if releaseOnExit {
			e.locks.Release(key)
		}
	}()

	if _, err := e.state.UpdatePosition(account, symbol, func(p model.Position) model.Position {
		p.Status = model.StatusEntering
		return p
	}); err != nil {
		return err
	}

	exists, err := e.gateway.PositionExists(ctx, symbol)
	if err != nil {
		e.rollback(account, symbol)
		return fmt.Errorf("%w: %v", tradeerr.ErrTransport, err)
	}
	if exists {
		e.rollback(account, symbol)
		return tradeerr.ErrPositionAlreadyExists
	}

	precision, err := e.gateway.GetSymbolPrecision(ctx, symbol)
	if err != nil {
		e.rollback(account, symbol)
		return fmt.Errorf("%w: %v", tradeerr.ErrTransport, err)
	}
	qty := roundTo(pair.USDTAmount/currentPrice, precision.QuantityPrecision)
	stopPrice = roundTo(stopPrice, precision.PricePrecision)

	if _, err := e.gateway.SubmitEntryWithStop(ctx, symbol, side, qty, stopPrice); err != nil {
		if errors.Is(err, tradeerr.ErrStopLossPlacementFailed) {
			_ = e.gateway.ClosePosition(ctx, symbol)
			e.rollback(account, symbol)
			return tradeerr.ErrStopLossPlacementFailed
		}
		e.rollback(account, symbol)
		return fmt.Errorf("%w: %v", tradeerr.ErrTransport, err)
	}

	// Lock stays held until CompleteFill (the user-stream fill callback)
	// transitions entering→open and releases it.
	releaseOnExit = false
	e.pendingMu.Lock()
	e.pendingSide[key] = modelSide
	e.pendingMu.Unlock()
	return nil
}

// CompleteFill transitions an entering position to open once the
// exchange user stream reports the fill, computing the trigger ladder
// from entryPrice and releasing the entry lock.
func (e *Engine) CompleteFill(account, symbol string, entryPrice float64, pair cfg.PairConfig) error {
	key := lockKey(account, symbol)
	defer e.locks.Release(key)

	e.pendingMu.Lock()
	side := e.pendingSide[key]
	delete(e.pendingSide, key)
	e.pendingMu.Unlock()

	pos := e.state.GetPosition(account, symbol)
	triggers, stops := ladder.Build(entryPrice, side, pos.MovementThreshold, pair.FeesExemptionPercentage, common.DefaultLadderCount)

	_, err := e.state.UpdatePosition(account, symbol, func(p model.Position) model.Position {
		p.Status = model.StatusOpen
		p.EntryPrice = entryPrice
		p.TriggerSide = side
		p.Triggers = triggers
		p.StopPrices = stops
		return p
	})
	return err
}

func (e *Engine) rollback(account, symbol string) {
	_, err := e.state.UpdatePosition(account, symbol, func(p model.Position) model.Position {
		p.Status = model.StatusArmed
		return p
	})
	if err != nil {
		e.log.Error().Err(err).Str("account", account).Str("symbol", symbol).Msg("failed to roll back entry attempt")
	}
}

func roundTo(v float64, precision int) float64 {
	scale := math.Pow10(precision)
	return math.Round(v*scale) / scale
}
