// Package trigger implements TriggerRunner: on every tick for an open
// position it advances the ladder, installing the next trailing stop and
// popping the consumed trigger/stop pair.
package trigger

import (
	"context"

	"github.com/rs/zerolog"

	"perpmomentum/internal/accountstate"
	"perpmomentum/internal/gateway"
	"perpmomentum/internal/lockset"
	"perpmomentum/internal/model"
	"perpmomentum/internal/tradeerr"
)

const maxRetries = 3

// Runner advances the trigger ladder for open positions.
type Runner struct {
	state   *accountstate.State
	gateway gateway.OrderGateway
	locks   *lockset.Set
	log     zerolog.Logger
}

// New returns a Runner wired to state and gw.
func New(state *accountstate.State, gw gateway.OrderGateway, log zerolog.Logger) *Runner {
	return &Runner{state: state, gateway: gw, locks: lockset.New(), log: log}
}

// Run evaluates one price tick for (account, symbol). It is a no-op
// unless the position is open, has a non-empty ladder, and price has
// reached the head trigger; contention on the trigger lock silently
// skips the tick.
func (r *Runner) Run(ctx context.Context, account, symbol string, price float64) error {
	pos := r.state.GetPosition(account, symbol)
	if pos.Status != model.StatusOpen || len(pos.Triggers) == 0 {
		return nil
	}

	fired := false
	switch pos.TriggerSide {
	case model.SideLong:
		fired = price >= pos.Triggers[0]
	case model.SideShort:
		fired = price <= pos.Triggers[0]
	}
	if !fired {
		return nil
	}

	key := account + "|" + symbol
	if !r.locks.TryAcquire(key) {
		return nil
	}
	defer r.locks.Release(key)

	// Re-read under the lock: a concurrent advance may have already
	// consumed this head since the unlocked check above.
	current := r.state.GetPosition(account, symbol)
	if current.Status != model.StatusOpen || len(current.Triggers) == 0 {
		return nil
	}
	if current.Triggers[0] != pos.Triggers[0] || current.StopPrices[0] != pos.StopPrices[0] {
		return nil
	}

	stopPrice := current.StopPrices[0]
	var forSide gateway.Side
	if current.TriggerSide == model.SideLong {
		forSide = gateway.SideBuy
	} else {
		forSide = gateway.SideSell
	}

	var lastErr error
	placed := false
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := r.gateway.PlaceTrailStop(ctx, symbol, forSide, stopPrice); err != nil {
			lastErr = err
			continue
		}
		placed = true
		break
	}

	if !placed {
		r.log.Error().Err(lastErr).Str("account", account).Str("symbol", symbol).
			Msg("stop loss placement exhausted retries, closing position")
		if err := r.gateway.ClosePosition(ctx, symbol); err != nil {
			return err
		}
		return tradeerr.ErrStopLossPlacementFailed
	}

	_, err := r.state.UpdatePosition(account, symbol, func(p model.Position) model.Position {
		if len(p.Triggers) == 0 {
			return p
		}
		p.Triggers = p.Triggers[1:]
		p.StopPrices = p.StopPrices[1:]
		return p
	})
	return err
}
