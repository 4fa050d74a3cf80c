// Package engine wires every component into the single logical event
// loop the system runs as: one goroutine for the market feed covering every
// pair, one goroutine per account's user stream, dispatching into the shared
// AccountState under the entry/trigger packages' own per-(account,symbol)
// locks.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"perpmomentum/internal/accountstate"
	"perpmomentum/internal/archive"
	"perpmomentum/internal/candlehistory"
	"perpmomentum/internal/cfg"
	"perpmomentum/internal/common"
	"perpmomentum/internal/detector"
	"perpmomentum/internal/entry"
	"perpmomentum/internal/gateway"
	"perpmomentum/internal/metrics"
	"perpmomentum/internal/model"
	"perpmomentum/internal/trigger"
)

// Engine is the composition root's runtime: it owns every account's
// state, the candle history windows, and the per-tick dispatch into the
// entry/trigger/detector components.
type Engine struct {
	cfg         cfg.Config
	state       *accountstate.State
	history     *candlehistory.History
	archive     *archive.Store
	feed        gateway.MarketFeed
	userStreams map[string]gateway.UserStream
	entry       *entry.Engine
	trigger     *trigger.Runner
	metrics     *metrics.Metrics
	log         zerolog.Logger

	startedAt time.Time

	wsConnected       int32
	reconnectAttempts int32
	lastKlineAt       atomic.Value // time.Time

	wg sync.WaitGroup
}

// New builds an Engine ready to Run. userStreams maps account name to its
// UserStream implementation.
func New(
	c cfg.Config,
	state *accountstate.State,
	history *candlehistory.History,
	archiveStore *archive.Store,
	feed gateway.MarketFeed,
	gw gateway.OrderGateway,
	userStreams map[string]gateway.UserStream,
	m *metrics.Metrics,
	log zerolog.Logger,
) *Engine {
	e := &Engine{
		cfg:         c,
		state:       state,
		history:     history,
		archive:     archiveStore,
		feed:        feed,
		userStreams: userStreams,
		entry:       entry.New(state, gw, log),
		trigger:     trigger.New(state, gw, log),
		metrics:     m,
		log:         log,
		startedAt:   time.Now(),
	}
	e.lastKlineAt.Store(time.Time{})
	return e
}

// OpenPositions implements health.StatusProvider.
func (e *Engine) OpenPositions() int {
	count := 0
	for _, acct := range e.cfg.Accounts {
		for _, pair := range e.cfg.Pairs {
			if e.state.GetPosition(acct.Name, pair.Symbol).Status == model.StatusOpen {
				count++
			}
		}
	}
	return count
}

// WebsocketConnected implements health.StatusProvider.
func (e *Engine) WebsocketConnected() bool {
	return atomic.LoadInt32(&e.wsConnected) == 1
}

// ReconnectAttempts implements health.StatusProvider.
func (e *Engine) ReconnectAttempts() int {
	return int(atomic.LoadInt32(&e.reconnectAttempts))
}

// LastKlineAt implements health.StatusProvider.
func (e *Engine) LastKlineAt() time.Time {
	return e.lastKlineAt.Load().(time.Time)
}

// Run initializes account state, backfills and seeds history for every
// pair, then blocks streaming klines and user events until ctx is
// cancelled. All pairs share one feed subscription, and reconnection is
// left to the feed itself; the engine enforces no reconnect attempt
// ceiling and does not count reconnects.
func (e *Engine) Run(ctx context.Context) error {
	accountNames := make([]string, len(e.cfg.Accounts))
	for i, a := range e.cfg.Accounts {
		accountNames[i] = a.Name
	}

	for _, a := range e.cfg.Accounts {
		symbols := make([]string, len(e.cfg.Pairs))
		for i, p := range e.cfg.Pairs {
			symbols[i] = p.Symbol
		}
		if err := e.state.Initialize(a.Name, symbols); err != nil {
			return err
		}
	}

	for _, p := range e.cfg.Pairs {
		e.history.Register(p.Symbol)
		candles, err := e.feed.Backfill(ctx, p.Symbol, e.cfg.WebsocketInterval, common.DefaultHistoryCapacity)
		if err != nil {
			e.log.Error().Err(err).Str("symbol", p.Symbol).Msg("backfill failed, starting from empty history")
			continue
		}
		if err := e.history.Backfill(p.Symbol, candles); err != nil {
			e.log.Error().Err(err).Str("symbol", p.Symbol).Msg("failed to seed candle history")
		}
	}

	for account, us := range e.userStreams {
		e.wg.Add(1)
		go e.runUserStream(ctx, account, us)
	}

	symbols := make([]string, len(e.cfg.Pairs))
	pairBySymbol := make(map[string]cfg.PairConfig, len(e.cfg.Pairs))
	for i, p := range e.cfg.Pairs {
		symbols[i] = p.Symbol
		pairBySymbol[p.Symbol] = p
	}

	e.wg.Add(1)
	go e.runMarketFeed(ctx, symbols, pairBySymbol, accountNames)

	e.wg.Wait()
	return ctx.Err()
}

func (e *Engine) runMarketFeed(ctx context.Context, symbols []string, pairBySymbol map[string]cfg.PairConfig, accountNames []string) {
	defer e.wg.Done()

	err := e.feed.Subscribe(ctx, symbols, e.cfg.WebsocketInterval, func(ev gateway.KlineEvent) {
		atomic.StoreInt32(&e.wsConnected, 1)
		e.lastKlineAt.Store(time.Now())
		if e.metrics != nil {
			e.metrics.KlinesReceived.Inc()
		}
		e.onKline(ctx, ev, pairBySymbol[ev.Symbol], accountNames)
	})
	atomic.StoreInt32(&e.wsConnected, 0)
	if err != nil && !errors.Is(err, context.Canceled) {
		e.log.Error().Err(err).Msg("market feed stream ended")
	}
}

func (e *Engine) onKline(ctx context.Context, ev gateway.KlineEvent, pair cfg.PairConfig, accountNames []string) {
	for _, account := range accountNames {
		if err := e.entry.ArmCheck(ctx, account, ev.Symbol, ev.Candle.Close, pair); err != nil {
			e.log.Error().Err(err).Str("account", account).Str("symbol", ev.Symbol).Msg("arm check failed")
		}
		if err := e.trigger.Run(ctx, account, ev.Symbol, ev.Candle.Close); err != nil {
			e.log.Error().Err(err).Str("account", account).Str("symbol", ev.Symbol).Msg("trigger advance failed")
		}
	}

	if !ev.Closed {
		return
	}

	if e.metrics != nil {
		e.metrics.CandlesClosed.Inc()
	}

	history, err := e.history.Snapshot(ev.Symbol)
	if err != nil {
		e.log.Error().Err(err).Str("symbol", ev.Symbol).Msg("candle history snapshot failed")
		return
	}

	result, err := detector.Evaluate(history, ev.Candle, pair)
	if err != nil {
		e.log.Debug().Err(err).Str("symbol", ev.Symbol).Msg("movement detector skipped")
	} else {
		if result.Triggered && e.metrics != nil {
			e.metrics.MovementsDetected.Inc()
		}
		if err := detector.Apply(armerAdapter{e.state, e.metrics}, accountNames, ev.Symbol, result); err != nil {
			e.log.Error().Err(err).Str("symbol", ev.Symbol).Msg("failed to arm accounts on detected movement")
		}
	}

	if err := e.history.Append(ev.Symbol, ev.Candle); err != nil {
		e.log.Error().Err(err).Str("symbol", ev.Symbol).Msg("candle history append failed")
	}
	if e.archive != nil {
		if err := e.archive.Append(ev.Symbol, ev.Candle); err != nil {
			e.log.Error().Err(err).Str("symbol", ev.Symbol).Msg("candle archive append failed")
		}
	}
}

type armerAdapter struct {
	state   *accountstate.State
	metrics *metrics.Metrics
}

func (a armerAdapter) Arm(account, symbol string, lockClosePrice, movementThreshold float64) (bool, error) {
	armed, err := a.state.Arm(account, symbol, lockClosePrice, movementThreshold)
	if armed && a.metrics != nil {
		a.metrics.AccountsArmed.Inc()
	}
	return armed, err
}

func (e *Engine) runUserStream(ctx context.Context, account string, us gateway.UserStream) {
	defer e.wg.Done()

	err := us.Subscribe(ctx,
		func(au gateway.AccountUpdate) {
			if e.metrics != nil {
				e.metrics.UserStreamEvents.Inc()
			}
			e.onAccountUpdate(account, au)
		},
		func(ou gateway.OrderUpdate) {
			if e.metrics != nil {
				e.metrics.UserStreamEvents.Inc()
			}
			e.onOrderUpdate(account, ou)
		},
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		e.log.Error().Err(err).Str("account", account).Msg("user stream ended")
	}
}

func (e *Engine) onAccountUpdate(account string, au gateway.AccountUpdate) {
	if au.PositionAmount == 0 {
		pos := e.state.GetPosition(account, au.Symbol)
		if pos.Status != model.StatusIdle {
			e.log.Info().Str("account", account).Str("symbol", au.Symbol).Msg("exchange reports flat position, clearing")
			e.state.Clear(account, au.Symbol)
		}
		return
	}

	pos := e.state.GetPosition(account, au.Symbol)
	if pos.Status != model.StatusEntering {
		return
	}

	pair, ok := e.pairFor(au.Symbol)
	if !ok {
		return
	}
	if err := e.entry.CompleteFill(account, au.Symbol, au.EntryPrice, pair); err != nil {
		e.log.Error().Err(err).Str("account", account).Str("symbol", au.Symbol).Msg("failed to complete fill")
	}
}

func (e *Engine) onOrderUpdate(account string, ou gateway.OrderUpdate) {
	if ou.OrderType == "STOP_MARKET" && ou.OrderStatus == "FILLED" {
		e.log.Info().Str("account", account).Str("symbol", ou.Symbol).Float64("price", ou.LastFilledPrice).
			Msg("stop loss filled, position closed")
		e.state.Clear(account, ou.Symbol)
	}
}

func (e *Engine) pairFor(symbol string) (cfg.PairConfig, bool) {
	for _, p := range e.cfg.Pairs {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return cfg.PairConfig{}, false
}

// Shutdown waits up to common.DefaultShutdownGrace for the engine's
// stream goroutines to exit after ctx is cancelled by the caller.
func (e *Engine) Shutdown() {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(common.DefaultShutdownGrace):
		e.log.Warn().Msg("shutdown grace period exceeded, exiting anyway")
	}
}
