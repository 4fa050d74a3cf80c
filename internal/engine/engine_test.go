package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpmomentum/internal/accountstate"
	"perpmomentum/internal/candlehistory"
	"perpmomentum/internal/cfg"
	"perpmomentum/internal/gateway"
	"perpmomentum/internal/model"
	"perpmomentum/internal/statestore"
)

type fakeFeed struct {
	backfilled []model.Candle
	events     []gateway.KlineEvent
	done       chan struct{}
}

func (f *fakeFeed) Backfill(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	return f.backfilled, nil
}

func (f *fakeFeed) Subscribe(ctx context.Context, symbols []string, interval string, onKline func(gateway.KlineEvent)) error {
	for _, e := range f.events {
		onKline(e)
	}
	close(f.done)
	<-ctx.Done()
	return ctx.Err()
}

type fakeGateway struct {
	mu        sync.Mutex
	positions map[string]bool
}

func (g *fakeGateway) GetSymbolPrecision(ctx context.Context, symbol string) (gateway.Precision, error) {
	return gateway.Precision{PricePrecision: 2, QuantityPrecision: 3}, nil
}

func (g *fakeGateway) SubmitEntryWithStop(ctx context.Context, symbol string, side gateway.Side, qty, stopPrice float64) (gateway.EntryResult, error) {
	return gateway.EntryResult{EntryOrderID: "e1", StopOrderID: "s1"}, nil
}

func (g *fakeGateway) PlaceTrailStop(ctx context.Context, symbol string, forSide gateway.Side, stopPrice float64) error {
	return nil
}

func (g *fakeGateway) CancelAllOpenOrders(ctx context.Context, symbol string) error { return nil }

func (g *fakeGateway) ClosePosition(ctx context.Context, symbol string) error { return nil }

func (g *fakeGateway) PositionExists(ctx context.Context, symbol string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.positions[symbol], nil
}

type fakeUserStream struct{}

func (fakeUserStream) Subscribe(ctx context.Context, onAccountUpdate func(gateway.AccountUpdate), onOrderUpdate func(gateway.OrderUpdate)) error {
	<-ctx.Done()
	return ctx.Err()
}

func testConfig() cfg.Config {
	return cfg.Config{
		OrderURL:          "https://example.com",
		WebsocketInterval: "1m",
		Pairs: []cfg.PairConfig{
			{Symbol: "BTCUSDT", Threshold: 2.0, NumPreviousCandles: 3, USDTAmount: 100},
		},
		Accounts: []cfg.AccountConfig{
			{Name: "acct1", APIKey: "key", APISecret: "secret"},
		},
	}
}

func candle(openTime int64, open, close float64) model.Candle {
	return model.Candle{OpenTime: openTime, CloseTime: openTime + 60_000, Open: open, High: open, Low: open, Close: close, Volume: 1}
}

func TestEngine_Run_ArmsOnDetectedMovement(t *testing.T) {
	store, err := statestore.New(t.TempDir())
	require.NoError(t, err)
	state := accountstate.New(store, testLogger())
	history := candlehistory.New(20)

	feed := &fakeFeed{
		backfilled: []model.Candle{
			candle(1, 100, 100.1),
			candle(2, 100.1, 100.2),
			candle(3, 100.2, 100.3),
		},
		events: []gateway.KlineEvent{
			{Symbol: "BTCUSDT", Candle: candle(4, 100.3, 120), Closed: true},
		},
		done: make(chan struct{}),
	}
	gw := &fakeGateway{positions: map[string]bool{}}

	e := New(testConfig(), state, history, nil, feed, gw, map[string]gateway.UserStream{"acct1": fakeUserStream{}}, nil, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	go func() {
		<-feed.done
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_ = e.Run(ctx)

	pos := state.GetPosition("acct1", "BTCUSDT")
	assert.NotEqual(t, model.StatusIdle, pos.Status)
}

func TestEngine_OpenPositions_CountsAcrossAccountsAndSymbols(t *testing.T) {
	store, err := statestore.New(t.TempDir())
	require.NoError(t, err)
	state := accountstate.New(store, testLogger())
	require.NoError(t, state.Initialize("acct1", []string{"BTCUSDT"}))

	_, err = state.UpdatePosition("acct1", "BTCUSDT", func(p model.Position) model.Position {
		p.Status = model.StatusOpen
		p.EntryPrice = 100
		p.TriggerSide = model.SideLong
		p.Triggers = []float64{110}
		p.StopPrices = []float64{95}
		return p
	})
	require.NoError(t, err)

	e := New(testConfig(), state, candlehistory.New(5), nil, &fakeFeed{done: make(chan struct{})}, &fakeGateway{}, nil, nil, testLogger())
	assert.Equal(t, 1, e.OpenPositions())
}
