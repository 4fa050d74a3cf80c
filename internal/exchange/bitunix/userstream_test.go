package bitunix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpmomentum/internal/gateway"
)

func TestUserStream_HandleMessage_AccountUpdate(t *testing.T) {
	us := &UserStream{stats: NewStreamStats()}

	raw := []byte(`{"e":"ACCOUNT_UPDATE","E":1000,"a":{"P":[{"s":"BTCUSDT","pa":"0.01","ep":"100.5","ps":"LONG"}]}}`)

	var got gateway.AccountUpdate
	var called bool
	us.handleMessage(raw, func(u gateway.AccountUpdate) {
		called = true
		got = u
	}, func(gateway.OrderUpdate) {})

	require.True(t, called)
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.InDelta(t, 0.01, got.PositionAmount, 1e-9)
	assert.Equal(t, "LONG", got.PositionSide)
}

func TestUserStream_HandleMessage_OrderUpdate(t *testing.T) {
	us := &UserStream{stats: NewStreamStats()}

	raw := []byte(`{"e":"ORDER_TRADE_UPDATE","E":1000,"o":{"s":"BTCUSDT","X":"FILLED","o":"MARKET","ap":"100.5","sp":"0","L":"100.5"}}`)

	var got gateway.OrderUpdate
	var called bool
	us.handleMessage(raw, func(gateway.AccountUpdate) {}, func(u gateway.OrderUpdate) {
		called = true
		got = u
	})

	require.True(t, called)
	assert.Equal(t, "FILLED", got.OrderStatus)
	assert.InDelta(t, 100.5, got.AveragePrice, 1e-9)
}

func TestUserStream_HandleMessage_IgnoresUnknownEvents(t *testing.T) {
	us := &UserStream{stats: NewStreamStats()}

	raw := []byte(`{"e":"LISTEN_KEY_EXPIRED","E":1000}`)

	accountCalled, orderCalled := false, false
	us.handleMessage(raw, func(gateway.AccountUpdate) { accountCalled = true }, func(gateway.OrderUpdate) { orderCalled = true })

	assert.False(t, accountCalled)
	assert.False(t, orderCalled)
}
