package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpmomentum/internal/cfg"
	"perpmomentum/internal/model"
	"perpmomentum/internal/tradeerr"
)

func c(open, close float64) model.Candle {
	return model.Candle{OpenTime: 1, CloseTime: 2, Open: open, High: open + 1, Low: open - 1, Close: close, Volume: 1}
}

func TestEvaluate_EmptyHistoryFails(t *testing.T) {
	_, err := Evaluate(nil, c(100, 101), cfg.PairConfig{Threshold: 2, NumPreviousCandles: 1})
	assert.ErrorIs(t, err, tradeerr.ErrMissingHistory)
}

func TestEvaluate_TriggersOnLargeMove(t *testing.T) {
	history := []model.Candle{c(100, 100.1), c(100, 100.05), c(100, 100.1)}
	closed := c(100, 104)
	res, err := Evaluate(history, closed, cfg.PairConfig{Threshold: 2, NumPreviousCandles: 2})
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Equal(t, 104.0, res.LockClosePrice)
	assert.InDelta(t, res.DynamicThreshold/2, res.MovementThreshold, 1e-9)
}

func TestEvaluate_NoTriggerOnOrdinaryMove(t *testing.T) {
	history := []model.Candle{c(100, 102), c(100, 101.8), c(100, 102.1)}
	closed := c(100, 100.5)
	res, err := Evaluate(history, closed, cfg.PairConfig{Threshold: 2, NumPreviousCandles: 2})
	require.NoError(t, err)
	assert.False(t, res.Triggered)
}

type fakeArmer struct {
	armed map[string]bool
}

func (f *fakeArmer) Arm(account, symbol string, lock, threshold float64) (bool, error) {
	if f.armed == nil {
		f.armed = map[string]bool{}
	}
	f.armed[account] = true
	return true, nil
}

func TestApply_ArmsAllAccountsOnTrigger(t *testing.T) {
	armer := &fakeArmer{}
	err := Apply(armer, []string{"a1", "a2"}, "BTCUSDT", Result{Triggered: true, LockClosePrice: 100, MovementThreshold: 1})
	require.NoError(t, err)
	assert.True(t, armer.armed["a1"])
	assert.True(t, armer.armed["a2"])
}

func TestApply_NoopWhenNotTriggered(t *testing.T) {
	armer := &fakeArmer{}
	err := Apply(armer, []string{"a1"}, "BTCUSDT", Result{Triggered: false})
	require.NoError(t, err)
	assert.Nil(t, armer.armed)
}
