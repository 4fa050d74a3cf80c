package accountstate

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpmomentum/internal/model"
	"perpmomentum/internal/statestore"
)

func newState(t *testing.T) *State {
	t.Helper()
	store, err := statestore.New(t.TempDir())
	require.NoError(t, err)
	return New(store, zerolog.Nop())
}

func TestState_InitializeCreatesIdlePositions(t *testing.T) {
	s := newState(t)
	require.NoError(t, s.Initialize("acct1", []string{"BTCUSDT", "ETHUSDT"}))

	pos := s.GetPosition("acct1", "BTCUSDT")
	assert.Equal(t, model.StatusIdle, pos.Status)
}

func TestState_ArmSkipsEnteringOrOpen(t *testing.T) {
	s := newState(t)
	require.NoError(t, s.Initialize("acct1", []string{"BTCUSDT"}))

	_, err := s.UpdatePosition("acct1", "BTCUSDT", func(p model.Position) model.Position {
		p.Status = model.StatusOpen
		p.EntryPrice = 100
		p.TriggerSide = model.SideLong
		return p
	})
	require.NoError(t, err)

	armed, err := s.Arm("acct1", "BTCUSDT", 100, 1.0)
	require.NoError(t, err)
	assert.False(t, armed)

	pos := s.GetPosition("acct1", "BTCUSDT")
	assert.Equal(t, model.StatusOpen, pos.Status)
}

func TestState_ArmFromIdle(t *testing.T) {
	s := newState(t)
	require.NoError(t, s.Initialize("acct1", []string{"BTCUSDT"}))

	armed, err := s.Arm("acct1", "BTCUSDT", 100, 1.0)
	require.NoError(t, err)
	assert.True(t, armed)

	pos := s.GetPosition("acct1", "BTCUSDT")
	assert.Equal(t, model.StatusArmed, pos.Status)
	assert.Equal(t, 100.0, pos.LockClosePrice)
	assert.Equal(t, 1.0, pos.MovementThreshold)
}

func TestState_ClearResetsToIdle(t *testing.T) {
	s := newState(t)
	require.NoError(t, s.Initialize("acct1", []string{"BTCUSDT"}))
	_, err := s.UpdatePosition("acct1", "BTCUSDT", func(p model.Position) model.Position {
		p.Status = model.StatusOpen
		p.EntryPrice = 100
		p.TriggerSide = model.SideLong
		p.Triggers = []float64{101}
		p.StopPrices = []float64{99}
		return p
	})
	require.NoError(t, err)

	s.Clear("acct1", "BTCUSDT")
	pos := s.GetPosition("acct1", "BTCUSDT")
	assert.Equal(t, model.Idle(), pos)
}

func TestState_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	store, err := statestore.New(dir)
	require.NoError(t, err)

	s1 := New(store, zerolog.Nop())
	require.NoError(t, s1.Initialize("acct1", []string{"BTCUSDT"}))
	_, err = s1.Arm("acct1", "BTCUSDT", 50, 2.0)
	require.NoError(t, err)

	s2 := New(store, zerolog.Nop())
	require.NoError(t, s2.Initialize("acct1", []string{"BTCUSDT"}))
	pos := s2.GetPosition("acct1", "BTCUSDT")
	assert.Equal(t, model.StatusArmed, pos.Status)
	assert.Equal(t, 50.0, pos.LockClosePrice)
}
