package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpmomentum/internal/model"
)

func testCandle(openTime int64) model.Candle {
	return model.Candle{OpenTime: openTime, CloseTime: openTime + 60_000, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10}
}

func TestStore_AppendAndRange(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	for _, ot := range []int64{1, 2, 3, 4} {
		require.NoError(t, s.Append("BTCUSDT", testCandle(ot)))
	}

	got, err := s.Range("BTCUSDT", 2, 3)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].OpenTime)
	assert.Equal(t, int64(3), got[1].OpenTime)
}

func TestStore_Last(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	for _, ot := range []int64{1, 2, 3, 4, 5} {
		require.NoError(t, s.Append("BTCUSDT", testCandle(ot)))
	}

	got, err := s.Last("BTCUSDT", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{got[0].OpenTime, got[1].OpenTime, got[2].OpenTime})
}

func TestStore_RangeOnUnknownSymbolIsEmpty(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Range("ETHUSDT", 0, 1000)
	require.NoError(t, err)
	assert.Empty(t, got)
}
