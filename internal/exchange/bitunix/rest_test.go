package bitunix

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpmomentum/internal/gateway"
)

func TestPow10AndRoundHalfUp(t *testing.T) {
	assert.Equal(t, 100.0, pow10(2))
	assert.Equal(t, 1.0, pow10(0))
	assert.Equal(t, 3.0, roundHalfUp(2.5))
	assert.Equal(t, -3.0, roundHalfUp(-2.5))
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	body, _ := json.Marshal(map[string]any{"code": code, "msg": "", "data": data})
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func TestClient_GetSymbolPrecision_CachesResult(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(w, 0, []exchangeInfoSymbol{{Symbol: "BTCUSDT", PricePrecision: 1, QuantityPrecision: 3}})
	}))
	defer srv.Close()

	c := NewREST("key", "secret", srv.URL, time.Second)

	p, err := c.GetSymbolPrecision(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, p.PricePrecision)
	assert.Equal(t, 3, p.QuantityPrecision)

	_, err = c.GetSymbolPrecision(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second call should be served from cache")
}

func TestClient_GetSymbolPrecision_UnknownSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 0, []exchangeInfoSymbol{})
	}))
	defer srv.Close()

	c := NewREST("key", "secret", srv.URL, time.Second)
	_, err := c.GetSymbolPrecision(context.Background(), "ETHUSDT")
	assert.Error(t, err)
}

func TestClient_SubmitEntryWithStop_ReturnsBothOrderIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("sign"))
		writeJSON(w, 0, []orderResult{{OrderID: "entry-1"}, {OrderID: "stop-1"}})
	}))
	defer srv.Close()

	c := NewREST("key", "secret", srv.URL, time.Second)
	res, err := c.SubmitEntryWithStop(context.Background(), "BTCUSDT", gateway.SideBuy, 0.01, 95.0)
	require.NoError(t, err)
	assert.Equal(t, "entry-1", res.EntryOrderID)
	assert.Equal(t, "stop-1", res.StopOrderID)
}

func TestClient_PlaceTrailStop_SkipsWhenAlreadyPresent(t *testing.T) {
	cancelCalled := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/futures/trade/get_pending_orders":
			writeJSON(w, 0, []openOrder{{OrderType: "STOP_MARKET", StopPrice: "95"}})
		case "/api/v1/futures/trade/cancel_all_orders":
			cancelCalled = true
			writeJSON(w, 0, nil)
		default:
			writeJSON(w, 0, nil)
		}
	}))
	defer srv.Close()

	c := NewREST("key", "secret", srv.URL, time.Second)
	err := c.PlaceTrailStop(context.Background(), "BTCUSDT", gateway.SideBuy, 95.0)
	require.NoError(t, err)
	assert.False(t, cancelCalled)
}

func TestClient_PositionExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 0, []positionV3{{Symbol: "BTCUSDT", PositionAmount: "0.01"}})
	}))
	defer srv.Close()

	c := NewREST("key", "secret", srv.URL, time.Second)
	exists, err := c.PositionExists(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestClient_GetKlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 0, []klineWire{{OpenTime: 1000, CloseTime: 1059999, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10}})
	}))
	defer srv.Close()

	c := NewREST("key", "secret", srv.URL, time.Second)
	candles, err := c.GetKlines(context.Background(), "BTCUSDT", Interval1m, 5)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, int64(1000), candles[0].OpenTime)
}

func TestClient_RejectsNonZeroCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 40001, nil)
	}))
	defer srv.Close()

	c := NewREST("key", "secret", srv.URL, time.Second)
	_, err := c.GetSymbolPrecision(context.Background(), "BTCUSDT")
	assert.Error(t, err)
}
