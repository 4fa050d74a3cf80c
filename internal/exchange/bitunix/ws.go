package bitunix

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"perpmomentum/internal/gateway"
	"perpmomentum/internal/model"
)

const pongTimeout = 5 * time.Second

// MarketStream streams klines over a websocket connection, reconnecting
// with exponential backoff on failure. It implements gateway.MarketFeed
// together with the embedded REST Client's Backfill method.
type MarketStream struct {
	*Client
	url string

	isConnected    int32
	reconnectCount int32
	lastPongTime   int64
	lastPingTime   int64

	stats *StreamStats
}

// NewMarketStream wraps a REST client with a kline websocket stream at
// wsURL.
func NewMarketStream(client *Client, wsURL string) *MarketStream {
	ms := &MarketStream{
		Client: client,
		url:    wsURL,
		stats:  NewStreamStats(),
	}
	ms.stats.StartMonitoring()
	return ms
}

// Alive reports whether the stream's last known connection is healthy.
func (ms *MarketStream) Alive() bool {
	if atomic.LoadInt32(&ms.isConnected) == 0 {
		return false
	}
	lastPong := atomic.LoadInt64(&ms.lastPongTime)
	lastPing := atomic.LoadInt64(&ms.lastPingTime)
	if lastPong == 0 {
		return true
	}
	if lastPing > 0 && time.Since(time.Unix(0, lastPong)) > pongTimeout {
		return false
	}
	return true
}

// ReconnectCount returns the number of reconnects since the last
// successful connection.
func (ms *MarketStream) ReconnectCount() int {
	return int(atomic.LoadInt32(&ms.reconnectCount))
}

// Subscribe implements gateway.MarketFeed, reconnecting with exponential
// backoff (capped at 30s) until ctx is cancelled.
func (ms *MarketStream) Subscribe(ctx context.Context, symbols []string, interval string, onKline func(gateway.KlineEvent)) error {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			atomic.StoreInt32(&ms.isConnected, 0)
			return ctx.Err()
		default:
		}

		if err := ms.streamOnce(ctx, symbols, interval, onKline); err != nil {
			atomic.StoreInt32(&ms.isConnected, 0)
			if atomic.LoadInt32(&ms.reconnectCount) == 0 {
				// The attempt that just ended had connected; restart backoff.
				backoff = time.Second
			}
			log.Warn().Err(err).Dur("backoff", backoff).Msg("kline stream disconnected, reconnecting")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				atomic.StoreInt32(&ms.isConnected, 0)
				return ctx.Err()
			}

			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			atomic.AddInt32(&ms.reconnectCount, 1)
			continue
		}

		backoff = time.Second
		atomic.StoreInt32(&ms.reconnectCount, 0)
	}
}

type klineMessage struct {
	Channel string `json:"ch"`
	Symbol  string `json:"symbol"`
	Data    struct {
		T int64  `json:"t"` // kline start time
		O string `json:"o"`
		H string `json:"h"`
		L string `json:"l"`
		C string `json:"c"`
		V string `json:"v"`
		Q string `json:"q"` // quote volume
		X bool   `json:"x"` // closed
		T2 int64 `json:"T"` // kline close time
	} `json:"data"`
}

func (ms *MarketStream) streamOnce(ctx context.Context, symbols []string, interval string, onKline func(gateway.KlineEvent)) error {
	url := strings.TrimRight(ms.url, "/")
	log.Info().Str("url", url).Int("symbols_count", len(symbols)).Msg("establishing kline websocket connection")

	ms.stats.TrackConnectionActive()

	var conn *websocket.Conn
	var resp *http.Response
	var err error
	conn, resp, err = websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	defer func() {
		atomic.StoreInt32(&ms.isConnected, 0)
		ms.stats.TrackConnectionClosed()
		conn.Close()
	}()

	conn.SetReadLimit(512 * 1024)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

	pongWait := make(chan struct{}, 1)
	conn.SetCloseHandler(func(code int, text string) error {
		log.Warn().Int("code", code).Str("text", text).Msg("kline websocket closed by server")
		atomic.StoreInt32(&ms.isConnected, 0)
		return fmt.Errorf("connection closed: %d %s", code, text)
	})
	conn.SetPongHandler(func(appData string) error {
		atomic.StoreInt64(&ms.lastPongTime, time.Now().UnixNano())
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		select {
		case pongWait <- struct{}{}:
		default:
		}
		return nil
	})

	var args []map[string]string
	for _, s := range symbols {
		args = append(args, map[string]string{"symbol": s, "ch": "kline_" + interval})
	}
	if err := conn.WriteJSON(map[string]any{"op": "subscribe", "args": args}); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	pingInterval := 15 * time.Second
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	atomic.StoreInt64(&ms.lastPingTime, time.Now().UnixNano())
	if err := conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
		return fmt.Errorf("initial ping failed: %w", err)
	}

	healthCheckTicker := time.NewTicker(30 * time.Second)
	defer healthCheckTicker.Stop()
	pongTimeoutTicker := time.NewTicker(pongTimeout)
	defer pongTimeoutTicker.Stop()

	lastDataReceived := time.Now()
	atomic.StoreInt32(&ms.isConnected, 1)
	atomic.StoreInt32(&ms.reconnectCount, 0)

	msgCh := make(chan []byte, 64)
	errCh := make(chan error, 1)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			msgCh <- msg
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			atomic.StoreInt64(&ms.lastPingTime, time.Now().UnixNano())
			if err := conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return err
			}

		case <-pongWait:
			pongTimeoutTicker.Reset(pongTimeout)

		case <-pongTimeoutTicker.C:
			lastPing := atomic.LoadInt64(&ms.lastPingTime)
			lastPong := atomic.LoadInt64(&ms.lastPongTime)
			if lastPing > lastPong {
				return fmt.Errorf("pong timeout: no response within %v", pongTimeout)
			}

		case <-healthCheckTicker.C:
			if time.Since(lastDataReceived) > 60*time.Second {
				return fmt.Errorf("connection appears stale - no data for %v", time.Since(lastDataReceived))
			}

		case err := <-errCh:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return err
			}
			return fmt.Errorf("read message failed: %w", err)

		case msg := <-msgCh:
			lastDataReceived = time.Now()
			ms.handleMessage(msg, onKline)
		}
	}
}

func (ms *MarketStream) handleMessage(msg []byte, onKline func(gateway.KlineEvent)) {
	var km klineMessage
	if err := json.Unmarshal(msg, &km); err != nil {
		// Subscription ack or unrecognized frame; nothing to parse.
		return
	}
	if !strings.HasPrefix(km.Channel, "kline_") {
		return
	}

	ms.stats.TrackMessageProcessed()

	open, err1 := parseWireFloat(km.Data.O)
	high, err2 := parseWireFloat(km.Data.H)
	low, err3 := parseWireFloat(km.Data.L)
	closeP, err4 := parseWireFloat(km.Data.C)
	vol, err5 := parseWireFloat(km.Data.V)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		log.Debug().Str("message", string(msg)).Msg("failed to parse kline fields")
		ms.stats.TrackMessageDropped()
		return
	}

	candle := model.Candle{
		OpenTime:  km.Data.T,
		CloseTime: km.Data.T2,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closeP,
		Volume:    vol,
	}

	onKline(gateway.KlineEvent{Symbol: km.Symbol, Candle: candle, Closed: km.Data.X})
}

func parseWireFloat(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty numeric field")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %q as float: %w", s, err)
	}
	return f, nil
}
