package bitunix

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"perpmomentum/internal/gateway"
)

// UserStream listens for ACCOUNT_UPDATE and ORDER_TRADE_UPDATE events on
// one account's private websocket channel, reconnecting with the same
// backoff policy as MarketStream. It implements gateway.UserStream.
type UserStream struct {
	url            string
	listenKey      string
	isConnected    int32
	reconnectCount int32
	stats          *StreamStats
}

// NewUserStream creates a user-data stream for the given listen key URL.
func NewUserStream(wsURL, listenKey string) *UserStream {
	us := &UserStream{url: wsURL, listenKey: listenKey, stats: NewStreamStats()}
	us.stats.StartMonitoring()
	return us
}

func (us *UserStream) Alive() bool {
	return atomic.LoadInt32(&us.isConnected) == 1
}

func (us *UserStream) ReconnectCount() int {
	return int(atomic.LoadInt32(&us.reconnectCount))
}

type userEventEnvelope struct {
	EventType string          `json:"e"`
	EventTime int64           `json:"E"`
	Data      json.RawMessage `json:"a,omitempty"`
	Order     json.RawMessage `json:"o,omitempty"`
}

type accountUpdateWire struct {
	Positions []struct {
		Symbol         string `json:"s"`
		PositionAmount string `json:"pa"`
		EntryPrice     string `json:"ep"`
		PositionSide   string `json:"ps"`
	} `json:"P"`
}

type orderUpdateWire struct {
	Symbol          string `json:"s"`
	OrderStatus     string `json:"X"`
	OrderType       string `json:"o"`
	AveragePrice    string `json:"ap"`
	StopPrice       string `json:"sp"`
	LastFilledPrice string `json:"L"`
}

// Subscribe implements gateway.UserStream.
func (us *UserStream) Subscribe(ctx context.Context, onAccountUpdate func(gateway.AccountUpdate), onOrderUpdate func(gateway.OrderUpdate)) error {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			atomic.StoreInt32(&us.isConnected, 0)
			return ctx.Err()
		default:
		}

		if err := us.streamOnce(ctx, onAccountUpdate, onOrderUpdate); err != nil {
			atomic.StoreInt32(&us.isConnected, 0)
			if atomic.LoadInt32(&us.reconnectCount) == 0 {
				// The attempt that just ended had connected; restart backoff.
				backoff = time.Second
			}
			log.Warn().Err(err).Dur("backoff", backoff).Msg("user stream disconnected, reconnecting")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				atomic.StoreInt32(&us.isConnected, 0)
				return ctx.Err()
			}

			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			atomic.AddInt32(&us.reconnectCount, 1)
			continue
		}

		backoff = time.Second
		atomic.StoreInt32(&us.reconnectCount, 0)
	}
}

func (us *UserStream) streamOnce(ctx context.Context, onAccountUpdate func(gateway.AccountUpdate), onOrderUpdate func(gateway.OrderUpdate)) error {
	url := strings.TrimRight(us.url, "/") + "/" + us.listenKey
	log.Info().Str("url", url).Msg("establishing user stream connection")

	us.stats.TrackConnectionActive()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer func() {
		atomic.StoreInt32(&us.isConnected, 0)
		us.stats.TrackConnectionClosed()
		conn.Close()
	}()

	conn.SetReadLimit(512 * 1024)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(15 * time.Second)
	defer pingTicker.Stop()

	atomic.StoreInt32(&us.isConnected, 1)
	atomic.StoreInt32(&us.reconnectCount, 0)

	msgCh := make(chan []byte, 32)
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
			if err := conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return err
			}

		case err := <-errCh:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return err
			}
			return fmt.Errorf("read message failed: %w", err)

		case msg := <-msgCh:
			us.handleMessage(msg, onAccountUpdate, onOrderUpdate)
		}
	}
}

func (us *UserStream) handleMessage(msg []byte, onAccountUpdate func(gateway.AccountUpdate), onOrderUpdate func(gateway.OrderUpdate)) {
	var env userEventEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		log.Debug().Err(err).Msg("failed to parse user stream envelope")
		us.stats.TrackMessageDropped()
		return
	}
	us.stats.TrackMessageProcessed()

	switch env.EventType {
	case "ACCOUNT_UPDATE":
		var wire accountUpdateWire
		if err := json.Unmarshal(env.Data, &wire); err != nil {
			log.Debug().Err(err).Msg("failed to parse account update")
			return
		}
		for _, p := range wire.Positions {
			amt, _ := toFloat(p.PositionAmount)
			entry, _ := toFloat(p.EntryPrice)
			onAccountUpdate(gateway.AccountUpdate{
				Symbol:         p.Symbol,
				PositionAmount: amt,
				EntryPrice:     entry,
				PositionSide:   p.PositionSide,
			})
		}

	case "ORDER_TRADE_UPDATE":
		var wire orderUpdateWire
		if err := json.Unmarshal(env.Order, &wire); err != nil {
			log.Debug().Err(err).Msg("failed to parse order update")
			return
		}
		avg, _ := toFloat(wire.AveragePrice)
		stop, _ := toFloat(wire.StopPrice)
		last, _ := toFloat(wire.LastFilledPrice)
		onOrderUpdate(gateway.OrderUpdate{
			Symbol:          wire.Symbol,
			OrderStatus:     wire.OrderStatus,
			OrderType:       wire.OrderType,
			AveragePrice:    avg,
			StopPrice:       stop,
			LastFilledPrice: last,
		})
	}
}
