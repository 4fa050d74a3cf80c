// Package bitunix provides the REST and WebSocket adapter that implements
// the engine's OrderGateway, MarketFeed, and UserStream ports against a
// Binance-style perpetual futures REST/WS API surface.
package bitunix

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"perpmomentum/internal/gateway"
	"perpmomentum/internal/model"
	"perpmomentum/internal/tradeerr"
)

// Client provides REST API access to the exchange: order submission,
// cancellation, position/balance reads, and kline backfill. It implements
// gateway.OrderGateway.
type Client struct {
	key, secret, base string
	rest              *resty.Client

	precisionCache map[string]gateway.Precision
}

// NewREST creates a REST client with the connection-pooling and retry
// settings the engine runs in production.
func NewREST(key, secret, base string, timeout time.Duration) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  false,
		ForceAttemptHTTP2:   true,
	}

	r := resty.New()
	r.SetTransport(transport)

	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(10 * time.Second)
	}

	r.SetRetryCount(3)
	r.SetRetryWaitTime(1 * time.Second)
	r.SetRetryMaxWaitTime(5 * time.Second)

	return &Client{
		key:            key,
		secret:         secret,
		base:           base,
		rest:           r,
		precisionCache: make(map[string]gateway.Precision),
	}
}

func (c *Client) authHeaders(r *resty.Request) *resty.Request {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	nonce := ts
	sign := Sign(c.secret, nonce, c.key, ts)
	return r.SetHeader("api-key", c.key).SetHeader("nonce", nonce).SetHeader("timestamp", ts).SetHeader("sign", sign)
}

type apiResp struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data,omitempty"`
}

// OrderReq is one order's wire payload.
type OrderReq struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	PositionSide  string `json:"positionSide"`
	TradeSide     string `json:"tradeSide"`
	Qty           string `json:"qty,omitempty"`
	OrderType     string `json:"orderType"`
	StopPrice     string `json:"stopPrice,omitempty"`
	WorkingType   string `json:"workingType,omitempty"`
	ClosePosition bool   `json:"closePosition,omitempty"`
	ReduceOnly    bool   `json:"reduceOnly,omitempty"`
	ClientID      string `json:"clientId,omitempty"`
}

type orderResult struct {
	OrderID string `json:"orderId"`
}

// submitNewOrder places a single order and returns its exchange order ID.
// A client-generated ID is attached when the caller left one unset, so a
// retried submission after a timed-out response is idempotent on the
// exchange side.
func (c *Client) submitNewOrder(ctx context.Context, o OrderReq) (string, error) {
	if o.ClientID == "" {
		o.ClientID = uuid.New().String()
	}
	resp := &apiResp{}
	_, err := c.authHeaders(c.rest.R().SetContext(ctx)).
		SetBody(o).
		SetResult(resp).
		Post(c.base + "/api/v1/futures/trade/place_order")
	if err != nil {
		return "", fmt.Errorf("%w: %v", tradeerr.ErrTransport, err)
	}
	if resp.Code != 0 {
		return "", fmt.Errorf("%w: bitunix %d %s", tradeerr.ErrTransport, resp.Code, resp.Msg)
	}
	var result orderResult
	_ = json.Unmarshal(resp.Data, &result)
	return result.OrderID, nil
}

// submitMultipleOrders batches several orders into one request, used for
// the paired entry+stop submission.
func (c *Client) submitMultipleOrders(ctx context.Context, orders []OrderReq) ([]string, error) {
	for i := range orders {
		if orders[i].ClientID == "" {
			orders[i].ClientID = uuid.New().String()
		}
	}
	resp := &apiResp{}
	_, err := c.authHeaders(c.rest.R().SetContext(ctx)).
		SetBody(map[string]any{"orders": orders}).
		SetResult(resp).
		Post(c.base + "/api/v1/futures/trade/batch_order")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tradeerr.ErrTransport, err)
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%w: bitunix %d %s", tradeerr.ErrTransport, resp.Code, resp.Msg)
	}
	var results []orderResult
	_ = json.Unmarshal(resp.Data, &results)
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.OrderID
	}
	return ids, nil
}

// SubmitEntryWithStop implements gateway.OrderGateway.
func (c *Client) SubmitEntryWithStop(ctx context.Context, symbol string, side gateway.Side, qty, stopPrice float64) (gateway.EntryResult, error) {
	positionSide := "LONG"
	stopSide := "SELL"
	if side == gateway.SideSell {
		positionSide = "SHORT"
		stopSide = "BUY"
	}

	entry := OrderReq{
		Symbol:       symbol,
		Side:         string(side),
		PositionSide: positionSide,
		TradeSide:    "OPEN",
		Qty:          strconv.FormatFloat(qty, 'f', -1, 64),
		OrderType:    "MARKET",
	}
	stop := OrderReq{
		Symbol:        symbol,
		Side:          stopSide,
		PositionSide:  positionSide,
		TradeSide:     "CLOSE",
		OrderType:     "STOP_MARKET",
		StopPrice:     strconv.FormatFloat(stopPrice, 'f', -1, 64),
		WorkingType:   "MARK_PRICE",
		ClosePosition: true,
	}

	ids, err := c.submitMultipleOrders(ctx, []OrderReq{entry, stop})
	if err != nil {
		return gateway.EntryResult{}, err
	}
	if len(ids) < 2 {
		return gateway.EntryResult{}, fmt.Errorf("%w: stop leg missing from batch response", tradeerr.ErrStopLossPlacementFailed)
	}
	return gateway.EntryResult{EntryOrderID: ids[0], StopOrderID: ids[1]}, nil
}

type openOrder struct {
	OrderID      string `json:"orderId"`
	Symbol       string `json:"symbol"`
	OrderType    string `json:"orderType"`
	StopPrice    string `json:"stopPrice"`
	PositionSide string `json:"positionSide"`
}

// getAllOpenOrders implements the REST side of §4.7's open-orders lookup.
func (c *Client) getAllOpenOrders(ctx context.Context, symbol string) ([]openOrder, error) {
	resp := &apiResp{}
	_, err := c.authHeaders(c.rest.R().SetContext(ctx)).
		SetQueryParam("symbol", symbol).
		SetResult(resp).
		Get(c.base + "/api/v1/futures/trade/get_pending_orders")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tradeerr.ErrTransport, err)
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%w: bitunix %d %s", tradeerr.ErrTransport, resp.Code, resp.Msg)
	}
	var orders []openOrder
	_ = json.Unmarshal(resp.Data, &orders)
	return orders, nil
}

// CancelAllOpenOrders implements gateway.OrderGateway.
func (c *Client) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	resp := &apiResp{}
	_, err := c.authHeaders(c.rest.R().SetContext(ctx)).
		SetBody(map[string]string{"symbol": symbol}).
		SetResult(resp).
		Post(c.base + "/api/v1/futures/trade/cancel_all_orders")
	if err != nil {
		return fmt.Errorf("%w: %v", tradeerr.ErrTransport, err)
	}
	if resp.Code != 0 {
		return fmt.Errorf("%w: bitunix %d %s", tradeerr.ErrTransport, resp.Code, resp.Msg)
	}
	return nil
}

// PlaceTrailStop implements gateway.OrderGateway's idempotent stop
// installation: an equal stopPrice already present is treated as
// success; otherwise existing orders are cancelled before the new one
// is submitted.
func (c *Client) PlaceTrailStop(ctx context.Context, symbol string, forSide gateway.Side, stopPrice float64) error {
	orders, err := c.getAllOpenOrders(ctx, symbol)
	if err != nil {
		return err
	}
	target := strconv.FormatFloat(stopPrice, 'f', -1, 64)
	for _, o := range orders {
		if o.OrderType == "STOP_MARKET" && o.StopPrice == target {
			return nil
		}
	}

	if err := c.CancelAllOpenOrders(ctx, symbol); err != nil {
		return err
	}

	positionSide := "LONG"
	side := "SELL"
	if forSide == gateway.SideSell {
		positionSide = "SHORT"
		side = "BUY"
	}
	_, err = c.submitNewOrder(ctx, OrderReq{
		Symbol:        symbol,
		Side:          side,
		PositionSide:  positionSide,
		TradeSide:     "CLOSE",
		OrderType:     "STOP_MARKET",
		StopPrice:     target,
		WorkingType:   "MARK_PRICE",
		ClosePosition: true,
	})
	return err
}

type positionV3 struct {
	Symbol         string `json:"symbol"`
	PositionAmount string `json:"positionAmount"`
	PositionSide   string `json:"positionSide"`
}

func (c *Client) getPositionsV3(ctx context.Context, symbol string) ([]positionV3, error) {
	resp := &apiResp{}
	_, err := c.authHeaders(c.rest.R().SetContext(ctx)).
		SetQueryParam("symbol", symbol).
		SetResult(resp).
		Get(c.base + "/api/v1/futures/position/get_positions")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tradeerr.ErrTransport, err)
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%w: bitunix %d %s", tradeerr.ErrTransport, resp.Code, resp.Msg)
	}
	var positions []positionV3
	_ = json.Unmarshal(resp.Data, &positions)
	return positions, nil
}

// PositionExists implements gateway.OrderGateway's race guard.
func (c *Client) PositionExists(ctx context.Context, symbol string) (bool, error) {
	positions, err := c.getPositionsV3(ctx, symbol)
	if err != nil {
		return false, err
	}
	for _, p := range positions {
		amt, _ := strconv.ParseFloat(p.PositionAmount, 64)
		if amt != 0 {
			return true, nil
		}
	}
	return false, nil
}

// ClosePosition implements gateway.OrderGateway.
func (c *Client) ClosePosition(ctx context.Context, symbol string) error {
	positions, err := c.getPositionsV3(ctx, symbol)
	if err != nil {
		return err
	}
	precision, err := c.GetSymbolPrecision(ctx, symbol)
	if err != nil {
		return err
	}
	for _, p := range positions {
		amt, _ := strconv.ParseFloat(p.PositionAmount, 64)
		if amt == 0 {
			continue
		}
		side := "SELL"
		if amt < 0 {
			side = "BUY"
		}
		if amt < 0 {
			amt = -amt
		}
		scale := pow10(precision.QuantityPrecision)
		qty := roundHalfUp(amt*scale) / scale

		if _, err := c.submitNewOrder(ctx, OrderReq{
			Symbol:        symbol,
			Side:          side,
			PositionSide:  p.PositionSide,
			TradeSide:     "CLOSE",
			Qty:           strconv.FormatFloat(qty, 'f', -1, 64),
			OrderType:     "MARKET",
			ClosePosition: true,
		}); err != nil {
			return err
		}
	}
	return nil
}

type exchangeInfoSymbol struct {
	Symbol            string `json:"symbol"`
	PricePrecision    int    `json:"pricePrecision"`
	QuantityPrecision int    `json:"quantityPrecision"`
}

// GetSymbolPrecision implements gateway.OrderGateway, caching the result
// for the lifetime of the process after the first successful lookup.
func (c *Client) GetSymbolPrecision(ctx context.Context, symbol string) (gateway.Precision, error) {
	if p, ok := c.precisionCache[symbol]; ok {
		return p, nil
	}

	resp := &apiResp{}
	_, err := c.rest.R().SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(resp).
		Get(c.base + "/api/v1/futures/market/exchange_info")
	if err != nil {
		return gateway.Precision{}, fmt.Errorf("%w: %v", tradeerr.ErrTransport, err)
	}
	if resp.Code != 0 {
		return gateway.Precision{}, fmt.Errorf("%w: bitunix %d %s", tradeerr.ErrTransport, resp.Code, resp.Msg)
	}
	var symbols []exchangeInfoSymbol
	_ = json.Unmarshal(resp.Data, &symbols)
	for _, s := range symbols {
		if s.Symbol == symbol {
			p := gateway.Precision{PricePrecision: s.PricePrecision, QuantityPrecision: s.QuantityPrecision}
			c.precisionCache[symbol] = p
			return p, nil
		}
	}
	return gateway.Precision{}, fmt.Errorf("%w: unknown symbol %s in exchange info", tradeerr.ErrConfig, symbol)
}

// KlineInterval is a kline/candlestick interval string.
type KlineInterval string

const (
	Interval1m  KlineInterval = "1m"
	Interval5m  KlineInterval = "5m"
	Interval15m KlineInterval = "15m"
	Interval1h  KlineInterval = "1h"
)

type klineWire struct {
	OpenTime  int64   `json:"openTime"`
	Open      float64 `json:"open,string"`
	High      float64 `json:"high,string"`
	Low       float64 `json:"low,string"`
	Close     float64 `json:"close,string"`
	Volume    float64 `json:"volume,string"`
	CloseTime int64   `json:"closeTime"`
}

// GetKlines fetches historical klines for backfill.
func (c *Client) GetKlines(ctx context.Context, symbol string, interval KlineInterval, limit int) ([]model.Candle, error) {
	resp := &apiResp{}
	_, err := c.rest.R().SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   symbol,
			"interval": string(interval),
			"limit":    strconv.Itoa(limit),
		}).
		SetResult(resp).
		Get(c.base + "/api/v1/futures/market/kline")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tradeerr.ErrTransport, err)
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%w: bitunix %d %s", tradeerr.ErrTransport, resp.Code, resp.Msg)
	}
	var wire []klineWire
	_ = json.Unmarshal(resp.Data, &wire)

	candles := make([]model.Candle, len(wire))
	for i, k := range wire {
		candles[i] = model.Candle{
			OpenTime:  k.OpenTime,
			CloseTime: k.CloseTime,
			Open:      k.Open,
			High:      k.High,
			Low:       k.Low,
			Close:     k.Close,
			Volume:    k.Volume,
		}
	}
	return candles, nil
}

// Backfill implements gateway.MarketFeed.
func (c *Client) Backfill(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	return c.GetKlines(ctx, symbol, KlineInterval(interval), limit)
}

// ChangeLeverage sets the account's leverage for symbol, used once at
// startup to match the exchange's live setting to configuration.
func (c *Client) ChangeLeverage(ctx context.Context, symbol string, leverage int) error {
	resp := &apiResp{}
	_, err := c.authHeaders(c.rest.R().SetContext(ctx)).
		SetBody(map[string]any{"symbol": symbol, "leverage": leverage}).
		SetResult(resp).
		Post(c.base + "/api/v1/futures/account/change_leverage")
	if err != nil {
		return fmt.Errorf("%w: %v", tradeerr.ErrTransport, err)
	}
	if resp.Code != 0 {
		return fmt.Errorf("%w: bitunix %d %s", tradeerr.ErrTransport, resp.Code, resp.Msg)
	}
	return nil
}

// ChangeMarginMode sets the account's margin mode (e.g. "CROSS" or
// "ISOLATION") for symbol.
func (c *Client) ChangeMarginMode(ctx context.Context, symbol, mode string) error {
	resp := &apiResp{}
	_, err := c.authHeaders(c.rest.R().SetContext(ctx)).
		SetBody(map[string]string{"symbol": symbol, "marginMode": mode}).
		SetResult(resp).
		Post(c.base + "/api/v1/futures/account/change_margin_mode")
	if err != nil {
		return fmt.Errorf("%w: %v", tradeerr.ErrTransport, err)
	}
	if resp.Code != 0 {
		return fmt.Errorf("%w: bitunix %d %s", tradeerr.ErrTransport, resp.Code, resp.Msg)
	}
	return nil
}

func pow10(n int) float64 {
	v := 1.0
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}

func roundHalfUp(v float64) float64 {
	if v < 0 {
		return -roundHalfUp(-v)
	}
	return float64(int64(v + 0.5))
}
