package binance

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"stoikov-maker-go/exchange"
)

// Config holds adapter settings. Credentials come from the environment.
type Config struct {
	APIKey              string
	APISecret           string
	BaseURL             string // default https://fapi.binance.com
	WSURL               string // default wss://fstream.binance.com
	RequestWeightPerMin int
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://fapi.binance.com"
	}
	if c.WSURL == "" {
		c.WSURL = "wss://fstream.binance.com"
	}
}

// Client implements exchange.Exchange for USD-M futures.
type Client struct {
	cfg  Config
	rest *restClient
	ws   *wsManager
	log  *zap.Logger

	mu        sync.RWMutex
	handlers  exchange.Handlers
	connected bool
	filters   map[string]exchange.Filters // symbol filter cache, read-only after first load
}

func New(cfg Config, log *zap.Logger) *Client {
	cfg.defaults()
	c := &Client{
		cfg:     cfg,
		rest:    newRESTClient(cfg, log),
		log:     log,
		filters: make(map[string]exchange.Filters),
	}
	c.ws = newWSManager(cfg, c.rest, log, c.dispatch)
	return c
}

// SetHandlers registers streamed-event consumers. Call before Connect.
func (c *Client) SetHandlers(h exchange.Handlers) {
	c.mu.Lock()
	c.handlers = h
	c.mu.Unlock()
}

func (c *Client) dispatch() exchange.Handlers {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handlers
}

// Connect starts the stream manager.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.ws.start(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

// Disconnect tears the streams down.
func (c *Client) Disconnect() error {
	c.ws.stop()
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.ws.connected()
}

func (c *Client) SubscribeOrderBook(symbol string) error   { return c.ws.subscribeDepth(symbol) }
func (c *Client) UnsubscribeOrderBook(symbol string) error { return c.ws.unsubscribeDepth(symbol) }
func (c *Client) SubscribeTrades(symbol string) error      { return c.ws.subscribeTrades(symbol) }
func (c *Client) UnsubscribeTrades(symbol string) error    { return c.ws.unsubscribeTrades(symbol) }

// PlaceOrder submits one order.
func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Order, error) {
	body, err := c.rest.doSigned(ctx, http.MethodPost, "/fapi/v1/order", toRequestParams(req), 1)
	if err != nil {
		return exchange.Order{}, err
	}
	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return exchange.Order{}, fmt.Errorf("%w: decode order: %v", exchange.ErrVenue, err)
	}
	return toOrder(resp), nil
}

// CancelOrder cancels by exchange id.
func (c *Client) CancelOrder(ctx context.Context, id, symbol string) (bool, error) {
	params := map[string]string{"symbol": symbol, "orderId": id}
	if _, err := c.rest.doSigned(ctx, http.MethodDelete, "/fapi/v1/order", params, 1); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) GetOrder(ctx context.Context, id, symbol string) (exchange.Order, error) {
	params := map[string]string{"symbol": symbol, "orderId": id}
	body, err := c.rest.doSigned(ctx, http.MethodGet, "/fapi/v1/order", params, 1)
	if err != nil {
		return exchange.Order{}, err
	}
	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return exchange.Order{}, fmt.Errorf("%w: decode order: %v", exchange.ErrVenue, err)
	}
	return toOrder(resp), nil
}

func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	params := map[string]string{"symbol": symbol}
	body, err := c.rest.doSigned(ctx, http.MethodGet, "/fapi/v1/openOrders", params, 1)
	if err != nil {
		return nil, err
	}
	var resp []orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode open orders: %v", exchange.ErrVenue, err)
	}
	out := make([]exchange.Order, 0, len(resp))
	for _, r := range resp {
		out = append(out, toOrder(r))
	}
	return out, nil
}

func (c *Client) GetPositions(ctx context.Context, symbol string) ([]exchange.Position, error) {
	params := map[string]string{}
	if symbol != "" {
		params["symbol"] = symbol
	}
	body, err := c.rest.doSigned(ctx, http.MethodGet, "/fapi/v2/positionRisk", params, 5)
	if err != nil {
		return nil, err
	}
	var resp []positionResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode positions: %v", exchange.ErrVenue, err)
	}
	out := make([]exchange.Position, 0, len(resp))
	for _, p := range resp {
		out = append(out, exchange.Position{
			Symbol:        p.Symbol,
			Amount:        f(p.PositionAmt),
			EntryPrice:    f(p.EntryPrice),
			UnrealizedPnL: f(p.UnRealizedProfit),
		})
	}
	return out, nil
}

func (c *Client) GetBalance(ctx context.Context, asset string) (exchange.Balance, error) {
	body, err := c.rest.doSigned(ctx, http.MethodGet, "/fapi/v2/balance", map[string]string{}, 5)
	if err != nil {
		return exchange.Balance{}, err
	}
	var resp []balanceResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return exchange.Balance{}, fmt.Errorf("%w: decode balance: %v", exchange.ErrVenue, err)
	}
	for _, b := range resp {
		if b.Asset == asset {
			total := f(b.Balance)
			free := f(b.AvailableBalance)
			return exchange.Balance{
				Asset:  b.Asset,
				Free:   free,
				Locked: total - free,
				Total:  total,
			}, nil
		}
	}
	return exchange.Balance{}, fmt.Errorf("%w: asset %s not found", exchange.ErrVenue, asset)
}

func (c *Client) GetOrderBook(ctx context.Context, symbol string, depth int) (exchange.BookSnapshot, error) {
	params := map[string]string{"symbol": symbol, "limit": depthParam(depth)}
	body, err := c.rest.doPublic(ctx, "/fapi/v1/depth", params, weightForDepth(depth))
	if err != nil {
		return exchange.BookSnapshot{}, err
	}
	var resp depthResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return exchange.BookSnapshot{}, fmt.Errorf("%w: decode depth: %v", exchange.ErrVenue, err)
	}
	return exchange.BookSnapshot{
		Symbol:    symbol,
		Bids:      toLevels(resp.Bids),
		Asks:      toLevels(resp.Asks),
		Sequence:  resp.LastUpdateID,
		Timestamp: time.Now(),
	}, nil
}

// SymbolFilters returns tick/lot/notional filters, cached after first load.
func (c *Client) SymbolFilters(ctx context.Context, symbol string) (exchange.Filters, error) {
	c.mu.RLock()
	if flt, ok := c.filters[symbol]; ok {
		c.mu.RUnlock()
		return flt, nil
	}
	c.mu.RUnlock()

	body, err := c.rest.doPublic(ctx, "/fapi/v1/exchangeInfo", map[string]string{"symbol": symbol}, 1)
	if err != nil {
		return exchange.Filters{}, err
	}
	var resp exchangeInfoResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return exchange.Filters{}, fmt.Errorf("%w: decode exchangeInfo: %v", exchange.ErrVenue, err)
	}
	for _, s := range resp.Symbols {
		if s.Symbol != symbol {
			continue
		}
		flt := exchange.Filters{Symbol: symbol}
		for _, fl := range s.Filters {
			switch fl.FilterType {
			case "PRICE_FILTER":
				flt.TickSize = f(fl.TickSize)
			case "LOT_SIZE":
				flt.LotStep = f(fl.StepSize)
				flt.MinQty = f(fl.MinQty)
			case "MIN_NOTIONAL":
				if fl.Notional != "" {
					flt.MinNotional = f(fl.Notional)
				} else {
					flt.MinNotional = f(fl.MinNotional)
				}
			}
		}
		c.mu.Lock()
		c.filters[symbol] = flt
		c.mu.Unlock()
		return flt, nil
	}
	return exchange.Filters{}, fmt.Errorf("%w: symbol %s not found", exchange.ErrVenue, symbol)
}

func toLevels(raw [][]string) []exchange.BookLevel {
	out := make([]exchange.BookLevel, 0, len(raw))
	for _, lv := range raw {
		if len(lv) < 2 {
			continue
		}
		out = append(out, exchange.BookLevel{Price: f(lv[0]), Size: f(lv[1])})
	}
	return out
}
