package bot

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stoikov-maker-go/config"
	"stoikov-maker-go/exchange"
	"stoikov-maker-go/execution"
	"stoikov-maker-go/infrastructure/monitor"
	"stoikov-maker-go/inventory"
)

// stubExchange scripts positions and records order flow.
type stubExchange struct {
	mu        sync.Mutex
	placed    []exchange.OrderRequest
	cancelled []string
	position  exchange.Position
	nextID    int
	handlers  exchange.Handlers
}

func (s *stubExchange) PlaceOrder(_ context.Context, req exchange.OrderRequest) (exchange.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placed = append(s.placed, req)
	s.nextID++
	return exchange.Order{ExchangeID: fmt.Sprintf("ex-%d", s.nextID), ClientID: req.ClientID}, nil
}

func (s *stubExchange) CancelOrder(_ context.Context, id, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, id)
	return true, nil
}

func (s *stubExchange) placedOrders() []exchange.OrderRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]exchange.OrderRequest, len(s.placed))
	copy(out, s.placed)
	return out
}

func (s *stubExchange) GetPositions(context.Context, string) ([]exchange.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []exchange.Position{s.position}, nil
}

func (s *stubExchange) SymbolFilters(context.Context, string) (exchange.Filters, error) {
	return exchange.Filters{Symbol: "BTCUSDT", TickSize: 0.01, LotStep: 0.001, MinNotional: 5}, nil
}

func (s *stubExchange) SetHandlers(h exchange.Handlers)   { s.handlers = h }
func (s *stubExchange) Connect(context.Context) error     { return nil }
func (s *stubExchange) Disconnect() error                 { return nil }
func (s *stubExchange) IsConnected() bool                 { return true }
func (s *stubExchange) SubscribeOrderBook(string) error   { return nil }
func (s *stubExchange) UnsubscribeOrderBook(string) error { return nil }
func (s *stubExchange) SubscribeTrades(string) error      { return nil }
func (s *stubExchange) UnsubscribeTrades(string) error    { return nil }
func (s *stubExchange) GetOrder(context.Context, string, string) (exchange.Order, error) {
	return exchange.Order{}, nil
}
func (s *stubExchange) GetOpenOrders(context.Context, string) ([]exchange.Order, error) {
	return nil, nil
}
func (s *stubExchange) GetBalance(context.Context, string) (exchange.Balance, error) {
	return exchange.Balance{}, nil
}
func (s *stubExchange) GetOrderBook(context.Context, string, int) (exchange.BookSnapshot, error) {
	return exchange.BookSnapshot{}, nil
}

func testAppConfig() config.AppConfig {
	cfg := config.Default()
	cfg.Symbol = "BTCUSDT"
	cfg.NAV = 10000
	cfg.Quoting.TickSize = 0.01
	cfg.Quoting.BaseSize = 0.5
	cfg.Exec.ReplaceStrategy = "atomic"
	return cfg
}

func newTestController(t *testing.T) (*Controller, *stubExchange) {
	t.Helper()
	stub := &stubExchange{}
	ctrl, err := New(testAppConfig(), stub, monitor.New(monitor.DefaultConfig()), zap.NewNop())
	require.NoError(t, err)
	ctrl.filters, _ = stub.SymbolFilters(context.Background(), "BTCUSDT")
	return ctrl, stub
}

func feedBook(c *Controller, ctx context.Context, seq uint64) {
	c.handleBook(ctx, exchange.BookSnapshot{
		Symbol:    "BTCUSDT",
		Bids:      []exchange.BookLevel{{Price: 100.00, Size: 10}},
		Asks:      []exchange.BookLevel{{Price: 100.10, Size: 10}},
		Sequence:  seq,
		Timestamp: time.Now(),
	})
}

func TestNew_RejectsBadQuotingParams(t *testing.T) {
	cfg := testAppConfig()
	cfg.Quoting.Gamma = 99
	_, err := New(cfg, &stubExchange{}, monitor.New(monitor.DefaultConfig()), zap.NewNop())
	require.Error(t, err)
}

func TestHandleBook_PlacesFilteredLadder(t *testing.T) {
	ctrl, stub := newTestController(t)
	ctx := context.Background()

	feedBook(ctrl, ctx, 1)

	reqs := stub.placedOrders()
	require.NotEmpty(t, reqs, "no ladder placed after first valid book")
	assert.Len(t, reqs, ctrl.cfg.Quoting.LadderLevels*2)

	for _, req := range reqs {
		assert.Equal(t, exchange.GTX, req.TimeInForce)
		// every venue-bound price sits on the tick grid
		steps := req.Price / 0.01
		assert.InDelta(t, steps, float64(int64(steps+0.5)), 1e-6, "price %v off tick grid", req.Price)
		assert.GreaterOrEqual(t, req.Price*req.Amount, 5.0, "below min notional")
	}

	var haveBid, haveAsk bool
	for _, req := range reqs {
		switch req.Side {
		case exchange.Buy:
			haveBid = true
			assert.Less(t, req.Price, 100.05)
		case exchange.Sell:
			haveAsk = true
			assert.Greater(t, req.Price, 100.05)
		}
	}
	assert.True(t, haveBid && haveAsk, "ladder must be two-sided")
}

func TestHandleBook_CrossedBookPlacesNothing(t *testing.T) {
	ctrl, stub := newTestController(t)
	ctrl.handleBook(context.Background(), exchange.BookSnapshot{
		Symbol:   "BTCUSDT",
		Bids:     []exchange.BookLevel{{Price: 100.20, Size: 5}},
		Asks:     []exchange.BookLevel{{Price: 100.10, Size: 5}},
		Sequence: 1,
	})
	assert.Empty(t, stub.placedOrders())
}

func TestRequote_SuppressedWhenEmergencyStopped(t *testing.T) {
	ctrl, stub := newTestController(t)
	ctrl.riskMgr.EmergencyStop()

	feedBook(ctrl, context.Background(), 1)
	assert.Empty(t, stub.placedOrders(), "quotes placed while emergency stopped")
}

func TestEvaluateRisk_InventoryBreachFlattens(t *testing.T) {
	ctrl, stub := newTestController(t)
	ctx := context.Background()
	now := time.Now()

	// venue says long 5 units; nav pct = 5*100/10000*100 = 5% > 2% cap
	stub.position = exchange.Position{Symbol: "BTCUSDT", Amount: 5, EntryPrice: 100}
	ctrl.tracker.SetFromVenue(5, 100, now)
	ctrl.riskMgr.OnInventory(ctrl.tracker.State(100))

	ctrl.evaluateRisk(ctx, now)

	reqs := stub.placedOrders()
	require.NotEmpty(t, reqs, "no flatten order placed")
	last := reqs[len(reqs)-1]
	assert.Equal(t, exchange.Market, last.Type)
	assert.Equal(t, exchange.Sell, last.Side)
	assert.Equal(t, 5.0, last.Amount)
	assert.Equal(t, exchange.IOC, last.TimeInForce)
	assert.True(t, ctrl.exec.InCooldown(time.Now()), "cooldown must follow a risk flatten")
}

func TestShutdown_FlattensResidualPosition(t *testing.T) {
	ctrl, stub := newTestController(t)
	stub.position = exchange.Position{Symbol: "BTCUSDT", Amount: -0.8, EntryPrice: 100}

	require.NoError(t, ctrl.shutdown())

	reqs := stub.placedOrders()
	require.NotEmpty(t, reqs)
	last := reqs[len(reqs)-1]
	assert.Equal(t, exchange.Market, last.Type)
	assert.Equal(t, exchange.Buy, last.Side, "short position flattens with a buy")
	assert.InDelta(t, 0.8, last.Amount, 1e-9)
}

func TestShutdown_FlatPositionPlacesNoOrder(t *testing.T) {
	ctrl, stub := newTestController(t)
	stub.position = exchange.Position{Symbol: "BTCUSDT", Amount: 0}
	require.NoError(t, ctrl.shutdown())
	assert.Empty(t, stub.placedOrders())
}

func TestAfterOrderUpdate_FillRefreshesInventory(t *testing.T) {
	ctrl, stub := newTestController(t)
	ctx := context.Background()

	stub.position = exchange.Position{Symbol: "BTCUSDT", Amount: 1.2, EntryPrice: 100}
	ctrl.afterOrderUpdate(ctx, exchange.OrderUpdate{Kind: exchange.UpdateFilled})

	st := ctrl.tracker.State(100)
	assert.InDelta(t, 1.2, st.Position, inventory.EpsilonPosition, "venue truth not pulled after fill")
}

func TestRequote_AppliesSpreadMultiplier(t *testing.T) {
	ctrl, stub := newTestController(t)
	ctx := context.Background()
	now := time.Now()

	// first quote at calm risk
	feedBook(ctrl, ctx, 1)
	calm := stub.placedOrders()
	require.NotEmpty(t, calm)

	// a volatility spike drives the spread multiplier above 1
	for i := 0; i < 10; i++ {
		ctrl.riskMgr.OnVolatility(0.1, now.Add(-time.Duration(i)*time.Minute))
	}
	ctrl.riskMgr.OnVolatility(0.5, now)

	ctrl.requote(ctx, now.Add(300*time.Millisecond), execution.ReasonDrift)
	widened := stub.placedOrders()
	require.Greater(t, len(widened), len(calm), "no requote happened")

	spreadOf := func(reqs []exchange.OrderRequest) float64 {
		var bestBid, bestAsk float64
		for _, r := range reqs {
			if r.Side == exchange.Buy && r.Price > bestBid {
				bestBid = r.Price
			}
			if r.Side == exchange.Sell && (bestAsk == 0 || r.Price < bestAsk) {
				bestAsk = r.Price
			}
		}
		return bestAsk - bestBid
	}
	firstSpread := spreadOf(calm)
	secondSpread := spreadOf(widened[len(calm):])
	assert.Greater(t, secondSpread, firstSpread, "spread multiplier not applied")
}
