package binance

import (
	"testing"
	"time"

	"stoikov-maker-go/exchange"
)

func TestOrderMapping_RoundTrip(t *testing.T) {
	req := exchange.OrderRequest{
		Symbol:      "BTCUSDT",
		Side:        exchange.Buy,
		Type:        exchange.Limit,
		Amount:      0.012,
		Price:       64250.10,
		TimeInForce: exchange.GTX,
		PostOnly:    true,
		ClientID:    "mm-42",
	}
	params := toRequestParams(req)

	resp := orderResp{
		OrderID:       123456,
		ClientOrderID: params["newClientOrderId"],
		Symbol:        params["symbol"],
		Side:          params["side"],
		Type:          params["type"],
		Price:         params["price"],
		OrigQty:       params["quantity"],
		Status:        "NEW",
		TimeInForce:   params["timeInForce"],
		UpdateTime:    1700000000000, // venue-assigned
	}
	got := toOrder(resp)

	// every request field round-trips except the venue timestamp
	if got.Symbol != req.Symbol {
		t.Errorf("symbol: %s != %s", got.Symbol, req.Symbol)
	}
	if got.Side != req.Side {
		t.Errorf("side: %s != %s", got.Side, req.Side)
	}
	if got.Type != req.Type {
		t.Errorf("type: %s != %s", got.Type, req.Type)
	}
	if got.Price != req.Price {
		t.Errorf("price: %v != %v", got.Price, req.Price)
	}
	if got.Amount != req.Amount {
		t.Errorf("amount: %v != %v", got.Amount, req.Amount)
	}
	if got.TimeInForce != exchange.GTX {
		t.Errorf("tif: %s != GTX", got.TimeInForce)
	}
	if got.ClientID != req.ClientID {
		t.Errorf("client id: %s != %s", got.ClientID, req.ClientID)
	}
	if got.ExchangeID != "123456" {
		t.Errorf("exchange id: %s", got.ExchangeID)
	}
}

func TestToRequestParams_PostOnlyForcesGTX(t *testing.T) {
	params := toRequestParams(exchange.OrderRequest{
		Symbol:      "BTCUSDT",
		Side:        exchange.Sell,
		Type:        exchange.Limit,
		Amount:      1,
		Price:       100,
		TimeInForce: exchange.GTC,
		PostOnly:    true,
	})
	if params["timeInForce"] != "GTX" {
		t.Fatalf("timeInForce = %s, want GTX", params["timeInForce"])
	}
}

func TestToRequestParams_MarketOmitsPrice(t *testing.T) {
	params := toRequestParams(exchange.OrderRequest{
		Symbol:      "BTCUSDT",
		Side:        exchange.Sell,
		Type:        exchange.Market,
		Amount:      1.5,
		TimeInForce: exchange.IOC,
		ReduceOnly:  true,
	})
	if _, ok := params["price"]; ok {
		t.Fatal("market order carries a price")
	}
	if params["reduceOnly"] != "true" {
		t.Fatal("reduceOnly not set")
	}
}

func TestBinanceStatus(t *testing.T) {
	tests := []struct {
		in   string
		want exchange.UpdateKind
	}{
		{"NEW", exchange.UpdateNew},
		{"PARTIALLY_FILLED", exchange.UpdatePartiallyFilled},
		{"FILLED", exchange.UpdateFilled},
		{"CANCELED", exchange.UpdateCanceled},
		{"REJECTED", exchange.UpdateRejected},
		{"EXPIRED", exchange.UpdateExpired},
		{"EXPIRED_IN_MATCH", exchange.UpdateExpired},
	}
	for _, tt := range tests {
		if got := binanceStatus(tt.in); got != tt.want {
			t.Errorf("binanceStatus(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestSignParams_Deterministic(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	params := map[string]string{"symbol": "BTCUSDT", "side": "BUY"}
	q1, s1 := signParams(params, "secret", now)
	q2, s2 := signParams(params, "secret", now)
	if q1 != q2 || s1 != s2 {
		t.Fatal("signature not deterministic")
	}
	if len(s1) != 64 {
		t.Fatalf("signature length %d, want 64 hex chars", len(s1))
	}
	_, other := signParams(params, "othersecret", now)
	if other == s1 {
		t.Fatal("different secrets produced identical signatures")
	}
}

func TestHandleMessage_DepthEvent(t *testing.T) {
	var got *exchange.BookSnapshot
	w := &wsManager{handlers: func() exchange.Handlers {
		return exchange.Handlers{OnBook: func(b exchange.BookSnapshot) { got = &b }}
	}}
	raw := []byte(`{"stream":"btcusdt@depth20@100ms","data":{"E":1700000000000,"s":"BTCUSDT","u":42,"b":[["100.00","10"]],"a":[["100.10","10"]]}}`)
	w.handleMessage(raw)
	if got == nil {
		t.Fatal("depth event not dispatched")
	}
	if got.Sequence != 42 {
		t.Errorf("sequence = %d", got.Sequence)
	}
	if len(got.Bids) != 1 || got.Bids[0].Price != 100.00 || got.Bids[0].Size != 10 {
		t.Errorf("bids = %+v", got.Bids)
	}
}

func TestHandleMessage_AggTrade(t *testing.T) {
	var got *exchange.TradeEvent
	w := &wsManager{handlers: func() exchange.Handlers {
		return exchange.Handlers{OnTrade: func(tr exchange.TradeEvent) { got = &tr }}
	}}
	raw := []byte(`{"stream":"btcusdt@aggTrade","data":{"E":1700000000000,"s":"BTCUSDT","p":"100.05","q":"0.5","m":true,"T":1700000000001}}`)
	w.handleMessage(raw)
	if got == nil {
		t.Fatal("trade event not dispatched")
	}
	if got.Side != exchange.Sell {
		t.Errorf("buyer-is-maker print must map to sell aggressor, got %s", got.Side)
	}
	if got.Price != 100.05 || got.Size != 0.5 {
		t.Errorf("price/size = %v/%v", got.Price, got.Size)
	}
}

func TestHandleMessage_OrderUpdate(t *testing.T) {
	var got *exchange.OrderUpdate
	w := &wsManager{handlers: func() exchange.Handlers {
		return exchange.Handlers{OnOrder: func(u exchange.OrderUpdate) { got = &u }}
	}}
	raw := []byte(`{"stream":"listenkey123","data":{"e":"ORDER_TRADE_UPDATE","E":1700000000000,"o":{"s":"BTCUSDT","c":"mm-1","S":"BUY","o":"LIMIT","f":"GTX","q":"1","p":"100.00","ap":"100.00","x":"TRADE","X":"PARTIALLY_FILLED","i":77,"l":"0.4","z":"0.4","L":"100.00","T":1700000000002}}}`)
	w.handleMessage(raw)
	if got == nil {
		t.Fatal("order update not dispatched")
	}
	if got.Kind != exchange.UpdatePartiallyFilled {
		t.Errorf("kind = %s", got.Kind)
	}
	if got.FillAmount != 0.4 || got.FillPrice != 100.00 {
		t.Errorf("fill = %v @ %v", got.FillAmount, got.FillPrice)
	}
	if got.Order.ClientID != "mm-1" || got.Order.ExchangeID != "77" {
		t.Errorf("ids = %s/%s", got.Order.ClientID, got.Order.ExchangeID)
	}
}
