package binance

import (
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"stoikov-maker-go/exchange"
)

// Combined stream envelope: {"stream":"btcusdt@depth20@100ms","data":{...}}.
type streamEnvelope struct {
	Stream string     `json:"stream"`
	Data   rawMessage `json:"data"`
}

type rawMessage []byte

func (m *rawMessage) UnmarshalJSON(data []byte) error {
	*m = append((*m)[:0], data...)
	return nil
}

type depthEvent struct {
	EventTime    int64      `json:"E"`
	Symbol       string     `json:"s"`
	LastUpdateID uint64     `json:"u"`
	Bids         [][]string `json:"b"`
	Asks         [][]string `json:"a"`
}

type aggTradeEvent struct {
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	IsMaker   bool   `json:"m"` // buyer is maker -> aggressor sold
	TradeTime int64  `json:"T"`
}

type orderTradeUpdate struct {
	EventTime int64 `json:"E"`
	Order     struct {
		Symbol        string `json:"s"`
		ClientOrderID string `json:"c"`
		Side          string `json:"S"`
		Type          string `json:"o"`
		TimeInForce   string `json:"f"`
		OrigQty       string `json:"q"`
		Price         string `json:"p"`
		AvgPrice      string `json:"ap"`
		ExecutionType string `json:"x"`
		Status        string `json:"X"`
		OrderID       int64  `json:"i"`
		LastFilledQty string `json:"l"`
		CumFilledQty  string `json:"z"`
		LastPrice     string `json:"L"`
		TradeTime     int64  `json:"T"`
	} `json:"o"`
}

type eventTypeProbe struct {
	EventType string `json:"e"`
}

// streamJSON decodes stream frames with case-sensitive keys: payloads carry
// both "e" (event type) and "E" (event time), which a case-insensitive
// decoder would fold onto the same field.
var streamJSON = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	CaseSensitive:          true,
}.Froze()

// handleMessage decodes one combined-stream frame and fans it out.
func (w *wsManager) handleMessage(raw []byte) {
	var env streamEnvelope
	if err := streamJSON.Unmarshal(raw, &env); err != nil || len(env.Data) == 0 {
		return
	}
	h := w.handlers()

	switch {
	case strings.Contains(env.Stream, "@depth"):
		if h.OnBook == nil {
			return
		}
		var ev depthEvent
		if err := streamJSON.Unmarshal(env.Data, &ev); err != nil {
			return
		}
		h.OnBook(exchange.BookSnapshot{
			Symbol:    ev.Symbol,
			Bids:      toLevels(ev.Bids),
			Asks:      toLevels(ev.Asks),
			Sequence:  ev.LastUpdateID,
			Timestamp: time.UnixMilli(ev.EventTime),
		})

	case strings.Contains(env.Stream, "@aggTrade"):
		if h.OnTrade == nil {
			return
		}
		var ev aggTradeEvent
		if err := streamJSON.Unmarshal(env.Data, &ev); err != nil {
			return
		}
		side := exchange.Buy
		if ev.IsMaker {
			side = exchange.Sell
		}
		h.OnTrade(exchange.TradeEvent{
			Symbol:    ev.Symbol,
			Price:     f(ev.Price),
			Size:      f(ev.Quantity),
			Side:      side,
			Timestamp: time.UnixMilli(ev.TradeTime),
		})

	default:
		// user-data stream: dispatch on the event type tag
		var probe eventTypeProbe
		if err := streamJSON.Unmarshal(env.Data, &probe); err != nil {
			return
		}
		if probe.EventType == "ORDER_TRADE_UPDATE" && h.OnOrder != nil {
			var ev orderTradeUpdate
			if err := streamJSON.Unmarshal(env.Data, &ev); err != nil {
				return
			}
			h.OnOrder(toOrderUpdate(ev))
		}
	}
}

func toOrderUpdate(ev orderTradeUpdate) exchange.OrderUpdate {
	o := ev.Order
	kind := binanceStatus(o.Status)
	return exchange.OrderUpdate{
		Order: exchange.Order{
			ExchangeID:  strconv.FormatInt(o.OrderID, 10),
			ClientID:    o.ClientOrderID,
			Symbol:      o.Symbol,
			Side:        exchange.Side(o.Side),
			Type:        exchange.OrderType(o.Type),
			Price:       f(o.Price),
			Amount:      f(o.OrigQty),
			Filled:      f(o.CumFilledQty),
			AvgPrice:    f(o.AvgPrice),
			Status:      kind,
			TimeInForce: exchange.TimeInForce(o.TimeInForce),
			Timestamp:   time.UnixMilli(o.TradeTime),
		},
		Kind:       kind,
		FillPrice:  f(o.LastPrice),
		FillAmount: f(o.LastFilledQty),
		Timestamp:  time.UnixMilli(ev.EventTime),
	}
}
