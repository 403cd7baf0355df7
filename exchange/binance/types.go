package binance

import (
	"strconv"
	"time"

	"stoikov-maker-go/exchange"
)

// REST payloads. Binance sends numeric fields as strings.

type orderResp struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
	Status        string `json:"status"`
	TimeInForce   string `json:"timeInForce"`
	UpdateTime    int64  `json:"updateTime"`
}

type positionResp struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
}

type balanceResp struct {
	Asset            string `json:"asset"`
	Balance          string `json:"balance"`
	AvailableBalance string `json:"availableBalance"`
}

type depthResp struct {
	LastUpdateID uint64     `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
	EventTime    int64      `json:"E"`
}

type exchangeInfoResp struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType  string `json:"filterType"`
			TickSize    string `json:"tickSize"`
			StepSize    string `json:"stepSize"`
			MinQty      string `json:"minQty"`
			Notional    string `json:"notional"`
			MinNotional string `json:"minNotional"`
		} `json:"filters"`
	} `json:"symbols"`
}

type listenKeyResp struct {
	ListenKey string `json:"listenKey"`
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func f(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// binanceStatus maps venue status strings onto the update vocabulary.
func binanceStatus(s string) exchange.UpdateKind {
	switch s {
	case "NEW":
		return exchange.UpdateNew
	case "PARTIALLY_FILLED":
		return exchange.UpdatePartiallyFilled
	case "FILLED":
		return exchange.UpdateFilled
	case "CANCELED":
		return exchange.UpdateCanceled
	case "REJECTED":
		return exchange.UpdateRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return exchange.UpdateExpired
	default:
		return exchange.UpdateKind(s)
	}
}

// toOrder converts the REST representation. Every field round-trips except
// the venue-assigned timestamp.
func toOrder(r orderResp) exchange.Order {
	return exchange.Order{
		ExchangeID:  strconv.FormatInt(r.OrderID, 10),
		ClientID:    r.ClientOrderID,
		Symbol:      r.Symbol,
		Side:        exchange.Side(r.Side),
		Type:        exchange.OrderType(r.Type),
		Price:       f(r.Price),
		Amount:      f(r.OrigQty),
		Filled:      f(r.ExecutedQty),
		AvgPrice:    f(r.AvgPrice),
		Status:      binanceStatus(r.Status),
		TimeInForce: exchange.TimeInForce(r.TimeInForce),
		Timestamp:   time.UnixMilli(r.UpdateTime),
	}
}

// toRequestParams maps an order request onto the REST parameter set.
func toRequestParams(req exchange.OrderRequest) map[string]string {
	params := map[string]string{
		"symbol": req.Symbol,
		"side":   string(req.Side),
		"type":   string(req.Type),
	}
	if req.Type != exchange.Market {
		params["price"] = strconv.FormatFloat(req.Price, 'f', -1, 64)
		tif := req.TimeInForce
		if req.PostOnly {
			tif = exchange.GTX
		}
		if tif == "" {
			tif = exchange.GTC
		}
		params["timeInForce"] = string(tif)
	}
	params["quantity"] = strconv.FormatFloat(req.Amount, 'f', -1, 64)
	if req.ReduceOnly {
		params["reduceOnly"] = "true"
	}
	if req.ClientID != "" {
		params["newClientOrderId"] = req.ClientID
	}
	return params
}
