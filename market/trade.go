package market

import "time"

// TradeSide marks the aggressor of a print.
type TradeSide string

const (
	TradeBuy  TradeSide = "buy"
	TradeSell TradeSide = "sell"
)

// Trade is one print from the public tape.
type Trade struct {
	Price     float64
	Size      float64
	Side      TradeSide
	Timestamp time.Time
}

// Valid reports whether the print is usable.
func (t Trade) Valid() bool {
	return t.Price > 0 && t.Size > 0
}
