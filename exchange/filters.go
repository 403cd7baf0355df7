package exchange

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Filters 描述交易对的精度与最小名义限制（来自 exchangeInfo）。
// 所有出站价格/数量必须先经过这里的舍入。
type Filters struct {
	Symbol      string
	TickSize    float64
	LotStep     float64
	MinQty      float64
	MinNotional float64
}

// RoundPrice rounds a price onto the tick grid. Bids round down, asks round
// up, so a rounded quote never crosses the intended level.
func (f Filters) RoundPrice(price float64, side Side) float64 {
	if f.TickSize <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	tick := decimal.NewFromFloat(f.TickSize)
	steps := p.Div(tick)
	if side == Buy {
		steps = steps.Floor()
	} else {
		steps = steps.Ceil()
	}
	out, _ := steps.Mul(tick).Float64()
	return out
}

// RoundSize rounds a size down to the lot step.
func (f Filters) RoundSize(size float64) float64 {
	if f.LotStep <= 0 {
		return size
	}
	s := decimal.NewFromFloat(size)
	step := decimal.NewFromFloat(f.LotStep)
	out, _ := s.Div(step).Floor().Mul(step).Float64()
	return out
}

// BumpToMinNotional grows size by whole lot steps until price*size clears the
// minimum notional. Returns the adjusted size.
func (f Filters) BumpToMinNotional(price, size float64) float64 {
	if f.MinNotional <= 0 || price <= 0 || f.LotStep <= 0 {
		return size
	}
	s := decimal.NewFromFloat(size)
	step := decimal.NewFromFloat(f.LotStep)
	p := decimal.NewFromFloat(price)
	minN := decimal.NewFromFloat(f.MinNotional)
	for s.Mul(p).LessThan(minN) {
		s = s.Add(step)
	}
	out, _ := s.Float64()
	return out
}

// Validate rejects orders that remain invalid after rounding.
func (f Filters) Validate(price, size float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) || math.IsNaN(size) || math.IsInf(size, 0) {
		return fmt.Errorf("%w: non-finite price or size", ErrValidation)
	}
	if price <= 0 {
		return fmt.Errorf("%w: price %.10f <= 0", ErrValidation, price)
	}
	if size <= 0 {
		return fmt.Errorf("%w: size %.10f <= 0", ErrValidation, size)
	}
	if f.MinQty > 0 && size < f.MinQty {
		return fmt.Errorf("%w: size %.10f < minQty %.10f", ErrValidation, size, f.MinQty)
	}
	if f.MinNotional > 0 && price*size < f.MinNotional {
		return fmt.Errorf("%w: notional %.4f < minNotional %.4f", ErrValidation, price*size, f.MinNotional)
	}
	return nil
}
