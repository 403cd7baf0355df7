// Package market validates raw L2 books and derives the microstructure
// features the quoting engine consumes.
package market

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Book integrity failures, checked with errors.Is.
var (
	ErrEmptySide   = errors.New("order book side empty")
	ErrCrossedBook = errors.New("order book crossed")
	ErrBadLevel    = errors.New("invalid price level")
)

// PriceLevel is one price/size pair. Price strictly positive, size >= 0.
type PriceLevel struct {
	Price float64
	Size  float64
}

// L2Book is a validated two-sided book: bids descending, asks ascending.
type L2Book struct {
	Bids      []PriceLevel
	Asks      []PriceLevel
	Sequence  uint64
	Timestamp time.Time
}

// TopBid returns the best bid level. Valid only after Normalize.
func (b *L2Book) TopBid() PriceLevel { return b.Bids[0] }

// TopAsk returns the best ask level.
func (b *L2Book) TopAsk() PriceLevel { return b.Asks[0] }

// Normalize sorts both sides and checks the book invariants: sides non-empty,
// levels well formed, top bid strictly below top ask.
func (b *L2Book) Normalize() error {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return ErrEmptySide
	}
	for _, lv := range b.Bids {
		if lv.Price <= 0 || lv.Size < 0 {
			return fmt.Errorf("%w: bid %.10f/%.10f", ErrBadLevel, lv.Price, lv.Size)
		}
	}
	for _, lv := range b.Asks {
		if lv.Price <= 0 || lv.Size < 0 {
			return fmt.Errorf("%w: ask %.10f/%.10f", ErrBadLevel, lv.Price, lv.Size)
		}
	}
	sort.Slice(b.Bids, func(i, j int) bool { return b.Bids[i].Price > b.Bids[j].Price })
	sort.Slice(b.Asks, func(i, j int) bool { return b.Asks[i].Price < b.Asks[j].Price })
	if b.Bids[0].Price >= b.Asks[0].Price {
		return fmt.Errorf("%w: bid %.10f >= ask %.10f", ErrCrossedBook, b.Bids[0].Price, b.Asks[0].Price)
	}
	return nil
}

// Clone returns a deep copy. Consumers outside the processor hold copies only.
func (b *L2Book) Clone() *L2Book {
	out := &L2Book{
		Bids:      make([]PriceLevel, len(b.Bids)),
		Asks:      make([]PriceLevel, len(b.Asks)),
		Sequence:  b.Sequence,
		Timestamp: b.Timestamp,
	}
	copy(out.Bids, b.Bids)
	copy(out.Asks, b.Asks)
	return out
}
