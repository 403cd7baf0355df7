package market

import (
	"errors"
	"testing"
	"time"
)

func level(p, s float64) PriceLevel { return PriceLevel{Price: p, Size: s} }

func TestNormalize_RejectsCrossedBook(t *testing.T) {
	b := &L2Book{
		Bids: []PriceLevel{level(100.20, 5)},
		Asks: []PriceLevel{level(100.10, 5)},
	}
	err := b.Normalize()
	if !errors.Is(err, ErrCrossedBook) {
		t.Fatalf("want ErrCrossedBook, got %v", err)
	}
}

func TestNormalize_RejectsEmptySide(t *testing.T) {
	tests := []struct {
		name string
		book *L2Book
	}{
		{"no bids", &L2Book{Asks: []PriceLevel{level(100.1, 1)}}},
		{"no asks", &L2Book{Bids: []PriceLevel{level(100.0, 1)}}},
		{"both empty", &L2Book{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.book.Normalize(); !errors.Is(err, ErrEmptySide) {
				t.Errorf("want ErrEmptySide, got %v", err)
			}
		})
	}
}

func TestNormalize_SortsSides(t *testing.T) {
	b := &L2Book{
		Bids: []PriceLevel{level(99.8, 1), level(100.0, 2), level(99.9, 3)},
		Asks: []PriceLevel{level(100.3, 1), level(100.1, 2), level(100.2, 3)},
	}
	if err := b.Normalize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 1; i < len(b.Bids); i++ {
		if b.Bids[i].Price >= b.Bids[i-1].Price {
			t.Fatalf("bids not strictly descending at %d", i)
		}
	}
	for i := 1; i < len(b.Asks); i++ {
		if b.Asks[i].Price <= b.Asks[i-1].Price {
			t.Fatalf("asks not strictly ascending at %d", i)
		}
	}
	if b.TopBid().Price >= b.TopAsk().Price {
		t.Fatalf("top bid %.2f >= top ask %.2f", b.TopBid().Price, b.TopAsk().Price)
	}
}

func TestNormalize_RejectsBadLevels(t *testing.T) {
	b := &L2Book{
		Bids: []PriceLevel{level(-1, 5)},
		Asks: []PriceLevel{level(100.1, 5)},
	}
	if err := b.Normalize(); !errors.Is(err, ErrBadLevel) {
		t.Fatalf("want ErrBadLevel, got %v", err)
	}
}

func TestClone_Independent(t *testing.T) {
	b := &L2Book{
		Bids:      []PriceLevel{level(100.0, 10)},
		Asks:      []PriceLevel{level(100.1, 10)},
		Sequence:  7,
		Timestamp: time.Now(),
	}
	c := b.Clone()
	c.Bids[0].Size = 99
	if b.Bids[0].Size != 10 {
		t.Fatal("clone shares backing array with original")
	}
	if c.Sequence != b.Sequence {
		t.Fatal("sequence not copied")
	}
}
