package market

import (
	"math"
	"testing"
)

func validBook() *L2Book {
	b := &L2Book{
		Bids: []PriceLevel{level(100.00, 10)},
		Asks: []PriceLevel{level(100.10, 10)},
	}
	if err := b.Normalize(); err != nil {
		panic(err)
	}
	return b
}

func almost(a, b, eps float64) bool { return math.Abs(a-b) <= eps }

func TestMid(t *testing.T) {
	if got := Mid(validBook()); !almost(got, 100.05, 1e-9) {
		t.Fatalf("mid = %v, want 100.05", got)
	}
}

func TestMicroprice_BalancedBookEqualsMid(t *testing.T) {
	got := Microprice(validBook(), 1)
	if !almost(got, 100.05, 1e-9) {
		t.Fatalf("microprice = %v, want 100.05", got)
	}
}

func TestMicroprice_LeansTowardLargerSide(t *testing.T) {
	b := &L2Book{
		Bids: []PriceLevel{level(100.00, 30)},
		Asks: []PriceLevel{level(100.10, 10)},
	}
	if err := b.Normalize(); err != nil {
		t.Fatal(err)
	}
	// heavier bids mean buy pressure, microprice above mid
	got := Microprice(b, 1)
	if got <= Mid(b) {
		t.Fatalf("microprice %v not above mid %v with heavy bids", got, Mid(b))
	}
}

func TestMicroprice_ZeroVolumeFallsBackToMid(t *testing.T) {
	b := &L2Book{
		Bids: []PriceLevel{level(100.00, 0)},
		Asks: []PriceLevel{level(100.10, 10)},
	}
	if err := b.Normalize(); err != nil {
		t.Fatal(err)
	}
	if got := Microprice(b, 1); !almost(got, 100.05, 1e-9) {
		t.Fatalf("microprice = %v, want mid fallback 100.05", got)
	}
}

func TestImbalance(t *testing.T) {
	tests := []struct {
		name     string
		bids     []PriceLevel
		asks     []PriceLevel
		expected float64
	}{
		{"balanced", []PriceLevel{level(100, 10)}, []PriceLevel{level(100.1, 10)}, 0},
		{"all bid", []PriceLevel{level(100, 10)}, []PriceLevel{level(100.1, 0)}, 1},
		{"all ask", []PriceLevel{level(100, 0)}, []PriceLevel{level(100.1, 10)}, -1},
		{"both zero", []PriceLevel{level(100, 0)}, []PriceLevel{level(100.1, 0)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &L2Book{Bids: tt.bids, Asks: tt.asks}
			if err := b.Normalize(); err != nil {
				t.Fatal(err)
			}
			if got := Imbalance(b, 5); !almost(got, tt.expected, 1e-9) {
				t.Errorf("imbalance = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestWeightedMid(t *testing.T) {
	b := &L2Book{
		Bids: []PriceLevel{level(100.00, 30)},
		Asks: []PriceLevel{level(100.10, 10)},
	}
	if err := b.Normalize(); err != nil {
		t.Fatal(err)
	}
	// (100.00*10 + 100.10*30) / 40 = 100.075
	if got := WeightedMid(b); !almost(got, 100.075, 1e-9) {
		t.Fatalf("weighted mid = %v, want 100.075", got)
	}
}

func TestImpactPrice(t *testing.T) {
	asks := []PriceLevel{level(100, 1), level(101, 1), level(102, 1)}

	t.Run("within first level", func(t *testing.T) {
		if got := ImpactPrice(asks, 50); !almost(got, 100, 1e-9) {
			t.Errorf("impact = %v, want 100", got)
		}
	})
	t.Run("spans two levels", func(t *testing.T) {
		// 100 notional at 100, 50.5 notional at 101 -> 1.5 units for 150.5
		got := ImpactPrice(asks, 150.5)
		want := 150.5 / (1 + 50.5/101)
		if !almost(got, want, 1e-9) {
			t.Errorf("impact = %v, want %v", got, want)
		}
	})
	t.Run("book too thin", func(t *testing.T) {
		if got := ImpactPrice(asks, 1e6); got != 0 {
			t.Errorf("impact = %v, want 0 for unabsorbable notional", got)
		}
	})
	t.Run("zero notional", func(t *testing.T) {
		if got := ImpactPrice(asks, 0); got != 0 {
			t.Errorf("impact = %v, want 0", got)
		}
	})
}
