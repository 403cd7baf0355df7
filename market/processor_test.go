package market

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestProcessor() *Processor {
	return NewProcessor(ProcessorConfig{TopNDepth: 5, MicropriceLevels: 3, ImpactNotional: 1000}, zap.NewNop())
}

func TestProcessor_PublishesState(t *testing.T) {
	p := newTestProcessor()
	var published *State
	p.SetStateHandler(func(st State, _ *L2Book) { published = &st })

	b := &L2Book{
		Bids:      []PriceLevel{level(100.00, 10)},
		Asks:      []PriceLevel{level(100.10, 10)},
		Sequence:  1,
		Timestamp: time.Now(),
	}
	if err := p.OnBook(b); err != nil {
		t.Fatalf("OnBook: %v", err)
	}
	if published == nil {
		t.Fatal("no state published")
	}
	if !almost(published.Mid, 100.05, 1e-9) {
		t.Errorf("mid = %v", published.Mid)
	}
	if !almost(published.SpreadBps, 0.10/100.05*1e4, 1e-6) {
		t.Errorf("spread bps = %v", published.SpreadBps)
	}
	if published.OBI != 0 {
		t.Errorf("obi = %v, want 0", published.OBI)
	}
}

func TestProcessor_DropsCrossedBook(t *testing.T) {
	p := newTestProcessor()
	called := false
	p.SetStateHandler(func(State, *L2Book) { called = true })

	b := &L2Book{
		Bids:     []PriceLevel{level(100.20, 5)},
		Asks:     []PriceLevel{level(100.10, 5)},
		Sequence: 1,
	}
	if err := p.OnBook(b); err == nil {
		t.Fatal("crossed book accepted")
	}
	if called {
		t.Fatal("state published for invalid book")
	}
	invalid, _ := p.Stats()
	if invalid != 1 {
		t.Fatalf("invalid counter = %d, want 1", invalid)
	}
	if _, _, ok := p.Snapshot(); ok {
		t.Fatal("snapshot available after only invalid books")
	}
}

func TestProcessor_Idempotent(t *testing.T) {
	p := newTestProcessor()
	var states []State
	p.SetStateHandler(func(st State, _ *L2Book) { states = append(states, st) })

	mk := func() *L2Book {
		return &L2Book{
			Bids:      []PriceLevel{level(100.00, 10), level(99.99, 5)},
			Asks:      []PriceLevel{level(100.10, 10), level(100.11, 5)},
			Sequence:  3,
			Timestamp: time.Unix(1000, 0),
		}
	}
	if err := p.OnBook(mk()); err != nil {
		t.Fatal(err)
	}
	if err := p.OnBook(mk()); err != nil {
		t.Fatal(err)
	}
	if len(states) != 2 {
		t.Fatalf("published %d states", len(states))
	}
	if states[0] != states[1] {
		t.Fatalf("same book produced different states: %+v vs %+v", states[0], states[1])
	}
}

func TestProcessor_TracksSequenceGaps(t *testing.T) {
	p := newTestProcessor()
	mk := func(seq uint64) *L2Book {
		return &L2Book{
			Bids:     []PriceLevel{level(100.00, 10)},
			Asks:     []PriceLevel{level(100.10, 10)},
			Sequence: seq,
		}
	}
	_ = p.OnBook(mk(1))
	_ = p.OnBook(mk(2))
	_ = p.OnBook(mk(10)) // gap
	_ = p.OnBook(mk(11))
	_, gaps := p.Stats()
	if gaps != 1 {
		t.Fatalf("gaps = %d, want 1", gaps)
	}
}
