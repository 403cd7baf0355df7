package market

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// ProcessorConfig controls feature aggregation depth.
type ProcessorConfig struct {
	TopNDepth        int     // levels summed for OBI / depth
	MicropriceLevels int     // levels in the microprice
	ImpactNotional   float64 // quote units walked for impact price
}

// Processor validates incoming books, derives State and keeps gap statistics.
// It owns the latest validated book; consumers get copies.
type Processor struct {
	cfg ProcessorConfig
	log *zap.Logger

	mu          sync.RWMutex
	expectedSeq uint64
	book        *L2Book
	state       State

	invalidBooks uint64
	seqGaps      uint64
	lastGapLog   time.Time

	onState func(State, *L2Book)
	onTrade func(Trade)
}

// NewProcessor creates a processor. onState receives every published state
// with a private copy of the validated book; onTrade every valid print.
func NewProcessor(cfg ProcessorConfig, log *zap.Logger) *Processor {
	if cfg.TopNDepth <= 0 {
		cfg.TopNDepth = 5
	}
	if cfg.MicropriceLevels <= 0 {
		cfg.MicropriceLevels = 3
	}
	return &Processor{cfg: cfg, log: log}
}

// SetStateHandler registers the State consumer.
func (p *Processor) SetStateHandler(fn func(State, *L2Book)) { p.onState = fn }

// SetTradeHandler registers the trade consumer.
func (p *Processor) SetTradeHandler(fn func(Trade)) { p.onTrade = fn }

// OnBook ingests a raw snapshot. Invalid books are dropped and counted; a
// sequence gap is informational only (the venue layer re-syncs).
func (p *Processor) OnBook(b *L2Book) error {
	p.trackSequence(b.Sequence)

	if err := b.Normalize(); err != nil {
		p.mu.Lock()
		p.invalidBooks++
		p.mu.Unlock()
		p.log.Warn("dropping invalid book",
			zap.Uint64("sequence", b.Sequence),
			zap.Error(err))
		return err
	}

	st := p.derive(b)

	p.mu.Lock()
	p.book = b
	p.state = st
	p.mu.Unlock()

	if p.onState != nil {
		p.onState(st, b.Clone())
	}
	return nil
}

// OnTrade ingests one print from the tape.
func (p *Processor) OnTrade(t Trade) {
	if !t.Valid() {
		return
	}
	if p.onTrade != nil {
		p.onTrade(t)
	}
}

func (p *Processor) derive(b *L2Book) State {
	mid := Mid(b)
	spread := b.TopAsk().Price - b.TopBid().Price
	bidDepth, askDepth := Depth(b, p.cfg.TopNDepth)
	return State{
		Mid:         mid,
		Microprice:  Microprice(b, p.cfg.MicropriceLevels),
		Spread:      spread,
		SpreadBps:   spread / mid * 1e4,
		OBI:         Imbalance(b, p.cfg.TopNDepth),
		TopBidDepth: bidDepth,
		TopAskDepth: askDepth,
		WeightedMid: WeightedMid(b),
		ImpactBid:   ImpactPrice(b.Asks, p.cfg.ImpactNotional),
		ImpactAsk:   ImpactPrice(b.Bids, p.cfg.ImpactNotional),
		Timestamp:   b.Timestamp,
	}
}

// trackSequence records gaps with at most one log line per second.
func (p *Processor) trackSequence(seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.expectedSeq != 0 && seq != p.expectedSeq {
		p.seqGaps++
		now := time.Now()
		if now.Sub(p.lastGapLog) >= time.Second {
			p.lastGapLog = now
			p.log.Warn("order book sequence gap",
				zap.Uint64("expected", p.expectedSeq),
				zap.Uint64("got", seq),
				zap.Uint64("gaps_total", p.seqGaps))
		}
	}
	p.expectedSeq = seq + 1
}

// Snapshot returns the latest published state and a copy of the book backing
// it; ok is false before the first valid book.
func (p *Processor) Snapshot() (State, *L2Book, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.book == nil {
		return State{}, nil, false
	}
	return p.state, p.book.Clone(), true
}

// Stats returns drop/gap counters for the health surface.
func (p *Processor) Stats() (invalidBooks, seqGaps uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.invalidBooks, p.seqGaps
}
