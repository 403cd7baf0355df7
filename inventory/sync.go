package inventory

import (
	"context"
	"time"

	"go.uber.org/zap"

	"stoikov-maker-go/exchange"
)

// Syncer refreshes the tracker from venue truth. Called after every fill and
// on a periodic interval; the venue always wins.
type Syncer struct {
	ex      exchange.Exchange
	symbol  string
	tracker *Tracker
	log     *zap.Logger
}

func NewSyncer(ex exchange.Exchange, symbol string, tracker *Tracker, log *zap.Logger) *Syncer {
	return &Syncer{ex: ex, symbol: symbol, tracker: tracker, log: log}
}

// Sync pulls positions once and overwrites the tracker.
func (s *Syncer) Sync(ctx context.Context) error {
	positions, err := s.ex.GetPositions(ctx, s.symbol)
	if err != nil {
		s.log.Warn("inventory sync failed", zap.Error(err))
		return err
	}
	var net, entry float64
	for _, p := range positions {
		if p.Symbol == s.symbol {
			net = p.Amount
			entry = p.EntryPrice
			break
		}
	}
	before := s.tracker.State(0).Position
	s.tracker.SetFromVenue(net, entry, time.Now())
	if diff := net - before; diff > EpsilonPosition || diff < -EpsilonPosition {
		s.log.Info("inventory corrected from venue",
			zap.Float64("local", before),
			zap.Float64("venue", net))
	}
	return nil
}

// Run syncs on the given interval until ctx is done.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Sync(ctx)
		}
	}
}
