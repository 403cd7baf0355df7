package patient

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"

	"stoikov-maker-go/exchange"
	"stoikov-maker-go/execution"
	"stoikov-maker-go/market"
)

// EventKind enumerates detector triggers.
type EventKind string

const (
	EventTopNExit   EventKind = "topNExit"
	EventQueueAhead EventKind = "queueAhead"
	EventDrift      EventKind = "drift"
	EventLevelTTL   EventKind = "levelTtl"
	EventSessionTTL EventKind = "sessionTtl"
)

// Event is one raised trigger.
type Event struct {
	Kind     EventKind
	Priority execution.Priority
	Side     exchange.Side
	Level    int
	Value    float64 // drift bps, queue size, etc.
	At       time.Time
}

// Config tunes the detector thresholds.
type Config struct {
	TopNThreshold       int
	QueueAheadRatio     float64
	DriftThresholdBps   float64
	LevelTTL            time.Duration
	SessionTTL          time.Duration
	MinRequoteInterval  time.Duration
	Jitter              time.Duration
	TickSize            float64
}

// Detector compares the active snapshot against live books. Raised events are
// jittered and rate-limited; excess events queue and drain in priority order.
type Detector struct {
	cfg Config
	log *zap.Logger
	rng *rand.Rand

	snapshot *Snapshot
	state    OrderState
	pending  []Event
	lastEmit time.Time
	seen     map[EventKind]bool
}

func NewDetector(cfg Config, log *zap.Logger) *Detector {
	return &Detector{
		cfg:  cfg,
		log:  log,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
		seen: make(map[EventKind]bool),
	}
}

// BeginSession installs a fresh snapshot; the session expiry gets random
// jitter so parallel bots don't requote in lockstep.
func (d *Detector) BeginSession(mid float64, now time.Time) *Snapshot {
	jitter := d.jitter()
	d.snapshot = NewSnapshot(mid, now, d.cfg.SessionTTL+jitter)
	d.state = StateWaitingInQueue
	d.pending = d.pending[:0]
	d.seen = make(map[EventKind]bool)
	return d.snapshot
}

// EndSession discards the active snapshot.
func (d *Detector) EndSession() {
	d.snapshot = nil
	d.state = StateIdle
}

// State returns the current quoting-cycle state.
func (d *Detector) State() OrderState {
	if d.snapshot == nil {
		return StateIdle
	}
	return d.state
}

// Active reports whether a quoting session is being observed.
func (d *Detector) Active() bool { return d.snapshot != nil }

// OnBook evaluates all triggers against a validated book and returns events
// that clear the rate gate, highest priority first.
func (d *Detector) OnBook(b *market.L2Book, st market.State, now time.Time) []Event {
	if d.snapshot == nil {
		return nil
	}
	d.checkTopNExit(b, now)
	d.checkQueueAhead(b, now)
	d.checkDrift(st, now)
	d.checkTTLs(now)
	return d.drain(now)
}

// checkTopNExit raises when one of our prices no longer sits within the
// top-N levels of its side (tick tolerance).
func (d *Detector) checkTopNExit(b *market.L2Book, now time.Time) {
	n := d.cfg.TopNThreshold
	for key, lvl := range d.snapshot.Levels {
		var side []market.PriceLevel
		if key.Side == exchange.Buy {
			side = b.Bids
		} else {
			side = b.Asks
		}
		found := false
		for i := 0; i < n && i < len(side); i++ {
			if math.Abs(side[i].Price-lvl.Price) <= d.cfg.TickSize {
				found = true
				break
			}
		}
		if !found {
			d.raise(Event{
				Kind:     EventTopNExit,
				Priority: execution.PriorityHigh,
				Side:     key.Side,
				Level:    key.Level,
				At:       now,
			})
		}
	}
}

// checkQueueAhead estimates the size resting at our exact price and raises
// when it exceeds the configured fraction of top-of-book depth on our side.
func (d *Detector) checkQueueAhead(b *market.L2Book, now time.Time) {
	if d.cfg.QueueAheadRatio <= 0 {
		return
	}
	for key, lvl := range d.snapshot.Levels {
		var side []market.PriceLevel
		var topDepth float64
		if key.Side == exchange.Buy {
			side = b.Bids
			topDepth = b.TopBid().Size
		} else {
			side = b.Asks
			topDepth = b.TopAsk().Size
		}
		var resting float64
		for _, pl := range side {
			if math.Abs(pl.Price-lvl.Price) <= d.cfg.TickSize/2 {
				resting = pl.Size
				break
			}
		}
		threshold := d.cfg.QueueAheadRatio * topDepth
		if threshold > 0 && resting > threshold {
			d.raise(Event{
				Kind:     EventQueueAhead,
				Priority: execution.PriorityMedium,
				Side:     key.Side,
				Level:    key.Level,
				Value:    resting,
				At:       now,
			})
		}
	}
}

// checkDrift raises when mid has moved too far from the post-time mid.
func (d *Detector) checkDrift(st market.State, now time.Time) {
	if d.snapshot.MidAtPost <= 0 || d.cfg.DriftThresholdBps <= 0 {
		return
	}
	driftBps := math.Abs(st.Mid-d.snapshot.MidAtPost) / d.snapshot.MidAtPost * 1e4
	if driftBps > d.cfg.DriftThresholdBps {
		d.raise(Event{
			Kind:     EventDrift,
			Priority: execution.PriorityHigh,
			Value:    driftBps,
			At:       now,
		})
	}
}

// checkTTLs raises per-level and session expiries.
func (d *Detector) checkTTLs(now time.Time) {
	for key, lvl := range d.snapshot.Levels {
		if now.After(lvl.TTLExpiry) {
			d.raise(Event{
				Kind:     EventLevelTTL,
				Priority: execution.PriorityLow,
				Side:     key.Side,
				Level:    key.Level,
				At:       now,
			})
		}
	}
	if now.After(d.snapshot.SessionExpiry) {
		d.raise(Event{
			Kind:     EventSessionTTL,
			Priority: execution.PriorityMedium,
			At:       now,
		})
	}
}

// raise queues an event unless one of the same kind is already pending.
func (d *Detector) raise(ev Event) {
	if d.seen[ev.Kind] {
		return
	}
	d.seen[ev.Kind] = true
	ev.At = ev.At.Add(d.jitter())
	d.pending = append(d.pending, ev)

	switch ev.Kind {
	case EventTopNExit:
		d.state = StateTopNExit
	case EventQueueAhead:
		d.state = StateQueueAheadTriggered
	case EventDrift:
		d.state = StateDriftTriggered
	case EventLevelTTL, EventSessionTTL:
		d.state = StateReplacingLevel
	}
}

// drain emits pending events respecting the minimum requote interval,
// priority first, ties by arrival.
func (d *Detector) drain(now time.Time) []Event {
	if len(d.pending) == 0 {
		return nil
	}
	if now.Sub(d.lastEmit) < d.cfg.MinRequoteInterval {
		return nil
	}
	sort.SliceStable(d.pending, func(i, j int) bool {
		if d.pending[i].Priority != d.pending[j].Priority {
			return d.pending[i].Priority > d.pending[j].Priority
		}
		return d.pending[i].At.Before(d.pending[j].At)
	})
	out := d.pending
	d.pending = nil
	for _, ev := range out {
		d.seen[ev.Kind] = false
	}
	d.lastEmit = now
	d.log.Debug("patient events emitted", zap.Int("count", len(out)))
	return out
}

func (d *Detector) jitter() time.Duration {
	if d.cfg.Jitter <= 0 {
		return 0
	}
	return time.Duration(d.rng.Int63n(int64(d.cfg.Jitter)))
}
