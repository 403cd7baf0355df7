// Package patient watches the active quote set against the live book and
// raises requote triggers: top-N exit, queue-ahead, drift and TTLs.
package patient

import (
	"time"

	"stoikov-maker-go/exchange"
)

// OrderState is the engine-level state of the patient quoting cycle.
type OrderState string

const (
	StateIdle                OrderState = "IDLE"
	StateQuotePlacing        OrderState = "QUOTE_PLACING"
	StateWaitingInQueue      OrderState = "WAITING_IN_QUEUE"
	StatePartialFilled       OrderState = "PARTIAL_FILLED"
	StateTopNExit            OrderState = "TOP_N_EXIT"
	StateDriftTriggered      OrderState = "DRIFT_TRIGGERED"
	StateQueueAheadTriggered OrderState = "QUEUE_AHEAD_TRIGGERED"
	StateReplacingLevel      OrderState = "REPLACING_LEVEL"
	StateRiskBreach          OrderState = "RISK_BREACH"
	StateFlattening          OrderState = "FLATTENING"
	StateCooldown            OrderState = "COOLDOWN"
	StateError               OrderState = "ERROR"
)

// LevelKey identifies one placed ladder level.
type LevelKey struct {
	Side  exchange.Side
	Level int
}

// PlacedLevel is one resting quote in the snapshot.
type PlacedLevel struct {
	Price     float64
	Size      float64
	TTLExpiry time.Time
}

// Snapshot captures the quote set at post time. Created when a quoting
// session starts and discarded when the session ends.
type Snapshot struct {
	Levels        map[LevelKey]PlacedLevel
	MidAtPost     float64
	CreatedAt     time.Time
	SessionExpiry time.Time
}

// NewSnapshot builds a snapshot; session expiry gets the caller's jitter
// already applied.
func NewSnapshot(mid float64, createdAt time.Time, sessionTTL time.Duration) *Snapshot {
	return &Snapshot{
		Levels:        make(map[LevelKey]PlacedLevel),
		MidAtPost:     mid,
		CreatedAt:     createdAt,
		SessionExpiry: createdAt.Add(sessionTTL),
	}
}

// AddLevel registers one placed level.
func (s *Snapshot) AddLevel(key LevelKey, price, size float64, ttl time.Duration) {
	s.Levels[key] = PlacedLevel{Price: price, Size: size, TTLExpiry: s.CreatedAt.Add(ttl)}
}
