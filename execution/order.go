// Package execution owns the ladder of managed orders and the order state
// machine that drives place / cancel / replace / flatten against the venue.
package execution

import (
	"fmt"
	"time"

	"stoikov-maker-go/exchange"
)

// State is the per-order lifecycle state.
type State string

const (
	StateIdle          State = "IDLE"
	StatePlacing       State = "PLACING"
	StateMakerPlaced   State = "MAKER_PLACED"
	StatePartialFilled State = "PARTIAL_FILLED"
	StateFilled        State = "FILLED"
	StateCancelling    State = "CANCELLING"
	StateReplacing     State = "REPLACING"
	StateFlattening    State = "FLATTENING"
	StateCooldown      State = "COOLDOWN"
	StateError         State = "ERROR"
	StateCancelled     State = "CANCELLED"
)

// transition 状态转换对。
type transition struct {
	from State
	to   State
}

// legalTransitions 枚举所有允许的状态转换，表外一律非法。
var legalTransitions = map[transition]bool{
	{StateIdle, StatePlacing}: true,

	{StatePlacing, StateMakerPlaced}: true,
	{StatePlacing, StateError}:       true,
	{StatePlacing, StateFilled}:      true, // ack and fill can collapse into one update

	{StateMakerPlaced, StateFilled}:        true,
	{StateMakerPlaced, StatePartialFilled}: true,
	{StateMakerPlaced, StateReplacing}:     true,
	{StateMakerPlaced, StateCancelling}:    true,
	{StateMakerPlaced, StateFlattening}:    true,
	{StateMakerPlaced, StateError}:         true,
	{StateMakerPlaced, StateCancelled}:     true,

	{StatePartialFilled, StateFilled}:      true,
	{StatePartialFilled, StateMakerPlaced}: true, // remainder reposted
	{StatePartialFilled, StateReplacing}:   true,
	{StatePartialFilled, StateCancelling}:  true,
	{StatePartialFilled, StateFlattening}:  true,
	{StatePartialFilled, StateCancelled}:   true,

	{StateReplacing, StateMakerPlaced}: true,
	{StateReplacing, StateError}:       true,
	{StateReplacing, StateFilled}:      true, // filled while replace in flight
	{StateReplacing, StateCancelled}:   true,

	{StateCancelling, StateCancelled}: true,
	{StateCancelling, StateFilled}:    true,
	{StateCancelling, StateError}:     true,

	{StateFlattening, StateCooldown}: true,
	{StateFlattening, StateError}:    true,

	{StateCooldown, StateIdle}: true,

	{StateError, StateIdle}:    true,
	{StateError, StatePlacing}: true, // retry path
}

// ValidateTransition rejects transitions outside the table. Same-state is
// idempotent.
func ValidateTransition(from, to State) error {
	if from == to {
		return nil
	}
	if !legalTransitions[transition{from, to}] {
		return fmt.Errorf("illegal order state transition: %s -> %s", from, to)
	}
	return nil
}

// IsTerminal reports whether the state ends the order's life.
func IsTerminal(s State) bool {
	return s == StateFilled || s == StateCancelled
}

// IsLive reports whether the order may still rest on the venue.
func IsLive(s State) bool {
	switch s {
	case StatePlacing, StateMakerPlaced, StatePartialFilled, StateReplacing, StateCancelling:
		return true
	default:
		return false
	}
}

// ManagedOrder is one ladder order under engine ownership.
type ManagedOrder struct {
	ClientID     string
	ExchangeID   string // assigned on ack
	Side         exchange.Side
	Price        float64
	OriginalSize float64
	FilledSize   float64
	State        State
	PlacedTime   time.Time
	LastUpdate   time.Time
	TTLExpiry    time.Time
	RetryCount   int
	LadderLevel  int
	IsPostOnly   bool

	improvementCount int
	lastImprovement  time.Time
}

// Remaining returns the unfilled size.
func (o *ManagedOrder) Remaining() float64 {
	r := o.OriginalSize - o.FilledSize
	if r < 0 {
		return 0
	}
	return r
}

// setState applies a validated transition and stamps the update time.
func (o *ManagedOrder) setState(to State, now time.Time) error {
	if err := ValidateTransition(o.State, to); err != nil {
		return err
	}
	o.State = to
	o.LastUpdate = now
	return nil
}
