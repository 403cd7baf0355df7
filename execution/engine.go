package execution

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stoikov-maker-go/exchange"
	"stoikov-maker-go/strategy/stoikov"
)

// ReplaceStrategy selects how cancel/replace is carried out.
type ReplaceStrategy string

const (
	// ReplaceAtomic issues cancel and place back to back without settling.
	ReplaceAtomic ReplaceStrategy = "atomic"
	// ReplaceBatch cancels, waits a short settle delay, then places.
	ReplaceBatch ReplaceStrategy = "batch"
)

// batchSettleDelay reduces cancel/place collisions in batch mode.
const batchSettleDelay = 50 * time.Millisecond

// improvementMinInterval spaces out queue-ahead level improvements.
const improvementMinInterval = 5 * time.Second

// Config shapes the ladder and its lifecycle.
type Config struct {
	Symbol                  string
	LadderLevels            int
	PostOnlyOffset          float64 // ticks between ladder levels
	TickSize                float64
	TTL                     time.Duration
	Repost                  time.Duration
	MaxRetries              int
	PartialFillThresholdPct float64 // cum fill % that triggers a repost
	Cooldown                time.Duration
	FlattenTimeout          time.Duration
	Replace                 ReplaceStrategy

	ImprovementEnabled bool
	ImprovementTicks   int
	MaxImprovements    int
}

// FillHandler receives every fill for inventory/risk propagation.
type FillHandler func(side exchange.Side, price, qty float64, ts time.Time)

// FailureHandler receives venue failures for the risk failure counter.
type FailureHandler func(err error)

// Engine drives the ladder state machine. Methods are called from the bot
// loop; internal state is still mutex-guarded so stats readers can snapshot.
type Engine struct {
	cfg Config
	ex  exchange.Exchange
	log *zap.Logger

	mu         sync.Mutex
	orders     map[string]*ManagedOrder // by client id
	queue      *RequoteQueue
	lastRepost time.Time
	cooldownUntil time.Time
	flattening    bool

	stats statsTracker

	onFill    FillHandler
	onFailure FailureHandler
}

func NewEngine(cfg Config, ex exchange.Exchange, log *zap.Logger) *Engine {
	if cfg.LadderLevels <= 0 {
		cfg.LadderLevels = 1
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Replace == "" {
		cfg.Replace = ReplaceBatch
	}
	if cfg.FlattenTimeout <= 0 {
		cfg.FlattenTimeout = 10 * time.Second
	}
	return &Engine{
		cfg:    cfg,
		ex:     ex,
		log:    log,
		orders: make(map[string]*ManagedOrder),
		queue:  NewRequoteQueue(32),
	}
}

// SetFillHandler registers the fill consumer.
func (e *Engine) SetFillHandler(fn FillHandler) { e.onFill = fn }

// SetFailureHandler registers the failure consumer.
func (e *Engine) SetFailureHandler(fn FailureHandler) { e.onFailure = fn }

// CanPlace reports whether the repost gate and cooldown allow a new ladder.
func (e *Engine) CanPlace(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canPlaceLocked(now)
}

func (e *Engine) canPlaceLocked(now time.Time) bool {
	if e.flattening || now.Before(e.cooldownUntil) {
		return false
	}
	return now.Sub(e.lastRepost) >= e.cfg.Repost
}

// PlaceLadder replaces the full ladder with fresh quotes: cancels live
// orders, then posts ladder_levels post-only orders per side. Level 0 rests
// at the quote price, deeper levels back off by tick*(level+1)*offset. Every
// level price is snapped to the nearest tick before it is sent.
func (e *Engine) PlaceLadder(ctx context.Context, q stoikov.Quotes, now time.Time) error {
	e.mu.Lock()
	if !e.canPlaceLocked(now) {
		e.mu.Unlock()
		return fmt.Errorf("repost gate closed")
	}
	e.lastRepost = now
	live := e.liveLocked()
	e.mu.Unlock()

	if len(live) > 0 {
		e.cancelOrders(ctx, live, now)
		if e.cfg.Replace == ReplaceBatch {
			time.Sleep(batchSettleDelay)
		}
		e.stats.recordRepost()
	}

	// float offset arithmetic leaves noise (100.10+0.02 = 100.11999999999999);
	// snapping to the tick grid keeps venue-bound prices exact
	snap := func(p float64) float64 {
		if e.cfg.TickSize <= 0 {
			return p
		}
		tick := decimal.NewFromFloat(e.cfg.TickSize)
		out, _ := decimal.NewFromFloat(p).Div(tick).Round(0).Mul(tick).Float64()
		return out
	}
	for level := 0; level < e.cfg.LadderLevels; level++ {
		offset := e.cfg.TickSize * float64(level+1) * e.cfg.PostOnlyOffset
		if level == 0 {
			offset = 0
		}
		e.submit(ctx, exchange.Buy, snap(q.BidPrice-offset), q.BidSize, level, now)
		e.submit(ctx, exchange.Sell, snap(q.AskPrice+offset), q.AskSize, level, now)
	}
	return nil
}

// submit places one post-only order and registers it.
func (e *Engine) submit(ctx context.Context, side exchange.Side, price, size float64, level int, now time.Time) {
	if price <= 0 || size <= 0 {
		return
	}
	o := &ManagedOrder{
		ClientID:     uuid.NewString(),
		Side:         side,
		Price:        price,
		OriginalSize: size,
		State:        StateIdle,
		PlacedTime:   now,
		LastUpdate:   now,
		TTLExpiry:    now.Add(e.cfg.TTL),
		LadderLevel:  level,
		IsPostOnly:   true,
	}
	_ = o.setState(StatePlacing, now)

	e.mu.Lock()
	e.orders[o.ClientID] = o
	e.mu.Unlock()

	placed, err := e.ex.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:      e.cfg.Symbol,
		Side:        side,
		Type:        exchange.Limit,
		Amount:      size,
		Price:       price,
		TimeInForce: exchange.GTX,
		PostOnly:    true,
		ClientID:    o.ClientID,
	})
	if err != nil {
		e.handlePlaceError(o, err, now)
		return
	}
	e.mu.Lock()
	o.ExchangeID = placed.ExchangeID
	e.mu.Unlock()
	e.stats.recordPlaced()
}

func (e *Engine) handlePlaceError(o *ManagedOrder, err error, now time.Time) {
	e.stats.recordFailed()
	if e.onFailure != nil {
		e.onFailure(err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	o.RetryCount++
	_ = o.setState(StateError, now)
	if o.RetryCount > e.cfg.MaxRetries {
		e.log.Error("order abandoned after retries",
			zap.String("client_id", o.ClientID),
			zap.Int("retries", o.RetryCount),
			zap.Error(err))
		delete(e.orders, o.ClientID)
		return
	}
	e.log.Warn("order placement failed, will retry",
		zap.String("client_id", o.ClientID),
		zap.Int("retry", o.RetryCount),
		zap.Error(err))
}

// OnOrderUpdate translates one venue update into a state transition.
func (e *Engine) OnOrderUpdate(u exchange.OrderUpdate) {
	now := u.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	e.mu.Lock()
	o := e.findLocked(u.Order.ClientID, u.Order.ExchangeID)
	if o == nil {
		e.mu.Unlock()
		return
	}
	if o.ExchangeID == "" {
		o.ExchangeID = u.Order.ExchangeID
	}

	var fillQty, fillPrice float64
	switch u.Kind {
	case exchange.UpdateNew:
		_ = o.setState(StateMakerPlaced, now)
		o.TTLExpiry = now.Add(e.cfg.TTL)

	case exchange.UpdatePartiallyFilled:
		fillQty = u.FillAmount
		fillPrice = u.FillPrice
		o.FilledSize = u.Order.Filled
		_ = o.setState(StatePartialFilled, now)
		if e.partialThresholdReachedLocked(o) {
			e.queue.Offer(PriorityHigh, ReasonFill, now)
		}

	case exchange.UpdateFilled:
		fillQty = u.FillAmount
		fillPrice = u.FillPrice
		if fillQty == 0 {
			fillQty = o.Remaining()
			fillPrice = o.Price
		}
		o.FilledSize = o.OriginalSize
		_ = o.setState(StateFilled, now)
		e.stats.recordFill(now.Sub(o.PlacedTime))
		delete(e.orders, o.ClientID)
		e.queue.Offer(PriorityHigh, ReasonFill, now)

	case exchange.UpdateCanceled, exchange.UpdateExpired:
		_ = o.setState(StateCancelled, now)
		e.stats.recordCancel()
		delete(e.orders, o.ClientID)

	case exchange.UpdateRejected:
		e.mu.Unlock()
		e.handlePlaceError(o, fmt.Errorf("%w: %s", exchange.ErrRejected, o.ClientID), now)
		return
	}
	e.mu.Unlock()

	if fillQty > 0 && e.onFill != nil {
		e.onFill(o.Side, fillPrice, fillQty, now)
	}
}

func (e *Engine) partialThresholdReachedLocked(o *ManagedOrder) bool {
	if e.cfg.PartialFillThresholdPct <= 0 || o.OriginalSize <= 0 {
		return false
	}
	return o.FilledSize/o.OriginalSize*100 >= e.cfg.PartialFillThresholdPct
}

// RequestRequote queues a requote demand from the patient detector or the
// risk layer. Same-reason requests coalesce.
func (e *Engine) RequestRequote(p Priority, reason RequoteReason, now time.Time) {
	e.mu.Lock()
	e.queue.Offer(p, reason, now)
	e.mu.Unlock()
}

// Tick scans TTL expiries and retry backoffs. Returns the due requote
// request when the repost gate is open and the queue is non-empty.
func (e *Engine) Tick(ctx context.Context, now time.Time) (RequoteRequest, bool) {
	e.mu.Lock()
	expired := false
	for _, o := range e.orders {
		if o.State == StateMakerPlaced || o.State == StatePartialFilled {
			if now.After(o.TTLExpiry) {
				expired = true
				break
			}
		}
	}
	if expired {
		e.queue.Offer(PriorityLow, ReasonTTL, now)
	}

	// retry errored orders with linear backoff 1s * retry_count
	var retries []*ManagedOrder
	for _, o := range e.orders {
		if o.State == StateError && o.RetryCount <= e.cfg.MaxRetries {
			backoff := time.Duration(o.RetryCount) * time.Second
			if now.Sub(o.LastUpdate) >= backoff {
				retries = append(retries, o)
			}
		}
	}
	gateOpen := e.canPlaceLocked(now) && e.queue.Len() > 0
	e.mu.Unlock()

	for _, o := range retries {
		e.retry(ctx, o, now)
	}

	if !gateOpen {
		return RequoteRequest{}, false
	}
	e.mu.Lock()
	req, ok := e.queue.Poll()
	e.mu.Unlock()
	return req, ok
}

// retry resubmits an errored order at its original price/size.
func (e *Engine) retry(ctx context.Context, o *ManagedOrder, now time.Time) {
	e.mu.Lock()
	if err := o.setState(StatePlacing, now); err != nil {
		e.mu.Unlock()
		return
	}
	o.TTLExpiry = now.Add(e.cfg.TTL)
	e.mu.Unlock()

	placed, err := e.ex.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:      e.cfg.Symbol,
		Side:        o.Side,
		Type:        exchange.Limit,
		Amount:      o.Remaining(),
		Price:       o.Price,
		TimeInForce: exchange.GTX,
		PostOnly:    true,
		ClientID:    o.ClientID,
	})
	if err != nil {
		e.handlePlaceError(o, err, now)
		return
	}
	e.mu.Lock()
	o.ExchangeID = placed.ExchangeID
	e.mu.Unlock()
	e.stats.recordPlaced()
}

// ImproveLevel steps one resting level toward the touch after a queue-ahead
// signal. Rate-limited per order and capped at MaxImprovements.
func (e *Engine) ImproveLevel(ctx context.Context, side exchange.Side, level int, now time.Time) {
	if !e.cfg.ImprovementEnabled {
		return
	}
	e.mu.Lock()
	var target *ManagedOrder
	for _, o := range e.orders {
		if o.Side == side && o.LadderLevel == level && o.State == StateMakerPlaced {
			target = o
			break
		}
	}
	if target == nil ||
		target.improvementCount >= e.cfg.MaxImprovements ||
		now.Sub(target.lastImprovement) < improvementMinInterval {
		e.mu.Unlock()
		return
	}
	improve := float64(e.cfg.ImprovementTicks) * e.cfg.TickSize
	newPrice := target.Price + improve
	if side == exchange.Sell {
		newPrice = target.Price - improve
	}
	target.improvementCount++
	target.lastImprovement = now
	_ = target.setState(StateReplacing, now)
	e.mu.Unlock()

	e.replaceAt(ctx, target, newPrice, now)
}

// replaceAt cancels and re-posts one order at a new price.
func (e *Engine) replaceAt(ctx context.Context, o *ManagedOrder, price float64, now time.Time) {
	if o.ExchangeID != "" {
		if _, err := e.ex.CancelOrder(ctx, o.ExchangeID, e.cfg.Symbol); err != nil {
			e.handlePlaceError(o, err, now)
			return
		}
		e.stats.recordCancel()
	}
	if e.cfg.Replace == ReplaceBatch {
		time.Sleep(batchSettleDelay)
	}

	e.mu.Lock()
	o.Price = price
	o.TTLExpiry = now.Add(e.cfg.TTL)
	e.mu.Unlock()

	placed, err := e.ex.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:      e.cfg.Symbol,
		Side:        o.Side,
		Type:        exchange.Limit,
		Amount:      o.Remaining(),
		Price:       price,
		TimeInForce: exchange.GTX,
		PostOnly:    true,
		ClientID:    o.ClientID,
	})
	if err != nil {
		e.handlePlaceError(o, err, now)
		return
	}
	e.mu.Lock()
	o.ExchangeID = placed.ExchangeID
	_ = o.setState(StateMakerPlaced, now)
	e.mu.Unlock()
	e.stats.recordPlaced()
}

// CancelAll cancels every live order.
func (e *Engine) CancelAll(ctx context.Context, now time.Time) {
	e.mu.Lock()
	live := e.liveLocked()
	e.mu.Unlock()
	e.cancelOrders(ctx, live, now)
}

func (e *Engine) cancelOrders(ctx context.Context, live []*ManagedOrder, now time.Time) {
	for _, o := range live {
		e.mu.Lock()
		err := o.setState(StateCancelling, now)
		e.mu.Unlock()
		if err != nil {
			continue
		}
		if o.ExchangeID != "" {
			if _, err := e.ex.CancelOrder(ctx, o.ExchangeID, e.cfg.Symbol); err != nil {
				e.log.Warn("cancel failed", zap.String("client_id", o.ClientID), zap.Error(err))
				if e.onFailure != nil {
					e.onFailure(err)
				}
				continue
			}
		}
		e.mu.Lock()
		_ = o.setState(StateCancelled, now)
		delete(e.orders, o.ClientID)
		e.mu.Unlock()
		e.stats.recordCancel()
	}
}

// Flatten cancels all live orders and closes the net position with a market
// IOC order, then enters cooldown. Exceeding the flatten deadline returns an
// error for the controller to escalate.
func (e *Engine) Flatten(ctx context.Context, position float64, now time.Time) error {
	e.mu.Lock()
	e.flattening = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.flattening = false
		e.cooldownUntil = time.Now().Add(e.cfg.Cooldown)
		e.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.FlattenTimeout)
	defer cancel()

	e.CancelAll(ctx, now)

	if math.Abs(position) < 1e-3 {
		return nil
	}
	side := exchange.Sell
	if position < 0 {
		side = exchange.Buy
	}
	_, err := e.ex.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:      e.cfg.Symbol,
		Side:        side,
		Type:        exchange.Market,
		Amount:      math.Abs(position),
		TimeInForce: exchange.IOC,
		ReduceOnly:  true,
	})
	if err != nil {
		e.log.Error("flatten order failed", zap.Error(err))
		return fmt.Errorf("flatten: %w", err)
	}
	e.log.Info("flatten submitted",
		zap.String("side", string(side)),
		zap.Float64("qty", math.Abs(position)))
	return nil
}

// InCooldown reports whether the post-flatten cooldown is active.
func (e *Engine) InCooldown(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return now.Before(e.cooldownUntil)
}

// LiveOrders returns copies of every live order.
func (e *Engine) LiveOrders() []ManagedOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ManagedOrder, 0, len(e.orders))
	for _, o := range e.liveLocked() {
		out = append(out, *o)
	}
	return out
}

func (e *Engine) liveLocked() []*ManagedOrder {
	out := make([]*ManagedOrder, 0, len(e.orders))
	for _, o := range e.orders {
		if IsLive(o.State) {
			out = append(out, o)
		}
	}
	return out
}

func (e *Engine) findLocked(clientID, exchangeID string) *ManagedOrder {
	if o, ok := e.orders[clientID]; ok {
		return o
	}
	if exchangeID != "" {
		for _, o := range e.orders {
			if o.ExchangeID == exchangeID {
				return o
			}
		}
	}
	return nil
}

// Stats returns counters by copy.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats.snapshot()
}
