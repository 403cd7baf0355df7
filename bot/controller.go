// Package bot wires the market-data processor, quoting engine, risk manager,
// execution engine and patient detector into one event loop. The loop
// goroutine is the only writer of component state; venue callbacks deliver
// messages into it.
package bot

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"stoikov-maker-go/config"
	"stoikov-maker-go/exchange"
	"stoikov-maker-go/execution"
	"stoikov-maker-go/infrastructure/monitor"
	"stoikov-maker-go/inventory"
	"stoikov-maker-go/market"
	"stoikov-maker-go/patient"
	"stoikov-maker-go/risk"
	"stoikov-maker-go/strategy/stoikov"
)

const (
	tickInterval     = 100 * time.Millisecond
	riskInterval     = time.Second
	eventBufferSize  = 1024
)

// message is the closed set of loop inputs.
type message interface{ isMessage() }

type bookMessage struct{ snap exchange.BookSnapshot }
type tradeMessage struct{ ev exchange.TradeEvent }
type orderMessage struct{ u exchange.OrderUpdate }
type errorMessage struct{ err error }

func (bookMessage) isMessage()  {}
func (tradeMessage) isMessage() {}
func (orderMessage) isMessage() {}
func (errorMessage) isMessage() {}

// Controller owns all components for one bot instance.
type Controller struct {
	cfg config.AppConfig
	log *zap.Logger
	mon *monitor.Monitor

	ex      exchange.Exchange
	proc    *market.Processor
	quoter  *stoikov.Engine
	riskMgr *risk.Manager
	exec    *execution.Engine
	patient *patient.Detector
	tracker *inventory.Tracker
	syncer  *inventory.Syncer

	filters exchange.Filters

	events chan message

	mu       sync.Mutex
	running  bool
	stopped  chan struct{}
	startPnL float64 // session realized baseline
}

// New builds and wires a controller. Construction fails on invalid quoting
// parameters.
func New(cfg config.AppConfig, ex exchange.Exchange, mon *monitor.Monitor, log *zap.Logger) (*Controller, error) {
	quoter, err := stoikov.NewEngine(cfg.StoikovConfig(), log.Named("stoikov"))
	if err != nil {
		return nil, err
	}
	if cfg.Quoting.SeedVolatility > 0 {
		quoter.SeedVolatility(cfg.Quoting.SeedVolatility)
	}

	tracker := inventory.NewTracker(cfg.NAV)
	c := &Controller{
		cfg: cfg,
		log: log,
		mon: mon,
		ex:  ex,
		proc: market.NewProcessor(market.ProcessorConfig{
			TopNDepth:        cfg.Market.TopNDepth,
			MicropriceLevels: cfg.Market.MicropriceLevels,
			ImpactNotional:   cfg.Market.ImpactNotional,
		}, log.Named("market")),
		quoter:  quoter,
		riskMgr: risk.NewManager(cfg.RiskLimits(), log.Named("risk")),
		exec:    execution.NewEngine(cfg.ExecutionConfig(), ex, log.Named("exec")),
		tracker: tracker,
		events:  make(chan message, eventBufferSize),
		stopped: make(chan struct{}),
	}
	c.syncer = inventory.NewSyncer(ex, cfg.Symbol, tracker, log.Named("inventory"))

	if cfg.Patient.Enabled {
		c.patient = patient.NewDetector(patient.Config{
			TopNThreshold:      cfg.Patient.TopNThreshold,
			QueueAheadRatio:    cfg.Patient.QueueAheadRatio,
			DriftThresholdBps:  cfg.Patient.DriftThresholdBps,
			LevelTTL:           time.Duration(cfg.Patient.LevelTTLMs) * time.Millisecond,
			SessionTTL:         time.Duration(cfg.Patient.MaxSessionTTLMs) * time.Millisecond,
			MinRequoteInterval: time.Duration(cfg.Patient.MinRequoteIntervalMs) * time.Millisecond,
			Jitter:             time.Duration(cfg.Patient.JitterMs) * time.Millisecond,
			TickSize:           cfg.Quoting.TickSize,
		}, log.Named("patient"))
	}

	c.exec.SetFillHandler(c.onFill)
	c.exec.SetFailureHandler(func(err error) {
		c.riskMgr.RecordFailure(time.Now())
		c.mon.RecordOrderRejected()
	})

	ex.SetHandlers(exchange.Handlers{
		OnBook:  func(s exchange.BookSnapshot) { c.enqueue(bookMessage{snap: s}) },
		OnTrade: func(t exchange.TradeEvent) { c.enqueue(tradeMessage{ev: t}) },
		OnOrder: func(u exchange.OrderUpdate) { c.enqueue(orderMessage{u: u}) },
		OnError: func(err error) { c.enqueue(errorMessage{err: err}) },
	})
	return c, nil
}

// enqueue delivers a message into the loop, dropping on overflow so venue
// I/O never blocks behind a slow loop.
func (c *Controller) enqueue(m message) {
	select {
	case c.events <- m:
	default:
		c.log.Warn("event queue full, dropping message")
	}
}

// Run connects, subscribes and drives the loop until ctx is done. On return
// all orders are cancelled and any residual position flattened.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("controller already running")
	}
	c.running = true
	c.mu.Unlock()
	defer close(c.stopped)

	if err := c.ex.Connect(ctx); err != nil {
		return err
	}
	defer c.ex.Disconnect()

	flt, err := c.ex.SymbolFilters(ctx, c.cfg.Symbol)
	if err != nil {
		c.log.Warn("symbol filters unavailable, using config tick", zap.Error(err))
		flt = exchange.Filters{Symbol: c.cfg.Symbol, TickSize: c.cfg.Quoting.TickSize}
	}
	c.filters = flt

	if err := c.ex.SubscribeOrderBook(c.cfg.Symbol); err != nil {
		return err
	}
	if err := c.ex.SubscribeTrades(c.cfg.Symbol); err != nil {
		return err
	}

	// initial inventory truth before quoting anything
	_ = c.syncer.Sync(ctx)
	c.startPnL = c.tracker.RealizedPnL()

	go c.syncer.Run(ctx, time.Duration(c.cfg.Venue.SyncIntervalMs)*time.Millisecond)

	c.log.Info("bot started",
		zap.String("symbol", c.cfg.Symbol),
		zap.Float64("nav", c.cfg.NAV))

	c.loop(ctx)
	return c.shutdown()
}

// loop is the single-threaded scheduler: venue messages, the engine tick and
// the risk tick all interleave here.
func (c *Controller) loop(ctx context.Context) {
	tick := time.NewTicker(tickInterval)
	defer tick.Stop()
	riskTick := time.NewTicker(riskInterval)
	defer riskTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-c.events:
			switch msg := m.(type) {
			case bookMessage:
				c.handleBook(ctx, msg.snap)
			case tradeMessage:
				c.handleTrade(msg.ev)
			case orderMessage:
				c.exec.OnOrderUpdate(msg.u)
				c.afterOrderUpdate(ctx, msg.u)
			case errorMessage:
				c.log.Warn("venue stream error", zap.Error(msg.err))
			}
		case now := <-tick.C:
			if req, ok := c.exec.Tick(ctx, now); ok {
				c.requote(ctx, now, req.Reason)
			}
		case now := <-riskTick.C:
			c.evaluateRisk(ctx, now)
		}
	}
}

// handleBook validates the snapshot and fans the derived state out.
func (c *Controller) handleBook(ctx context.Context, snap exchange.BookSnapshot) {
	book := &market.L2Book{
		Bids:      toLevels(snap.Bids),
		Asks:      toLevels(snap.Asks),
		Sequence:  snap.Sequence,
		Timestamp: snap.Timestamp,
	}
	if err := c.proc.OnBook(book); err != nil {
		c.mon.RecordInvalidBook()
		return
	}
	st, validated, ok := c.proc.Snapshot()
	if !ok {
		return
	}

	now := time.Now()
	c.quoter.OnMarket(st)
	c.tracker.MarkPrice(st.Mid)

	inv := c.tracker.State(st.Mid)
	c.quoter.OnInventory(inv)
	c.riskMgr.OnInventory(inv)

	sigma := c.quoter.Volatility()
	c.riskMgr.OnVolatility(sigma, now)
	c.mon.UpdateMarket(st.Mid, sigma, c.quoter.Intensity(now))
	c.mon.UpdateInventory(inv.Position, inv.NavPct, inv.UnrealizedPnL, c.tracker.RealizedPnL())

	sessionPnL := c.tracker.RealizedPnL() - c.startPnL + inv.UnrealizedPnL
	dailyPnL := c.tracker.RealizedPnL() + inv.UnrealizedPnL
	c.riskMgr.OnPnL(sessionPnL, dailyPnL, now)

	if c.patient != nil && c.patient.Active() {
		st.Volatility = sigma
		for _, ev := range c.patient.OnBook(validated, st, now) {
			c.handlePatientEvent(ctx, ev, now)
		}
	}

	// first quote of the session once market and inventory are both known
	if len(c.exec.LiveOrders()) == 0 && c.exec.CanPlace(now) {
		c.requote(ctx, now, execution.ReasonBookMoved)
	}
}

func (c *Controller) handlePatientEvent(ctx context.Context, ev patient.Event, now time.Time) {
	switch ev.Kind {
	case patient.EventQueueAhead:
		if c.cfg.Exec.ImprovementEnabled {
			c.exec.ImproveLevel(ctx, ev.Side, ev.Level, now)
			return
		}
		c.exec.RequestRequote(execution.PriorityMedium, execution.ReasonQueueAhead, now)
	case patient.EventTopNExit:
		c.exec.RequestRequote(execution.PriorityHigh, execution.ReasonTopNExit, now)
	case patient.EventDrift:
		c.exec.RequestRequote(execution.PriorityHigh, execution.ReasonDrift, now)
	case patient.EventLevelTTL:
		c.exec.RequestRequote(execution.PriorityLow, execution.ReasonTTL, now)
	case patient.EventSessionTTL:
		c.exec.RequestRequote(execution.PriorityMedium, execution.ReasonSessionTTL, now)
	}
}

func (c *Controller) handleTrade(ev exchange.TradeEvent) {
	side := market.TradeSell
	if ev.Side == exchange.Buy {
		side = market.TradeBuy
	}
	t := market.Trade{
		Price:     ev.Price,
		Size:      ev.Size,
		Side:      side,
		Timestamp: ev.Timestamp,
	}
	c.proc.OnTrade(t)
	c.quoter.OnTrade(t)
}

// onFill propagates one fill into inventory and metrics; the venue refresh
// happens in afterOrderUpdate on the loop goroutine.
func (c *Controller) onFill(side exchange.Side, price, qty float64, ts time.Time) {
	delta := qty
	if side == exchange.Sell {
		delta = -qty
	}
	c.tracker.Apply(delta, price, ts)
	c.mon.RecordOrderFilled()
	c.log.Info("fill",
		zap.String("side", string(side)),
		zap.Float64("price", price),
		zap.Float64("qty", qty))
}

// afterOrderUpdate refreshes venue truth after fills and keeps counters.
func (c *Controller) afterOrderUpdate(ctx context.Context, u exchange.OrderUpdate) {
	switch u.Kind {
	case exchange.UpdateFilled, exchange.UpdatePartiallyFilled:
		_ = c.syncer.Sync(ctx)
		inv := c.tracker.State(0)
		c.quoter.OnInventory(inv)
		c.riskMgr.OnInventory(inv)
	case exchange.UpdateCanceled, exchange.UpdateExpired:
		c.mon.RecordOrderCanceled()
	}
}

// requote asks the quoting engine for fresh prices, applies risk
// multipliers and venue filters, and replaces the ladder.
func (c *Controller) requote(ctx context.Context, now time.Time, reason execution.RequoteReason) {
	if !c.riskMgr.CanTrade(now) || c.exec.InCooldown(now) {
		return
	}
	q, ok := c.quoter.Quote(now)
	if !ok {
		return
	}

	sm := c.riskMgr.SpreadMultiplier(now)
	nm := c.riskMgr.SizeMultiplier(now)
	if nm == 0 {
		c.log.Warn("risk critical, quoting suppressed")
		return
	}
	q.HalfSpread *= sm
	q.BidPrice = q.ReservationPrice - q.HalfSpread
	q.AskPrice = q.ReservationPrice + q.HalfSpread
	q.BidSize *= nm
	q.AskSize *= nm

	// venue filters: bid down, ask up, sizes down to lot, min-notional bump
	q.BidPrice = c.filters.RoundPrice(q.BidPrice, exchange.Buy)
	q.AskPrice = c.filters.RoundPrice(q.AskPrice, exchange.Sell)
	q.BidSize = c.filters.BumpToMinNotional(q.BidPrice, c.filters.RoundSize(q.BidSize))
	q.AskSize = c.filters.BumpToMinNotional(q.AskPrice, c.filters.RoundSize(q.AskSize))
	if err := c.filters.Validate(q.BidPrice, q.BidSize); err != nil {
		c.log.Warn("bid rejected by filters", zap.Error(err))
		return
	}
	if err := c.filters.Validate(q.AskPrice, q.AskSize); err != nil {
		c.log.Warn("ask rejected by filters", zap.Error(err))
		return
	}

	if err := c.exec.PlaceLadder(ctx, q, now); err != nil {
		return
	}
	for i := 0; i < c.cfg.Quoting.LadderLevels*2; i++ {
		c.riskMgr.RecordOrder(now)
		c.mon.RecordOrderPlaced()
	}
	c.mon.RecordQuote("bid")
	c.mon.RecordQuote("ask")
	c.mon.UpdateQuote(q.ReservationPrice, q.HalfSpread)

	if c.patient != nil {
		st, _, ok := c.proc.Snapshot()
		if ok {
			snap := c.patient.BeginSession(st.Mid, now)
			ttl := time.Duration(c.cfg.Patient.LevelTTLMs) * time.Millisecond
			for _, o := range c.exec.LiveOrders() {
				snap.AddLevel(patient.LevelKey{Side: o.Side, Level: o.LadderLevel}, o.Price, o.OriginalSize, ttl)
			}
		}
	}
	c.log.Debug("ladder replaced",
		zap.String("reason", string(reason)),
		zap.Float64("bid", q.BidPrice),
		zap.Float64("ask", q.AskPrice))
}

// evaluateRisk runs the limit table and acts on raised events.
func (c *Controller) evaluateRisk(ctx context.Context, now time.Time) {
	events := c.riskMgr.Evaluate(now)
	m := c.riskMgr.Snapshot(now)
	c.mon.UpdateRisk(m.OverallRiskScore, levelIndex(m.RiskLevel), m.SessionDDPct, m.DailyDDPct)

	for _, ev := range events {
		if ev.Warning {
			continue
		}
		switch ev.Action {
		case risk.ActionFlatten:
			c.flatten(ctx, now)
		case risk.ActionStop:
			c.riskMgr.EmergencyStop()
			c.flatten(ctx, now)
		case risk.ActionReduceSize:
			// multipliers already shrink the next ladder; nothing to undo here
		case risk.ActionPause:
			c.riskMgr.NewsStop(now)
		}
	}
}

// flatten closes the book and position, escalating to emergency stop when
// the flatten deadline is exceeded.
func (c *Controller) flatten(ctx context.Context, now time.Time) {
	if c.patient != nil {
		c.patient.EndSession()
	}
	pos := c.tracker.State(0).Position
	c.mon.RecordRiskFlatten()
	if err := c.exec.Flatten(ctx, pos, now); err != nil {
		c.log.Error("flatten failed, escalating to emergency stop", zap.Error(err))
		c.riskMgr.EmergencyStop()
		return
	}
	_ = c.syncer.Sync(ctx)
}

// ReloadLimits swaps the risk limit record (config hot reload).
func (c *Controller) ReloadLimits(l risk.Limits) {
	c.riskMgr.SetLimits(l)
	c.log.Info("risk limits reloaded")
}

// shutdown cancels live orders and flattens any residual position.
func (c *Controller) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now()
	c.exec.CancelAll(ctx, now)
	_ = c.syncer.Sync(ctx)

	st := c.tracker.State(0)
	if math.Abs(st.Position) >= inventory.EpsilonPosition {
		c.log.Info("flattening on shutdown", zap.Float64("position", st.Position))
		if err := c.exec.Flatten(ctx, st.Position, now); err != nil {
			return err
		}
	}
	c.log.Info("bot stopped")
	return nil
}

func toLevels(raw []exchange.BookLevel) []market.PriceLevel {
	out := make([]market.PriceLevel, 0, len(raw))
	for _, lv := range raw {
		out = append(out, market.PriceLevel{Price: lv.Price, Size: lv.Size})
	}
	return out
}

func levelIndex(l risk.Level) int {
	switch l {
	case risk.LevelCritical:
		return 3
	case risk.LevelHigh:
		return 2
	case risk.LevelMedium:
		return 1
	default:
		return 0
	}
}
