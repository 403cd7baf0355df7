package risk

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"stoikov-maker-go/inventory"
)

const (
	failureWindow  = 5 * time.Minute
	baselineWindow = time.Hour
	rateWindow     = time.Second
)

type volSample struct {
	sigma float64
	ts    time.Time
}

// Manager 聚合库存/回撤/波动率信号，产出交易闸门与乘数。
// 计数器与水位线由 Manager 独占，外部只读快照。
type Manager struct {
	limits Limits
	log    *zap.Logger

	mu sync.RWMutex

	inv inventory.State

	sessionDD drawdownTracker
	dailyDD   drawdownTracker
	dailyDay  int // UTC yday of the daily tracker

	failures   []time.Time
	orderTimes []time.Time
	volSamples []volSample
	sigmaNow   float64

	cooldownUntil    time.Time
	newsStopUntil    time.Time
	emergencyStopped bool
}

func NewManager(limits Limits, log *zap.Logger) *Manager {
	return &Manager{limits: limits, log: log}
}

// SetLimits swaps the limit record (hot reload path).
func (m *Manager) SetLimits(l Limits) {
	m.mu.Lock()
	m.limits = l
	m.mu.Unlock()
}

// OnInventory records the latest inventory projection.
func (m *Manager) OnInventory(st inventory.State) {
	m.mu.Lock()
	m.inv = st
	m.mu.Unlock()
}

// OnPnL records session and daily realized+unrealized PnL.
func (m *Manager) OnPnL(sessionPnL, dailyPnL float64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked(now)
	m.sessionDD.update(sessionPnL)
	m.dailyDD.update(dailyPnL)
}

// OnVolatility records one annualised sigma sample for the spike baseline.
func (m *Manager) OnVolatility(sigma float64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sigmaNow = sigma
	m.volSamples = append(m.volSamples, volSample{sigma: sigma, ts: now})
}

// RecordFailure counts one venue failure toward the burst limit.
func (m *Manager) RecordFailure(now time.Time) {
	m.mu.Lock()
	m.failures = append(m.failures, now)
	m.mu.Unlock()
}

// RecordOrder counts one outbound order toward the rate cap.
func (m *Manager) RecordOrder(now time.Time) {
	m.mu.Lock()
	m.orderTimes = append(m.orderTimes, now)
	m.mu.Unlock()
}

// EmergencyStop halts trading until ResetEmergencyStop.
func (m *Manager) EmergencyStop() {
	m.mu.Lock()
	m.emergencyStopped = true
	m.mu.Unlock()
	m.log.Error("emergency stop engaged")
}

// ResetEmergencyStop clears the stop and any running cooldown.
func (m *Manager) ResetEmergencyStop() {
	m.mu.Lock()
	m.emergencyStopped = false
	m.cooldownUntil = time.Time{}
	m.mu.Unlock()
	m.log.Warn("emergency stop reset")
}

// NewsStop pauses trading for the configured duration.
func (m *Manager) NewsStop(now time.Time) {
	m.mu.Lock()
	until := now.Add(m.limits.NewsStopDuration)
	m.newsStopUntil = until
	m.mu.Unlock()
	m.log.Warn("news stop engaged", zap.Time("until", until))
}

// StartCooldown blocks new quotes until now + d.
func (m *Manager) StartCooldown(now time.Time, d time.Duration) {
	m.mu.Lock()
	m.cooldownUntil = now.Add(d)
	m.mu.Unlock()
}

// CanTrade is true iff not emergency-stopped, not news-stopped and not in
// cooldown.
func (m *Manager) CanTrade(now time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.emergencyStopped && now.After(m.newsStopUntil) && now.After(m.cooldownUntil)
}

// Evaluate runs the limit table and returns raised events in table order,
// not sorted by severity; callers act on every event.
func (m *Manager) Evaluate(now time.Time) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupLocked(now)
	m.rolloverLocked(now)

	var events []Event
	emit := func(kind EventKind, action Action, value, limit float64) {
		ev, ok := m.checkLocked(kind, action, value, limit, now)
		if ok {
			events = append(events, ev)
		}
	}

	emit(EventInventoryLimit, ActionFlatten, math.Abs(m.inv.NavPct), m.limits.MaxInventoryPct)
	emit(EventDriftLimit, ActionFlatten, math.Abs(m.inv.DriftBps), m.limits.DriftCutBps)
	emit(EventSessionDD, ActionFlatten, m.sessionDD.drawdownPct(), m.limits.SessionDDLimitPct)

	if dd := m.dailyDD.drawdownPct(); m.limits.DailyDDLimitPct > 0 && dd > m.limits.DailyDDLimitPct {
		events = append(events, Event{Kind: EventDailyDD, Action: ActionStop, Value: dd, Limit: m.limits.DailyDDLimitPct, Timestamp: now})
		m.emergencyStopped = true
	}

	if n := len(m.failures); m.limits.MaxConsecutiveFails > 0 && n >= m.limits.MaxConsecutiveFails {
		events = append(events, Event{Kind: EventConsecutiveFailures, Action: ActionFlatten, Value: float64(n), Limit: float64(m.limits.MaxConsecutiveFails), Timestamp: now})
		m.failures = m.failures[:0]
	}

	if ratio := m.volSpikeRatioLocked(); m.limits.VolSpikeThreshold > 0 && ratio > m.limits.VolSpikeThreshold {
		events = append(events, Event{Kind: EventVolSpike, Action: ActionReduceSize, Value: ratio, Limit: m.limits.VolSpikeThreshold, Timestamp: now})
		m.cooldownUntil = now.Add(m.limits.VolSpikeCooldown)
	}

	if rate := m.orderRateLocked(now); m.limits.MaxOrdersPerSecond > 0 && rate > m.limits.MaxOrdersPerSecond {
		events = append(events, Event{Kind: EventRateLimit, Action: ActionWarn, Value: rate, Limit: m.limits.MaxOrdersPerSecond, Timestamp: now})
	}

	for _, ev := range events {
		if ev.Warning {
			m.log.Warn("risk warning", zap.String("kind", string(ev.Kind)),
				zap.Float64("value", ev.Value), zap.Float64("limit", ev.Limit))
		} else {
			m.log.Error("risk limit breached", zap.String("kind", string(ev.Kind)),
				zap.String("action", string(ev.Action)),
				zap.Float64("value", ev.Value), zap.Float64("limit", ev.Limit))
		}
	}
	return events
}

// checkLocked applies the limit-then-warning ladder for one numeric signal.
func (m *Manager) checkLocked(kind EventKind, action Action, value, limit float64, now time.Time) (Event, bool) {
	if limit <= 0 {
		return Event{}, false
	}
	if value > limit {
		return Event{Kind: kind, Action: action, Value: value, Limit: limit, Timestamp: now}, true
	}
	warnAt := limit * m.limits.WarningFractionPct / 100
	if m.limits.WarningFractionPct > 0 && value > warnAt {
		return Event{Kind: kind, Action: ActionWarn, Warning: true, Value: value, Limit: limit, Timestamp: now}, true
	}
	return Event{}, false
}

// Snapshot returns current metrics by copy.
func (m *Manager) Snapshot(now time.Time) Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	score, level := m.scoreLocked()
	return Metrics{
		InventoryPct:        m.inv.NavPct,
		DriftBps:            m.inv.DriftBps,
		SessionDDPct:        m.sessionDD.drawdownPct(),
		DailyDDPct:          m.dailyDD.drawdownPct(),
		ConsecutiveFailures: len(m.failures),
		OrdersPerSecond:     m.orderRateLocked(now),
		VolSpikeRatio:       m.volSpikeRatioLocked(),
		OverallRiskScore:    score,
		RiskLevel:           level,
		IsFlat:              m.inv.IsFlat(),
		InCooldown:          now.Before(m.cooldownUntil),
		EmergencyStopped:    m.emergencyStopped,
	}
}

// SizeMultiplier maps risk level to the quote size multiplier.
func (m *Manager) SizeMultiplier(now time.Time) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, level := m.scoreLocked()
	switch level {
	case LevelCritical:
		return 0
	case LevelHigh:
		return 0.5
	case LevelMedium:
		return 0.8
	default:
		return 1.0
	}
}

// SpreadMultiplier widens quotes under spikes and elevated risk, capped at
// the configured maximum.
func (m *Manager) SpreadMultiplier(now time.Time) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	base := 1.0
	if ratio := m.volSpikeRatioLocked(); ratio > 1.5 {
		base = math.Max(1, ratio)
	}
	extra := 1.0
	switch _, level := m.scoreLocked(); level {
	case LevelHigh:
		extra = 1.5
	case LevelCritical:
		extra = 2.0
	}
	mult := base * extra
	if m.limits.MaxSpreadMultiplier > 0 && mult > m.limits.MaxSpreadMultiplier {
		mult = m.limits.MaxSpreadMultiplier
	}
	return mult
}

// scoreLocked combines the normalized component scores:
// 0.4*inventory + 0.3*drift + 0.3*drawdown.
func (m *Manager) scoreLocked() (float64, Level) {
	invScore := 0.0
	if m.limits.MaxInventoryPct > 0 {
		invScore = clamp01(math.Abs(m.inv.NavPct) / m.limits.MaxInventoryPct)
	}
	driftScore := 0.0
	if m.limits.DriftCutBps > 0 {
		driftScore = clamp01(math.Abs(m.inv.DriftBps) / m.limits.DriftCutBps)
	}
	ddScore := 0.0
	if m.limits.SessionDDLimitPct > 0 {
		ddScore = clamp01(m.sessionDD.drawdownPct() / m.limits.SessionDDLimitPct)
	}
	score := 0.4*invScore + 0.3*driftScore + 0.3*ddScore
	switch {
	case score >= 0.8:
		return score, LevelCritical
	case score >= 0.6:
		return score, LevelHigh
	case score >= 0.3:
		return score, LevelMedium
	default:
		return score, LevelLow
	}
}

// volSpikeRatioLocked compares current sigma with the simple 1h mean.
func (m *Manager) volSpikeRatioLocked() float64 {
	if len(m.volSamples) == 0 || m.sigmaNow <= 0 {
		return 0
	}
	var sum float64
	for _, s := range m.volSamples {
		sum += s.sigma
	}
	baseline := sum / float64(len(m.volSamples))
	if baseline <= 0 {
		return 0
	}
	return m.sigmaNow / baseline
}

func (m *Manager) orderRateLocked(now time.Time) float64 {
	cutoff := now.Add(-rateWindow)
	n := 0
	for _, ts := range m.orderTimes {
		if ts.After(cutoff) {
			n++
		}
	}
	return float64(n)
}

// cleanupLocked prunes the time-windowed buffers.
func (m *Manager) cleanupLocked(now time.Time) {
	m.failures = pruneTimes(m.failures, now.Add(-failureWindow))
	m.orderTimes = pruneTimes(m.orderTimes, now.Add(-rateWindow))
	cutoff := now.Add(-baselineWindow)
	i := 0
	for ; i < len(m.volSamples); i++ {
		if m.volSamples[i].ts.After(cutoff) {
			break
		}
	}
	if i > 0 {
		m.volSamples = m.volSamples[i:]
	}
}

// rolloverLocked resets the daily tracker at UTC midnight.
func (m *Manager) rolloverLocked(now time.Time) {
	day := now.UTC().YearDay()
	if m.dailyDay == 0 {
		m.dailyDay = day
		return
	}
	if day != m.dailyDay {
		m.dailyDay = day
		m.dailyDD.reset()
		m.log.Info("daily risk counters reset")
	}
}

func pruneTimes(buf []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(buf); i++ {
		if buf[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		return buf[i:]
	}
	return buf
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
