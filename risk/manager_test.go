package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stoikov-maker-go/inventory"
)

func newTestManager() *Manager {
	return NewManager(DefaultLimits(), zap.NewNop())
}

func findEvent(events []Event, kind EventKind) (Event, bool) {
	for _, ev := range events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return Event{}, false
}

func TestEvaluate_InventoryLimitFlatten(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	m.OnInventory(inventory.State{Position: 5, NavPct: 2.5})

	ev, ok := findEvent(m.Evaluate(now), EventInventoryLimit)
	require.True(t, ok, "inventory limit not raised")
	assert.Equal(t, ActionFlatten, ev.Action)
	assert.False(t, ev.Warning)
}

func TestEvaluate_InventoryWarningBelowLimit(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	// limit 2.0, warning fraction 80% -> warn above 1.6
	m.OnInventory(inventory.State{Position: 3, NavPct: 1.8})

	ev, ok := findEvent(m.Evaluate(now), EventInventoryLimit)
	require.True(t, ok)
	assert.True(t, ev.Warning)
	assert.Equal(t, ActionWarn, ev.Action)
}

func TestEvaluate_DriftLimit(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	m.OnInventory(inventory.State{Position: 1, NavPct: 0.5, DriftBps: -55})

	ev, ok := findEvent(m.Evaluate(now), EventDriftLimit)
	require.True(t, ok)
	assert.Equal(t, ActionFlatten, ev.Action)
}

func TestEvaluate_SessionDrawdownFlatten(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	m.OnPnL(100, 100, now)
	m.OnPnL(95, 95, now) // 5% session drawdown, limit 1.5%

	ev, ok := findEvent(m.Evaluate(now), EventSessionDD)
	require.True(t, ok)
	assert.Equal(t, ActionFlatten, ev.Action)
}

func TestEvaluate_DailyDrawdownStops(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	m.OnPnL(0, 100, now)
	m.OnPnL(0, 90, now) // 10% daily drawdown, limit 3%

	ev, ok := findEvent(m.Evaluate(now), EventDailyDD)
	require.True(t, ok)
	assert.Equal(t, ActionStop, ev.Action)
	assert.False(t, m.CanTrade(now), "daily DD must stop trading")
	assert.True(t, m.Snapshot(now).EmergencyStopped)
}

func TestEvaluate_NoDrawdownWhileUnderwater(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	m.OnPnL(-10, -10, now)
	m.OnPnL(-20, -20, now)

	events := m.Evaluate(now)
	if _, ok := findEvent(events, EventSessionDD); ok {
		t.Fatal("session DD raised while HWM <= 0")
	}
	if _, ok := findEvent(events, EventDailyDD); ok {
		t.Fatal("daily DD raised while HWM <= 0")
	}
}

func TestEvaluate_ConsecutiveFailures(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	for i := 0; i < 5; i++ {
		m.RecordFailure(now.Add(-time.Duration(i) * time.Second))
	}
	ev, ok := findEvent(m.Evaluate(now), EventConsecutiveFailures)
	require.True(t, ok)
	assert.Equal(t, ActionFlatten, ev.Action)

	// counter cleared after firing
	_, again := findEvent(m.Evaluate(now), EventConsecutiveFailures)
	assert.False(t, again)
}

func TestEvaluate_FailuresOutsideWindowIgnored(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	for i := 0; i < 5; i++ {
		m.RecordFailure(now.Add(-6 * time.Minute))
	}
	_, ok := findEvent(m.Evaluate(now), EventConsecutiveFailures)
	assert.False(t, ok)
}

func TestEvaluate_VolSpikeStartsCooldown(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	// baseline ~0.3, current 0.9 -> ratio ~3 above threshold 2
	for i := 0; i < 30; i++ {
		m.OnVolatility(0.3, now.Add(-time.Duration(i)*time.Minute))
	}
	m.OnVolatility(0.9, now)

	ev, ok := findEvent(m.Evaluate(now), EventVolSpike)
	require.True(t, ok)
	assert.Equal(t, ActionReduceSize, ev.Action)
	assert.False(t, m.CanTrade(now), "cooldown must gate trading")
	assert.True(t, m.CanTrade(now.Add(time.Minute)), "cooldown must expire")
}

func TestEvaluate_OrderRateWarns(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	for i := 0; i < 12; i++ {
		m.RecordOrder(now.Add(-time.Duration(i) * 50 * time.Millisecond))
	}
	ev, ok := findEvent(m.Evaluate(now), EventRateLimit)
	require.True(t, ok)
	assert.Equal(t, ActionWarn, ev.Action)
}

func TestRiskScore_Monotone(t *testing.T) {
	now := time.Now()
	prev := -1.0
	for _, nav := range []float64{0, 0.5, 1.0, 1.5, 2.0, 2.5} {
		m := newTestManager()
		m.OnInventory(inventory.State{Position: 1, NavPct: nav})
		score := m.Snapshot(now).OverallRiskScore
		if score < prev {
			t.Fatalf("score decreased with rising inventory: %v after %v", score, prev)
		}
		prev = score
	}
}

func TestRiskScore_Levels(t *testing.T) {
	now := time.Now()
	tests := []struct {
		nav      float64
		drift    float64
		expected Level
	}{
		{0, 0, LevelLow},
		{2.0, 0, LevelMedium},   // inv score 1.0 -> 0.4
		{2.0, 30, LevelHigh},    // 0.4 + 0.3*0.75 = 0.625
		{2.0, 40, LevelCritical}, // with dd contribution below still 0.7; add dd
	}
	for _, tt := range tests {
		m := newTestManager()
		m.OnInventory(inventory.State{Position: 1, NavPct: tt.nav, DriftBps: tt.drift})
		if tt.expected == LevelCritical {
			m.OnPnL(100, 100, now)
			m.OnPnL(98.5, 98.5, now) // session dd 1.5% = limit -> score +0.3
		}
		got := m.Snapshot(now).RiskLevel
		assert.Equal(t, tt.expected, got, "nav=%v drift=%v", tt.nav, tt.drift)
	}
}

func TestSizeMultiplier_ByLevel(t *testing.T) {
	now := time.Now()

	low := newTestManager()
	assert.Equal(t, 1.0, low.SizeMultiplier(now))

	med := newTestManager()
	med.OnInventory(inventory.State{Position: 1, NavPct: 2.0})
	assert.Equal(t, 0.8, med.SizeMultiplier(now))

	crit := newTestManager()
	crit.OnInventory(inventory.State{Position: 1, NavPct: 2.0, DriftBps: 40})
	crit.OnPnL(100, 100, now)
	crit.OnPnL(98, 98, now)
	assert.Equal(t, 0.0, crit.SizeMultiplier(now))
}

func TestSpreadMultiplier_CappedAtMax(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	for i := 0; i < 10; i++ {
		m.OnVolatility(0.2, now.Add(-time.Duration(i)*time.Minute))
	}
	m.OnVolatility(2.0, now) // ratio ~>5, way past the 3.0 cap
	m.OnInventory(inventory.State{Position: 1, NavPct: 2.0, DriftBps: 40})

	got := m.SpreadMultiplier(now)
	assert.LessOrEqual(t, got, DefaultLimits().MaxSpreadMultiplier)
	assert.Greater(t, got, 1.0)
}

func TestNewsStop_PausesThenResumes(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	m.NewsStop(now)
	assert.False(t, m.CanTrade(now.Add(time.Minute)))
	assert.True(t, m.CanTrade(now.Add(6*time.Minute)))
}

func TestEmergencyStopReset(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	m.EmergencyStop()
	assert.False(t, m.CanTrade(now))
	m.ResetEmergencyStop()
	assert.True(t, m.CanTrade(now))
}
