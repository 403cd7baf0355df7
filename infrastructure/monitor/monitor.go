// Package monitor exposes the engine's Prometheus metrics on a per-instance
// registry, so multiple bots in one process never collide.
package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus 指标收集器。
type Monitor struct {
	registry *prometheus.Registry

	// 订单指标
	ordersPlaced   prometheus.Counter
	ordersFilled   prometheus.Counter
	ordersCanceled prometheus.Counter
	ordersRejected prometheus.Counter
	fillLatency    prometheus.Histogram

	// 报价指标
	quotesGenerated *prometheus.CounterVec
	halfSpread      prometheus.Gauge
	reservation     prometheus.Gauge

	// 仓位/盈亏指标
	position      prometheus.Gauge
	navPct        prometheus.Gauge
	unrealizedPnL prometheus.Gauge
	realizedPnL   prometheus.Gauge

	// 风控指标
	riskScore    prometheus.Gauge
	riskLevel    prometheus.Gauge
	sessionDD    prometheus.Gauge
	dailyDD      prometheus.Gauge
	riskFlattens prometheus.Counter

	// 行情指标
	midPrice     prometheus.Gauge
	volatility   prometheus.Gauge
	intensity    prometheus.Gauge
	seqGaps      prometheus.Counter
	invalidBooks prometheus.Counter

	// 连接指标
	wsReconnects prometheus.Counter
}

// Config 监控配置。
type Config struct {
	Namespace string
	Subsystem string
}

func DefaultConfig() Config {
	return Config{Namespace: "mm", Subsystem: "stoikov"}
}

// New 创建 Monitor，独立 registry。
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	opts := func(name, help string) prometheus.GaugeOpts {
		return prometheus.GaugeOpts{Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help}
	}
	copts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help}
	}

	return &Monitor{
		registry: reg,

		ordersPlaced:   factory.NewCounter(copts("orders_placed_total", "订单下单总数")),
		ordersFilled:   factory.NewCounter(copts("orders_filled_total", "订单成交总数")),
		ordersCanceled: factory.NewCounter(copts("orders_canceled_total", "订单撤单总数")),
		ordersRejected: factory.NewCounter(copts("orders_rejected_total", "订单拒绝总数")),
		fillLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name:    "fill_latency_seconds",
			Help:    "挂单到成交的延迟分布（秒）",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		quotesGenerated: factory.NewCounterVec(copts("quotes_generated_total", "策略生成报价总数"), []string{"side"}),
		halfSpread:      factory.NewGauge(opts("half_spread", "当前半价差")),
		reservation:     factory.NewGauge(opts("reservation_price", "当前保留价")),

		position:      factory.NewGauge(opts("position", "当前净仓位")),
		navPct:        factory.NewGauge(opts("nav_pct", "仓位占 NAV 百分比")),
		unrealizedPnL: factory.NewGauge(opts("unrealized_pnl", "未实现盈亏")),
		realizedPnL:   factory.NewGauge(opts("realized_pnl", "已实现盈亏")),

		riskScore:    factory.NewGauge(opts("risk_score", "综合风险分 [0,1]")),
		riskLevel:    factory.NewGauge(opts("risk_level", "风险级别(0=low..3=critical)")),
		sessionDD:    factory.NewGauge(opts("session_drawdown_pct", "会话回撤百分比")),
		dailyDD:      factory.NewGauge(opts("daily_drawdown_pct", "当日回撤百分比")),
		riskFlattens: factory.NewCounter(copts("risk_flattens_total", "风控强平次数")),

		midPrice:     factory.NewGauge(opts("mid_price", "当前中间价")),
		volatility:   factory.NewGauge(opts("volatility", "年化波动率估计")),
		intensity:    factory.NewGauge(opts("trade_intensity", "成交到达率（笔/秒）")),
		seqGaps:      factory.NewCounter(copts("book_sequence_gaps_total", "盘口序号缺口总数")),
		invalidBooks: factory.NewCounter(copts("invalid_books_total", "被丢弃的无效盘口总数")),

		wsReconnects: factory.NewCounter(copts("ws_reconnects_total", "WebSocket 重连次数")),
	}
}

func (m *Monitor) RecordOrderPlaced()   { m.ordersPlaced.Inc() }
func (m *Monitor) RecordOrderFilled()   { m.ordersFilled.Inc() }
func (m *Monitor) RecordOrderCanceled() { m.ordersCanceled.Inc() }
func (m *Monitor) RecordOrderRejected() { m.ordersRejected.Inc() }

func (m *Monitor) RecordFillLatency(seconds float64) { m.fillLatency.Observe(seconds) }

func (m *Monitor) RecordQuote(side string) { m.quotesGenerated.WithLabelValues(side).Inc() }

func (m *Monitor) UpdateQuote(reservation, halfSpread float64) {
	m.reservation.Set(reservation)
	m.halfSpread.Set(halfSpread)
}

func (m *Monitor) UpdateInventory(position, navPct, unrealized, realized float64) {
	m.position.Set(position)
	m.navPct.Set(navPct)
	m.unrealizedPnL.Set(unrealized)
	m.realizedPnL.Set(realized)
}

func (m *Monitor) UpdateRisk(score float64, level int, sessionDD, dailyDD float64) {
	m.riskScore.Set(score)
	m.riskLevel.Set(float64(level))
	m.sessionDD.Set(sessionDD)
	m.dailyDD.Set(dailyDD)
}

func (m *Monitor) RecordRiskFlatten() { m.riskFlattens.Inc() }

func (m *Monitor) UpdateMarket(mid, vol, intensity float64) {
	m.midPrice.Set(mid)
	m.volatility.Set(vol)
	m.intensity.Set(intensity)
}

func (m *Monitor) RecordSeqGap()      { m.seqGaps.Inc() }
func (m *Monitor) RecordInvalidBook() { m.invalidBooks.Inc() }
func (m *Monitor) RecordWSReconnect() { m.wsReconnects.Inc() }

// Handler 返回用于暴露指标的 HTTP handler。
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回底层 registry。
func (m *Monitor) Registry() *prometheus.Registry { return m.registry }
