package stoikov

import (
	"math"
	"time"

	"go.uber.org/zap"

	"stoikov-maker-go/inventory"
	"stoikov-maker-go/market"
)

// Quotes is one two-sided quote set. Sizes are per ladder level.
type Quotes struct {
	ReservationPrice float64
	HalfSpread       float64
	BidPrice         float64
	AskPrice         float64
	BidSize          float64
	AskSize          float64
	SkewFactor       float64
	RegimeMultiplier float64
	Timestamp        time.Time
}

// Engine owns the estimators and derives quotes on demand. All methods are
// called from the bot loop; the engine is not goroutine safe by design.
type Engine struct {
	cfg Config
	log *zap.Logger

	vol       *VolatilityEstimator
	intensity *IntensityEstimator

	lastMarket    market.State
	lastInventory inventory.State
	hasMarket     bool
	hasInventory  bool
}

// NewEngine validates cfg and builds the engine. Invalid parameters are fatal.
func NewEngine(cfg Config, log *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:       cfg,
		log:       log,
		vol:       NewVolatilityEstimator(cfg.VolatilityWindow),
		intensity: NewIntensityEstimator(cfg.IntensityWindow),
	}, nil
}

// SeedVolatility primes the estimator before live data arrives.
func (e *Engine) SeedVolatility(annualised float64) { e.vol.Seed(annualised) }

// OnMarket feeds one market state into the estimators.
func (e *Engine) OnMarket(st market.State) {
	e.vol.AddMid(st.Mid, st.Timestamp)
	e.lastMarket = st
	e.hasMarket = true
}

// OnTrade feeds one print into the intensity estimator.
func (e *Engine) OnTrade(t market.Trade) {
	e.intensity.AddTrade(t.Timestamp)
}

// OnInventory updates the inventory projection used in quoting.
func (e *Engine) OnInventory(st inventory.State) {
	e.lastInventory = st
	e.hasInventory = true
}

// Volatility returns the current annualised sigma estimate.
func (e *Engine) Volatility() float64 { return e.vol.Annualised() }

// Intensity returns the current trade arrival rate.
func (e *Engine) Intensity(now time.Time) float64 { return e.intensity.Rate(now) }

// Quote computes a quote set, or ok=false when market or inventory state is
// missing.
func (e *Engine) Quote(now time.Time) (Quotes, bool) {
	if !e.hasMarket || !e.hasInventory {
		return Quotes{}, false
	}
	mkt := e.lastMarket
	inv := e.lastInventory

	sigma := e.vol.Annualised()
	k := e.intensity.Rate(now)
	if k < intensityFloor {
		k = intensityFloor
	}
	gamma := e.cfg.Gamma
	q := inv.Position

	// reservation price: microprice or mid, nudged by book imbalance and
	// shifted down by inventory risk
	r0 := mkt.Mid
	if e.cfg.MicropriceBias {
		r0 = mkt.Microprice
	}
	r0 += e.cfg.OBIWeight * mkt.OBI * mkt.Spread / 2
	r := r0 - gamma*sigma*sigma*q

	// optimal spread, halved per side, floored by book spread and post-only
	// offset so we never quote inside our own maker buffer
	raw := gamma*sigma*sigma/(2*k) + math.Log(1+gamma/k)/gamma
	half := raw / 2
	floor := math.Max(0.3*mkt.Spread, e.cfg.PostOnlyOffset*e.cfg.TickSize)
	if half < floor {
		half = floor
	}

	// inventory skew, capped at ~10 bps, pushes r in the unload direction
	rho := 0.0
	if e.cfg.MaxInventoryPct > 0 {
		rho = inv.NavPct / e.cfg.MaxInventoryPct
	}
	skew := -math.Tanh(2*rho) * 0.001 * r0
	if q < 0 {
		skew = -skew
	} else if q == 0 {
		skew = 0
	}
	r += skew

	mult := regimeMultiplier(sigma, e.cfg.VolRegimeScaler, e.cfg.TimezoneProfile, now)
	half *= mult

	bidSize, askSize := e.sizes(q, rho)

	quotes := Quotes{
		ReservationPrice: r,
		HalfSpread:       half,
		BidPrice:         r - half,
		AskPrice:         r + half,
		BidSize:          bidSize,
		AskSize:          askSize,
		SkewFactor:       skew,
		RegimeMultiplier: mult,
		Timestamp:        now,
	}
	if quotes.BidPrice <= 0 {
		e.log.Warn("discarding quote with non-positive bid",
			zap.Float64("reservation", r),
			zap.Float64("half_spread", half))
		return Quotes{}, false
	}
	return quotes, true
}

// sizes shapes per-level sizes: shrink with inventory, skew toward the side
// that unloads, divide across ladder levels.
func (e *Engine) sizes(q, rho float64) (bid, ask float64) {
	base := e.cfg.BaseSize * e.cfg.AlphaSizeRatio
	base *= 1 - 0.5*math.Min(1, math.Abs(rho))

	bid, ask = base, base
	if q > inventory.EpsilonPosition {
		bid *= 0.7
		ask *= 1.3
	} else if q < -inventory.EpsilonPosition {
		bid *= 1.3
		ask *= 0.7
	}
	levels := float64(e.cfg.LadderLevels)
	return bid / levels, ask / levels
}
