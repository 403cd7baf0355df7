// Package config loads, validates and watches the bot's YAML configuration.
// Durations are configured in milliseconds, matching the venue-facing knobs.
package config

import (
	"time"

	"stoikov-maker-go/execution"
	"stoikov-maker-go/risk"
	"stoikov-maker-go/strategy/stoikov"
)

// AppConfig is the full runtime configuration.
type AppConfig struct {
	Env     string        `yaml:"env"`
	Symbol  string        `yaml:"symbol"`
	NAV     float64       `yaml:"nav"` // quote units
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Venue   VenueConfig   `yaml:"venue"`
	Market  MarketConfig  `yaml:"market"`
	Quoting QuotingConfig `yaml:"quoting"`
	Exec    ExecConfig    `yaml:"execution"`
	Risk    RiskConfig    `yaml:"risk"`
	Patient PatientConfig `yaml:"patient"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the endpoint
}

// VenueConfig holds adapter settings. Credentials come from env overrides,
// never from the file.
type VenueConfig struct {
	Name          string `yaml:"name"`
	APIKey        string `yaml:"-"`
	APISecret     string `yaml:"-"`
	BaseURL       string `yaml:"baseURL"`
	WSURL         string `yaml:"wsURL"`
	RequestWeight int    `yaml:"requestWeightPerMin"`
	SyncIntervalMs int   `yaml:"syncIntervalMs"`
}

type MarketConfig struct {
	TopNDepth        int     `yaml:"topNDepth"`
	MicropriceLevels int     `yaml:"micropriceLevels"`
	ImpactNotional   float64 `yaml:"impactNotional"`
}

type QuotingConfig struct {
	Gamma              float64 `yaml:"gamma"`
	VolatilityWindowMs int     `yaml:"volatilityWindowMs"`
	IntensityWindowMs  int     `yaml:"intensityWindowMs"`
	MaxInventoryPct    float64 `yaml:"maxInventoryPct"`
	MicropriceBias     bool    `yaml:"micropriceBias"`
	ObiWeight          float64 `yaml:"obiWeight"`
	PostOnlyOffset     float64 `yaml:"postOnlyOffset"`
	TickSize           float64 `yaml:"tickSize"`
	TTLMs              int     `yaml:"ttlMs"`
	RepostMs           int     `yaml:"repostMs"`
	LadderLevels       int     `yaml:"ladderLevels"`
	BaseSize           float64 `yaml:"baseSize"`
	AlphaSizeRatio     float64 `yaml:"alphaSizeRatio"`
	VolRegimeScaler    float64 `yaml:"volRegimeScaler"`
	TimezoneProfile    string  `yaml:"timezoneProfile"`
	SeedVolatility     float64 `yaml:"seedVolatility"`
}

type ExecConfig struct {
	MaxRetries              int     `yaml:"maxRetries"`
	PartialFillThresholdPct float64 `yaml:"partialFillThresholdPct"`
	CooldownMs              int     `yaml:"cooldownMs"`
	FlattenTimeoutMs        int     `yaml:"flattenTimeoutMs"`
	ReplaceStrategy         string  `yaml:"replaceStrategy"`
	ImprovementEnabled      bool    `yaml:"improvementEnabled"`
	ImprovementTicks        int     `yaml:"improvementTicks"`
	MaxImprovements         int     `yaml:"maxImprovements"`
}

type RiskConfig struct {
	DriftCutBps         float64 `yaml:"driftCutBps"`
	SessionDDLimitPct   float64 `yaml:"sessionDDLimitPct"`
	DailyDDLimitPct     float64 `yaml:"dailyDDLimitPct"`
	MaxConsecutiveFails int     `yaml:"maxConsecutiveFails"`
	MaxOrdersPerSecond  float64 `yaml:"maxOrdersPerSecond"`
	MaxSpreadMultiplier float64 `yaml:"maxSpreadMultiplier"`
	VolSpikeThreshold   float64 `yaml:"volSpikeThreshold"`
	VolSpikeCooldownMs  int     `yaml:"volSpikeCooldownMs"`
	WarningFractionPct  float64 `yaml:"warningFractionPct"`
	NewsStopDurationMs  int     `yaml:"newsStopDurationMs"`
}

type PatientConfig struct {
	Enabled              bool    `yaml:"enabled"`
	TopNThreshold        int     `yaml:"topNThreshold"`
	QueueAheadRatio      float64 `yaml:"queueAheadThresholdRatio"`
	DriftThresholdBps    float64 `yaml:"driftThresholdBps"`
	DriftCheckIntervalMs int     `yaml:"driftCheckIntervalMs"`
	MaxSessionTTLMs      int     `yaml:"maxSessionTtlMs"`
	LevelTTLMs           int     `yaml:"levelTtlMs"`
	MinRequoteIntervalMs int     `yaml:"minRequoteIntervalMs"`
	JitterMs             int     `yaml:"jitterMs"`
}

// StoikovConfig builds the engine parameter set.
func (c AppConfig) StoikovConfig() stoikov.Config {
	return stoikov.Config{
		Gamma:            c.Quoting.Gamma,
		VolatilityWindow: ms(c.Quoting.VolatilityWindowMs),
		IntensityWindow:  ms(c.Quoting.IntensityWindowMs),
		MaxInventoryPct:  c.Quoting.MaxInventoryPct,
		MicropriceBias:   c.Quoting.MicropriceBias,
		OBIWeight:        c.Quoting.ObiWeight,
		PostOnlyOffset:   c.Quoting.PostOnlyOffset,
		TickSize:         c.Quoting.TickSize,
		TTL:              ms(c.Quoting.TTLMs),
		Repost:           ms(c.Quoting.RepostMs),
		LadderLevels:     c.Quoting.LadderLevels,
		BaseSize:         c.Quoting.BaseSize,
		AlphaSizeRatio:   c.Quoting.AlphaSizeRatio,
		VolRegimeScaler:  c.Quoting.VolRegimeScaler,
		TimezoneProfile:  stoikov.TimezoneProfile(c.Quoting.TimezoneProfile),
	}
}

// RiskLimits builds the risk limit record.
func (c AppConfig) RiskLimits() risk.Limits {
	return risk.Limits{
		MaxInventoryPct:     c.Quoting.MaxInventoryPct,
		DriftCutBps:         c.Risk.DriftCutBps,
		SessionDDLimitPct:   c.Risk.SessionDDLimitPct,
		DailyDDLimitPct:     c.Risk.DailyDDLimitPct,
		MaxConsecutiveFails: c.Risk.MaxConsecutiveFails,
		MaxOrdersPerSecond:  c.Risk.MaxOrdersPerSecond,
		MaxSpreadMultiplier: c.Risk.MaxSpreadMultiplier,
		VolSpikeThreshold:   c.Risk.VolSpikeThreshold,
		VolSpikeCooldown:    ms(c.Risk.VolSpikeCooldownMs),
		WarningFractionPct:  c.Risk.WarningFractionPct,
		NewsStopDuration:    ms(c.Risk.NewsStopDurationMs),
	}
}

// ExecutionConfig builds the execution engine configuration.
func (c AppConfig) ExecutionConfig() execution.Config {
	return execution.Config{
		Symbol:                  c.Symbol,
		LadderLevels:            c.Quoting.LadderLevels,
		PostOnlyOffset:          c.Quoting.PostOnlyOffset,
		TickSize:                c.Quoting.TickSize,
		TTL:                     ms(c.Quoting.TTLMs),
		Repost:                  ms(c.Quoting.RepostMs),
		MaxRetries:              c.Exec.MaxRetries,
		PartialFillThresholdPct: c.Exec.PartialFillThresholdPct,
		Cooldown:                ms(c.Exec.CooldownMs),
		FlattenTimeout:          ms(c.Exec.FlattenTimeoutMs),
		Replace:                 execution.ReplaceStrategy(c.Exec.ReplaceStrategy),
		ImprovementEnabled:      c.Exec.ImprovementEnabled,
		ImprovementTicks:        c.Exec.ImprovementTicks,
		MaxImprovements:         c.Exec.MaxImprovements,
	}
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
