package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Env var names for credential overrides.
const (
	EnvAPIKey    = "MM_API_KEY"
	EnvAPISecret = "MM_API_SECRET"
)

// Load reads YAML config from path, applies env overrides and validates.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	cfg = Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv injects credentials; secrets never live in the file.
func applyEnv(cfg *AppConfig) {
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.Venue.APIKey = v
	}
	if v := os.Getenv(EnvAPISecret); v != "" {
		cfg.Venue.APISecret = v
	}
}

// Default returns a conservative baseline the file overrides.
func Default() AppConfig {
	return AppConfig{
		Env: "dev",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Market: MarketConfig{
			TopNDepth:        5,
			MicropriceLevels: 3,
			ImpactNotional:   10000,
		},
		Quoting: QuotingConfig{
			Gamma:              0.6,
			VolatilityWindowMs: 60_000,
			IntensityWindowMs:  60_000,
			MaxInventoryPct:    2.0,
			PostOnlyOffset:     1,
			TTLMs:              500,
			RepostMs:           200,
			LadderLevels:       2,
			AlphaSizeRatio:     1.0,
			VolRegimeScaler:    0.5,
			TimezoneProfile:    "global",
			SeedVolatility:     0.3,
		},
		Exec: ExecConfig{
			MaxRetries:              3,
			PartialFillThresholdPct: 50,
			CooldownMs:              5000,
			FlattenTimeoutMs:        10_000,
			ReplaceStrategy:         "batch",
			ImprovementTicks:        1,
			MaxImprovements:         3,
		},
		Risk: RiskConfig{
			DriftCutBps:         40,
			SessionDDLimitPct:   1.5,
			DailyDDLimitPct:     3.0,
			MaxConsecutiveFails: 5,
			MaxOrdersPerSecond:  8,
			MaxSpreadMultiplier: 3.0,
			VolSpikeThreshold:   2.0,
			VolSpikeCooldownMs:  30_000,
			WarningFractionPct:  80,
			NewsStopDurationMs:  300_000,
		},
		Patient: PatientConfig{
			TopNThreshold:        3,
			QueueAheadRatio:      2.0,
			DriftThresholdBps:    10,
			DriftCheckIntervalMs: 250,
			MaxSessionTTLMs:      30_000,
			LevelTTLMs:           5000,
			MinRequoteIntervalMs: 300,
			JitterMs:             100,
		},
		Venue: VenueConfig{
			Name:           "binance",
			RequestWeight:  1200,
			SyncIntervalMs: 30_000,
		},
	}
}

// Validate applies structural checks beyond the stoikov parameter ranges
// (those are re-checked fatally at engine construction).
func (c AppConfig) Validate() error {
	if c.Symbol == "" {
		return errors.New("config: symbol required")
	}
	if c.NAV <= 0 {
		return errors.New("config: nav must be positive")
	}
	if c.Quoting.TickSize <= 0 {
		return errors.New("config: quoting.tickSize must be positive")
	}
	if c.Quoting.BaseSize <= 0 {
		return errors.New("config: quoting.baseSize must be positive")
	}
	if err := c.StoikovConfig().Validate(); err != nil {
		return err
	}
	switch c.Exec.ReplaceStrategy {
	case "atomic", "batch":
	default:
		return fmt.Errorf("config: unknown replace strategy %q", c.Exec.ReplaceStrategy)
	}
	if c.Patient.Enabled {
		if c.Patient.TopNThreshold <= 0 {
			return errors.New("config: patient.topNThreshold must be positive")
		}
		if c.Patient.MinRequoteIntervalMs <= 0 {
			return errors.New("config: patient.minRequoteIntervalMs must be positive")
		}
	}
	return nil
}
