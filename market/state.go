package market

import "time"

// State is the derived per-book snapshot published by the processor.
// Volatility and Intensity are filled in by the quoting engine's estimators.
type State struct {
	Mid         float64
	Microprice  float64
	Spread      float64
	SpreadBps   float64
	OBI         float64 // [-1, 1]
	TopBidDepth float64
	TopAskDepth float64
	WeightedMid float64
	ImpactBid   float64 // avg fill price for configured notional, buy side
	ImpactAsk   float64
	Volatility  float64 // annualised, set by the estimator
	Intensity   float64 // trades/sec, set by the estimator
	Timestamp   time.Time
}
