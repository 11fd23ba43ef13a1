package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// EstimatorState describes where a volatility estimator is in its lifecycle.
type EstimatorState string

const (
	StateInsufficientData EstimatorState = "INSUFFICIENT_DATA"
	StateEstimating       EstimatorState = "ESTIMATING"
	StateStale            EstimatorState = "STALE"
)

// VolatilitySource says where the value of an estimate came from.
type VolatilitySource string

const (
	SourceComputed VolatilitySource = "computed"
	SourceOverride VolatilitySource = "override"
	SourceNone     VolatilitySource = "none"
)

// VolatilityMethod is the variance estimator used for a computed estimate.
type VolatilityMethod string

const (
	MethodSample VolatilityMethod = "sample"
	MethodEWMA   VolatilityMethod = "ewma"
)

// VolatilityEstimate is an immutable snapshot of annualized volatility.
// A zero Value means no estimate is available.
type VolatilityEstimate struct {
	Value          sdkmath.LegacyDec `json:"value"`                     // annualized, e.g., 0.5 = 50%
	Confidence     BasisPoints       `json:"confidence_bps"`            // 0..10000
	DataPoints     int               `json:"data_points"`               // observations used
	IsStale        bool              `json:"is_stale"`                  // older than the staleness threshold
	ComputedAt     time.Time         `json:"computed_at"`               // time of the recompute (or override)
	Source         VolatilitySource  `json:"source"`                    // computed, override or none
	Method         VolatilityMethod  `json:"method,omitempty"`          // sample or ewma
	CircuitBreaker bool              `json:"circuit_breaker,omitempty"` // raw value was capped
}

// HasValue reports whether the estimate carries a usable (positive) volatility.
func (v VolatilityEstimate) HasValue() bool {
	return !v.Value.IsNil() && v.Value.IsPositive()
}
