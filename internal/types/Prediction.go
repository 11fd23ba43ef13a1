/*

This file contains the request, result and event types of the IL predictor.

*/

package types

import (
	"errors"
	"time"

	sdkmath "cosmossdk.io/math"
)

var ErrInvalidRequest = errors.New("lower bound must be positive and below upper bound")

// PredictionRequest describes a range position and the horizon to predict over.
type PredictionRequest struct {
	CurrentPrice sdkmath.LegacyDec `json:"current_price"`
	LowerBound   sdkmath.LegacyDec `json:"lower_bound"`
	UpperBound   sdkmath.LegacyDec `json:"upper_bound"`
	TimeHorizon  time.Duration     `json:"time_horizon"`
}

// NewPredictionRequest builds a request, rejecting bounds that are out of order.
// The remaining input checks (price range, barrier ratios, horizon) belong to the predictor.
func NewPredictionRequest(current, lower, upper sdkmath.LegacyDec, horizon time.Duration) (PredictionRequest, error) {
	if lower.IsNil() || upper.IsNil() || current.IsNil() {
		return PredictionRequest{}, ErrInvalidRequest
	}
	if !lower.IsPositive() || !lower.LT(upper) {
		return PredictionRequest{}, ErrInvalidRequest
	}
	return PredictionRequest{
		CurrentPrice: current,
		LowerBound:   lower,
		UpperBound:   upper,
		TimeHorizon:  horizon,
	}, nil
}

// Equal reports whether two requests have identical inputs.
func (r PredictionRequest) Equal(other PredictionRequest) bool {
	return r.TimeHorizon == other.TimeHorizon &&
		r.CurrentPrice.Equal(other.CurrentPrice) &&
		r.LowerBound.Equal(other.LowerBound) &&
		r.UpperBound.Equal(other.UpperBound)
}

// PredictionResult holds the outcome of a horizon prediction, in basis points.
type PredictionResult struct {
	ExpectedIL      BasisPoints `json:"expected_il_bps"`
	ExitProbability BasisPoints `json:"exit_probability_bps"`
	Confidence      BasisPoints `json:"confidence_bps"`
}

// PerturbationResult is the outcome of a single hypothetical trade against the pool.
type PerturbationResult struct {
	PriceImpact BasisPoints       `json:"price_impact_bps"`
	NewPrice    sdkmath.LegacyDec `json:"new_price"`
	ExitsRange  bool              `json:"exits_range"`
	ExpectedIL  BasisPoints       `json:"expected_il_bps"`
}

// PredictionEvent is published every time a prediction is computed.
type PredictionEvent struct {
	ID         string             `json:"id"`
	Series     string             `json:"series"`
	Request    PredictionRequest  `json:"request"`
	Result     PredictionResult   `json:"result"`
	Volatility VolatilityEstimate `json:"volatility"`
	EmittedAt  time.Time          `json:"emitted_at"`
}
