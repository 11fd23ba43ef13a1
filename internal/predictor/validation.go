package predictor

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/ilpredictor/internal/types"
)

var ErrInvalidInput = errors.New("invalid prediction input")

// Constraint names the input rule a request violated.
type Constraint string

const (
	ConstraintPricePositive  Constraint = "price_positive"
	ConstraintPriceRange     Constraint = "price_range"
	ConstraintBoundPositive  Constraint = "lower_bound_positive"
	ConstraintBoundOrder     Constraint = "bound_order"
	ConstraintBarrierRatio   Constraint = "barrier_ratio"
	ConstraintHorizonRange   Constraint = "horizon_range"
	ConstraintLiquidityDepth Constraint = "liquidity_depth"
)

const (
	MinHorizon = time.Hour
	MaxHorizon = 365 * 24 * time.Hour
)

var (
	// MinPrice and MaxPrice bound the current price a prediction accepts.
	MinPrice = sdkmath.LegacyMustNewDecFromStr("0.000000000001")
	MaxPrice = sdkmath.LegacyNewDec(1_000_000_000_000)
)

// InvalidInputError reports which constraint a request failed. It matches ErrInvalidInput.
type InvalidInputError struct {
	Constraint Constraint
	Detail     string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("%s (%s): %s", ErrInvalidInput, e.Constraint, e.Detail)
}

func (e *InvalidInputError) Is(target error) bool {
	return target == ErrInvalidInput
}

func invalid(constraint Constraint, format string, args ...interface{}) error {
	return &InvalidInputError{Constraint: constraint, Detail: fmt.Sprintf(format, args...)}
}

// validatePrice checks a current price against the supported domain.
func validatePrice(price sdkmath.LegacyDec) error {
	if price.IsNil() || !price.IsPositive() {
		return invalid(ConstraintPricePositive, "current price %s must be positive", price)
	}
	if price.LT(MinPrice) || price.GT(MaxPrice) {
		return invalid(ConstraintPriceRange, "current price %s outside [%s, %s]", price, MinPrice, MaxPrice)
	}
	return nil
}

// validateBounds checks the range bounds without reference to the current price.
func validateBounds(lower, upper sdkmath.LegacyDec) error {
	if lower.IsNil() || !lower.IsPositive() {
		return invalid(ConstraintBoundPositive, "lower bound %s must be positive", lower)
	}
	if upper.IsNil() || !lower.LT(upper) {
		return invalid(ConstraintBoundOrder, "lower bound %s must be below upper bound %s", lower, upper)
	}
	return nil
}

func (p *Predictor) validateRequest(req types.PredictionRequest, params types.PredictorParameters) error {
	if err := validatePrice(req.CurrentPrice); err != nil {
		return err
	}
	if err := validateBounds(req.LowerBound, req.UpperBound); err != nil {
		return err
	}

	minRatio := params.MinBarrierRatio.Dec()
	maxRatio := params.MaxBarrierRatio.Dec()
	for _, barrier := range []sdkmath.LegacyDec{req.LowerBound, req.UpperBound} {
		ratio := barrier.Quo(req.CurrentPrice)
		if ratio.LT(minRatio) || ratio.GT(maxRatio) {
			return invalid(ConstraintBarrierRatio, "barrier %s is %s times the current price, allowed [%s, %s]",
				barrier, ratio, minRatio, maxRatio)
		}
	}

	if req.TimeHorizon < MinHorizon || req.TimeHorizon > MaxHorizon {
		return invalid(ConstraintHorizonRange, "horizon %s outside [%s, %s]", req.TimeHorizon, MinHorizon, MaxHorizon)
	}
	return nil
}
