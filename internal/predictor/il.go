/*

This file contains the closed-form pieces of the IL model.

Impermanent loss of a constant-product position when price moves by a factor r:

	IL(r) = |2·sqrt(r)/(1+r) - 1|

Exit probability treats the price as a driftless geometric Brownian motion and, for each
barrier K, uses d2 = (ln(S/K) - σ²t/2) / (σ·sqrt(t)) with t in years. The probability mass
ending below the lower barrier is N(-d2_lower), above the upper barrier N(d2_upper).

*/

package predictor

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/ilpredictor/internal/fixedpoint"
	"github.com/elys-network/ilpredictor/internal/types"
)

// ErrDegenerateVolatility is an ErrInvalidVolatility: the estimate rounds to zero over the horizon.
var ErrDegenerateVolatility = fmt.Errorf("%w: volatility too small for the requested horizon", ErrInvalidVolatility)

const secondsPerYear = 365 * 24 * 60 * 60

var one = sdkmath.LegacyOneDec()

// ImpermanentLoss returns the fractional IL for a price ratio r = P_new / P_initial.
func ImpermanentLoss(ratio sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	if ratio.IsNil() || !ratio.IsPositive() {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: price ratio %s must be positive", fixedpoint.ErrDomain, ratio)
	}
	root, err := fixedpoint.Sqrt(ratio)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	return root.MulInt64(2).Quo(one.Add(ratio)).Sub(one).Abs(), nil
}

// yearFraction converts a horizon into years.
func yearFraction(horizon time.Duration) sdkmath.LegacyDec {
	return sdkmath.LegacyNewDec(int64(horizon / time.Second)).QuoInt64(secondsPerYear)
}

// exitMass holds the probability of ending beyond each barrier.
type exitMass struct {
	belowLower sdkmath.LegacyDec
	aboveUpper sdkmath.LegacyDec
}

// total returns the exit probability, clamped to 1.
func (m exitMass) total() sdkmath.LegacyDec {
	return fixedpoint.Min(m.belowLower.Add(m.aboveUpper), one)
}

// exitProbability computes the exit mass for a request under volatility sigma.
func exitProbability(req types.PredictionRequest, sigma sdkmath.LegacyDec) (exitMass, error) {
	t := yearFraction(req.TimeHorizon)
	sqrtT, err := fixedpoint.Sqrt(t)
	if err != nil {
		return exitMass{}, err
	}
	sigmaSqrtT := sigma.Mul(sqrtT)
	if !sigmaSqrtT.IsPositive() {
		return exitMass{}, fmt.Errorf("%w: sigma %s over %s", ErrDegenerateVolatility, sigma, req.TimeHorizon)
	}
	drift := sigma.Mul(sigma).Mul(t).QuoInt64(2)

	d2Lower, err := d2(req.CurrentPrice, req.LowerBound, drift, sigmaSqrtT)
	if err != nil {
		return exitMass{}, err
	}
	d2Upper, err := d2(req.CurrentPrice, req.UpperBound, drift, sigmaSqrtT)
	if err != nil {
		return exitMass{}, err
	}

	below, err := fixedpoint.NormalCDF(d2Lower.Neg())
	if err != nil {
		return exitMass{}, err
	}
	above, err := fixedpoint.NormalCDF(d2Upper)
	if err != nil {
		return exitMass{}, err
	}
	return exitMass{belowLower: below, aboveUpper: above}, nil
}

func d2(spot, barrier, drift, sigmaSqrtT sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	logMoneyness, err := fixedpoint.Ln(spot.Quo(barrier))
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	return logMoneyness.Sub(drift).Quo(sigmaSqrtT), nil
}

// conditionalIL averages the IL at both barriers. With probability weighting each
// barrier counts in proportion to its own exit mass.
func conditionalIL(req types.PredictionRequest, mass exitMass, weighting string) (sdkmath.LegacyDec, error) {
	ilLower, err := ImpermanentLoss(req.LowerBound.Quo(req.CurrentPrice))
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	ilUpper, err := ImpermanentLoss(req.UpperBound.Quo(req.CurrentPrice))
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}

	if weighting == types.ILWeightingProbability {
		total := mass.belowLower.Add(mass.aboveUpper)
		if total.IsPositive() {
			weighted := ilLower.Mul(mass.belowLower).Add(ilUpper.Mul(mass.aboveUpper))
			return weighted.Quo(total), nil
		}
	}
	return ilLower.Add(ilUpper).QuoInt64(2), nil
}
