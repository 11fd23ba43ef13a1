package analyzer

import (
	"errors"
	"fmt"
	"sort"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/ilpredictor/internal/fixedpoint"
	"github.com/elys-network/ilpredictor/internal/types"
)

// ErrInsufficientData indicates that not enough data points were provided
// to calculate volatility (need at least 2 points for 1 return, 3 for a sample variance).
var ErrInsufficientData = errors.New("insufficient data points to calculate volatility")

const year = 365 * 24 * time.Hour

// CalculateVolatility calculates the annualized historical volatility from a series of price data.
// The input is copied and sorted chronologically, the caller's slice is left untouched.
// It uses logarithmic returns and the Bessel-corrected sample standard deviation.
// periodsPerYear should match the frequency of the data (e.g., 8760 for hourly, 365 for daily),
// 0 infers it from the mean spacing of the timestamps.
func CalculateVolatility(prices []types.PriceObservation, periodsPerYear int64) (sdkmath.LegacyDec, error) {
	sorted, periods, err := prepareSeries(prices, periodsPerYear)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}

	// --- Calculate Logarithmic Returns ---
	logReturns, err := calculateLogReturns(sorted)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	numReturns := int64(len(logReturns))
	if numReturns < 2 {
		return sdkmath.LegacyZeroDec(), ErrInsufficientData
	}

	// --- Calculate Standard Deviation of Log Returns ---
	// 1. Calculate the mean (average)
	sum := sdkmath.LegacyZeroDec()
	for _, r := range logReturns {
		sum = sum.Add(r)
	}
	mean := sum.QuoInt64(numReturns)

	// 2. Calculate sum of squared differences from the mean
	sumSqDiff := sdkmath.LegacyZeroDec()
	for _, r := range logReturns {
		diff := r.Sub(mean)
		sumSqDiff = sumSqDiff.Add(diff.Mul(diff))
	}

	// 3. Calculate variance (sample variance, N-1)
	variance := sumSqDiff.QuoInt64(numReturns - 1)

	return annualize(variance, periods)
}

// CalculateEWMAVolatility calculates annualized volatility from an exponentially weighted
// (RiskMetrics style, zero mean) variance of log returns: v = λ·v + (1-λ)·r².
func CalculateEWMAVolatility(prices []types.PriceObservation, lambda types.BasisPoints, periodsPerYear int64) (sdkmath.LegacyDec, error) {
	if lambda == 0 || lambda >= types.MaxBasisPoints {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: ewma lambda %d bps must be in (0, 10000)", ErrInvalidEstimatorParameters, lambda)
	}
	sorted, periods, err := prepareSeries(prices, periodsPerYear)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}

	logReturns, err := calculateLogReturns(sorted)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	if len(logReturns) < 2 {
		return sdkmath.LegacyZeroDec(), ErrInsufficientData
	}

	decay := lambda.Dec()
	weight := sdkmath.LegacyOneDec().Sub(decay)
	variance := logReturns[0].Mul(logReturns[0])
	for _, r := range logReturns[1:] {
		variance = decay.Mul(variance).Add(weight.Mul(r.Mul(r)))
	}

	return annualize(variance, periods)
}

// prepareSeries sorts a copy of the observations and resolves the annualization factor.
func prepareSeries(prices []types.PriceObservation, periodsPerYear int64) ([]types.PriceObservation, int64, error) {
	// --- Input Validation ---
	if len(prices) < 2 {
		return nil, 0, ErrInsufficientData // Need at least two points to calculate one return
	}
	if periodsPerYear < 0 {
		return nil, 0, fmt.Errorf("%w: periods per year %d is negative", ErrInvalidEstimatorParameters, periodsPerYear)
	}

	sorted := make([]types.PriceObservation, len(prices))
	copy(sorted, prices)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	if periodsPerYear == 0 {
		inferred, err := inferPeriodsPerYear(sorted)
		if err != nil {
			return nil, 0, err
		}
		periodsPerYear = inferred
	}
	return sorted, periodsPerYear, nil
}

// calculateLogReturns returns ln(p[i]/p[i-1]) for consecutive observations.
func calculateLogReturns(sorted []types.PriceObservation) ([]sdkmath.LegacyDec, error) {
	logReturns := make([]sdkmath.LegacyDec, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		currentPrice := sorted[i].Price
		previousPrice := sorted[i-1].Price
		if !previousPrice.IsPositive() || !currentPrice.IsPositive() {
			return nil, fmt.Errorf("%w: non-positive price at position %d", ErrInvalidObservation, i)
		}

		logReturn, err := fixedpoint.Ln(currentPrice.Quo(previousPrice))
		if err != nil {
			return nil, fmt.Errorf("log return at position %d: %w", i, err)
		}
		logReturns = append(logReturns, logReturn)
	}
	return logReturns, nil
}

// SampleInterval is the observation spacing the annualization factor assumes, zero when
// the factor is inferred from the observations.
func SampleInterval(params types.EstimatorParameters) time.Duration {
	if params.PeriodsPerYear <= 0 {
		return 0
	}
	return year / time.Duration(params.PeriodsPerYear)
}

// inferPeriodsPerYear derives the annualization factor from the mean observation spacing.
func inferPeriodsPerYear(sorted []types.PriceObservation) (int64, error) {
	span := sorted[len(sorted)-1].Timestamp.Sub(sorted[0].Timestamp)
	meanInterval := span / time.Duration(len(sorted)-1)
	if meanInterval <= 0 {
		return 0, fmt.Errorf("%w: observations share a single timestamp", ErrInsufficientData)
	}
	periods := int64(year / meanInterval)
	if periods < 1 {
		periods = 1
	}
	return periods, nil
}

// annualize returns sqrt(variance) * sqrt(periodsPerYear).
func annualize(variance sdkmath.LegacyDec, periodsPerYear int64) (sdkmath.LegacyDec, error) {
	stdDev, err := fixedpoint.Sqrt(variance)
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	factor, err := fixedpoint.Sqrt(sdkmath.LegacyNewDec(periodsPerYear))
	if err != nil {
		return sdkmath.LegacyZeroDec(), err
	}
	return stdDev.Mul(factor), nil
}
