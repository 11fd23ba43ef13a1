/*

This file contains the volatility estimator for a single price series.

Observations go into a fixed-size ring buffer. Samples that deviate too far from the recent
mean are rejected, the buffer stays untouched and the rejection lowers confidence for as long
as it falls within the buffered window. Recomputes are rate limited and cap absurd values with
a circuit breaker. Readers get an immutable snapshot and never wait on a recompute.

State: INSUFFICIENT_DATA -> ESTIMATING -> STALE, back to ESTIMATING on the next recompute.

*/

package analyzer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/ilpredictor/internal/logger"
	"github.com/elys-network/ilpredictor/internal/metrics"
	"github.com/elys-network/ilpredictor/internal/types"
	"github.com/elys-network/ilpredictor/internal/utils"
	"github.com/rs/zerolog"
)

var (
	ErrUpdateTooFrequent          = errors.New("volatility was recomputed too recently")
	ErrOutlierRejected            = errors.New("observation rejected as outlier")
	ErrInvalidObservation         = errors.New("invalid price observation")
	ErrOutOfOrderObservation      = errors.New("observation is not newer than the latest recorded one")
	ErrEstimatorPaused            = errors.New("volatility estimator is paused")
	ErrInvalidEstimatorParameters = errors.New("invalid estimator parameters")
	ErrInvalidOverride            = errors.New("invalid volatility override")
	ErrOverrideNotSet             = errors.New("no volatility override value has been set")
)

// OUTLIER_STREAK_ALERT is the number of consecutive rejections after which the series is
// reported as locked out. A lasting move beyond the outlier threshold is never accepted
// against the old mean and needs an operator: raise the threshold or set an override.
const OUTLIER_STREAK_ALERT = 6

// VolatilityEstimator maintains a bounded price history for one series and derives
// an annualized volatility estimate from it.
type VolatilityEstimator struct {
	mu     sync.RWMutex
	series string
	params types.EstimatorParameters
	logger zerolog.Logger
	now    func() time.Time

	buffer       []types.PriceObservation
	currentIndex int
	isFull       bool

	// timestamps of rejected outliers, trimmed to the buffered window
	rejections []time.Time
	// rejections since the last accepted observation
	outlierStreak int

	estimate      types.VolatilityEstimate
	hasEstimate   bool
	lastRecompute time.Time

	override        sdkmath.LegacyDec
	overrideEnabled bool
	overrideSetAt   time.Time

	paused bool
}

// EstimatorOption customizes a VolatilityEstimator.
type EstimatorOption func(*VolatilityEstimator)

// WithClock replaces the wall clock, used for rate limiting and staleness.
func WithClock(now func() time.Time) EstimatorOption {
	return func(e *VolatilityEstimator) {
		e.now = now
	}
}

// NewVolatilityEstimator creates an estimator for the given series.
func NewVolatilityEstimator(series string, params types.EstimatorParameters, opts ...EstimatorOption) (*VolatilityEstimator, error) {
	if err := ValidateEstimatorParameters(params); err != nil {
		return nil, errors.Join(ErrInvalidEstimatorParameters, err)
	}

	e := &VolatilityEstimator{
		series:   series,
		params:   params,
		logger:   logger.GetForComponent("volatility_estimator").With().Str("series", series).Logger(),
		now:      time.Now,
		buffer:   make([]types.PriceObservation, params.Capacity),
		override: sdkmath.LegacyZeroDec(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ValidateEstimatorParameters checks the invariants the estimator relies on.
func ValidateEstimatorParameters(params types.EstimatorParameters) error {
	if params.Capacity < 7 {
		return fmt.Errorf("capacity %d must be at least 7", params.Capacity)
	}
	if params.MinDataPoints < 7 || params.MinDataPoints > params.Capacity {
		return fmt.Errorf("min data points %d must be in [7, capacity]", params.MinDataPoints)
	}
	if params.OutlierThreshold == 0 {
		return errors.New("outlier threshold must be positive")
	}
	if params.OutlierLookback < 1 {
		return errors.New("outlier lookback must be at least 1")
	}
	if params.MaxOutlierPenalty > types.MaxBasisPoints || params.OutlierPenalty > types.MaxBasisPoints {
		return errors.New("outlier penalties must not exceed 10000 bps")
	}
	if params.FullConfidenceSamples < 1 {
		return errors.New("full confidence samples must be at least 1")
	}
	if params.MinUpdateInterval < 0 {
		return errors.New("min update interval must not be negative")
	}
	if params.StalenessThreshold <= 0 {
		return errors.New("staleness threshold must be positive")
	}
	if params.PeriodsPerYear < 0 {
		return errors.New("periods per year must not be negative")
	}
	if params.UseEWMA && (params.EWMALambda == 0 || params.EWMALambda >= types.MaxBasisPoints) {
		return errors.New("ewma lambda must be in (0, 10000) bps")
	}
	if params.MaxAnnualizedVolatility == 0 {
		return errors.New("max annualized volatility must be positive")
	}
	if params.OverrideConfidence > types.MaxBasisPoints {
		return errors.New("override confidence must not exceed 10000 bps")
	}
	return nil
}

// Series returns the name of the tracked series.
func (e *VolatilityEstimator) Series() string {
	return e.series
}

// RecordObservation validates a price sample and appends it to the ring buffer.
func (e *VolatilityEstimator) RecordObservation(price sdkmath.LegacyDec, timestamp time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.recordLocked(price, timestamp)
	switch {
	case err == nil:
		metrics.RecordObservation(e.series, metrics.ResultAccepted)
	case errors.Is(err, ErrOutlierRejected):
		metrics.RecordObservation(e.series, metrics.ResultOutlier)
	case errors.Is(err, ErrOutOfOrderObservation):
		metrics.RecordObservation(e.series, metrics.ResultOutOfOrder)
	default:
		metrics.RecordObservation(e.series, metrics.ResultInvalid)
	}
	return err
}

func (e *VolatilityEstimator) recordLocked(price sdkmath.LegacyDec, timestamp time.Time) error {
	if e.paused {
		return ErrEstimatorPaused
	}
	if price.IsNil() || !price.IsPositive() {
		return fmt.Errorf("%w: price %s must be positive", ErrInvalidObservation, price)
	}
	if timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidObservation)
	}

	if e.lenLocked() > 0 {
		latest := e.buffer[e.latestIndexLocked()]
		if !timestamp.After(latest.Timestamp) {
			return fmt.Errorf("%w: %s is not after %s", ErrOutOfOrderObservation,
				timestamp.Format(time.RFC3339), latest.Timestamp.Format(time.RFC3339))
		}

		mean := e.recentMeanLocked()
		deviation := price.Sub(mean).Abs().Quo(mean)
		if deviation.GT(e.params.OutlierThreshold.Dec()) {
			e.rejections = append(e.rejections, timestamp)
			if len(e.rejections) > e.params.Capacity {
				e.rejections = e.rejections[len(e.rejections)-e.params.Capacity:]
			}
			e.outlierStreak++
			metrics.SetOutlierStreak(e.series, e.outlierStreak)
			e.logger.Warn().
				Str("price", price.String()).
				Str("recentMean", mean.String()).
				Uint32("deviationBps", uint32(utils.ToBasisPoints(deviation))).
				Int("streak", e.outlierStreak).
				Msg("Rejected outlier observation")
			if e.outlierStreak == OUTLIER_STREAK_ALERT {
				e.logger.Error().
					Int("streak", e.outlierStreak).
					Str("price", price.String()).
					Str("recentMean", mean.String()).
					Msg("Series locked out by consecutive outliers, raise the outlier threshold or set a volatility override")
			}
			return fmt.Errorf("%w: deviation %s from recent mean %s", ErrOutlierRejected, deviation, mean)
		}
	}

	if e.outlierStreak > 0 {
		e.outlierStreak = 0
		metrics.SetOutlierStreak(e.series, 0)
	}

	e.buffer[e.currentIndex] = types.PriceObservation{Price: price, Timestamp: timestamp, Valid: true}
	e.currentIndex = (e.currentIndex + 1) % e.params.Capacity
	if e.currentIndex == 0 {
		e.isFull = true
	}
	return nil
}

// RecomputeVolatility derives a new estimate from the buffered observations.
func (e *VolatilityEstimator) RecomputeVolatility() (types.VolatilityEstimate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return types.VolatilityEstimate{}, ErrEstimatorPaused
	}

	now := e.now()
	if !e.lastRecompute.IsZero() && now.Sub(e.lastRecompute) < e.params.MinUpdateInterval {
		metrics.RecordRecompute(e.series, metrics.ResultTooFrequent)
		return types.VolatilityEstimate{}, fmt.Errorf("%w: last recompute at %s", ErrUpdateTooFrequent, e.lastRecompute.Format(time.RFC3339))
	}

	n := e.lenLocked()
	if n < e.params.MinDataPoints {
		metrics.RecordRecompute(e.series, metrics.ResultInsufficientData)
		return types.VolatilityEstimate{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, n, e.params.MinDataPoints)
	}

	observations := e.observationsLocked()
	method := types.MethodSample
	var (
		value sdkmath.LegacyDec
		err   error
	)
	if e.params.UseEWMA {
		method = types.MethodEWMA
		value, err = CalculateEWMAVolatility(observations, e.params.EWMALambda, e.params.PeriodsPerYear)
	} else {
		value, err = CalculateVolatility(observations, e.params.PeriodsPerYear)
	}
	if err != nil {
		metrics.RecordRecompute(e.series, metrics.ResultError)
		return types.VolatilityEstimate{}, err
	}

	confidence := e.confidenceLocked(n)
	breaker := false
	ceiling := e.params.MaxAnnualizedVolatility.Dec()
	if value.GT(ceiling) {
		breaker = true
		e.logger.Error().
			Str("rawVolatility", value.String()).
			Str("cappedVolatility", ceiling.String()).
			Int("dataPoints", n).
			Msg("Volatility circuit breaker tripped, capping estimate")
		metrics.RecordCircuitBreaker(e.series)
		value = ceiling
		confidence /= 2
	}

	e.estimate = types.VolatilityEstimate{
		Value:          value,
		Confidence:     confidence,
		DataPoints:     n,
		IsStale:        false,
		ComputedAt:     now,
		Source:         types.SourceComputed,
		Method:         method,
		CircuitBreaker: breaker,
	}
	e.hasEstimate = true
	e.lastRecompute = now

	metrics.RecordRecompute(e.series, metrics.ResultOK)
	metrics.SetVolatility(e.series, e.estimate)
	e.logger.Debug().
		Str("volatility", value.String()).
		Uint32("confidenceBps", uint32(confidence)).
		Int("dataPoints", n).
		Str("method", string(method)).
		Msg("Recomputed volatility")

	return e.estimate, nil
}

// GetVolatility returns the current estimate snapshot. An enabled override wins over
// the computed value. Without any estimate the returned Value is zero.
func (e *VolatilityEstimator) GetVolatility() types.VolatilityEstimate {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n := e.lenLocked()
	if e.overrideEnabled {
		return types.VolatilityEstimate{
			Value:      e.override,
			Confidence: e.params.OverrideConfidence,
			DataPoints: n,
			ComputedAt: e.overrideSetAt,
			Source:     types.SourceOverride,
		}
	}
	if !e.hasEstimate {
		return types.VolatilityEstimate{
			Value:      sdkmath.LegacyZeroDec(),
			DataPoints: n,
			IsStale:    true,
			Source:     types.SourceNone,
		}
	}

	estimate := e.estimate
	estimate.IsStale = e.now().Sub(estimate.ComputedAt) > e.params.StalenessThreshold
	return estimate
}

// State reports the lifecycle state of the computed estimate.
func (e *VolatilityEstimator) State() types.EstimatorState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.hasEstimate {
		return types.StateInsufficientData
	}
	if e.now().Sub(e.estimate.ComputedAt) > e.params.StalenessThreshold {
		return types.StateStale
	}
	return types.StateEstimating
}

// SetVolatilityOverride stores a manual volatility value. It takes effect once enabled.
func (e *VolatilityEstimator) SetVolatilityOverride(value sdkmath.LegacyDec) error {
	if value.IsNil() || !value.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidOverride, value)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ceiling := e.params.MaxAnnualizedVolatility.Dec()
	if value.GT(ceiling) {
		return fmt.Errorf("%w: %s exceeds the %s ceiling", ErrInvalidOverride, value, ceiling)
	}
	e.override = value
	e.overrideSetAt = e.now()
	e.logger.Info().Str("override", value.String()).Msg("Volatility override set")
	return nil
}

// SetOverrideEnabled switches between the override and the computed estimate.
func (e *VolatilityEstimator) SetOverrideEnabled(enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if enabled && !e.override.IsPositive() {
		return ErrOverrideNotSet
	}
	e.overrideEnabled = enabled
	e.logger.Info().Bool("enabled", enabled).Msg("Volatility override toggled")
	return nil
}

// SetOutlierThreshold changes the maximum accepted deviation from the recent mean.
func (e *VolatilityEstimator) SetOutlierThreshold(threshold types.BasisPoints) error {
	if threshold == 0 {
		return fmt.Errorf("%w: outlier threshold must be positive", ErrInvalidEstimatorParameters)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params.OutlierThreshold = threshold
	return nil
}

// SetMinUpdateInterval changes the rate limit on recomputes.
func (e *VolatilityEstimator) SetMinUpdateInterval(interval time.Duration) error {
	if interval < 0 {
		return fmt.Errorf("%w: min update interval must not be negative", ErrInvalidEstimatorParameters)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params.MinUpdateInterval = interval
	return nil
}

// SetPaused stops (or resumes) accepting observations and recomputes.
// Reads keep serving the last snapshot while paused.
func (e *VolatilityEstimator) SetPaused(paused bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = paused
}

// Paused reports whether the estimator is paused.
func (e *VolatilityEstimator) Paused() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.paused
}

// Params returns a copy of the current parameters.
func (e *VolatilityEstimator) Params() types.EstimatorParameters {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.params
}

// OutlierStreak returns the number of observations rejected as outliers since the last
// accepted one.
func (e *VolatilityEstimator) OutlierStreak() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.outlierStreak
}

// LastObservedAt returns the timestamp of the newest buffered observation.
func (e *VolatilityEstimator) LastObservedAt() (time.Time, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lenLocked() == 0 {
		return time.Time{}, false
	}
	return e.buffer[e.latestIndexLocked()].Timestamp, true
}

// Len returns the number of buffered observations.
func (e *VolatilityEstimator) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lenLocked()
}

// Observations returns the buffered observations in chronological order.
func (e *VolatilityEstimator) Observations() []types.PriceObservation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.observationsLocked()
}

// Restore replaces the buffer with historical observations, applying the same
// validation as RecordObservation. It returns the number of accepted observations.
func (e *VolatilityEstimator) Restore(observations []types.PriceObservation) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.buffer = make([]types.PriceObservation, e.params.Capacity)
	e.currentIndex = 0
	e.isFull = false
	e.rejections = nil
	e.outlierStreak = 0

	accepted := 0
	for _, obs := range observations {
		if err := e.recordLocked(obs.Price, obs.Timestamp); err != nil {
			e.logger.Debug().Err(err).Msg("Skipped historical observation")
			continue
		}
		accepted++
	}
	metrics.SetOutlierStreak(e.series, e.outlierStreak)
	e.logger.Info().
		Int("accepted", accepted).
		Int("offered", len(observations)).
		Msg("Restored price history")
	return accepted
}

func (e *VolatilityEstimator) lenLocked() int {
	if e.isFull {
		return e.params.Capacity
	}
	return e.currentIndex
}

func (e *VolatilityEstimator) latestIndexLocked() int {
	return (e.currentIndex - 1 + e.params.Capacity) % e.params.Capacity
}

func (e *VolatilityEstimator) observationsLocked() []types.PriceObservation {
	if !e.isFull {
		out := make([]types.PriceObservation, e.currentIndex)
		copy(out, e.buffer[:e.currentIndex])
		return out
	}
	out := make([]types.PriceObservation, 0, e.params.Capacity)
	out = append(out, e.buffer[e.currentIndex:]...)
	out = append(out, e.buffer[:e.currentIndex]...)
	return out
}

// recentMeanLocked averages the last OutlierLookback accepted prices.
func (e *VolatilityEstimator) recentMeanLocked() sdkmath.LegacyDec {
	count := e.params.OutlierLookback
	if n := e.lenLocked(); n < count {
		count = n
	}
	sum := sdkmath.LegacyZeroDec()
	idx := e.latestIndexLocked()
	for i := 0; i < count; i++ {
		sum = sum.Add(e.buffer[idx].Price)
		idx = (idx - 1 + e.params.Capacity) % e.params.Capacity
	}
	return sum.QuoInt64(int64(count))
}

// confidenceLocked grows linearly with sample size up to FullConfidenceSamples and
// loses OutlierPenalty per outlier rejected since the oldest buffered observation.
// The outlier penalty never takes more than MaxOutlierPenalty of the size-based confidence.
func (e *VolatilityEstimator) confidenceLocked(n int) types.BasisPoints {
	confidence := types.MaxBasisPoints
	if n < e.params.FullConfidenceSamples {
		confidence = types.BasisPoints(uint64(types.MaxBasisPoints) * uint64(n) / uint64(e.params.FullConfidenceSamples))
	}

	outliers := e.outliersInWindowLocked()
	penalty := uint64(outliers) * uint64(e.params.OutlierPenalty)
	maxPenalty := uint64(confidence) * uint64(e.params.MaxOutlierPenalty) / uint64(types.MaxBasisPoints)
	if penalty > maxPenalty {
		penalty = maxPenalty
	}
	if penalty >= uint64(confidence) {
		return 0
	}
	return confidence - types.BasisPoints(penalty)
}

func (e *VolatilityEstimator) outliersInWindowLocked() int {
	if e.lenLocked() == 0 || len(e.rejections) == 0 {
		return 0
	}
	oldestIdx := 0
	if e.isFull {
		oldestIdx = e.currentIndex
	}
	oldest := e.buffer[oldestIdx].Timestamp

	count := 0
	for _, ts := range e.rejections {
		if !ts.Before(oldest) {
			count++
		}
	}
	return count
}
