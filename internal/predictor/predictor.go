/*

This file contains the IL predictor for a single price series.

A prediction validates its inputs, serves a fresh cached result when one exists, otherwise
pulls the current volatility estimate and evaluates the exit probability model. Every
computed prediction is cached and published to the event sink.

*/

package predictor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/ilpredictor/internal/events"
	"github.com/elys-network/ilpredictor/internal/fixedpoint"
	"github.com/elys-network/ilpredictor/internal/logger"
	"github.com/elys-network/ilpredictor/internal/metrics"
	"github.com/elys-network/ilpredictor/internal/types"
	"github.com/elys-network/ilpredictor/internal/utils"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidVolatility          = errors.New("no usable volatility estimate")
	ErrPaused                     = errors.New("predictor is paused")
	ErrInvalidPredictorParameters = errors.New("invalid predictor parameters")
)

// VolatilitySource supplies the estimate a prediction is based on.
type VolatilitySource interface {
	GetVolatility() types.VolatilityEstimate
}

// Predictor computes IL predictions for one series.
type Predictor struct {
	series string
	source VolatilitySource
	sink   events.Sink
	cache  *predictionCache
	logger zerolog.Logger
	now    func() time.Time
	paused atomic.Bool

	mu     sync.RWMutex
	params types.PredictorParameters
}

// Option customizes a Predictor.
type Option func(*Predictor)

// WithClock replaces the wall clock used for cache expiry and event timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Predictor) {
		p.now = now
	}
}

// WithEventSink sets where computed predictions are published.
func WithEventSink(sink events.Sink) Option {
	return func(p *Predictor) {
		p.sink = sink
	}
}

// NewPredictor creates a predictor reading volatility from source.
func NewPredictor(series string, source VolatilitySource, params types.PredictorParameters, opts ...Option) (*Predictor, error) {
	if source == nil {
		return nil, errors.New("volatility source is required")
	}
	if err := ValidatePredictorParameters(params); err != nil {
		return nil, errors.Join(ErrInvalidPredictorParameters, err)
	}

	p := &Predictor{
		series: series,
		source: source,
		params: params,
		cache:  newPredictionCache(params.CacheTTL, params.MaxCacheEntries),
		logger: logger.GetForComponent("il_predictor").With().Str("series", series).Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.sink == nil {
		p.sink = events.NewLogSink()
	}
	return p, nil
}

// ValidatePredictorParameters checks the invariants the predictor relies on.
func ValidatePredictorParameters(params types.PredictorParameters) error {
	if params.CacheTTL <= 0 {
		return errors.New("cache ttl must be positive")
	}
	if params.MaxCacheEntries < 1 {
		return errors.New("max cache entries must be at least 1")
	}
	if params.MinBarrierRatio == 0 || params.MinBarrierRatio >= params.MaxBarrierRatio {
		return errors.New("barrier ratio bounds must satisfy 0 < min < max")
	}
	if params.MaxPriceImpact == 0 || params.MaxPriceImpact > types.MaxBasisPoints {
		return errors.New("max price impact must be in (0, 10000] bps")
	}
	for name, penalty := range map[string]types.BasisPoints{
		"stale":             params.StalePenalty,
		"long horizon":      params.LongHorizonPenalty,
		"very long horizon": params.VeryLongHorizonPenalty,
		"near barrier":      params.NearBarrierPenalty,
	} {
		if penalty > types.MaxBasisPoints {
			return fmt.Errorf("%s penalty %d exceeds 10000 bps", name, penalty)
		}
	}
	if params.LongHorizon <= 0 || params.VeryLongHorizon < params.LongHorizon {
		return errors.New("horizon thresholds must satisfy 0 < long <= very long")
	}
	switch params.ILWeighting {
	case types.ILWeightingUniform, types.ILWeightingProbability:
	default:
		return fmt.Errorf("unknown il weighting %q", params.ILWeighting)
	}
	return nil
}

// Series returns the name of the series this predictor serves.
func (p *Predictor) Series() string {
	return p.series
}

// Predict returns the expected IL, exit probability and confidence for a position.
func (p *Predictor) Predict(ctx context.Context, req types.PredictionRequest) (types.PredictionResult, error) {
	started := time.Now()
	if p.paused.Load() {
		return types.PredictionResult{}, ErrPaused
	}

	params := p.Params()
	if err := p.validateRequest(req, params); err != nil {
		metrics.RecordPrediction(p.series, metrics.OutcomeError, time.Since(started))
		return types.PredictionResult{}, err
	}

	now := p.now()
	key := cacheKey(req)
	if result, ok := p.cache.get(key, req, now); ok {
		metrics.RecordPrediction(p.series, metrics.OutcomeCached, time.Since(started))
		return result, nil
	}

	estimate := p.source.GetVolatility()
	if !estimate.HasValue() {
		metrics.RecordPrediction(p.series, metrics.OutcomeError, time.Since(started))
		return types.PredictionResult{}, fmt.Errorf("%w: source %s", ErrInvalidVolatility, estimate.Source)
	}

	result, err := computePrediction(req, estimate, params)
	if err != nil {
		metrics.RecordPrediction(p.series, metrics.OutcomeError, time.Since(started))
		return types.PredictionResult{}, err
	}

	p.cache.put(key, req, result, now)
	p.emit(ctx, events.NewPredictionEvent(p.series, req, result, estimate, now))
	metrics.RecordPrediction(p.series, metrics.OutcomeComputed, time.Since(started))
	return result, nil
}

func (p *Predictor) emit(ctx context.Context, event types.PredictionEvent) {
	if err := p.sink.Emit(ctx, event); err != nil {
		p.logger.Warn().Err(err).Str("eventID", event.ID).Msg("Failed to publish prediction event")
	}
}

// computePrediction evaluates the model for a validated request.
func computePrediction(req types.PredictionRequest, estimate types.VolatilityEstimate, params types.PredictorParameters) (types.PredictionResult, error) {
	mass, err := exitProbability(req, estimate.Value)
	if err != nil {
		return types.PredictionResult{}, err
	}
	exitProb := mass.total()

	avgIL, err := conditionalIL(req, mass, params.ILWeighting)
	if err != nil {
		return types.PredictionResult{}, err
	}
	expectedIL := exitProb.Mul(avgIL)

	return types.PredictionResult{
		ExpectedIL:      utils.ClampBasisPoints(expectedIL),
		ExitProbability: utils.ClampBasisPoints(exitProb),
		Confidence:      predictionConfidence(req, estimate, params),
	}, nil
}

// predictionConfidence discounts the estimate's confidence for staleness, long horizons
// and a price sitting close to either barrier.
func predictionConfidence(req types.PredictionRequest, estimate types.VolatilityEstimate, params types.PredictorParameters) types.BasisPoints {
	confidence := estimate.Confidence
	if confidence > types.MaxBasisPoints {
		confidence = types.MaxBasisPoints
	}
	if estimate.IsStale {
		confidence = utils.ScaleBasisPoints(confidence, params.StalePenalty)
	}
	if req.TimeHorizon > params.LongHorizon {
		confidence = utils.ScaleBasisPoints(confidence, params.LongHorizonPenalty)
	}
	if req.TimeHorizon > params.VeryLongHorizon {
		confidence = utils.ScaleBasisPoints(confidence, params.VeryLongHorizonPenalty)
	}

	nearDistance := params.NearBarrierDistance.Dec()
	distLower := req.CurrentPrice.Sub(req.LowerBound).Abs().Quo(req.CurrentPrice)
	distUpper := req.UpperBound.Sub(req.CurrentPrice).Abs().Quo(req.CurrentPrice)
	if distLower.LTE(nearDistance) || distUpper.LTE(nearDistance) {
		confidence = utils.ScaleBasisPoints(confidence, params.NearBarrierPenalty)
	}
	return confidence
}

// PredictFromPerturbation models a single trade of size priceDelta against a pool with the
// given effective liquidity depth and reports whether the resulting price leaves the range.
func (p *Predictor) PredictFromPerturbation(current, lower, upper, priceDelta, liquidityDepth sdkmath.LegacyDec) (types.PerturbationResult, error) {
	if p.paused.Load() {
		return types.PerturbationResult{}, ErrPaused
	}
	if err := validatePrice(current); err != nil {
		return types.PerturbationResult{}, err
	}
	if err := validateBounds(lower, upper); err != nil {
		return types.PerturbationResult{}, err
	}
	if liquidityDepth.IsNil() || !liquidityDepth.IsPositive() {
		return types.PerturbationResult{}, invalid(ConstraintLiquidityDepth, "liquidity depth %s must be positive", liquidityDepth)
	}
	if priceDelta.IsNil() {
		priceDelta = sdkmath.LegacyZeroDec()
	}

	maxImpact := p.Params().MaxPriceImpact.Dec()
	impact := fixedpoint.Min(priceDelta.Abs().Quo(liquidityDepth), maxImpact)

	newPrice := current.Mul(one.Add(impact))
	if priceDelta.IsNegative() {
		newPrice = current.Mul(one.Sub(impact))
	}

	result := types.PerturbationResult{
		PriceImpact: utils.ClampBasisPoints(impact),
		NewPrice:    newPrice,
		ExitsRange:  newPrice.LT(lower) || newPrice.GT(upper),
	}
	if result.ExitsRange {
		il, err := ImpermanentLoss(newPrice.Quo(current))
		if err != nil {
			return types.PerturbationResult{}, err
		}
		result.ExpectedIL = utils.ClampBasisPoints(il)
	}
	return result, nil
}

// CalculateRealizedIL returns the IL of a position opened at initialPrice and marked at currentPrice.
func CalculateRealizedIL(initialPrice, currentPrice sdkmath.LegacyDec) (types.BasisPoints, error) {
	if err := validatePrice(initialPrice); err != nil {
		return 0, err
	}
	if err := validatePrice(currentPrice); err != nil {
		return 0, err
	}
	il, err := ImpermanentLoss(currentPrice.Quo(initialPrice))
	if err != nil {
		return 0, err
	}
	return utils.ClampBasisPoints(il), nil
}

// SetCacheTTL changes how long computed predictions are served from the cache.
func (p *Predictor) SetCacheTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: cache ttl must be positive", ErrInvalidPredictorParameters)
	}
	p.mu.Lock()
	p.params.CacheTTL = ttl
	p.mu.Unlock()
	p.cache.setTTL(ttl)
	return nil
}

// ClearCache drops every cached prediction. Call it after changing the volatility override.
func (p *Predictor) ClearCache() {
	p.cache.clear()
}

// CacheLen returns the number of cached predictions.
func (p *Predictor) CacheLen() int {
	return p.cache.len()
}

// SetPaused stops (or resumes) serving predictions.
func (p *Predictor) SetPaused(paused bool) {
	p.paused.Store(paused)
}

// Paused reports whether the predictor is paused.
func (p *Predictor) Paused() bool {
	return p.paused.Load()
}

// Params returns a copy of the current parameters.
func (p *Predictor) Params() types.PredictorParameters {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.params
}
