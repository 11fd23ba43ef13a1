/*

This file contains the tunable parameters of the volatility estimator and the IL predictor.

Defaults live in the `default` tags and are applied with creasty/defaults, the `validate` tags
are enforced with go-playground/validator when a parameter file is loaded. Ratios and thresholds
are basis points so the whole struct stays free of floats.

*/

package types

import "time"

const (
	ILWeightingUniform     = "uniform"
	ILWeightingProbability = "probability"
)

// EstimatorParameters configures a VolatilityEstimator.
type EstimatorParameters struct {
	Capacity                int           `json:"capacity" yaml:"capacity" default:"720" validate:"gte=7"`                                                   // Ring buffer size (30 days of hourly samples).
	MinDataPoints           int           `json:"min_data_points" yaml:"min_data_points" default:"7" validate:"gte=7"`                                       // Observations required before a recompute succeeds.
	OutlierThreshold        BasisPoints   `json:"outlier_threshold_bps" yaml:"outlier_threshold_bps" default:"3000" validate:"gt=0"`                         // Max deviation from the recent mean before a sample is rejected.
	OutlierLookback         int           `json:"outlier_lookback" yaml:"outlier_lookback" default:"5" validate:"gte=1"`                                     // Number of recent samples averaged for outlier detection.
	OutlierPenalty          BasisPoints   `json:"outlier_penalty_bps" yaml:"outlier_penalty_bps" default:"500" validate:"lte=10000"`                         // Confidence removed per rejected outlier in the window.
	MaxOutlierPenalty       BasisPoints   `json:"max_outlier_penalty_bps" yaml:"max_outlier_penalty_bps" default:"5000" validate:"lte=10000"`                // Largest share of the size-based confidence outliers may remove.
	FullConfidenceSamples   int           `json:"full_confidence_samples" yaml:"full_confidence_samples" default:"30" validate:"gte=1"`                      // Sample size at which confidence stops growing.
	MinUpdateInterval       time.Duration `json:"min_update_interval" yaml:"min_update_interval" default:"1h" validate:"gte=0"`                              // Minimum spacing between successful recomputes.
	StalenessThreshold      time.Duration `json:"staleness_threshold" yaml:"staleness_threshold" default:"24h" validate:"gt=0"`                              // Age after which an estimate is flagged stale.
	PeriodsPerYear          int64         `json:"periods_per_year" yaml:"periods_per_year" default:"8760" validate:"gte=0"`                                  // Annualization factor, 0 infers it from sample spacing.
	UseEWMA                 bool          `json:"use_ewma" yaml:"use_ewma"`                                                                                  // Use exponentially weighted variance instead of the sample variance.
	EWMALambda              BasisPoints   `json:"ewma_lambda_bps" yaml:"ewma_lambda_bps" default:"9400" validate:"gt=0,lt=10000"`                            // Decay factor for EWMA (RiskMetrics 0.94).
	MaxAnnualizedVolatility BasisPoints   `json:"max_annualized_volatility_bps" yaml:"max_annualized_volatility_bps" default:"100000" validate:"gt=0"`        // Circuit breaker ceiling, 100000 = 1000%.
	OverrideConfidence      BasisPoints   `json:"override_confidence_bps" yaml:"override_confidence_bps" default:"5000" validate:"lte=10000"`                // Confidence reported for a manual override.
}

// PredictorParameters configures an ILPredictor.
type PredictorParameters struct {
	CacheTTL               time.Duration `json:"cache_ttl" yaml:"cache_ttl" default:"10m" validate:"gt=0"`                                           // Lifetime of a cached prediction.
	MaxCacheEntries        int           `json:"max_cache_entries" yaml:"max_cache_entries" default:"1024" validate:"gte=1"`                         // Bound on the cache size.
	MinBarrierRatio        BasisPoints   `json:"min_barrier_ratio_bps" yaml:"min_barrier_ratio_bps" default:"100" validate:"gt=0"`                   // Lowest allowed barrier/current ratio (0.01).
	MaxBarrierRatio        BasisPoints   `json:"max_barrier_ratio_bps" yaml:"max_barrier_ratio_bps" default:"1000000" validate:"gtfield=MinBarrierRatio"` // Highest allowed barrier/current ratio (100).
	StalePenalty           BasisPoints   `json:"stale_penalty_bps" yaml:"stale_penalty_bps" default:"3000" validate:"lte=10000"`                     // Confidence reduction for stale volatility.
	LongHorizon            time.Duration `json:"long_horizon" yaml:"long_horizon" default:"720h" validate:"gt=0"`                                    // Horizon beyond which the first horizon penalty applies.
	LongHorizonPenalty     BasisPoints   `json:"long_horizon_penalty_bps" yaml:"long_horizon_penalty_bps" default:"1000" validate:"lte=10000"`
	VeryLongHorizon        time.Duration `json:"very_long_horizon" yaml:"very_long_horizon" default:"2160h" validate:"gtfield=LongHorizon"` // Horizon beyond which the second horizon penalty applies.
	VeryLongHorizonPenalty BasisPoints   `json:"very_long_horizon_penalty_bps" yaml:"very_long_horizon_penalty_bps" default:"1000" validate:"lte=10000"`
	NearBarrierDistance    BasisPoints   `json:"near_barrier_distance_bps" yaml:"near_barrier_distance_bps" default:"1000" validate:"lte=10000"` // Distance to a barrier, relative to price, counted as near.
	NearBarrierPenalty     BasisPoints   `json:"near_barrier_penalty_bps" yaml:"near_barrier_penalty_bps" default:"1500" validate:"lte=10000"`
	MaxPriceImpact         BasisPoints   `json:"max_price_impact_bps" yaml:"max_price_impact_bps" default:"5000" validate:"gt=0,lte=10000"` // Cap on the modeled impact of a single trade.
	ILWeighting            string        `json:"il_weighting" yaml:"il_weighting" default:"uniform" validate:"oneof=uniform probability"`  // How barrier ILs are averaged.
}

// Parameters is the full operator parameter set, as stored in the database or a YAML file.
type Parameters struct {
	Estimator EstimatorParameters `json:"estimator" yaml:"estimator"`
	Predictor PredictorParameters `json:"predictor" yaml:"predictor"`
}
