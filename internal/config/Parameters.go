/*

This file contains the default parameters for the volatility estimator and the IL predictor,
and the loader for the optional YAML parameter file.

The numbers themselves live in the `default` tags of types.Parameters. The rationale for each
lives here:

  Estimator
  - capacity 720: 30 days of hourly closes, the same window the warm start fetches.
  - min_data_points 7: fewer than 6 returns gives a variance that is mostly noise.
  - outlier_threshold_bps 3000: a 30% jump away from the last five samples is treated as a bad print.
  - outlier_penalty_bps 500 / max 5000: each rejected print costs 5% confidence, never more than
    half of what the sample count alone would give.
  - periods_per_year 8760: hourly samples. The monitor samples at year/periods_per_year, and 0
    infers the factor from the observation spacing.
  - full_confidence_samples 30: confidence grows linearly until 30 samples.
  - min_update_interval 1h: one recompute per hourly close.
  - staleness_threshold 24h: a day without a recompute and the estimate is flagged stale.
  - ewma_lambda_bps 9400: RiskMetrics daily decay.
  - max_annualized_volatility_bps 100000: anything above 1000% annualized is a data problem.
  - override_confidence_bps 5000: a manual value is trusted, but not as much as a full window.

  Predictor
  - cache_ttl 10m: one poll interval.
  - barrier ratios 0.01..100: beyond that the normal approximation says nothing useful.
  - stale 30%, long horizon 10% (>30d) and another 10% (>90d), near barrier 15% (<10% away).
  - max_price_impact_bps 5000: no single trade is modeled as moving the price more than 50%.

*/

package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/elys-network/ilpredictor/internal/analyzer"
	"github.com/elys-network/ilpredictor/internal/predictor"
	"github.com/elys-network/ilpredictor/internal/types"
)

const (
	DEFAULT_PARAMETERS_CONFIG_NAME    = "default"
	DEFAULT_PARAMETERS_CONFIG_VERSION = 1
)

var ErrInvalidParameters = errors.New("invalid parameters")

var validate = validator.New()

// DefaultParameters provides the baseline parameter set. These values are used if no
// parameter file is configured and no active parameters are found in the database.
func DefaultParameters() types.Parameters {
	var params types.Parameters
	defaults.MustSet(&params)
	return params
}

// LoadParameters reads a YAML parameter file. Fields missing from the file keep their
// defaults, fields written in the file win even when zero, then the result is validated.
func LoadParameters(path string) (types.Parameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Parameters{}, fmt.Errorf("failed to read parameter file %s: %w", path, err)
	}
	return ParseParameters(data)
}

// ParseParameters decodes YAML parameters over the defaults and validates the result.
func ParseParameters(data []byte) (types.Parameters, error) {
	params := DefaultParameters()
	if err := yaml.Unmarshal(data, &params); err != nil {
		return types.Parameters{}, fmt.Errorf("failed to decode parameters: %w", err)
	}
	if err := ValidateParameters(params); err != nil {
		return types.Parameters{}, err
	}
	return params, nil
}

// ValidateParameters runs the struct tag rules and the cross-field checks of the
// estimator and predictor.
func ValidateParameters(params types.Parameters) error {
	if err := validate.Struct(params); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}
	if err := analyzer.ValidateEstimatorParameters(params.Estimator); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}
	if err := predictor.ValidatePredictorParameters(params.Predictor); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}
	return nil
}
