package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq" // PostgreSQL driver for array support
	"github.com/rs/zerolog/log"

	"github.com/elys-network/ilpredictor/internal/types"
)

const (
	DEFAULT_HISTORY_LIMIT = 10
	MAX_HISTORY_LIMIT     = 100
)

// PredictionRecord is a stored prediction as served by the history API. Decimals stay strings.
type PredictionRecord struct {
	EventID          string            `json:"event_id"`
	Series           string            `json:"series"`
	CurrentPrice     string            `json:"current_price"`
	LowerBound       string            `json:"lower_bound"`
	UpperBound       string            `json:"upper_bound"`
	HorizonSeconds   int64             `json:"horizon_seconds"`
	ExpectedIL       types.BasisPoints `json:"expected_il_bps"`
	ExitProbability  types.BasisPoints `json:"exit_probability_bps"`
	Confidence       types.BasisPoints `json:"confidence_bps"`
	Volatility       string            `json:"volatility"`
	VolatilitySource string            `json:"volatility_source"`
	EmittedAt        time.Time         `json:"emitted_at"`
}

// SeriesSummary represents aggregated prediction statistics of one series
type SeriesSummary struct {
	Series             string     `json:"series"`
	Predictions        int        `json:"predictions"`
	AvgExpectedIL      float64    `json:"avg_expected_il_bps"`
	MaxExpectedIL      int64      `json:"max_expected_il_bps"`
	AvgExitProbability float64    `json:"avg_exit_probability_bps"`
	LastPredictionAt   *time.Time `json:"last_prediction_at,omitempty"`
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MAX_HISTORY_LIMIT {
		return DEFAULT_HISTORY_LIMIT
	}
	return limit
}

// GetRecentPredictions retrieves the newest predictions of the given series.
func GetRecentPredictions(ctx context.Context, series []string, limit int) ([]PredictionRecord, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}
	if len(series) == 0 {
		return nil, errors.New("at least one series is required")
	}
	limit = clampLimit(limit)

	rows, err := DB.QueryContext(ctx, `
		SELECT
			event_id, series, current_price, lower_bound, upper_bound, horizon_seconds,
			expected_il_bps, exit_probability_bps, confidence_bps,
			volatility, volatility_source, emitted_at
		FROM il_predictions
		WHERE series = ANY($1)
		ORDER BY emitted_at DESC
		LIMIT $2;`,
		pq.Array(series), limit,
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query recent predictions")
		return nil, fmt.Errorf("failed to query recent predictions: %w", err)
	}
	defer rows.Close()

	var records []PredictionRecord
	for rows.Next() {
		var record PredictionRecord
		var expectedIL, exitProbability, confidence int64
		err := rows.Scan(
			&record.EventID, &record.Series, &record.CurrentPrice, &record.LowerBound, &record.UpperBound, &record.HorizonSeconds,
			&expectedIL, &exitProbability, &confidence,
			&record.Volatility, &record.VolatilitySource, &record.EmittedAt,
		)
		if err != nil {
			log.Error().Err(err).Msg("Failed to scan prediction row")
			continue
		}
		record.ExpectedIL = types.BasisPoints(expectedIL)
		record.ExitProbability = types.BasisPoints(exitProbability)
		record.Confidence = types.BasisPoints(confidence)
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	log.Debug().Int("count", len(records)).Int("limit", limit).Msg("Retrieved recent predictions")
	return records, nil
}

// GetSeriesSummary aggregates the stored predictions of one series.
func GetSeriesSummary(ctx context.Context, series string) (*SeriesSummary, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}

	summary := &SeriesSummary{Series: series}
	var last sql.NullTime
	err := DB.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(AVG(expected_il_bps), 0),
			COALESCE(MAX(expected_il_bps), 0),
			COALESCE(AVG(exit_probability_bps), 0),
			MAX(emitted_at)
		FROM il_predictions
		WHERE series = $1;`,
		series,
	).Scan(&summary.Predictions, &summary.AvgExpectedIL, &summary.MaxExpectedIL, &summary.AvgExitProbability, &last)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize predictions for %s: %w", series, err)
	}
	if last.Valid {
		t := last.Time.UTC()
		summary.LastPredictionAt = &t
	}
	return summary, nil
}
