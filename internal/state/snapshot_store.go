// ./internal/state/snapshot_store.go
package state

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/elys-network/ilpredictor/internal/types"
)

// SaveVolatilityEstimate stores a snapshot of a series' volatility after a recompute.
func SaveVolatilityEstimate(ctx context.Context, series string, estimate types.VolatilityEstimate) (int64, error) {
	if DB == nil {
		return 0, ErrDBNotInitialized
	}
	if err := validateDec("volatility", estimate.Value); err != nil {
		return 0, err
	}

	var estimateID int64
	err := DB.QueryRowContext(ctx, `
		INSERT INTO volatility_estimates (
			series, volatility, confidence_bps, data_points, is_stale,
			source, method, circuit_breaker, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING estimate_id;`,
		series, estimate.Value.String(), int64(estimate.Confidence), estimate.DataPoints, estimate.IsStale,
		string(estimate.Source), string(estimate.Method), estimate.CircuitBreaker, estimate.ComputedAt.UTC(),
	).Scan(&estimateID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert volatility estimate for %s: %w", series, err)
	}

	log.Debug().
		Str("series", series).
		Int64("estimate_id", estimateID).
		Str("volatility", estimate.Value.String()).
		Msg("Saved volatility estimate")
	return estimateID, nil
}

// GetVolatilityHistory returns the most recent estimates of series, newest first.
func GetVolatilityHistory(ctx context.Context, series string, limit int) ([]types.VolatilityEstimate, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}
	limit = clampLimit(limit)

	rows, err := DB.QueryContext(ctx, `
		SELECT volatility, confidence_bps, data_points, is_stale, source, method, circuit_breaker, computed_at
		FROM volatility_estimates
		WHERE series = $1
		ORDER BY computed_at DESC
		LIMIT $2;`,
		series, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query volatility history for %s: %w", series, err)
	}
	defer rows.Close()

	var history []types.VolatilityEstimate
	for rows.Next() {
		var (
			valueStr, source, method string
			confidence               int64
			estimate                 types.VolatilityEstimate
			computedAt               time.Time
		)
		if err := rows.Scan(&valueStr, &confidence, &estimate.DataPoints, &estimate.IsStale,
			&source, &method, &estimate.CircuitBreaker, &computedAt); err != nil {
			return nil, fmt.Errorf("failed to scan volatility row: %w", err)
		}
		if estimate.Value, err = decFromNumeric(valueStr); err != nil {
			return nil, err
		}
		estimate.Confidence = types.BasisPoints(confidence)
		estimate.Source = types.VolatilitySource(source)
		estimate.Method = types.VolatilityMethod(method)
		estimate.ComputedAt = computedAt.UTC()
		history = append(history, estimate)
	}
	return history, rows.Err()
}
