package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/elys-network/ilpredictor/internal/types"
)

const MAX_RESTORE_OBSERVATIONS = 10000

// SaveObservation stores an accepted price observation. Re-saving the same
// (series, timestamp) pair is a no-op.
func SaveObservation(ctx context.Context, series string, observation types.PriceObservation) error {
	if DB == nil {
		return ErrDBNotInitialized
	}
	if err := validateDec("price", observation.Price); err != nil {
		return err
	}

	_, err := DB.ExecContext(ctx, `
		INSERT INTO price_observations (series, price, observed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (series, observed_at) DO NOTHING;`,
		series, observation.Price.String(), observation.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert observation for %s: %w", series, err)
	}
	return nil
}

// LoadRecentObservations returns up to limit of the newest observations of series, oldest first.
func LoadRecentObservations(ctx context.Context, series string, limit int) ([]types.PriceObservation, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}
	if limit <= 0 || limit > MAX_RESTORE_OBSERVATIONS {
		return nil, fmt.Errorf("limit %d must be in [1, %d]", limit, MAX_RESTORE_OBSERVATIONS)
	}

	rows, err := DB.QueryContext(ctx, `
		SELECT price, observed_at FROM (
			SELECT price, observed_at
			FROM price_observations
			WHERE series = $1
			ORDER BY observed_at DESC
			LIMIT $2
		) recent
		ORDER BY observed_at ASC;`,
		series, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations for %s: %w", series, err)
	}
	defer rows.Close()

	var observations []types.PriceObservation
	for rows.Next() {
		var priceStr string
		var observedAt time.Time
		if err := rows.Scan(&priceStr, &observedAt); err != nil {
			return nil, fmt.Errorf("failed to scan observation row: %w", err)
		}
		price, err := decFromNumeric(priceStr)
		if err != nil {
			log.Warn().Err(err).Str("series", series).Msg("Skipping unreadable stored price")
			continue
		}
		observations = append(observations, types.PriceObservation{
			Price:     price,
			Timestamp: observedAt.UTC(),
			Valid:     true,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate observations: %w", err)
	}

	log.Debug().Str("series", series).Int("observations", len(observations)).Msg("Loaded stored observations")
	return observations, nil
}

// decFromNumeric parses a NUMERIC column rendered as text.
func decFromNumeric(s string) (sdkmath.LegacyDec, error) {
	d, err := sdkmath.LegacyNewDecFromStr(s)
	if err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("invalid numeric %q: %w", s, err)
	}
	return d, nil
}

func validateDec(name string, d sdkmath.LegacyDec) error {
	if d.IsNil() {
		return errors.New(name + " is nil")
	}
	if d.IsNegative() {
		return fmt.Errorf("%s %s is negative", name, d)
	}
	return nil
}
