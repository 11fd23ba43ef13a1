package state

import (
	"context"

	"github.com/elys-network/ilpredictor/internal/types"
)

// PostgresStore exposes the package level store functions as a value the monitor can
// depend on. It uses the global pool set up by InitDB.
type PostgresStore struct{}

func (PostgresStore) SaveObservation(ctx context.Context, series string, observation types.PriceObservation) error {
	return SaveObservation(ctx, series, observation)
}

func (PostgresStore) LoadRecentObservations(ctx context.Context, series string, limit int) ([]types.PriceObservation, error) {
	return LoadRecentObservations(ctx, series, limit)
}

func (PostgresStore) SaveVolatilityEstimate(ctx context.Context, series string, estimate types.VolatilityEstimate) error {
	_, err := SaveVolatilityEstimate(ctx, series, estimate)
	return err
}

func (PostgresStore) NextCycle(ctx context.Context) (int, error) {
	return IncrementCycleNumber(ctx)
}
