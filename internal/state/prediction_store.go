package state

import (
	"context"
	"fmt"

	"github.com/elys-network/ilpredictor/internal/events"
	"github.com/elys-network/ilpredictor/internal/types"
)

// SavePrediction appends a prediction event to the audit log. The log is never read back
// as a cache, only for history and summaries.
func SavePrediction(ctx context.Context, event types.PredictionEvent) error {
	if DB == nil {
		return ErrDBNotInitialized
	}
	prices := []struct {
		name  string
		value types.ScaledValue
	}{
		{"current price", event.Request.CurrentPrice},
		{"lower bound", event.Request.LowerBound},
		{"upper bound", event.Request.UpperBound},
	}
	for _, p := range prices {
		if err := validateDec(p.name, p.value); err != nil {
			return err
		}
	}

	volatility := "0"
	if event.Volatility.HasValue() {
		volatility = event.Volatility.Value.String()
	}

	_, err := DB.ExecContext(ctx, `
		INSERT INTO il_predictions (
			event_id, series, current_price, lower_bound, upper_bound, horizon_seconds,
			expected_il_bps, exit_probability_bps, confidence_bps,
			volatility, volatility_source, emitted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (event_id) DO NOTHING;`,
		event.ID, event.Series,
		event.Request.CurrentPrice.String(), event.Request.LowerBound.String(), event.Request.UpperBound.String(),
		int64(event.Request.TimeHorizon.Seconds()),
		int64(event.Result.ExpectedIL), int64(event.Result.ExitProbability), int64(event.Result.Confidence),
		volatility, string(event.Volatility.Source), event.EmittedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert prediction %s: %w", event.ID, err)
	}
	return nil
}

// PredictionSink writes prediction events to PostgreSQL. Wrap it in events.NewAsync to keep
// the database off the prediction path.
type PredictionSink struct{}

var _ events.Sink = PredictionSink{}

func (PredictionSink) Emit(ctx context.Context, event types.PredictionEvent) error {
	return SavePrediction(ctx, event)
}

// Close is a no-op, the pool is owned by InitDB/CloseDB.
func (PredictionSink) Close() error { return nil }
