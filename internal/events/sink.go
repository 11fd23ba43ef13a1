/*
This file contains the sinks prediction events are published to.

A sink failure is logged by the caller and never fails the prediction that produced the event.
*/

package events

import (
	"context"
	"errors"
	"time"

	"github.com/elys-network/ilpredictor/internal/logger"
	"github.com/elys-network/ilpredictor/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrSinkClosed = errors.New("event sink is closed")

// Sink receives prediction events.
type Sink interface {
	Emit(ctx context.Context, event types.PredictionEvent) error
	Close() error
}

// NewPredictionEvent stamps a prediction with a fresh ID.
func NewPredictionEvent(series string, request types.PredictionRequest, result types.PredictionResult, volatility types.VolatilityEstimate, at time.Time) types.PredictionEvent {
	return types.PredictionEvent{
		ID:         uuid.New().String(),
		Series:     series,
		Request:    request,
		Result:     result,
		Volatility: volatility,
		EmittedAt:  at,
	}
}

// LogSink writes events to a zerolog logger.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink returns a sink logging under the "prediction_events" component.
func NewLogSink() *LogSink {
	return &LogSink{logger: logger.GetForComponent("prediction_events")}
}

// NewLogSinkWithLogger returns a sink writing to the given logger.
func NewLogSinkWithLogger(l zerolog.Logger) *LogSink {
	return &LogSink{logger: l}
}

func (s *LogSink) Emit(_ context.Context, event types.PredictionEvent) error {
	s.logger.Info().
		Str("eventID", event.ID).
		Str("series", event.Series).
		Str("currentPrice", event.Request.CurrentPrice.String()).
		Str("lowerBound", event.Request.LowerBound.String()).
		Str("upperBound", event.Request.UpperBound.String()).
		Dur("horizon", event.Request.TimeHorizon).
		Uint32("expectedILBps", uint32(event.Result.ExpectedIL)).
		Uint32("exitProbabilityBps", uint32(event.Result.ExitProbability)).
		Uint32("confidenceBps", uint32(event.Result.Confidence)).
		Str("volatility", event.Volatility.Value.String()).
		Msg("Prediction computed")
	return nil
}

func (s *LogSink) Close() error { return nil }

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, event types.PredictionEvent) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, sink := range m {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
