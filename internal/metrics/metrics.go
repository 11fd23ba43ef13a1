/*
This file contains the Prometheus collectors for the estimator, the predictor, the feeds and the event sinks.

Collectors are registered with the default registry on package load and exposed by the web server at /metrics.
*/

package metrics

import (
	"net/http"
	"time"

	"github.com/elys-network/ilpredictor/internal/types"
	"github.com/elys-network/ilpredictor/internal/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Label values.
const (
	ResultAccepted   = "accepted"
	ResultOutlier    = "outlier"
	ResultOutOfOrder = "out_of_order"
	ResultInvalid    = "invalid"

	ResultOK               = "ok"
	ResultTooFrequent      = "too_frequent"
	ResultInsufficientData = "insufficient_data"
	ResultError            = "error"

	OutcomeComputed = "computed"
	OutcomeCached   = "cached"
	OutcomeError    = "error"
)

var (
	observationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ilpredictor_observations_total",
			Help: "Price observations offered to an estimator, by result",
		},
		[]string{"series", "result"},
	)
	recomputesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ilpredictor_volatility_recomputes_total",
			Help: "Volatility recompute attempts, by result",
		},
		[]string{"series", "result"},
	)
	circuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ilpredictor_volatility_circuit_breaker_total",
			Help: "Times a computed volatility exceeded the ceiling and was capped",
		},
		[]string{"series"},
	)
	volatility = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ilpredictor_volatility_annualized",
			Help: "Latest annualized volatility estimate",
		},
		[]string{"series"},
	)
	volatilityConfidence = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ilpredictor_volatility_confidence_bps",
			Help: "Confidence of the latest volatility estimate in basis points",
		},
		[]string{"series"},
	)
	outlierStreak = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ilpredictor_outlier_streak",
			Help: "Consecutive observations rejected as outliers since the last accepted one",
		},
		[]string{"series"},
	)
	predictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ilpredictor_predictions_total",
			Help: "Predictions served, by outcome",
		},
		[]string{"series", "outcome"},
	)
	predictionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ilpredictor_prediction_duration_seconds",
			Help:    "Time spent serving a prediction",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
		[]string{"series"},
	)
	feedErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ilpredictor_feed_errors_total",
			Help: "Price feed failures, by denom",
		},
		[]string{"denom"},
	)
	eventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ilpredictor_events_dropped_total",
			Help: "Prediction events that could not be delivered, by sink",
		},
		[]string{"sink"},
	)
)

// RecordObservation counts an observation offered to an estimator.
func RecordObservation(series, result string) {
	observationsTotal.WithLabelValues(series, result).Inc()
}

// RecordRecompute counts a recompute attempt.
func RecordRecompute(series, result string) {
	recomputesTotal.WithLabelValues(series, result).Inc()
}

// RecordCircuitBreaker counts a capped volatility estimate.
func RecordCircuitBreaker(series string) {
	circuitBreakerTrips.WithLabelValues(series).Inc()
}

// SetVolatility publishes the latest estimate.
func SetVolatility(series string, estimate types.VolatilityEstimate) {
	value, err := utils.DecToFloat64(estimate.Value)
	if err != nil {
		return
	}
	volatility.WithLabelValues(series).Set(value)
	volatilityConfidence.WithLabelValues(series).Set(float64(estimate.Confidence))
}

// SetOutlierStreak publishes the current run of rejected observations.
func SetOutlierStreak(series string, streak int) {
	outlierStreak.WithLabelValues(series).Set(float64(streak))
}

// RecordPrediction counts a prediction and its latency.
func RecordPrediction(series, outcome string, elapsed time.Duration) {
	predictionsTotal.WithLabelValues(series, outcome).Inc()
	predictionLatency.WithLabelValues(series).Observe(elapsed.Seconds())
}

// RecordFeedError counts a failed price fetch.
func RecordFeedError(denom string) {
	feedErrors.WithLabelValues(denom).Inc()
}

// RecordEventDropped counts an undeliverable prediction event.
func RecordEventDropped(sink string) {
	eventsDropped.WithLabelValues(sink).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
