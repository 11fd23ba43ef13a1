package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/ilpredictor/internal/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	RecordObservation("metrics-test", ResultOutlier)
	RecordObservation("metrics-test", ResultOutlier)
	assert.Equal(t, 2.0, testutil.ToFloat64(observationsTotal.WithLabelValues("metrics-test", ResultOutlier)))

	RecordCircuitBreaker("metrics-test")
	assert.Equal(t, 1.0, testutil.ToFloat64(circuitBreakerTrips.WithLabelValues("metrics-test")))

	RecordPrediction("metrics-test", OutcomeCached, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(predictionsTotal.WithLabelValues("metrics-test", OutcomeCached)))
}

func TestSetVolatility(t *testing.T) {
	SetVolatility("metrics-gauge", types.VolatilityEstimate{
		Value:      sdkmath.LegacyMustNewDecFromStr("0.55"),
		Confidence: 8000,
	})
	assert.InDelta(t, 0.55, testutil.ToFloat64(volatility.WithLabelValues("metrics-gauge")), 1e-12)
	assert.Equal(t, 8000.0, testutil.ToFloat64(volatilityConfidence.WithLabelValues("metrics-gauge")))
}

func TestHandler(t *testing.T) {
	RecordFeedError("uatom")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "ilpredictor_feed_errors_total")
}
