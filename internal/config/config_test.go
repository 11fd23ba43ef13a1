package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/ilpredictor/internal/types"
)

func TestDefaultParametersMatchTags(t *testing.T) {
	params := DefaultParameters()

	assert.Equal(t, 720, params.Estimator.Capacity)
	assert.Equal(t, 7, params.Estimator.MinDataPoints)
	assert.Equal(t, types.BasisPoints(3000), params.Estimator.OutlierThreshold)
	assert.Equal(t, time.Hour, params.Estimator.MinUpdateInterval)
	assert.Equal(t, 24*time.Hour, params.Estimator.StalenessThreshold)
	assert.Equal(t, int64(8760), params.Estimator.PeriodsPerYear)
	assert.False(t, params.Estimator.UseEWMA)
	assert.Equal(t, types.BasisPoints(100000), params.Estimator.MaxAnnualizedVolatility)

	assert.Equal(t, 10*time.Minute, params.Predictor.CacheTTL)
	assert.Equal(t, types.BasisPoints(100), params.Predictor.MinBarrierRatio)
	assert.Equal(t, types.BasisPoints(1000000), params.Predictor.MaxBarrierRatio)
	assert.Equal(t, 2160*time.Hour, params.Predictor.VeryLongHorizon)
	assert.Equal(t, types.ILWeightingUniform, params.Predictor.ILWeighting)

	require.NoError(t, ValidateParameters(params))
}

func TestParseParametersOverridesAndKeepsDefaults(t *testing.T) {
	params, err := ParseParameters([]byte(`
estimator:
  capacity: 1440
  min_update_interval: 30m
  use_ewma: true
predictor:
  cache_ttl: 2m
  il_weighting: probability
`))
	require.NoError(t, err)

	assert.Equal(t, 1440, params.Estimator.Capacity)
	assert.Equal(t, 30*time.Minute, params.Estimator.MinUpdateInterval)
	assert.True(t, params.Estimator.UseEWMA)
	assert.Equal(t, types.BasisPoints(9400), params.Estimator.EWMALambda)
	assert.Equal(t, 2*time.Minute, params.Predictor.CacheTTL)
	assert.Equal(t, types.ILWeightingProbability, params.Predictor.ILWeighting)
	assert.Equal(t, 1024, params.Predictor.MaxCacheEntries)
}

func TestParseParametersKeepsExplicitZeros(t *testing.T) {
	params, err := ParseParameters([]byte("estimator:\n  periods_per_year: 0\n  min_update_interval: 0s\n"))
	require.NoError(t, err)

	// zero periods per year infers the annualization factor from the sample spacing
	assert.Equal(t, int64(0), params.Estimator.PeriodsPerYear)
	assert.Equal(t, time.Duration(0), params.Estimator.MinUpdateInterval)
	assert.Equal(t, 720, params.Estimator.Capacity)

	_, err = ParseParameters([]byte("estimator:\n  capacity: 0\n"))
	require.ErrorIs(t, err, ErrInvalidParameters)
}

func TestParseParametersRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown weighting", "predictor:\n  il_weighting: median\n"},
		{"capacity too small", "estimator:\n  capacity: 3\n"},
		{"min points above capacity", "estimator:\n  capacity: 10\n  min_data_points: 20\n"},
		{"penalty above 100%", "predictor:\n  stale_penalty_bps: 20000\n"},
		{"inverted barrier ratios", "predictor:\n  min_barrier_ratio_bps: 5000\n  max_barrier_ratio_bps: 4000\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseParameters([]byte(tt.yaml))
			require.ErrorIs(t, err, ErrInvalidParameters)
		})
	}

	_, err := ParseParameters([]byte("estimator: [1, 2"))
	require.Error(t, err)
}

func TestLoadParametersFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte("estimator:\n  outlier_threshold_bps: 1500\n"), 0o600))

	params, err := LoadParameters(path)
	require.NoError(t, err)
	assert.Equal(t, types.BasisPoints(1500), params.Estimator.OutlierThreshold)

	_, err = LoadParameters(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("NODE_GRPC", "localhost:9090")
	t.Setenv("TRACKED_DENOMS", "uatom, uosmo,,uatom")
	t.Setenv("POLL_INTERVAL", "5m")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DB_USER", "ilp")
	t.Setenv("DB_NAME", "ilp")

	require.NoError(t, LoadConfig())
	assert.Equal(t, "localhost:9090", NodeGRPC)
	assert.Equal(t, []string{"uatom", "uosmo"}, TrackedDenoms)
	assert.Equal(t, 5*time.Minute, PollInterval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, KafkaBrokers)
	assert.Equal(t, DEFAULT_KAFKA_TOPIC, KafkaTopic)
	assert.Equal(t, 6543, DB.Port)
	assert.True(t, DB.Enabled())
	assert.Equal(t, "disable", DB.SSLMode)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Setenv("NODE_GRPC", "localhost:9090")

	t.Setenv("TRACKED_DENOMS", " , ")
	require.Error(t, LoadConfig())

	t.Setenv("TRACKED_DENOMS", "uatom")
	t.Setenv("POLL_INTERVAL", "soon")
	require.Error(t, LoadConfig())

	t.Setenv("POLL_INTERVAL", "1m")
	t.Setenv("DB_PORT", "five")
	require.Error(t, LoadConfig())
}

func TestCryptoCompareSymbol(t *testing.T) {
	assert.Equal(t, "ATOM", CryptoCompareSymbol("uatom"))
	assert.Equal(t, "ETH", CryptoCompareSymbol("weth-wei"))
	assert.Equal(t, "FET", CryptoCompareSymbol("afet"))
	assert.Equal(t, "INJ", CryptoCompareSymbol("uinj"))
	assert.Equal(t, "BTC", CryptoCompareSymbol("btc"))
}
