package predictor

import (
	"context"
	"sync"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/creasty/defaults"
	"github.com/elys-network/ilpredictor/internal/analyzer"
	"github.com/elys-network/ilpredictor/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const day = 24 * time.Hour

type stubSource struct {
	mu       sync.Mutex
	estimate types.VolatilityEstimate
	calls    int
}

func (s *stubSource) GetVolatility() types.VolatilityEstimate {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.estimate
}

func (s *stubSource) set(estimate types.VolatilityEstimate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.estimate = estimate
}

func (s *stubSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type countingSink struct {
	mu     sync.Mutex
	events []types.PredictionEvent
}

func (s *countingSink) Emit(_ context.Context, event types.PredictionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *countingSink) Close() error { return nil }

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func testParams() types.PredictorParameters {
	return types.PredictorParameters{
		CacheTTL:               10 * time.Minute,
		MaxCacheEntries:        1024,
		MinBarrierRatio:        100,
		MaxBarrierRatio:        1_000_000,
		StalePenalty:           3000,
		LongHorizon:            30 * day,
		LongHorizonPenalty:     1000,
		VeryLongHorizon:        90 * day,
		VeryLongHorizonPenalty: 1000,
		NearBarrierDistance:    1000,
		NearBarrierPenalty:     1500,
		MaxPriceImpact:         5000,
		ILWeighting:            types.ILWeightingUniform,
	}
}

func dec(s string) sdkmath.LegacyDec {
	return sdkmath.LegacyMustNewDecFromStr(s)
}

func estimate(vol string) types.VolatilityEstimate {
	return types.VolatilityEstimate{
		Value:      dec(vol),
		Confidence: 10000,
		DataPoints: 720,
		Source:     types.SourceComputed,
	}
}

func request(t *testing.T, current, lower, upper string, horizon time.Duration) types.PredictionRequest {
	t.Helper()
	req, err := types.NewPredictionRequest(dec(current), dec(lower), dec(upper), horizon)
	require.NoError(t, err)
	return req
}

type harness struct {
	predictor *Predictor
	source    *stubSource
	sink      *countingSink
	clock     *time.Time
}

func newHarness(t *testing.T, params types.PredictorParameters, est types.VolatilityEstimate) *harness {
	t.Helper()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	h := &harness{source: &stubSource{estimate: est}, sink: &countingSink{}, clock: &now}
	p, err := NewPredictor("test", h.source, params,
		WithClock(func() time.Time { return *h.clock }),
		WithEventSink(h.sink))
	require.NoError(t, err)
	h.predictor = p
	return h
}

func (h *harness) predict(t *testing.T, req types.PredictionRequest) types.PredictionResult {
	t.Helper()
	res, err := h.predictor.Predict(context.Background(), req)
	require.NoError(t, err)
	return res
}

func TestCalculateRealizedIL(t *testing.T) {
	il, err := CalculateRealizedIL(dec("2000"), dec("4000"))
	require.NoError(t, err)
	assert.Equal(t, types.BasisPoints(572), il)

	il, err = CalculateRealizedIL(dec("2000"), dec("1000"))
	require.NoError(t, err)
	assert.Equal(t, types.BasisPoints(572), il)

	il, err = CalculateRealizedIL(dec("2000"), dec("2000"))
	require.NoError(t, err)
	assert.Equal(t, types.BasisPoints(0), il)

	il, err = CalculateRealizedIL(dec("100"), dec("150"))
	require.NoError(t, err)
	assert.Equal(t, types.BasisPoints(202), il)

	_, err = CalculateRealizedIL(sdkmath.LegacyZeroDec(), dec("1"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestImpermanentLossSymmetry(t *testing.T) {
	for _, r := range []string{"1.1", "2", "3.7", "10", "99"} {
		up, err := ImpermanentLoss(dec(r))
		require.NoError(t, err)
		down, err := ImpermanentLoss(sdkmath.LegacyOneDec().Quo(dec(r)))
		require.NoError(t, err)
		assert.True(t, up.Sub(down).Abs().LT(dec("0.000000000001")), r)
	}
	il, err := ImpermanentLoss(sdkmath.LegacyOneDec())
	require.NoError(t, err)
	assert.True(t, il.IsZero())
}

func TestExitProbabilityIncreasesWithHorizon(t *testing.T) {
	h := newHarness(t, testParams(), estimate("0.5"))

	expected := []types.BasisPoints{1476, 4842, 6877, 7779, 8454}
	prev := types.BasisPoints(0)
	for i, days := range []time.Duration{7, 30, 90, 180, 365} {
		res := h.predict(t, request(t, "100", "90", "110", days*day))
		assert.InDelta(t, float64(expected[i]), float64(res.ExitProbability), 1, "horizon %d days", days)
		assert.Greater(t, res.ExitProbability, prev, "horizon %d days", days)
		prev = res.ExitProbability
	}

	// the raw probability is strictly increasing even where basis points round alike
	prevMass := sdkmath.LegacyZeroDec()
	for hours := time.Duration(24); hours <= 96; hours++ {
		mass, err := exitProbability(request(t, "100", "90", "110", hours*time.Hour), dec("0.5"))
		require.NoError(t, err)
		require.True(t, mass.total().GT(prevMass), "horizon %d hours", hours)
		prevMass = mass.total()
	}
}

func TestExitProbabilityIncreasesAsRangeNarrows(t *testing.T) {
	h := newHarness(t, testParams(), estimate("0.5"))

	ranges := [][2]string{{"50", "200"}, {"80", "125"}, {"90", "110"}, {"95", "105"}}
	expected := []types.BasisPoints{0, 1205, 4842, 7275}
	prev := -1
	for i, r := range ranges {
		res := h.predict(t, request(t, "100", r[0], r[1], 30*day))
		assert.InDelta(t, float64(expected[i]), float64(res.ExitProbability), 1, "range %v", r)
		assert.Greater(t, int(res.ExitProbability), prev, "range %v", r)
		prev = int(res.ExitProbability)
	}
}

func TestExpectedILIncreasesWithVolatility(t *testing.T) {
	req := request(t, "2000", "1000", "4000", 90*day)
	expected := map[string]types.BasisPoints{"0.5": 3, "0.8": 50, "1.2": 152, "1.6": 240, "3": 414}

	prev := -1
	for _, vol := range []string{"0.5", "0.8", "1.2", "1.6", "3"} {
		h := newHarness(t, testParams(), estimate(vol))
		res := h.predict(t, req)
		assert.InDelta(t, float64(expected[vol]), float64(res.ExpectedIL), 1, "vol %s", vol)
		assert.Greater(t, int(res.ExpectedIL), prev, "vol %s", vol)
		prev = int(res.ExpectedIL)
	}

	h := newHarness(t, testParams(), estimate("0.1"))
	res := h.predict(t, req)
	assert.Equal(t, types.BasisPoints(0), res.ExpectedIL)
	assert.Equal(t, types.BasisPoints(0), res.ExitProbability)
}

func TestProbabilityWeightedIL(t *testing.T) {
	req := request(t, "100", "50", "110", 60*day)

	uniform := newHarness(t, testParams(), estimate("0.6")).predict(t, req)
	assert.InDelta(t, 90, float64(uniform.ExpectedIL), 1)

	params := testParams()
	params.ILWeighting = types.ILWeightingProbability
	weighted := newHarness(t, params, estimate("0.6")).predict(t, req)
	assert.InDelta(t, 5, float64(weighted.ExpectedIL), 1)
	assert.Equal(t, uniform.ExitProbability, weighted.ExitProbability)
}

func TestCacheHitSkipsVolatilityLookup(t *testing.T) {
	h := newHarness(t, testParams(), estimate("0.8"))
	req := request(t, "2000", "1000", "4000", 30*day)

	first := h.predict(t, req)
	assert.Equal(t, 1, h.source.callCount())
	assert.Equal(t, 1, h.sink.count())

	second := h.predict(t, req)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, h.source.callCount())
	assert.Equal(t, 1, h.sink.count())
	assert.Equal(t, 1, h.predictor.CacheLen())

	// a different request is a miss
	h.predict(t, request(t, "2000", "1000", "4000", 31*day))
	assert.Equal(t, 2, h.source.callCount())
	assert.Equal(t, 2, h.predictor.CacheLen())
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	h := newHarness(t, testParams(), estimate("0.8"))
	req := request(t, "2000", "1000", "4000", 30*day)

	first := h.predict(t, req)
	*h.clock = h.clock.Add(9 * time.Minute)
	h.predict(t, req)
	assert.Equal(t, 1, h.source.callCount())

	h.source.set(estimate("1.6"))
	*h.clock = h.clock.Add(time.Minute)
	refreshed := h.predict(t, req)
	assert.Equal(t, 2, h.source.callCount())
	assert.Greater(t, refreshed.ExitProbability, first.ExitProbability)

	require.NoError(t, h.predictor.SetCacheTTL(time.Minute))
	*h.clock = h.clock.Add(time.Minute)
	h.predict(t, req)
	assert.Equal(t, 3, h.source.callCount())
	assert.Error(t, h.predictor.SetCacheTTL(0))
}

func TestClearCache(t *testing.T) {
	h := newHarness(t, testParams(), estimate("0.8"))
	req := request(t, "2000", "1000", "4000", 30*day)
	h.predict(t, req)

	h.source.set(estimate("1.6"))
	h.predictor.ClearCache()
	assert.Equal(t, 0, h.predictor.CacheLen())
	h.predict(t, req)
	assert.Equal(t, 2, h.source.callCount())
}

func TestCacheIsBounded(t *testing.T) {
	params := testParams()
	params.MaxCacheEntries = 3
	h := newHarness(t, params, estimate("0.8"))

	for i := 0; i < 5; i++ {
		*h.clock = h.clock.Add(time.Second)
		h.predict(t, request(t, "2000", "1000", "4000", time.Duration(10+i)*day))
	}
	assert.Equal(t, 3, h.predictor.CacheLen())

	// the oldest entries were evicted
	calls := h.source.callCount()
	h.predict(t, request(t, "2000", "1000", "4000", 14*day))
	assert.Equal(t, calls, h.source.callCount())
	h.predict(t, request(t, "2000", "1000", "4000", 10*day))
	assert.Equal(t, calls+1, h.source.callCount())
}

func TestInvalidVolatility(t *testing.T) {
	h := newHarness(t, testParams(), types.VolatilityEstimate{Value: sdkmath.LegacyZeroDec(), Source: types.SourceNone})
	_, err := h.predictor.Predict(context.Background(), request(t, "2000", "1000", "4000", 30*day))
	assert.ErrorIs(t, err, ErrInvalidVolatility)
	assert.Equal(t, 0, h.predictor.CacheLen())
	assert.Equal(t, 0, h.sink.count())
}

func TestDegenerateVolatility(t *testing.T) {
	h := newHarness(t, testParams(), estimate("0.000000000000000001"))
	_, err := h.predictor.Predict(context.Background(), request(t, "2000", "1000", "4000", time.Hour))
	require.ErrorIs(t, err, ErrDegenerateVolatility)
	assert.ErrorIs(t, err, ErrInvalidVolatility)
	assert.Equal(t, 0, h.predictor.CacheLen())
}

func TestInputValidation(t *testing.T) {
	h := newHarness(t, testParams(), estimate("0.8"))

	tests := []struct {
		name       string
		req        types.PredictionRequest
		constraint Constraint
	}{
		{"zero price", types.PredictionRequest{CurrentPrice: sdkmath.LegacyZeroDec(), LowerBound: dec("1"), UpperBound: dec("2"), TimeHorizon: day}, ConstraintPricePositive},
		{"price too small", types.PredictionRequest{CurrentPrice: dec("0.0000000000001"), LowerBound: dec("0.00000000000009"), UpperBound: dec("0.0000000000002"), TimeHorizon: day}, ConstraintPriceRange},
		{"price too large", types.PredictionRequest{CurrentPrice: dec("2000000000000"), LowerBound: dec("1000000000000"), UpperBound: dec("3000000000000"), TimeHorizon: day}, ConstraintPriceRange},
		{"zero lower bound", types.PredictionRequest{CurrentPrice: dec("2000"), LowerBound: sdkmath.LegacyZeroDec(), UpperBound: dec("4000"), TimeHorizon: day}, ConstraintBoundPositive},
		{"inverted bounds", types.PredictionRequest{CurrentPrice: dec("2000"), LowerBound: dec("4000"), UpperBound: dec("1000"), TimeHorizon: day}, ConstraintBoundOrder},
		{"equal bounds", types.PredictionRequest{CurrentPrice: dec("2000"), LowerBound: dec("2000"), UpperBound: dec("2000"), TimeHorizon: day}, ConstraintBoundOrder},
		{"lower bound too far", types.PredictionRequest{CurrentPrice: dec("2000"), LowerBound: dec("10"), UpperBound: dec("4000"), TimeHorizon: day}, ConstraintBarrierRatio},
		{"upper bound too far", types.PredictionRequest{CurrentPrice: dec("2000"), LowerBound: dec("1000"), UpperBound: dec("300000"), TimeHorizon: day}, ConstraintBarrierRatio},
		{"horizon too short", types.PredictionRequest{CurrentPrice: dec("2000"), LowerBound: dec("1000"), UpperBound: dec("4000"), TimeHorizon: 59 * time.Minute}, ConstraintHorizonRange},
		{"horizon too long", types.PredictionRequest{CurrentPrice: dec("2000"), LowerBound: dec("1000"), UpperBound: dec("4000"), TimeHorizon: 366 * day}, ConstraintHorizonRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.predictor.Predict(context.Background(), tt.req)
			require.ErrorIs(t, err, ErrInvalidInput)
			var inputErr *InvalidInputError
			require.ErrorAs(t, err, &inputErr)
			assert.Equal(t, tt.constraint, inputErr.Constraint)
		})
	}
	assert.Equal(t, 0, h.source.callCount())

	// boundaries are inclusive
	h.predict(t, request(t, "2000", "1000", "4000", time.Hour))
	h.predict(t, request(t, "2000", "1000", "4000", 365*day))
	h.predict(t, request(t, "2000", "20", "200000", 30*day))
}

func TestConfidenceAdjustments(t *testing.T) {
	tests := []struct {
		name    string
		stale   bool
		req     [3]string
		horizon time.Duration
		want    types.BasisPoints
	}{
		{"fresh", false, [3]string{"2000", "1000", "4000"}, 30 * day, 10000},
		{"stale", true, [3]string{"2000", "1000", "4000"}, 30 * day, 7000},
		{"beyond 30 days", false, [3]string{"2000", "1000", "4000"}, 31 * day, 9000},
		{"beyond 90 days", false, [3]string{"2000", "1000", "4000"}, 91 * day, 8100},
		{"near lower barrier", false, [3]string{"100", "90", "200"}, 7 * day, 8500},
		{"near upper barrier", false, [3]string{"100", "50", "105"}, 7 * day, 8500},
		{"everything", true, [3]string{"100", "95", "200"}, 91 * day, 4819},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est := estimate("0.8")
			est.IsStale = tt.stale
			h := newHarness(t, testParams(), est)
			res := h.predict(t, request(t, tt.req[0], tt.req[1], tt.req[2], tt.horizon))
			assert.Equal(t, tt.want, res.Confidence)
		})
	}
}

func TestPredictFromPerturbation(t *testing.T) {
	h := newHarness(t, testParams(), estimate("0.8"))
	p := h.predictor

	// 10% impact stays inside the range
	res, err := p.PredictFromPerturbation(dec("100"), dec("80"), dec("125"), dec("1000"), dec("10000"))
	require.NoError(t, err)
	assert.Equal(t, types.BasisPoints(1000), res.PriceImpact)
	assert.True(t, res.NewPrice.Equal(dec("110")))
	assert.False(t, res.ExitsRange)
	assert.Equal(t, types.BasisPoints(0), res.ExpectedIL)

	// a sell pushes the price below the lower bound
	res, err = p.PredictFromPerturbation(dec("100"), dec("80"), dec("125"), dec("-2500"), dec("10000"))
	require.NoError(t, err)
	assert.True(t, res.NewPrice.Equal(dec("75")))
	assert.True(t, res.ExitsRange)
	// IL(0.75) = 1 - 2*sqrt(0.75)/1.75
	assert.Equal(t, types.BasisPoints(103), res.ExpectedIL)

	// impact is capped at 50%
	res, err = p.PredictFromPerturbation(dec("100"), dec("80"), dec("125"), dec("1000000"), dec("10"))
	require.NoError(t, err)
	assert.Equal(t, types.BasisPoints(5000), res.PriceImpact)
	assert.True(t, res.NewPrice.Equal(dec("150")))
	assert.True(t, res.ExitsRange)
	assert.Equal(t, types.BasisPoints(202), res.ExpectedIL)

	// no trade, no move
	res, err = p.PredictFromPerturbation(dec("100"), dec("80"), dec("125"), sdkmath.LegacyZeroDec(), dec("10"))
	require.NoError(t, err)
	assert.True(t, res.NewPrice.Equal(dec("100")))
	assert.False(t, res.ExitsRange)

	_, err = p.PredictFromPerturbation(dec("100"), dec("80"), dec("125"), dec("1"), sdkmath.LegacyZeroDec())
	var inputErr *InvalidInputError
	require.ErrorAs(t, err, &inputErr)
	assert.Equal(t, ConstraintLiquidityDepth, inputErr.Constraint)

	_, err = p.PredictFromPerturbation(dec("100"), dec("125"), dec("80"), dec("1"), dec("10"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPause(t *testing.T) {
	h := newHarness(t, testParams(), estimate("0.8"))
	h.predictor.SetPaused(true)
	assert.True(t, h.predictor.Paused())

	_, err := h.predictor.Predict(context.Background(), request(t, "2000", "1000", "4000", 30*day))
	assert.ErrorIs(t, err, ErrPaused)
	_, err = h.predictor.PredictFromPerturbation(dec("100"), dec("80"), dec("125"), dec("1"), dec("10"))
	assert.ErrorIs(t, err, ErrPaused)

	h.predictor.SetPaused(false)
	h.predict(t, request(t, "2000", "1000", "4000", 30*day))
}

func TestEventContents(t *testing.T) {
	h := newHarness(t, testParams(), estimate("0.8"))
	req := request(t, "2000", "1000", "4000", 30*day)
	res := h.predict(t, req)

	require.Equal(t, 1, h.sink.count())
	event := h.sink.events[0]
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "test", event.Series)
	assert.True(t, event.Request.Equal(req))
	assert.Equal(t, res, event.Result)
	assert.True(t, event.Volatility.Value.Equal(dec("0.8")))
	assert.Equal(t, *h.clock, event.EmittedAt)
}

func TestNewPredictorValidatesParameters(t *testing.T) {
	params := testParams()
	params.ILWeighting = "median"
	_, err := NewPredictor("x", &stubSource{}, params)
	assert.ErrorIs(t, err, ErrInvalidPredictorParameters)

	params = testParams()
	params.CacheTTL = 0
	_, err = NewPredictor("x", &stubSource{}, params)
	assert.ErrorIs(t, err, ErrInvalidPredictorParameters)

	_, err = NewPredictor("x", nil, testParams())
	assert.Error(t, err)
}

func TestPredictWithEstimatedVolatility(t *testing.T) {
	var params types.EstimatorParameters
	defaults.MustSet(&params)

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Hour)
	estimator, err := analyzer.NewVolatilityEstimator("test", params, analyzer.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	// hourly log returns of about ±0.52% annualize to roughly 50%
	for i := 0; i <= 30; i++ {
		price := "2000"
		if i%2 == 1 {
			price = "2010.5"
		}
		require.NoError(t, estimator.RecordObservation(dec(price), start.Add(time.Duration(i)*time.Hour)))
	}
	est, err := estimator.RecomputeVolatility()
	require.NoError(t, err)
	vol, err := est.Value.Float64()
	require.NoError(t, err)
	assert.InDelta(t, 0.5, vol, 0.01)
	assert.False(t, est.IsStale)

	p, err := NewPredictor("test", estimator, testParams(), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	res, err := p.Predict(context.Background(), request(t, "2000", "1000", "4000", 30*day))
	require.NoError(t, err)
	assert.Greater(t, res.Confidence, types.BasisPoints(5000))
	assert.LessOrEqual(t, res.ExitProbability, types.MaxBasisPoints)
	assert.LessOrEqual(t, res.ExpectedIL, res.ExitProbability)
}
