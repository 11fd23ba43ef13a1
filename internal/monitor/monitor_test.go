package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/ilpredictor/internal/analyzer"
	"github.com/elys-network/ilpredictor/internal/config"
	"github.com/elys-network/ilpredictor/internal/types"
)

var start = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

var walk = []string{"100", "101", "99", "102", "100", "103", "101", "104", "102", "105", "103", "106"}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeFeed struct {
	mu     sync.Mutex
	clock  *fakeClock
	prices []string
	next   map[string]int
	calls  int
	err    error
}

func (f *fakeFeed) LatestPrice(_ context.Context, denom string) (sdkmath.LegacyDec, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return sdkmath.LegacyDec{}, time.Time{}, f.err
	}
	if f.next == nil {
		f.next = map[string]int{}
	}
	i := f.next[denom] % len(f.prices)
	f.next[denom]++
	return sdkmath.LegacyMustNewDecFromStr(f.prices[i]), f.clock.Now(), nil
}

type fakeStore struct {
	mu           sync.Mutex
	observations map[string][]types.PriceObservation
	estimates    map[string][]types.VolatilityEstimate
	cycle        int
	loadErr      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		observations: map[string][]types.PriceObservation{},
		estimates:    map[string][]types.VolatilityEstimate{},
	}
}

func (s *fakeStore) SaveObservation(_ context.Context, series string, obs types.PriceObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observations[series] = append(s.observations[series], obs)
	return nil
}

func (s *fakeStore) LoadRecentObservations(_ context.Context, series string, limit int) ([]types.PriceObservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	obs := s.observations[series]
	if len(obs) > limit {
		obs = obs[len(obs)-limit:]
	}
	return append([]types.PriceObservation(nil), obs...), nil
}

func (s *fakeStore) SaveVolatilityEstimate(_ context.Context, series string, estimate types.VolatilityEstimate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.estimates[series] = append(s.estimates[series], estimate)
	return nil
}

func (s *fakeStore) NextCycle(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycle++
	return s.cycle, nil
}

type fakeHistory struct {
	observations []types.PriceObservation
	err          error
	symbols      []string
}

func (h *fakeHistory) FetchHistoricalPriceData(_ context.Context, symbol string, hours int) ([]types.PriceObservation, error) {
	h.symbols = append(h.symbols, symbol)
	if h.err != nil {
		return nil, h.err
	}
	obs := h.observations
	if len(obs) > hours {
		obs = obs[len(obs)-hours:]
	}
	return obs, nil
}

func hourly(from time.Time, prices []string) []types.PriceObservation {
	out := make([]types.PriceObservation, len(prices))
	for i, p := range prices {
		out[i] = types.PriceObservation{
			Price:     sdkmath.LegacyMustNewDecFromStr(p),
			Timestamp: from.Add(time.Duration(i) * time.Hour),
			Valid:     true,
		}
	}
	return out
}

func newTestMonitor(t *testing.T, store Store, history HistorySource, denoms ...string) (*Monitor, *fakeFeed, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: start}
	feed := &fakeFeed{clock: clock, prices: walk}
	cfg := Config{
		Feed:       feed,
		History:    history,
		Denoms:     denoms,
		Parameters: config.DefaultParameters(),
		Clock:      clock.Now,
	}
	if store != nil {
		cfg.Store = store
	}
	m, err := NewMonitor(cfg)
	require.NoError(t, err)
	return m, feed, clock
}

func TestNewMonitorValidatesConfig(t *testing.T) {
	feed := &fakeFeed{clock: &fakeClock{now: start}, prices: walk}
	params := config.DefaultParameters()

	_, err := NewMonitor(Config{Denoms: []string{"uatom"}, Parameters: params})
	require.Error(t, err)
	_, err = NewMonitor(Config{Feed: feed, Parameters: params})
	require.Error(t, err)
	_, err = NewMonitor(Config{Feed: feed, Denoms: []string{"uatom", "uatom"}, Parameters: params})
	require.Error(t, err)

	bad := params
	bad.Estimator.Capacity = 3
	_, err = NewMonitor(Config{Feed: feed, Denoms: []string{"uatom"}, Parameters: bad})
	require.Error(t, err)

	// hourly annualization cannot be fed slower than hourly
	_, err = NewMonitor(Config{Feed: feed, Denoms: []string{"uatom"}, Parameters: params, PollInterval: 2 * time.Hour})
	require.Error(t, err)
	_, err = NewMonitor(Config{Feed: feed, Denoms: []string{"uatom"}, Parameters: params, PollInterval: -time.Minute})
	require.Error(t, err)
}

func TestSeriesLookup(t *testing.T) {
	m, _, _ := newTestMonitor(t, nil, nil, "uosmo", "uatom")

	assert.Equal(t, []string{"uatom", "uosmo"}, m.Denoms())
	s, err := m.Series("uatom")
	require.NoError(t, err)
	assert.Equal(t, "uatom", s.Denom)
	assert.Equal(t, "uatom", s.Estimator.Series())
	assert.Equal(t, "uatom", s.Predictor.Series())

	_, err = m.Series("uelys")
	require.ErrorIs(t, err, ErrUnknownSeries)
}

func TestBootstrapFallsBackToHistory(t *testing.T) {
	store := newFakeStore()
	history := &fakeHistory{observations: hourly(start.Add(-12*time.Hour), walk)}
	m, _, _ := newTestMonitor(t, store, history, "uatom")

	require.NoError(t, m.Bootstrap(context.Background()))

	s, _ := m.Series("uatom")
	assert.Equal(t, len(walk), s.Estimator.Len())
	assert.Equal(t, []string{"ATOM"}, history.symbols)
	assert.True(t, s.Estimator.GetVolatility().HasValue())
	assert.Len(t, store.observations["uatom"], len(walk))
	assert.Len(t, store.estimates["uatom"], 1)
}

func TestBootstrapPersistsOnlyAcceptedHistory(t *testing.T) {
	store := newFakeStore()
	prices := append([]string{}, walk[:6]...)
	prices = append(prices, "500") // bad print
	prices = append(prices, walk[6:]...)
	history := &fakeHistory{observations: hourly(start.Add(-13*time.Hour), prices)}
	m, _, _ := newTestMonitor(t, store, history, "uatom")

	require.NoError(t, m.Bootstrap(context.Background()))

	s, _ := m.Series("uatom")
	require.Equal(t, len(walk), s.Estimator.Len())
	stored := store.observations["uatom"]
	require.Len(t, stored, len(walk))
	for _, obs := range stored {
		assert.False(t, obs.Price.Equal(sdkmath.LegacyNewDec(500)))
	}
}

func TestBootstrapSkipsHistoryAtOtherCadence(t *testing.T) {
	params := config.DefaultParameters()
	params.Estimator.PeriodsPerYear = 0
	history := &fakeHistory{observations: hourly(start.Add(-12*time.Hour), walk)}
	clock := &fakeClock{now: start}
	m, err := NewMonitor(Config{
		Feed:         &fakeFeed{clock: clock, prices: walk},
		History:      history,
		Denoms:       []string{"uatom"},
		Parameters:   params,
		Clock:        clock.Now,
		PollInterval: 10 * time.Minute,
	})
	require.NoError(t, err)

	require.NoError(t, m.Bootstrap(context.Background()))
	assert.Empty(t, history.symbols)
	s, _ := m.Series("uatom")
	assert.Equal(t, 0, s.Estimator.Len())
}

func TestBootstrapPrefersStoredObservations(t *testing.T) {
	store := newFakeStore()
	store.observations["uatom"] = hourly(start.Add(-12*time.Hour), walk)
	history := &fakeHistory{err: errors.New("should not be called")}
	m, _, _ := newTestMonitor(t, store, history, "uatom")

	require.NoError(t, m.Bootstrap(context.Background()))

	s, _ := m.Series("uatom")
	assert.Equal(t, len(walk), s.Estimator.Len())
	assert.Empty(t, history.symbols)
}

func TestBootstrapSurvivesFailures(t *testing.T) {
	store := newFakeStore()
	store.loadErr = errors.New("connection refused")
	history := &fakeHistory{err: errors.New("rate limited")}
	m, _, _ := newTestMonitor(t, store, history, "uatom")

	require.NoError(t, m.Bootstrap(context.Background()))
	s, _ := m.Series("uatom")
	assert.Equal(t, 0, s.Estimator.Len())
	assert.Equal(t, types.StateInsufficientData, s.Estimator.State())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, m.Bootstrap(ctx), context.Canceled)
}

func TestRunCycleRecordsAndRecomputes(t *testing.T) {
	store := newFakeStore()
	m, feed, clock := newTestMonitor(t, store, nil, "uatom", "uosmo")
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		m.RunCycle(ctx)
		clock.Advance(time.Hour)
	}

	assert.Equal(t, 16, feed.calls)
	assert.Equal(t, 8, store.cycle)
	for _, denom := range []string{"uatom", "uosmo"} {
		s, _ := m.Series(denom)
		assert.Equal(t, 8, s.Estimator.Len())
		assert.Len(t, store.observations[denom], 8)
		// the first recompute succeeds at the seventh sample, the next one an hour later
		assert.Len(t, store.estimates[denom], 2)
		assert.Equal(t, types.StateEstimating, s.Estimator.State())
	}
}

func TestRunCycleSamplesAtTheAnnualizationInterval(t *testing.T) {
	clock := &fakeClock{now: start}
	feed := &fakeFeed{clock: clock, prices: walk}
	m, err := NewMonitor(Config{
		Feed:         feed,
		Denoms:       []string{"uatom"},
		Parameters:   config.DefaultParameters(),
		Clock:        clock.Now,
		PollInterval: 10 * time.Minute,
	})
	require.NoError(t, err)
	ctx := context.Background()

	// six hours of ten-minute polls
	for i := 0; i <= 36; i++ {
		m.RunCycle(ctx)
		clock.Advance(10 * time.Minute)
	}
	assert.Equal(t, 37, feed.calls)

	s, _ := m.Series("uatom")
	obs := s.Estimator.Observations()
	require.Len(t, obs, 7)
	for i := 1; i < len(obs); i++ {
		assert.Equal(t, time.Hour, obs[i].Timestamp.Sub(obs[i-1].Timestamp))
	}

	// the annualized value matches one inferred from the actual spacing
	inferred, err := analyzer.CalculateVolatility(obs, 0)
	require.NoError(t, err)
	est := s.Estimator.GetVolatility()
	require.True(t, est.HasValue())
	assert.True(t, inferred.Equal(est.Value), "%s != %s", inferred, est.Value)
}

func TestRunCycleToleratesRejectionsAndFeedErrors(t *testing.T) {
	store := newFakeStore()
	m, feed, clock := newTestMonitor(t, store, nil, "uatom")
	ctx := context.Background()
	s, _ := m.Series("uatom")

	m.RunCycle(ctx)
	require.Equal(t, 1, s.Estimator.Len())

	// same timestamp: the feed has nothing newer
	m.RunCycle(ctx)
	assert.Equal(t, 1, s.Estimator.Len())

	clock.Advance(time.Hour)
	feed.prices = []string{"500"}
	m.RunCycle(ctx)
	assert.Equal(t, 1, s.Estimator.Len())

	clock.Advance(time.Hour)
	feed.err = errors.New("node unreachable")
	m.RunCycle(ctx)
	assert.Equal(t, 1, s.Estimator.Len())
	assert.Len(t, store.observations["uatom"], 1)
	assert.Equal(t, 4, store.cycle)
}

func TestPauseFansOut(t *testing.T) {
	m, feed, _ := newTestMonitor(t, nil, nil, "uatom", "uosmo")

	m.Pause()
	assert.True(t, m.Paused())
	for _, denom := range m.Denoms() {
		s, _ := m.Series(denom)
		assert.True(t, s.Estimator.Paused())
		assert.True(t, s.Predictor.Paused())
	}
	m.RunCycle(context.Background())
	assert.Equal(t, 0, feed.calls)

	m.Unpause()
	assert.False(t, m.Paused())
	for _, denom := range m.Denoms() {
		s, _ := m.Series(denom)
		assert.False(t, s.Estimator.Paused())
		assert.False(t, s.Predictor.Paused())
	}
	m.RunCycle(context.Background())
	assert.Equal(t, 2, feed.calls)
}

func TestRunLoopStopsOnCancel(t *testing.T) {
	m, feed, _ := newTestMonitor(t, nil, nil, "uatom")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		m.RunLoop(ctx, time.Hour)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("RunLoop did not return after cancellation")
	}
	// the immediate first cycle stops before polling once the context is done
	assert.Equal(t, 0, feed.calls)
}
