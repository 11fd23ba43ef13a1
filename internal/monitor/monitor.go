package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/elys-network/ilpredictor/internal/analyzer"
	"github.com/elys-network/ilpredictor/internal/config"
	"github.com/elys-network/ilpredictor/internal/datafetcher"
	"github.com/elys-network/ilpredictor/internal/events"
	"github.com/elys-network/ilpredictor/internal/logger"
	"github.com/elys-network/ilpredictor/internal/predictor"
	"github.com/elys-network/ilpredictor/internal/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrUnknownSeries = errors.New("series is not tracked")

// Store persists observations and estimates across restarts. state.PostgresStore implements it.
type Store interface {
	SaveObservation(ctx context.Context, series string, observation types.PriceObservation) error
	LoadRecentObservations(ctx context.Context, series string, limit int) ([]types.PriceObservation, error)
	SaveVolatilityEstimate(ctx context.Context, series string, estimate types.VolatilityEstimate) error
	NextCycle(ctx context.Context) (int, error)
}

// HistorySource supplies hourly closes for a warm start.
type HistorySource interface {
	FetchHistoricalPriceData(ctx context.Context, symbol string, hours int) ([]types.PriceObservation, error)
}

// Series bundles the estimator and predictor of one tracked denom.
type Series struct {
	Denom     string
	Estimator *analyzer.VolatilityEstimator
	Predictor *predictor.Predictor
}

// Monitor polls the price feed and keeps one Series per tracked denom up to date.
type Monitor struct {
	logger  zerolog.Logger
	feed    datafetcher.PriceFeed
	store   Store
	history HistorySource
	symbol  func(denom string) string

	denoms []string
	series map[string]*Series
	paused atomic.Bool

	// minimum spacing between recorded observations, zero records every poll
	minSpacing time.Duration

	cycleCount int
}

// Config holds the dependencies of a Monitor. Store, History, Sink and Clock are optional.
type Config struct {
	Feed       datafetcher.PriceFeed
	Store      Store
	History    HistorySource
	Sink       events.Sink
	Denoms     []string
	Parameters types.Parameters
	Clock      func() time.Time
	// PollInterval is how often RunLoop polls the feed. Polls faster than the sampling interval
	// implied by the estimator's periods_per_year are thinned to that interval.
	PollInterval time.Duration
	// Symbol maps a denom to the history provider's ticker, config.CryptoCompareSymbol by default.
	Symbol func(denom string) string
}

// NewMonitor creates the estimator and predictor of every tracked denom.
func NewMonitor(cfg Config) (*Monitor, error) {
	if err := validateMonitorConfig(cfg); err != nil {
		return nil, fmt.Errorf("monitor configuration validation failed: %w", err)
	}

	m := &Monitor{
		logger:  logger.GetForComponent("monitor"),
		feed:    cfg.Feed,
		store:   cfg.Store,
		history: cfg.History,
		symbol:  cfg.Symbol,
		series:  make(map[string]*Series, len(cfg.Denoms)),
	}
	if m.symbol == nil {
		m.symbol = config.CryptoCompareSymbol
	}

	sampleInterval := analyzer.SampleInterval(cfg.Parameters.Estimator)
	if sampleInterval > 0 {
		m.minSpacing = sampleInterval - cfg.PollInterval/2
	}
	cadence := sampleInterval
	if cadence == 0 {
		cadence = cfg.PollInterval
	}
	if m.history != nil && cadence != datafetcher.HISTORY_INTERVAL {
		m.logger.Warn().
			Dur("sampleInterval", cadence).
			Dur("historyInterval", datafetcher.HISTORY_INTERVAL).
			Msg("Sampling interval differs from the history interval, warm start from history disabled")
		m.history = nil
	}

	var estimatorOpts []analyzer.EstimatorOption
	var predictorOpts []predictor.Option
	if cfg.Clock != nil {
		estimatorOpts = append(estimatorOpts, analyzer.WithClock(cfg.Clock))
		predictorOpts = append(predictorOpts, predictor.WithClock(cfg.Clock))
	}
	if cfg.Sink != nil {
		predictorOpts = append(predictorOpts, predictor.WithEventSink(cfg.Sink))
	}

	for _, denom := range cfg.Denoms {
		estimator, err := analyzer.NewVolatilityEstimator(denom, cfg.Parameters.Estimator, estimatorOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create estimator for %s: %w", denom, err)
		}
		p, err := predictor.NewPredictor(denom, estimator, cfg.Parameters.Predictor, predictorOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create predictor for %s: %w", denom, err)
		}
		m.series[denom] = &Series{Denom: denom, Estimator: estimator, Predictor: p}
		m.denoms = append(m.denoms, denom)
	}
	sort.Strings(m.denoms)

	m.logger.Info().
		Strs("denoms", m.denoms).
		Bool("store", m.store != nil).
		Bool("history", m.history != nil).
		Dur("sampleInterval", sampleInterval).
		Dur("pollInterval", cfg.PollInterval).
		Msg("Monitor created")
	return m, nil
}

func validateMonitorConfig(cfg Config) error {
	if cfg.Feed == nil {
		return fmt.Errorf("price feed cannot be nil")
	}
	if len(cfg.Denoms) == 0 {
		return fmt.Errorf("at least one denom must be tracked")
	}
	seen := make(map[string]bool, len(cfg.Denoms))
	for _, denom := range cfg.Denoms {
		if denom == "" {
			return fmt.Errorf("denom cannot be empty")
		}
		if seen[denom] {
			return fmt.Errorf("denom %s is listed twice", denom)
		}
		seen[denom] = true
	}
	if cfg.PollInterval < 0 {
		return fmt.Errorf("poll interval cannot be negative")
	}
	if sampleInterval := analyzer.SampleInterval(cfg.Parameters.Estimator); sampleInterval > 0 && cfg.PollInterval > sampleInterval {
		return fmt.Errorf("poll interval %s is longer than the %s sampling interval of periods_per_year %d",
			cfg.PollInterval, sampleInterval, cfg.Parameters.Estimator.PeriodsPerYear)
	}
	return nil
}

// Series returns the tracked series of denom.
func (m *Monitor) Series(denom string) (*Series, error) {
	s, ok := m.series[denom]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSeries, denom)
	}
	return s, nil
}

// Denoms returns the tracked denoms in sorted order.
func (m *Monitor) Denoms() []string {
	out := make([]string, len(m.denoms))
	copy(out, m.denoms)
	return out
}

// Pause stops every estimator and predictor. Reads keep serving the last snapshot.
func (m *Monitor) Pause() {
	m.setPaused(true)
}

// Unpause resumes every estimator and predictor.
func (m *Monitor) Unpause() {
	m.setPaused(false)
}

func (m *Monitor) setPaused(paused bool) {
	m.paused.Store(paused)
	for _, denom := range m.denoms {
		s := m.series[denom]
		s.Estimator.SetPaused(paused)
		s.Predictor.SetPaused(paused)
	}
	m.logger.Warn().Bool("paused", paused).Msg("Monitor pause state changed")
}

// Paused reports whether the monitor is paused.
func (m *Monitor) Paused() bool {
	return m.paused.Load()
}

// Bootstrap restores each estimator from the store, falling back to the history source
// when the store holds fewer observations than a recompute needs. History is only used
// when the series is sampled hourly, like the history closes.
func (m *Monitor) Bootstrap(ctx context.Context) error {
	for _, denom := range m.denoms {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.bootstrapSeries(ctx, m.series[denom])
	}
	return nil
}

func (m *Monitor) bootstrapSeries(ctx context.Context, s *Series) {
	seriesLogger := m.logger.With().Str("series", s.Denom).Logger()
	params := s.Estimator.Params()

	var stored []types.PriceObservation
	if m.store != nil {
		var err error
		stored, err = m.store.LoadRecentObservations(ctx, s.Denom, params.Capacity)
		if err != nil {
			seriesLogger.Error().Err(err).Msg("Failed to load stored observations")
		}
	}

	if len(stored) >= params.MinDataPoints || m.history == nil {
		s.Estimator.Restore(stored)
	} else {
		hours := params.Capacity
		if hours > datafetcher.MAX_HOURS {
			hours = datafetcher.MAX_HOURS
		}
		fetched, err := m.history.FetchHistoricalPriceData(ctx, m.symbol(s.Denom), hours)
		if err != nil {
			seriesLogger.Error().Err(err).Msg("Failed to fetch price history, starting from stored observations")
			s.Estimator.Restore(stored)
		} else {
			// stored samples newer than the history are kept, older ones fail the ordering check
			s.Estimator.Restore(append(fetched, stored...))
			m.persistObservations(ctx, s.Denom, unstored(s.Estimator.Observations(), stored), seriesLogger)
		}
	}

	estimate, err := s.Estimator.RecomputeVolatility()
	if err != nil {
		if !isExpectedRecomputeError(err) {
			seriesLogger.Error().Err(err).Msg("Initial volatility recompute failed")
		}
		seriesLogger.Info().Int("observations", s.Estimator.Len()).Msg("Series bootstrapped without an estimate")
		return
	}
	m.persistEstimate(ctx, s.Denom, estimate, seriesLogger)
	seriesLogger.Info().
		Int("observations", s.Estimator.Len()).
		Str("volatility", estimate.Value.String()).
		Msg("Series bootstrapped")
}

// RunLoop runs a cycle immediately, then every interval until ctx is cancelled.
func (m *Monitor) RunLoop(ctx context.Context, interval time.Duration) {
	m.logger.Info().
		Dur("interval", interval).
		Msg("Starting monitor loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.cycleCount++
	m.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Monitor loop stopped due to context cancellation")
			return
		case <-ticker.C:
			m.cycleCount++
			m.RunCycle(ctx)
		}
	}
}

// RunCycle polls the feed once for every series, records the prices and recomputes
// volatility where the rate limit allows it. Per-series failures never abort the cycle.
func (m *Monitor) RunCycle(ctx context.Context) {
	cycleStartTime := time.Now()

	cycleID := uuid.New().String()
	cycleLogger := m.logger.With().Str("cycle_id", cycleID).Int("cycle", m.getCycleNumber(ctx)).Logger()

	if m.Paused() {
		cycleLogger.Info().Msg("Monitor is paused, skipping cycle")
		return
	}
	cycleLogger.Info().Msg("--- Starting monitor cycle ---")

	recorded, recomputed := 0, 0
	for _, denom := range m.denoms {
		if ctx.Err() != nil {
			cycleLogger.Warn().Msg("Cycle interrupted by context cancellation")
			return
		}
		ok, updated := m.updateSeries(ctx, m.series[denom], cycleLogger)
		if ok {
			recorded++
		}
		if updated {
			recomputed++
		}
	}

	cycleLogger.Info().
		Int("recorded", recorded).
		Int("recomputed", recomputed).
		Int("series", len(m.denoms)).
		Dur("duration", time.Since(cycleStartTime)).
		Msg("--- Monitor cycle completed ---")
}

func (m *Monitor) updateSeries(ctx context.Context, s *Series, cycleLogger zerolog.Logger) (recorded, recomputed bool) {
	seriesLogger := cycleLogger.With().Str("series", s.Denom).Logger()

	price, observedAt, err := m.feed.LatestPrice(ctx, s.Denom)
	if err != nil {
		seriesLogger.Error().Err(err).Msg("Failed to get latest price")
	} else if m.tooSoon(s, observedAt) {
		seriesLogger.Debug().Time("observedAt", observedAt).Msg("Price is inside the sampling interval, not recorded")
	} else {
		observation := types.PriceObservation{Price: price, Timestamp: observedAt, Valid: true}
		err = s.Estimator.RecordObservation(price, observedAt)
		switch {
		case err == nil:
			recorded = true
			m.persistObservations(ctx, s.Denom, []types.PriceObservation{observation}, seriesLogger)
		case errors.Is(err, analyzer.ErrOutOfOrderObservation):
			seriesLogger.Debug().Err(err).Msg("Feed has no newer price")
		default:
			seriesLogger.Warn().Err(err).Str("price", price.String()).Msg("Observation rejected")
		}
	}

	estimate, err := s.Estimator.RecomputeVolatility()
	if err != nil {
		if !isExpectedRecomputeError(err) {
			seriesLogger.Error().Err(err).Msg("Volatility recompute failed")
		}
		return recorded, false
	}
	m.persistEstimate(ctx, s.Denom, estimate, seriesLogger)
	return recorded, true
}

// tooSoon reports whether observedAt falls inside the sampling interval of the newest
// buffered observation. Older or equal timestamps are left to the estimator's ordering check.
func (m *Monitor) tooSoon(s *Series, observedAt time.Time) bool {
	if m.minSpacing <= 0 {
		return false
	}
	last, ok := s.Estimator.LastObservedAt()
	if !ok || !observedAt.After(last) {
		return false
	}
	return observedAt.Sub(last) < m.minSpacing
}

// unstored returns the observations whose timestamp is not among the stored ones.
func unstored(observations, stored []types.PriceObservation) []types.PriceObservation {
	seen := make(map[int64]bool, len(stored))
	for _, obs := range stored {
		seen[obs.Timestamp.UnixNano()] = true
	}
	var out []types.PriceObservation
	for _, obs := range observations {
		if !seen[obs.Timestamp.UnixNano()] {
			out = append(out, obs)
		}
	}
	return out
}

func isExpectedRecomputeError(err error) bool {
	return errors.Is(err, analyzer.ErrUpdateTooFrequent) ||
		errors.Is(err, analyzer.ErrInsufficientData) ||
		errors.Is(err, analyzer.ErrEstimatorPaused)
}

func (m *Monitor) persistObservations(ctx context.Context, denom string, observations []types.PriceObservation, l zerolog.Logger) {
	if m.store == nil {
		return
	}
	for _, obs := range observations {
		if err := m.store.SaveObservation(ctx, denom, obs); err != nil {
			l.Error().Err(err).Time("observedAt", obs.Timestamp).Msg("Failed to save observation")
			return
		}
	}
}

func (m *Monitor) persistEstimate(ctx context.Context, denom string, estimate types.VolatilityEstimate, l zerolog.Logger) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveVolatilityEstimate(ctx, denom, estimate); err != nil {
		l.Error().Err(err).Msg("Failed to save volatility estimate")
	}
}

// getCycleNumber returns the persistent cycle number, or the in-process count without a store.
func (m *Monitor) getCycleNumber(ctx context.Context) int {
	if m.store == nil {
		return m.cycleCount
	}
	cycleNumber, err := m.store.NextCycle(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to get persistent cycle number, using in-process count")
		return m.cycleCount
	}
	return cycleNumber
}

