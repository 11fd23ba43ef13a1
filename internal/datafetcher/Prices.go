package datafetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/cosmos/cosmos-sdk/types/query"
	tier "github.com/elys-network/elys/v6/x/tier/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/elys-network/ilpredictor/internal/logger"
	"github.com/elys-network/ilpredictor/internal/metrics"
)

var (
	ErrPriceUnavailable = errors.New("no price available for denom")
	ErrStalePrice       = errors.New("last good price is too old")
)

const (
	DEFAULT_MAX_PRICE_AGE    = 30 * time.Minute
	DEFAULT_REFRESH_INTERVAL = 15 * time.Second
	PRICE_PAGE_LIMIT         = uint64(500)
)

// PriceFeed supplies the latest price of a denom together with the time it was observed.
type PriceFeed interface {
	LatestPrice(ctx context.Context, denom string) (sdkmath.LegacyDec, time.Time, error)
}

// PriceFetcher returns the current price of every denom the source knows.
type PriceFetcher func(ctx context.Context) (map[string]sdkmath.LegacyDec, error)

type quote struct {
	price      sdkmath.LegacyDec
	observedAt time.Time
}

// OraclePriceFeed serves prices from the chain's tier module. A single refresh loads every
// denom, so polling several series within the refresh interval costs one query. The last good
// price of each denom survives failed refreshes until it is older than the max age.
type OraclePriceFeed struct {
	mu              sync.Mutex
	fetch           PriceFetcher
	now             func() time.Time
	maxAge          time.Duration
	refreshInterval time.Duration
	lastRefresh     time.Time
	lastErr         error
	quotes          map[string]quote
	logger          zerolog.Logger
}

// OracleOption customizes an OraclePriceFeed.
type OracleOption func(*OraclePriceFeed)

// WithFeedClock replaces time.Now, for tests.
func WithFeedClock(now func() time.Time) OracleOption {
	return func(f *OraclePriceFeed) {
		f.now = now
	}
}

// WithMaxPriceAge sets how old the last good price may be before ErrStalePrice.
func WithMaxPriceAge(maxAge time.Duration) OracleOption {
	return func(f *OraclePriceFeed) {
		f.maxAge = maxAge
	}
}

// WithRefreshInterval sets how long a refresh is reused before querying again.
func WithRefreshInterval(interval time.Duration) OracleOption {
	return func(f *OraclePriceFeed) {
		f.refreshInterval = interval
	}
}

// NewOraclePriceFeed creates a feed backed by the tier module over gRPC.
func NewOraclePriceFeed(grpcClient *grpc.ClientConn, opts ...OracleOption) (*OraclePriceFeed, error) {
	if grpcClient == nil {
		return nil, errors.New("GRPC client cannot be nil")
	}
	fetch := func(ctx context.Context) (map[string]sdkmath.LegacyDec, error) {
		return FetchAllTokenPrices(ctx, tier.NewQueryClient(grpcClient))
	}
	return NewPriceFeedFromFetcher(fetch, opts...), nil
}

// NewPriceFeedFromFetcher creates a feed around any price source.
func NewPriceFeedFromFetcher(fetch PriceFetcher, opts ...OracleOption) *OraclePriceFeed {
	f := &OraclePriceFeed{
		fetch:           fetch,
		now:             time.Now,
		maxAge:          DEFAULT_MAX_PRICE_AGE,
		refreshInterval: DEFAULT_REFRESH_INTERVAL,
		quotes:          make(map[string]quote),
		logger:          logger.GetForComponent("oracle_price_feed"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// LatestPrice returns the freshest known price for denom.
func (f *OraclePriceFeed) LatestPrice(ctx context.Context, denom string) (sdkmath.LegacyDec, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if f.lastRefresh.IsZero() || now.Sub(f.lastRefresh) >= f.refreshInterval {
		f.refreshLocked(ctx, now)
	}

	q, ok := f.quotes[denom]
	if !ok {
		metrics.RecordFeedError(denom)
		if f.lastErr != nil {
			return sdkmath.LegacyDec{}, time.Time{}, fmt.Errorf("%w: %s: %w", ErrPriceUnavailable, denom, f.lastErr)
		}
		return sdkmath.LegacyDec{}, time.Time{}, fmt.Errorf("%w: %s", ErrPriceUnavailable, denom)
	}
	if age := now.Sub(q.observedAt); age > f.maxAge {
		metrics.RecordFeedError(denom)
		return sdkmath.LegacyDec{}, time.Time{}, fmt.Errorf("%w: %s observed %s ago", ErrStalePrice, denom, age)
	}
	return q.price, q.observedAt, nil
}

func (f *OraclePriceFeed) refreshLocked(ctx context.Context, now time.Time) {
	f.lastRefresh = now

	prices, err := f.fetch(ctx)
	if err != nil {
		f.lastErr = err
		f.logger.Warn().Err(err).Msg("Price refresh failed, serving last good prices")
		return
	}
	f.lastErr = nil

	for denom, price := range prices {
		if price.IsNil() || !price.IsPositive() {
			continue
		}
		f.quotes[denom] = quote{price: price, observedAt: now}
	}
	f.logger.Debug().Int("denoms", len(prices)).Msg("Refreshed prices")
}

// FetchAllTokenPrices fetches all token prices and returns them keyed by denom. The oracle
// price is preferred, the AMM price is used when the oracle has none.
func FetchAllTokenPrices(ctx context.Context, tierClient tier.QueryClient) (map[string]sdkmath.LegacyDec, error) {
	log := logger.GetForComponent("token_prices")

	var allPrices []*tier.Price
	var nextKey []byte

	for {
		response, err := tierClient.GetAllPrices(ctx, &tier.QueryGetAllPricesRequest{
			Pagination: &query.PageRequest{
				Key:   nextKey,
				Limit: PRICE_PAGE_LIMIT,
			},
		})
		if err != nil {
			log.Error().Err(err).Msg("Failed to fetch token prices from tier module")
			return nil, fmt.Errorf("tier module price query failed: %w", err)
		}
		if response == nil {
			return nil, errors.New("nil response from tier module")
		}

		allPrices = append(allPrices, response.Prices...)

		if response.Pagination == nil || len(response.Pagination.NextKey) == 0 {
			break
		}
		nextKey = response.Pagination.NextKey
	}

	if len(allPrices) == 0 {
		return nil, errors.New("no token prices available from tier module")
	}

	priceMap := make(map[string]sdkmath.LegacyDec, len(allPrices))
	for _, price := range allPrices {
		if price == nil || strings.TrimSpace(price.Denom) == "" {
			log.Warn().Msg("Skipping malformed price entry")
			continue
		}
		chosen, ok := preferredPrice(price.OraclePrice, price.AmmPrice)
		if !ok {
			log.Debug().Str("denom", price.Denom).Msg("No positive price for denom")
			continue
		}
		priceMap[price.Denom] = chosen
	}

	log.Debug().
		Int("totalPrices", len(allPrices)).
		Int("validPrices", len(priceMap)).
		Msg("Token prices retrieved")

	return priceMap, nil
}

func preferredPrice(oracle, amm sdkmath.LegacyDec) (sdkmath.LegacyDec, bool) {
	if !oracle.IsNil() && oracle.IsPositive() {
		return oracle.Clone(), true
	}
	if !amm.IsNil() && amm.IsPositive() {
		return amm.Clone(), true
	}
	return sdkmath.LegacyDec{}, false
}
