package datafetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/cosmos/cosmos-sdk/types/query"
	tier "github.com/elys-network/elys/v6/x/tier/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestOraclePriceFeedServesLastGoodPrice(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}
	var calls int32
	fail := false
	fetch := func(ctx context.Context) (map[string]sdkmath.LegacyDec, error) {
		atomic.AddInt32(&calls, 1)
		if fail {
			return nil, errors.New("node unavailable")
		}
		return map[string]sdkmath.LegacyDec{
			"uatom": sdkmath.LegacyMustNewDecFromStr("7.25"),
			"uosmo": sdkmath.LegacyZeroDec(),
		}, nil
	}
	feed := NewPriceFeedFromFetcher(fetch,
		WithFeedClock(clock.Now),
		WithMaxPriceAge(10*time.Minute),
		WithRefreshInterval(time.Minute),
	)
	ctx := context.Background()

	price, at, err := feed.LatestPrice(ctx, "uatom")
	require.NoError(t, err)
	assert.Equal(t, "7.250000000000000000", price.String())
	assert.Equal(t, clock.now, at)

	// Within the refresh interval the cached refresh is reused.
	_, _, err = feed.LatestPrice(ctx, "uatom")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// Non-positive prices are never served.
	_, _, err = feed.LatestPrice(ctx, "uosmo")
	require.ErrorIs(t, err, ErrPriceUnavailable)

	// A failed refresh falls back to the last good price while it is young enough.
	fail = true
	clock.Advance(5 * time.Minute)
	price, at, err = feed.LatestPrice(ctx, "uatom")
	require.NoError(t, err)
	assert.Equal(t, "7.250000000000000000", price.String())
	assert.Equal(t, clock.now.Add(-5*time.Minute), at)

	clock.Advance(6 * time.Minute)
	_, _, err = feed.LatestPrice(ctx, "uatom")
	require.ErrorIs(t, err, ErrStalePrice)

	_, _, err = feed.LatestPrice(ctx, "ujuno")
	require.ErrorIs(t, err, ErrPriceUnavailable)
}

type fakeTierClient struct {
	tier.QueryClient
	pages    []*tier.QueryGetAllPricesResponse
	requests []*tier.QueryGetAllPricesRequest
}

func (f *fakeTierClient) GetAllPrices(ctx context.Context, in *tier.QueryGetAllPricesRequest, opts ...grpc.CallOption) (*tier.QueryGetAllPricesResponse, error) {
	f.requests = append(f.requests, in)
	if len(f.requests) > len(f.pages) {
		return nil, errors.New("unexpected page request")
	}
	return f.pages[len(f.requests)-1], nil
}

func TestFetchAllTokenPricesPaginatesAndPrefersOracle(t *testing.T) {
	client := &fakeTierClient{pages: []*tier.QueryGetAllPricesResponse{
		{
			Prices: []*tier.Price{
				{Denom: "uatom", OraclePrice: sdkmath.LegacyMustNewDecFromStr("7"), AmmPrice: sdkmath.LegacyMustNewDecFromStr("7.1")},
				{Denom: "uelys", OraclePrice: sdkmath.LegacyZeroDec(), AmmPrice: sdkmath.LegacyMustNewDecFromStr("0.5")},
			},
			Pagination: &query.PageResponse{NextKey: []byte("next")},
		},
		{
			Prices: []*tier.Price{
				{Denom: "udead", OraclePrice: sdkmath.LegacyZeroDec(), AmmPrice: sdkmath.LegacyZeroDec()},
				nil,
			},
		},
	}}

	prices, err := FetchAllTokenPrices(context.Background(), client)
	require.NoError(t, err)
	require.Len(t, client.requests, 2)
	assert.Equal(t, []byte("next"), client.requests[1].Pagination.Key)

	assert.Equal(t, "7.000000000000000000", prices["uatom"].String())
	assert.Equal(t, "0.500000000000000000", prices["uelys"].String())
	assert.NotContains(t, prices, "udead")
}

func histohourServer(t *testing.T, points []HourlyDataPoint, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		assert.Equal(t, "ATOM", r.URL.Query().Get("fsym"))
		assert.Equal(t, "key", r.URL.Query().Get("api_key"))

		resp := CryptoCompareResponse{Response: "Success"}
		resp.Data.Data = points
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func hourlyPoints(n int, start int64) []HourlyDataPoint {
	points := make([]HourlyDataPoint, n)
	for i := range points {
		price := 10 + float64(i%5)*0.1
		points[i] = HourlyDataPoint{
			Time:       start + int64(i)*3600,
			Open:       price,
			High:       price + 0.05,
			Low:        price - 0.05,
			Close:      price,
			VolumeFrom: 100,
			VolumeTo:   1000,
		}
	}
	return points
}

func TestFetchHistoricalPriceData(t *testing.T) {
	var hits int32
	server := histohourServer(t, hourlyPoints(25, 1_700_000_000), &hits)
	defer server.Close()

	client, err := NewHistoryClient(server.URL, "key")
	require.NoError(t, err)

	observations, err := client.FetchHistoricalPriceData(context.Background(), "atom", 24)
	require.NoError(t, err)
	require.Len(t, observations, 24)
	assert.Equal(t, time.Unix(1_700_000_000+3600, 0).UTC(), observations[0].Timestamp)
	assert.True(t, observations[0].Valid)
	assert.Equal(t, "10.400000000000000000", observations[3].Price.String())
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestFetchHistoricalPriceDataRejectsBadData(t *testing.T) {
	points := hourlyPoints(24, 1_700_000_000)
	points[10].Close = points[10].High + 1

	var hits int32
	server := histohourServer(t, points, &hits)
	defer server.Close()

	client, err := NewHistoryClient(server.URL, "key")
	require.NoError(t, err)
	client.retryDelay = 0

	_, err = client.FetchHistoricalPriceData(context.Background(), "ATOM", 24)
	require.ErrorIs(t, err, ErrInvalidPriceData)
	assert.Equal(t, int32(MAX_RETRIES), atomic.LoadInt32(&hits))

	_, err = client.FetchHistoricalPriceData(context.Background(), "ATOM", 48)
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestFetchHistoricalPriceDataRejectsOutOfOrder(t *testing.T) {
	points := hourlyPoints(24, 1_700_000_000)
	points[5].Time, points[6].Time = points[6].Time, points[5].Time

	var hits int32
	server := histohourServer(t, points, &hits)
	defer server.Close()

	client, err := NewHistoryClient(server.URL, "key")
	require.NoError(t, err)
	client.retryDelay = 0

	_, err = client.FetchHistoricalPriceData(context.Background(), "ATOM", 24)
	require.ErrorIs(t, err, ErrInvalidPriceData)
}

func TestHistoryClientConfiguration(t *testing.T) {
	_, err := NewHistoryClient("https://example.com", "")
	require.ErrorIs(t, err, ErrAPIConfiguration)

	_, err = NewHistoryClient("not a url", "key")
	require.ErrorIs(t, err, ErrAPIConfiguration)

	client, err := NewHistoryClient("https://example.com", "key")
	require.NoError(t, err)
	for _, hours := range []int{0, 1, MAX_HOURS + 1} {
		_, err := client.FetchHistoricalPriceData(context.Background(), "ATOM", hours)
		require.ErrorIs(t, err, ErrAPIConfiguration, fmt.Sprintf("hours=%d", hours))
	}
}
