/*
This file is used to fetch historical price data from the CryptoCompare API.

A freshly started estimator has an empty ring buffer and would need a week of polling before it
can produce a volatility. The hourly closes fetched here are replayed into the estimator instead,
so a restart is ready on the first cycle.
*/

package datafetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/elys-network/ilpredictor/internal/logger"
	"github.com/elys-network/ilpredictor/internal/types"
	"github.com/elys-network/ilpredictor/internal/utils"
)

var ErrInvalidPriceData = errors.New("invalid price data received")
var ErrInsufficientData = errors.New("insufficient price data")
var ErrAPIConfiguration = errors.New("API configuration error")

const (
	MAX_HOURS        = 2000 // CryptoCompare's histohour limit per request
	HISTORY_INTERVAL = time.Hour
	MAX_RETRIES      = 3
	TIMEOUT_SECONDS  = 30
)

type CryptoCompareResponse struct {
	Response   string `json:"Response"`
	Message    string `json:"Message"`
	HasWarning bool   `json:"HasWarning"`
	Type       int    `json:"Type"`
	Data       struct {
		Aggregated bool              `json:"Aggregated"`
		TimeFrom   int64             `json:"TimeFrom"`
		TimeTo     int64             `json:"TimeTo"`
		Data       []HourlyDataPoint `json:"Data"`
	} `json:"Data"`
}

// HourlyDataPoint is a single histohour candle.
type HourlyDataPoint struct {
	Time       int64   `json:"time"`
	Close      float64 `json:"close"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Open       float64 `json:"open"`
	VolumeFrom float64 `json:"volumefrom"`
	VolumeTo   float64 `json:"volumeto"`
}

// HistoryClient fetches hourly closes from CryptoCompare.
type HistoryClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retryDelay time.Duration
	logger     zerolog.Logger
}

// NewHistoryClient creates a client for the histohour endpoint at baseURL.
func NewHistoryClient(baseURL, apiKey string) (*HistoryClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: CRYPTOCOMPARE_API is required", ErrAPIConfiguration)
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("%w: invalid base URL %q: %w", ErrAPIConfiguration, baseURL, err)
	}
	return &HistoryClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: TIMEOUT_SECONDS * time.Second},
		retryDelay: time.Second,
		logger:     logger.GetForComponent("price_history"),
	}, nil
}

// validatePriceDataPoint performs strict validation on individual price data points
func validatePriceDataPoint(data HourlyDataPoint, coin string) error {
	if data.Time <= 0 {
		return fmt.Errorf("invalid timestamp for %s: %d", coin, data.Time)
	}

	prices := []struct {
		value float64
		name  string
	}{
		{data.Close, "close"},
		{data.High, "high"},
		{data.Low, "low"},
		{data.Open, "open"},
	}

	for _, price := range prices {
		if math.IsNaN(price.value) || math.IsInf(price.value, 0) {
			return fmt.Errorf("%s price for %s is not finite: %f", price.name, coin, price.value)
		}
		if price.value <= 0 {
			return fmt.Errorf("%s price for %s must be positive: %f", price.name, coin, price.value)
		}
	}

	if data.High < data.Low {
		return fmt.Errorf("high price (%f) cannot be less than low price (%f) for %s", data.High, data.Low, coin)
	}

	if data.Close < data.Low || data.Close > data.High {
		return fmt.Errorf("close price (%f) must be between low (%f) and high (%f) for %s", data.Close, data.Low, data.High, coin)
	}

	// Open is allowed outside [low, high] but not wildly so.
	midPrice := (data.High + data.Low) / 2.0
	tolerance := midPrice * 0.5
	if data.Open < (midPrice-tolerance) || data.Open > (midPrice+tolerance) {
		return fmt.Errorf("open price (%f) is unreasonably far from trading range [%f-%f] for %s",
			data.Open, data.Low, data.High, coin)
	}

	if math.IsNaN(data.VolumeFrom) || math.IsInf(data.VolumeFrom, 0) || data.VolumeFrom < 0 {
		return fmt.Errorf("volumeFrom for %s is invalid: %f", coin, data.VolumeFrom)
	}
	if math.IsNaN(data.VolumeTo) || math.IsInf(data.VolumeTo, 0) || data.VolumeTo < 0 {
		return fmt.Errorf("volumeTo for %s is invalid: %f", coin, data.VolumeTo)
	}

	return nil
}

// FetchHistoricalPriceData fetches the last `hours` hourly closes of symbol, oldest first.
// A response with fewer points than requested is an error.
func (c *HistoryClient) FetchHistoricalPriceData(ctx context.Context, symbol string, hours int) ([]types.PriceObservation, error) {
	coin := strings.TrimSpace(strings.ToUpper(symbol))
	if coin == "" {
		return nil, fmt.Errorf("%w: empty symbol", ErrAPIConfiguration)
	}
	if hours < 2 || hours > MAX_HOURS {
		return nil, fmt.Errorf("%w: hours must be in [2, %d], got %d", ErrAPIConfiguration, MAX_HOURS, hours)
	}

	query := url.Values{}
	query.Set("fsym", coin)
	query.Set("tsym", "USD")
	query.Set("limit", strconv.Itoa(hours))
	query.Set("api_key", c.apiKey)
	requestURL := c.baseURL + "?" + query.Encode()

	var lastErr error
	for attempt := 1; attempt <= MAX_RETRIES; attempt++ {
		c.logger.Debug().
			Str("coin", coin).
			Int("attempt", attempt).
			Int("maxRetries", MAX_RETRIES).
			Msg("Making API request")

		result, err := c.fetchOnce(ctx, requestURL, coin, hours)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if attempt < MAX_RETRIES {
			c.logger.Warn().
				Err(err).
				Str("coin", coin).
				Int("attempt", attempt).
				Msg("Price history request failed, will retry")
			select {
			case <-ctx.Done():
			case <-time.After(time.Duration(attempt) * c.retryDelay):
			}
		}
	}

	c.logger.Error().
		Err(lastErr).
		Str("coin", coin).
		Int("maxRetries", MAX_RETRIES).
		Msg("All retry attempts failed")
	return nil, fmt.Errorf("failed to fetch price data for %s after %d attempts: %w", coin, MAX_RETRIES, lastErr)
}

func (c *HistoryClient) fetchOnce(ctx context.Context, requestURL, coin string, hours int) ([]types.PriceObservation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", coin, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()
	return c.processAPIResponse(resp, coin, hours)
}

// processAPIResponse handles the API response with strict validation
func (c *HistoryClient) processAPIResponse(resp *http.Response, coin string, hours int) ([]types.PriceObservation, error) {
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d for %s", resp.StatusCode, coin)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body for %s: %w", coin, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty response body for %s", ErrInvalidPriceData, coin)
	}

	var cryptoResp CryptoCompareResponse
	if err := json.Unmarshal(body, &cryptoResp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON response for %s: %w", ErrInvalidPriceData, coin, err)
	}

	if cryptoResp.Response != "Success" {
		return nil, fmt.Errorf("API error for %s: %s - %s", coin, cryptoResp.Response, cryptoResp.Message)
	}

	if cryptoResp.HasWarning {
		c.logger.Warn().
			Str("coin", coin).
			Int("dataPointCount", len(cryptoResp.Data.Data)).
			Str("message", cryptoResp.Message).
			Msg("API returned warning but has data - continuing")
	}

	// histohour returns limit+1 candles, the last one being the current open hour.
	points := cryptoResp.Data.Data
	if len(points) < hours {
		return nil, fmt.Errorf("%w for %s: received %d hours, required %d", ErrInsufficientData, coin, len(points), hours)
	}

	observations := make([]types.PriceObservation, 0, len(points))
	for i, data := range points {
		if err := validatePriceDataPoint(data, coin); err != nil {
			return nil, fmt.Errorf("%w: data point %d: %w", ErrInvalidPriceData, i, err)
		}
		price, err := utils.DecFromFloat64(data.Close)
		if err != nil {
			return nil, fmt.Errorf("%w: data point %d: %w", ErrInvalidPriceData, i, err)
		}
		observations = append(observations, types.PriceObservation{
			Price:     price,
			Timestamp: time.Unix(data.Time, 0).UTC(),
			Valid:     true,
		})
	}

	if err := c.validateTimeSequence(observations, coin); err != nil {
		return nil, err
	}

	if len(observations) > hours {
		observations = observations[len(observations)-hours:]
	}

	c.logger.Info().
		Str("coin", coin).
		Int("dataPoints", len(observations)).
		Time("oldestData", observations[0].Timestamp).
		Time("newestData", observations[len(observations)-1].Timestamp).
		Msg("Successfully retrieved and validated price data")

	return observations, nil
}

// validateTimeSequence ensures the price data is strictly increasing in time.
func (c *HistoryClient) validateTimeSequence(observations []types.PriceObservation, coin string) error {
	for i := 1; i < len(observations); i++ {
		if !observations[i].Timestamp.After(observations[i-1].Timestamp) {
			return fmt.Errorf("%w: data points not in chronological order for %s at index %d", ErrInvalidPriceData, coin, i)
		}

		timeDiff := observations[i].Timestamp.Sub(observations[i-1].Timestamp)
		if timeDiff < 30*time.Minute || timeDiff > 90*time.Minute {
			c.logger.Warn().
				Str("coin", coin).
				Int("index", i).
				Dur("timeDiff", timeDiff).
				Msg("Unusual time gap between data points")
		}
	}
	return nil
}
