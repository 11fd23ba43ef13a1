package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/ilpredictor/internal/analyzer"
	"github.com/elys-network/ilpredictor/internal/logger"
	"github.com/elys-network/ilpredictor/internal/metrics"
	"github.com/elys-network/ilpredictor/internal/monitor"
	"github.com/elys-network/ilpredictor/internal/predictor"
	"github.com/elys-network/ilpredictor/internal/priceindex"
	"github.com/elys-network/ilpredictor/internal/simulations"
	"github.com/elys-network/ilpredictor/internal/state"
	"github.com/elys-network/ilpredictor/internal/types"
	"github.com/elys-network/ilpredictor/internal/utils"
	"github.com/gorilla/mux"
)

var webLogger = logger.GetForComponent("web_server")

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

// DepthEstimator turns a trade size into the pool's effective liquidity depth.
type DepthEstimator interface {
	EstimateLiquidityDepth(ctx context.Context, amountIn sdkmath.Int, denomIn, denomOut string) (sdkmath.LegacyDec, error)
}

// WebServer serves the prediction and operator API of a monitor
type WebServer struct {
	router     *mux.Router
	port       string
	monitor    *monitor.Monitor
	depth      DepthEstimator
	adminToken string
	history    bool
	startedAt  time.Time
	server     *http.Server
}

// Option customizes a WebServer.
type Option func(*WebServer)

// WithDepthEstimator lets perturbation requests give a trade size instead of a depth.
func WithDepthEstimator(depth DepthEstimator) Option {
	return func(ws *WebServer) {
		ws.depth = depth
	}
}

// WithAdminToken requires the token as a bearer token on every admin route.
func WithAdminToken(token string) Option {
	return func(ws *WebServer) {
		ws.adminToken = token
	}
}

// WithPredictionHistory serves the stored prediction history. Requires an initialized database.
func WithPredictionHistory() Option {
	return func(ws *WebServer) {
		ws.history = true
	}
}

// NewWebServer creates a new web server instance
func NewWebServer(port string, m *monitor.Monitor, opts ...Option) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:    mux.NewRouter(),
		port:      port,
		monitor:   m,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(server)
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")
	ws.router.Handle("/metrics", metrics.Handler()).Methods("GET")

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/series", ws.handleListSeries).Methods("GET")
	api.HandleFunc("/series/{denom}/volatility", ws.handleGetVolatility).Methods("GET")
	api.HandleFunc("/series/{denom}/predict", ws.handlePredict).Methods("POST")
	api.HandleFunc("/series/{denom}/perturbation", ws.handlePerturbation).Methods("POST")
	api.HandleFunc("/realized-il", ws.handleRealizedIL).Methods("POST")
	api.HandleFunc("/price-index", ws.handlePriceToIndex).Methods("GET").Queries("price", "{price}")
	api.HandleFunc("/price-index/{index}", ws.handleIndexToPrice).Methods("GET")
	api.HandleFunc("/range-width", ws.handleRangeWidth).Methods("GET").Queries("lower", "{lower}", "upper", "{upper}")
	if ws.history {
		api.HandleFunc("/series/{denom}/predictions", ws.handleGetPredictions).Methods("GET")
		api.HandleFunc("/series/{denom}/volatility/history", ws.handleGetVolatilityHistory).Methods("GET")
		api.HandleFunc("/series/{denom}/summary", ws.handleGetSummary).Methods("GET")
	}

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(ws.adminMiddleware)
	admin.HandleFunc("/series/{denom}/override", ws.handleSetOverride).Methods("POST")
	admin.HandleFunc("/series/{denom}/override/toggle", ws.handleToggleOverride).Methods("POST")
	admin.HandleFunc("/series/{denom}/outlier-threshold", ws.handleSetOutlierThreshold).Methods("POST")
	admin.HandleFunc("/series/{denom}/update-interval", ws.handleSetUpdateInterval).Methods("POST")
	admin.HandleFunc("/series/{denom}/cache-ttl", ws.handleSetCacheTTL).Methods("POST")
	admin.HandleFunc("/pause", ws.handlePause).Methods("POST")
	admin.HandleFunc("/unpause", ws.handleUnpause).Methods("POST")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Handler returns the router, mainly for tests.
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start starts the web server and blocks until it stops.
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	ws.server = &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (ws *WebServer) Shutdown(ctx context.Context) error {
	if ws.server == nil {
		return nil
	}
	return ws.server.Shutdown(ctx)
}

// handleHealth returns server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	hasErrors := false
	withEstimate := 0
	for _, denom := range ws.monitor.Denoms() {
		s, err := ws.monitor.Series(denom)
		if err != nil {
			continue
		}
		if s.Estimator.GetVolatility().HasValue() {
			withEstimate++
		}
	}

	var dbHealthy *bool
	if ws.history {
		healthy := state.TestDBConnection() == nil
		dbHealthy = &healthy
		hasErrors = hasErrors || !healthy
	}

	overallStatus := "OK"
	if hasErrors {
		overallStatus = "DEGRADED"
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
			"uptime_seconds":   int64(time.Since(ws.startedAt).Seconds()),
		},
		"component": map[string]interface{}{
			"name":    "il-predictor",
			"version": "1.0.0",
		},
		"predictor_status": map[string]interface{}{
			"paused":               ws.monitor.Paused(),
			"series":               len(ws.monitor.Denoms()),
			"series_with_estimate": withEstimate,
			"database_healthy":     dbHealthy,
		},
	}

	statusCode := http.StatusOK
	if hasErrors {
		statusCode = http.StatusServiceUnavailable
	}
	ws.writeJSONResponse(w, statusCode, response)
}

// seriesView is the public state of one series
type seriesView struct {
	Denom           string                   `json:"denom"`
	State           types.EstimatorState     `json:"state"`
	Volatility      types.VolatilityEstimate `json:"volatility"`
	Observations    int                      `json:"observations"`
	OverrideEnabled bool                     `json:"override_enabled"`
	CachedResults   int                      `json:"cached_predictions"`
	OutlierStreak   int                      `json:"outlier_streak"`
	Paused          bool                     `json:"paused"`
}

func newSeriesView(s *monitor.Series) seriesView {
	estimate := s.Estimator.GetVolatility()
	return seriesView{
		Denom:           s.Denom,
		State:           s.Estimator.State(),
		Volatility:      estimate,
		Observations:    s.Estimator.Len(),
		OverrideEnabled: estimate.Source == types.SourceOverride,
		CachedResults:   s.Predictor.CacheLen(),
		OutlierStreak:   s.Estimator.OutlierStreak(),
		Paused:          s.Estimator.Paused(),
	}
}

func (ws *WebServer) handleListSeries(w http.ResponseWriter, r *http.Request) {
	denoms := ws.monitor.Denoms()
	views := make([]seriesView, 0, len(denoms))
	for _, denom := range denoms {
		s, err := ws.monitor.Series(denom)
		if err != nil {
			continue
		}
		views = append(views, newSeriesView(s))
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"series": views,
		"count":  len(views),
	})
}

func (ws *WebServer) handleGetVolatility(w http.ResponseWriter, r *http.Request) {
	s, ok := ws.lookupSeries(w, r)
	if !ok {
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, newSeriesView(s))
}

// predictRequest is the body of a prediction. Prices are decimal strings, the horizon a Go duration.
// The range is given either as lower_bound/upper_bound prices or as lower_index/upper_index.
type predictRequest struct {
	CurrentPrice string `json:"current_price"`
	LowerBound   string `json:"lower_bound,omitempty"`
	UpperBound   string `json:"upper_bound,omitempty"`
	LowerIndex   *int32 `json:"lower_index,omitempty"`
	UpperIndex   *int32 `json:"upper_index,omitempty"`
	TimeHorizon  string `json:"time_horizon"`
}

func (ws *WebServer) handlePredict(w http.ResponseWriter, r *http.Request) {
	s, ok := ws.lookupSeries(w, r)
	if !ok {
		return
	}

	var body predictRequest
	if !ws.decodeBody(w, r, &body) {
		return
	}
	req, err := body.toRequest()
	if err != nil {
		ws.writeError(w, err)
		return
	}

	result, err := s.Predictor.Predict(r.Context(), req)
	if err != nil {
		ws.writeError(w, err)
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"series":     s.Denom,
		"request":    req,
		"result":     result,
		"volatility": s.Estimator.GetVolatility(),
	})
}

func (b predictRequest) toRequest() (types.PredictionRequest, error) {
	current, err := parseDec("current_price", b.CurrentPrice)
	if err != nil {
		return types.PredictionRequest{}, err
	}
	lower, upper, err := parseRange(b.LowerBound, b.UpperBound, b.LowerIndex, b.UpperIndex)
	if err != nil {
		return types.PredictionRequest{}, err
	}
	horizon, err := time.ParseDuration(b.TimeHorizon)
	if err != nil {
		return types.PredictionRequest{}, fmt.Errorf("%w: time_horizon: %v", errBadRequest, err)
	}
	return types.PredictionRequest{
		CurrentPrice: current,
		LowerBound:   lower,
		UpperBound:   upper,
		TimeHorizon:  horizon,
	}, nil
}

// perturbationRequest models one trade. Either liquidity_depth or amount_in with denom_out is required.
type perturbationRequest struct {
	CurrentPrice   string `json:"current_price"`
	LowerBound     string `json:"lower_bound,omitempty"`
	UpperBound     string `json:"upper_bound,omitempty"`
	LowerIndex     *int32 `json:"lower_index,omitempty"`
	UpperIndex     *int32 `json:"upper_index,omitempty"`
	PriceDelta     string `json:"price_delta"`
	LiquidityDepth string `json:"liquidity_depth,omitempty"`
	AmountIn       string `json:"amount_in,omitempty"`
	DenomOut       string `json:"denom_out,omitempty"`
}

func (ws *WebServer) handlePerturbation(w http.ResponseWriter, r *http.Request) {
	s, ok := ws.lookupSeries(w, r)
	if !ok {
		return
	}

	var body perturbationRequest
	if !ws.decodeBody(w, r, &body) {
		return
	}

	current, err := parseDec("current_price", body.CurrentPrice)
	if err != nil {
		ws.writeError(w, err)
		return
	}
	lower, upper, err := parseRange(body.LowerBound, body.UpperBound, body.LowerIndex, body.UpperIndex)
	if err != nil {
		ws.writeError(w, err)
		return
	}
	delta, err := parseDec("price_delta", body.PriceDelta)
	if err != nil {
		ws.writeError(w, err)
		return
	}

	depth, err := ws.liquidityDepth(r.Context(), s.Denom, body)
	if err != nil {
		ws.writeError(w, err)
		return
	}

	result, err := s.Predictor.PredictFromPerturbation(current, lower, upper, delta, depth)
	if err != nil {
		ws.writeError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"series":          s.Denom,
		"liquidity_depth": depth,
		"result":          result,
	})
}

func (ws *WebServer) liquidityDepth(ctx context.Context, denom string, body perturbationRequest) (sdkmath.LegacyDec, error) {
	if body.LiquidityDepth != "" {
		return parseDec("liquidity_depth", body.LiquidityDepth)
	}
	if body.AmountIn == "" || body.DenomOut == "" {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: liquidity_depth or amount_in with denom_out is required", errBadRequest)
	}
	if ws.depth == nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: swap estimation is not configured, pass liquidity_depth", errBadRequest)
	}
	amountIn, ok := sdkmath.NewIntFromString(body.AmountIn)
	if !ok {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: amount_in %q is not an integer", errBadRequest, body.AmountIn)
	}
	return ws.depth.EstimateLiquidityDepth(ctx, amountIn, denom, body.DenomOut)
}

type realizedILRequest struct {
	InitialPrice string `json:"initial_price"`
	CurrentPrice string `json:"current_price"`
}

func (ws *WebServer) handleRealizedIL(w http.ResponseWriter, r *http.Request) {
	var body realizedILRequest
	if !ws.decodeBody(w, r, &body) {
		return
	}
	initial, err := parseDec("initial_price", body.InitialPrice)
	if err != nil {
		ws.writeError(w, err)
		return
	}
	current, err := parseDec("current_price", body.CurrentPrice)
	if err != nil {
		ws.writeError(w, err)
		return
	}

	il, err := predictor.CalculateRealizedIL(initial, current)
	if err != nil {
		ws.writeError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"realized_il_bps": il,
		"realized_il":     il.String(),
	})
}

func (ws *WebServer) handleIndexToPrice(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseInt(mux.Vars(r)["index"], 10, 32)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid price index")
		return
	}
	price, err := priceindex.IndexToPrice(int32(index))
	if err != nil {
		ws.writeError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"index": index,
		"price": price,
	})
}

func (ws *WebServer) handlePriceToIndex(w http.ResponseWriter, r *http.Request) {
	price, err := parseDec("price", mux.Vars(r)["price"])
	if err != nil {
		ws.writeError(w, err)
		return
	}
	index, err := priceindex.PriceToIndex(price)
	if err != nil {
		ws.writeError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"index": index,
		"price": price,
	})
}

func (ws *WebServer) handleRangeWidth(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	lower, err := strconv.ParseInt(vars["lower"], 10, 32)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid lower index")
		return
	}
	upper, err := strconv.ParseInt(vars["upper"], 10, 32)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid upper index")
		return
	}
	width, err := priceindex.RangeWidthBasisPoints(int32(lower), int32(upper))
	if err != nil {
		ws.writeError(w, err)
		return
	}
	lowerPrice, upperPrice, err := priceindex.RangeFromIndices(int32(lower), int32(upper))
	if err != nil {
		ws.writeError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"lower_index": lower,
		"upper_index": upper,
		"lower_price": lowerPrice,
		"upper_price": upperPrice,
		"width_bps":   width,
	})
}

// handleGetPredictions returns the newest stored predictions of a series
func (ws *WebServer) handleGetPredictions(w http.ResponseWriter, r *http.Request) {
	s, ok := ws.lookupSeries(w, r)
	if !ok {
		return
	}
	limit := historyLimit(r)

	records, err := state.GetRecentPredictions(r.Context(), []string{s.Denom}, limit)
	if err != nil {
		webLogger.Error().Err(err).Str("series", s.Denom).Msg("Failed to get recent predictions")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve predictions")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"predictions": records,
		"count":       len(records),
		"limit":       limit,
	})
}

// handleGetVolatilityHistory returns the newest stored volatility snapshots of a series
func (ws *WebServer) handleGetVolatilityHistory(w http.ResponseWriter, r *http.Request) {
	s, ok := ws.lookupSeries(w, r)
	if !ok {
		return
	}
	limit := historyLimit(r)

	estimates, err := state.GetVolatilityHistory(r.Context(), s.Denom, limit)
	if err != nil {
		webLogger.Error().Err(err).Str("series", s.Denom).Msg("Failed to get volatility history")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve volatility history")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"series":    s.Denom,
		"estimates": estimates,
		"count":     len(estimates),
		"limit":     limit,
	})
}

func (ws *WebServer) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	s, ok := ws.lookupSeries(w, r)
	if !ok {
		return
	}
	summary, err := state.GetSeriesSummary(r.Context(), s.Denom)
	if err != nil {
		webLogger.Error().Err(err).Str("series", s.Denom).Msg("Failed to get series summary")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve series summary")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, summary)
}

// historyLimit reads the optional limit query parameter, falling back to the default when absent or out of range.
func historyLimit(r *http.Request) int {
	limit := state.DEFAULT_HISTORY_LIMIT
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= state.MAX_HISTORY_LIMIT {
			limit = parsedLimit
		}
	}
	return limit
}

func (ws *WebServer) lookupSeries(w http.ResponseWriter, r *http.Request) (*monitor.Series, bool) {
	s, err := ws.monitor.Series(mux.Vars(r)["denom"])
	if err != nil {
		ws.writeError(w, err)
		return nil, false
	}
	return s, true
}

func (ws *WebServer) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func parseDec(field, value string) (sdkmath.LegacyDec, error) {
	if strings.TrimSpace(value) == "" {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %s is required", errBadRequest, field)
	}
	d, err := utils.DecFromString(value)
	if err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return d, nil
}

// parseRange accepts a range as prices or as price indices, never both.
func parseRange(lowerBound, upperBound string, lowerIndex, upperIndex *int32) (sdkmath.LegacyDec, sdkmath.LegacyDec, error) {
	if lowerIndex == nil && upperIndex == nil {
		lower, err := parseDec("lower_bound", lowerBound)
		if err != nil {
			return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, err
		}
		upper, err := parseDec("upper_bound", upperBound)
		if err != nil {
			return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, err
		}
		return lower, upper, nil
	}
	if lowerIndex == nil || upperIndex == nil {
		return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, fmt.Errorf("%w: lower_index and upper_index go together", errBadRequest)
	}
	if lowerBound != "" || upperBound != "" {
		return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, fmt.Errorf("%w: give the range as bounds or as indices, not both", errBadRequest)
	}
	return priceindex.RangeFromIndices(*lowerIndex, *upperIndex)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, monitor.ErrUnknownSeries):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, predictor.ErrInvalidInput),
		errors.Is(err, types.ErrInvalidRequest),
		errors.Is(err, priceindex.ErrIndexOutOfRange),
		errors.Is(err, priceindex.ErrPriceOutOfRange),
		errors.Is(err, priceindex.ErrInvalidRange),
		errors.Is(err, analyzer.ErrInvalidOverride),
		errors.Is(err, analyzer.ErrOverrideNotSet),
		errors.Is(err, analyzer.ErrInvalidEstimatorParameters),
		errors.Is(err, predictor.ErrInvalidPredictorParameters),
		errors.Is(err, simulations.ErrInvalidSwap):
		return http.StatusBadRequest
	case errors.Is(err, predictor.ErrPaused),
		errors.Is(err, analyzer.ErrEstimatorPaused),
		errors.Is(err, predictor.ErrInvalidVolatility):
		return http.StatusServiceUnavailable
	case errors.Is(err, simulations.ErrABCIQuery),
		errors.Is(err, simulations.ErrNoSlippage),
		errors.Is(err, simulations.ErrEmptyQueryResult):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (ws *WebServer) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		webLogger.Error().Err(err).Msg("Request failed")
	}
	ws.writeErrorResponse(w, status, err.Error())
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// adminMiddleware checks the bearer token when one is configured
func (ws *WebServer) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ws.adminToken != "" {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(token), []byte(ws.adminToken)) != 1 {
				ws.writeErrorResponse(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
