package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/elys-network/ilpredictor/internal/types"
)

type overrideRequest struct {
	Value string `json:"value"`
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

type thresholdRequest struct {
	ThresholdBps types.BasisPoints `json:"threshold_bps"`
}

type durationRequest struct {
	Duration string `json:"duration"`
}

func (d durationRequest) parse() (time.Duration, error) {
	value, err := time.ParseDuration(d.Duration)
	if err != nil {
		return 0, fmt.Errorf("%w: duration: %v", errBadRequest, err)
	}
	return value, nil
}

// handleSetOverride stores a manual volatility and drops the cached predictions of the series.
func (ws *WebServer) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	s, ok := ws.lookupSeries(w, r)
	if !ok {
		return
	}
	var body overrideRequest
	if !ws.decodeBody(w, r, &body) {
		return
	}
	value, err := parseDec("value", body.Value)
	if err != nil {
		ws.writeError(w, err)
		return
	}
	if err := s.Estimator.SetVolatilityOverride(value); err != nil {
		ws.writeError(w, err)
		return
	}
	s.Predictor.ClearCache()

	webLogger.Warn().Str("series", s.Denom).Str("override", value.String()).Msg("Volatility override set via API")
	ws.writeJSONResponse(w, http.StatusOK, newSeriesView(s))
}

func (ws *WebServer) handleToggleOverride(w http.ResponseWriter, r *http.Request) {
	s, ok := ws.lookupSeries(w, r)
	if !ok {
		return
	}
	var body toggleRequest
	if !ws.decodeBody(w, r, &body) {
		return
	}
	if err := s.Estimator.SetOverrideEnabled(body.Enabled); err != nil {
		ws.writeError(w, err)
		return
	}
	s.Predictor.ClearCache()

	webLogger.Warn().Str("series", s.Denom).Bool("enabled", body.Enabled).Msg("Volatility override toggled via API")
	ws.writeJSONResponse(w, http.StatusOK, newSeriesView(s))
}

func (ws *WebServer) handleSetOutlierThreshold(w http.ResponseWriter, r *http.Request) {
	s, ok := ws.lookupSeries(w, r)
	if !ok {
		return
	}
	var body thresholdRequest
	if !ws.decodeBody(w, r, &body) {
		return
	}
	if err := s.Estimator.SetOutlierThreshold(body.ThresholdBps); err != nil {
		ws.writeError(w, err)
		return
	}

	webLogger.Info().Str("series", s.Denom).Uint32("thresholdBps", uint32(body.ThresholdBps)).Msg("Outlier threshold updated")
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"series":     s.Denom,
		"parameters": s.Estimator.Params(),
	})
}

func (ws *WebServer) handleSetUpdateInterval(w http.ResponseWriter, r *http.Request) {
	s, ok := ws.lookupSeries(w, r)
	if !ok {
		return
	}
	var body durationRequest
	if !ws.decodeBody(w, r, &body) {
		return
	}
	interval, err := body.parse()
	if err != nil {
		ws.writeError(w, err)
		return
	}
	if err := s.Estimator.SetMinUpdateInterval(interval); err != nil {
		ws.writeError(w, err)
		return
	}

	webLogger.Info().Str("series", s.Denom).Dur("interval", interval).Msg("Minimum update interval updated")
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"series":     s.Denom,
		"parameters": s.Estimator.Params(),
	})
}

func (ws *WebServer) handleSetCacheTTL(w http.ResponseWriter, r *http.Request) {
	s, ok := ws.lookupSeries(w, r)
	if !ok {
		return
	}
	var body durationRequest
	if !ws.decodeBody(w, r, &body) {
		return
	}
	ttl, err := body.parse()
	if err != nil {
		ws.writeError(w, err)
		return
	}
	if err := s.Predictor.SetCacheTTL(ttl); err != nil {
		ws.writeError(w, err)
		return
	}

	webLogger.Info().Str("series", s.Denom).Dur("ttl", ttl).Msg("Prediction cache TTL updated")
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"series":     s.Denom,
		"parameters": s.Predictor.Params(),
	})
}

func (ws *WebServer) handlePause(w http.ResponseWriter, r *http.Request) {
	ws.monitor.Pause()
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"paused": true})
}

func (ws *WebServer) handleUnpause(w http.ResponseWriter, r *http.Request) {
	ws.monitor.Unpause()
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"paused": false})
}
