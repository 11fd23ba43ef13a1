package main

import (
	"context"
	"crypto/tls"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/elys-network/ilpredictor/internal/config"
	"github.com/elys-network/ilpredictor/internal/datafetcher"
	"github.com/elys-network/ilpredictor/internal/events"
	"github.com/elys-network/ilpredictor/internal/logger"
	"github.com/elys-network/ilpredictor/internal/monitor"
	"github.com/elys-network/ilpredictor/internal/simulations"
	"github.com/elys-network/ilpredictor/internal/state"
	"github.com/elys-network/ilpredictor/internal/types"
	"github.com/elys-network/ilpredictor/internal/web"

	assetprofiletypes "github.com/elys-network/elys/v6/x/assetprofile/types"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	EVENT_QUEUE_SIZE    = 1024
	EVENT_WRITE_TIMEOUT = 5 * time.Second
	SHUTDOWN_TIMEOUT    = 10 * time.Second
)

// main is the entry point of the IL predictor service.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(config.LogLevel, config.LogFile)
	log.Info().Msg("IL Predictor Starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database is optional: without it there is no warm start from stored prices and no audit log
	dbEnabled := config.DB.Enabled()
	if dbEnabled {
		dbCfg := state.DBConfig{
			Host: config.DB.Host, Port: config.DB.Port,
			User: config.DB.User, Password: config.DB.Password,
			DBName: config.DB.Name, SSLMode: config.DB.SSLMode,
		}
		if err := state.InitDB(dbCfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}
		defer state.CloseDB()
		if err := state.EnsureSchema(); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure database schema")
		}
	} else {
		log.Warn().Msg("DB_USER/DB_NAME not set, running without persistence")
	}

	params := loadParameters(dbEnabled)

	// --- 2. Feeds ---
	grpcEndpoint := config.NodeGRPC
	var creds grpc.DialOption
	if strings.Contains(grpcEndpoint, ":443") {
		creds = grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{}))
	} else {
		creds = grpc.WithTransportCredentials(insecure.NewCredentials())
	}
	grpcClient, err := grpc.Dial(grpcEndpoint, creds)
	if err != nil {
		log.Fatal().Err(err).Msg("gRPC connection error")
	}
	defer grpcClient.Close()
	log.Info().Str("endpoint", grpcEndpoint).Msg("gRPC connected")

	feed, err := datafetcher.NewOraclePriceFeed(grpcClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create oracle price feed")
	}

	tokens, err := datafetcher.GetTokens(ctx, assetprofiletypes.NewQueryClient(grpcClient))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch token profiles, history symbols fall back to the static table")
	} else if unknown := datafetcher.UnknownDenoms(tokens, config.TrackedDenoms); len(unknown) > 0 {
		log.Warn().Strs("denoms", unknown).Msg("Tracked denoms have no on-chain asset profile")
	}

	var history monitor.HistorySource
	if config.CryptoCompareAPIKey != "" {
		historyClient, err := datafetcher.NewHistoryClient(config.CryptoCompareURL, config.CryptoCompareAPIKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create price history client")
		}
		history = historyClient
	} else {
		log.Warn().Msg("CRYPTOCOMPARE_API not set, estimators warm up from live prices only")
	}

	// --- 3. Event sinks ---
	sinks := events.Multi{events.NewLogSink()}
	if len(config.KafkaBrokers) > 0 {
		kafkaSink, err := events.NewKafkaSink(config.KafkaBrokers, config.KafkaTopic)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Kafka sink")
		}
		sinks = append(sinks, events.NewAsync("kafka", kafkaSink, EVENT_QUEUE_SIZE, EVENT_WRITE_TIMEOUT))
	}
	if dbEnabled {
		sinks = append(sinks, events.NewAsync("postgres", state.PredictionSink{}, EVENT_QUEUE_SIZE, EVENT_WRITE_TIMEOUT))
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close event sinks")
		}
	}()

	// --- 4. Monitor ---
	monitorConfig := monitor.Config{
		Feed:         feed,
		History:      history,
		Sink:         sinks,
		Denoms:       config.TrackedDenoms,
		Parameters:   params,
		PollInterval: config.PollInterval,
		Symbol:       datafetcher.SymbolResolver(tokens),
	}
	if dbEnabled {
		monitorConfig.Store = state.PostgresStore{}
	}
	mon, err := monitor.NewMonitor(monitorConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create monitor")
	}
	if err := mon.Bootstrap(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to bootstrap monitor")
	}

	// --- 5. Web Server ---
	webOpts := []web.Option{web.WithAdminToken(config.AdminToken)}
	if config.AdminToken == "" {
		log.Warn().Msg("ADMIN_TOKEN not set, admin routes are unauthenticated")
	}
	if dbEnabled {
		webOpts = append(webOpts, web.WithPredictionHistory())
	}
	if config.NodeRPC != "" {
		estimator, err := simulations.NewSwapImpactEstimator(config.NodeRPC)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create swap impact estimator")
		}
		webOpts = append(webOpts, web.WithDepthEstimator(estimator))
	}

	webServer := web.NewWebServer(config.WebPort, mon, webOpts...)
	go func() {
		log.Info().Str("port", config.WebPort).Str("url", "http://localhost:"+config.WebPort).Msg("Starting IL predictor API")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed")
			stop()
		}
	}()

	// --- 6. Main Loop ---
	mon.RunLoop(ctx, config.PollInterval)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), SHUTDOWN_TIMEOUT)
	defer cancel()
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Web server shutdown failed")
	}
	log.Info().Msg("IL Predictor stopped")
}

// loadParameters picks the parameter file, then the active database version, then the defaults.
// File parameters become the next active version, defaults the first one when the database holds none.
func loadParameters(dbEnabled bool) types.Parameters {
	if config.ParametersFile != "" {
		params, err := config.LoadParameters(config.ParametersFile)
		if err != nil {
			log.Fatal().Err(err).Str("file", config.ParametersFile).Msg("Failed to load parameters file")
		}
		log.Info().Str("file", config.ParametersFile).Msg("Parameters loaded from file")
		if dbEnabled {
			version, err := state.SaveParametersAsNextVersion(params, config.DEFAULT_PARAMETERS_CONFIG_NAME)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to record file parameters in the database")
			} else {
				log.Info().Int("version", version).Msg("File parameters recorded as the active version")
			}
		}
		return params
	}

	defaultParams := config.DefaultParameters()
	if !dbEnabled {
		log.Info().Msg("Using default parameters")
		return defaultParams
	}

	params, version, err := state.LoadActiveOperatorParameters(config.DEFAULT_PARAMETERS_CONFIG_NAME, defaultParams)
	if err == nil {
		if err := config.ValidateParameters(*params); err != nil {
			log.Fatal().Err(err).Int("version", version).Msg("Stored parameters are invalid")
		}
		return *params
	}
	if !errors.Is(err, state.ErrParametersNotFound) {
		log.Fatal().Err(err).Msg("Failed to load active parameters")
	}

	log.Warn().Err(err).Msg("No active parameters stored, using defaults and saving.")
	if _, err := state.SaveOperatorParameters(defaultParams, config.DEFAULT_PARAMETERS_CONFIG_NAME, config.DEFAULT_PARAMETERS_CONFIG_VERSION, true); err != nil {
		log.Fatal().Err(err).Msg("Failed to save initial default parameters.")
	}
	return defaultParams
}
