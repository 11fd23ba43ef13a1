package config

import (
	"github.com/rs/zerolog/log"
)

// Endpoint configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// NodeGRPC is the gRPC endpoint for the Elys node, used by the oracle price feed.
	NodeGRPC string
	// NodeRPC is the CometBFT RPC endpoint, used for swap estimations. Optional.
	NodeRPC string
	// CryptoCompareURL is the histohour endpoint used for the warm start.
	CryptoCompareURL string
)

const DEFAULT_CRYPTOCOMPARE_URL = "https://min-api.cryptocompare.com/data/v2/histohour"

// loadEndpointConfig loads endpoint configuration from environment variables.
// This function is called by LoadConfig() in General.go.
func loadEndpointConfig() error {
	log.Info().Msg("Loading endpoint configuration from environment variables...")

	var err error

	NodeGRPC, err = getEnv("NODE_GRPC")
	if err != nil {
		return err
	}

	NodeRPC = getEnvOrDefault("NODE_RPC", "")
	CryptoCompareURL = getEnvOrDefault("CRYPTOCOMPARE_URL", DEFAULT_CRYPTOCOMPARE_URL)

	log.Debug().
		Str("NodeGRPC", NodeGRPC).
		Str("NodeRPC", NodeRPC).
		Str("CryptoCompareURL", CryptoCompareURL).
		Msg("Endpoint configuration loaded successfully.")

	return nil
}
