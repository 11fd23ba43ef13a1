package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// LogLevel is the minimum zerolog level (debug, info, warn, error).
	LogLevel string
	// LogFile optionally mirrors log output to a file.
	LogFile string

	// TrackedDenoms are the on-chain denoms the monitor keeps a series for.
	TrackedDenoms []string
	// PollInterval is the spacing between monitor cycles.
	PollInterval time.Duration

	// WebPort is the port of the HTTP API.
	WebPort string
	// AdminToken, when set, is required as a bearer token on the admin routes.
	AdminToken string

	// ParametersFile optionally points at a YAML parameter file.
	ParametersFile string

	// KafkaBrokers enables the Kafka prediction sink when non-empty.
	KafkaBrokers []string
	// KafkaTopic is the topic prediction events are written to.
	KafkaTopic string

	// CryptoCompareAPIKey enables the historical warm start when non-empty.
	CryptoCompareAPIKey string

	// DB holds the PostgreSQL connection settings.
	DB DBSettings
)

const (
	DEFAULT_POLL_INTERVAL = 10 * time.Minute
	DEFAULT_WEB_PORT      = "8080"
	DEFAULT_KAFKA_TOPIC   = "il-predictions"
)

// DBSettings mirrors the DB_* environment variables.
type DBSettings struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// Enabled reports whether enough is configured to open a database connection.
func (s DBSettings) Enabled() bool {
	return s.User != "" && s.Name != ""
}

// LoadConfig loads configuration from environment variables and sets the global config vars.
// NODE_GRPC and TRACKED_DENOMS are required, everything else has a default.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	LogFile = getEnvOrDefault("LOG_FILE", "")

	denoms, err := getEnv("TRACKED_DENOMS")
	if err != nil {
		return err
	}
	TrackedDenoms = splitList(denoms)
	if len(TrackedDenoms) == 0 {
		return errors.New("environment variable TRACKED_DENOMS must list at least one denom")
	}

	PollInterval, err = getEnvAsDuration("POLL_INTERVAL", DEFAULT_POLL_INTERVAL)
	if err != nil {
		return err
	}
	if PollInterval <= 0 {
		return errors.New("environment variable POLL_INTERVAL must be positive")
	}

	WebPort = getEnvOrDefault("WEB_PORT", DEFAULT_WEB_PORT)
	AdminToken = getEnvOrDefault("ADMIN_TOKEN", "")
	ParametersFile = getEnvOrDefault("PARAMETERS_FILE", "")
	KafkaBrokers = splitList(getEnvOrDefault("KAFKA_BROKERS", ""))
	KafkaTopic = getEnvOrDefault("KAFKA_TOPIC", DEFAULT_KAFKA_TOPIC)
	CryptoCompareAPIKey = getEnvOrDefault("CRYPTOCOMPARE_API", "")

	DB, err = loadDBSettings()
	if err != nil {
		return err
	}

	// Load endpoint configuration
	if err := loadEndpointConfig(); err != nil {
		return err
	}

	log.Debug().
		Strs("TrackedDenoms", TrackedDenoms).
		Dur("PollInterval", PollInterval).
		Str("WebPort", WebPort).
		Bool("AdminToken", AdminToken != "").
		Bool("Kafka", len(KafkaBrokers) > 0).
		Bool("Database", DB.Enabled()).
		Msg("Configuration loaded successfully.")

	return nil
}

func loadDBSettings() (DBSettings, error) {
	port, err := getEnvAsIntOrDefault("DB_PORT", 5432)
	if err != nil {
		return DBSettings{}, err
	}
	return DBSettings{
		Host:     getEnvOrDefault("DB_HOST", "localhost"),
		Port:     port,
		User:     getEnvOrDefault("DB_USER", ""),
		Password: getEnvOrDefault("DB_PASSWORD", ""),
		Name:     getEnvOrDefault("DB_NAME", ""),
		SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
	}, nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvOrDefault retrieves a string environment variable, falling back when unset or blank.
func getEnvOrDefault(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvAsIntOrDefault(key string, fallback int) (int, error) {
	valueStr := getEnvOrDefault(key, "")
	if valueStr == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid integer, got: " + valueStr)
	}
	return value, nil
}

func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
	valueStr := getEnvOrDefault(key, "")
	if valueStr == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid duration, got: " + valueStr)
	}
	return value, nil
}

// splitList splits a comma separated value, dropping blanks and duplicates.
func splitList(value string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" || seen[part] {
			continue
		}
		seen[part] = true
		out = append(out, part)
	}
	return out
}
