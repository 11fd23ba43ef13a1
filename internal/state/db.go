// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

var ErrDBNotInitialized = errors.New("database not initialized")

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		DB = nil
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
		DB = nil
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
// Prices and volatilities are NUMERIC(78, 18) so 18 decimal fixed-point values round trip exactly.
func EnsureSchema() error {
	if DB == nil {
		return ErrDBNotInitialized
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS price_observations (
			observation_id BIGSERIAL PRIMARY KEY,
			series VARCHAR(128) NOT NULL,
			price NUMERIC(78, 18) NOT NULL,
			observed_at TIMESTAMPTZ NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT uq_price_observations_series_time UNIQUE (series, observed_at)
		);
		CREATE INDEX IF NOT EXISTS idx_price_observations_series_time ON price_observations(series, observed_at DESC);

		CREATE TABLE IF NOT EXISTS volatility_estimates (
			estimate_id BIGSERIAL PRIMARY KEY,
			series VARCHAR(128) NOT NULL,
			volatility NUMERIC(78, 18) NOT NULL,
			confidence_bps INTEGER NOT NULL,
			data_points INTEGER NOT NULL,
			is_stale BOOLEAN NOT NULL,
			source VARCHAR(32) NOT NULL,
			method VARCHAR(32) NOT NULL,
			circuit_breaker BOOLEAN NOT NULL DEFAULT FALSE,
			computed_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_volatility_estimates_series_time ON volatility_estimates(series, computed_at DESC);

		CREATE TABLE IF NOT EXISTS il_predictions (
			event_id UUID PRIMARY KEY,
			series VARCHAR(128) NOT NULL,
			current_price NUMERIC(78, 18) NOT NULL,
			lower_bound NUMERIC(78, 18) NOT NULL,
			upper_bound NUMERIC(78, 18) NOT NULL,
			horizon_seconds BIGINT NOT NULL,
			expected_il_bps INTEGER NOT NULL,
			exit_probability_bps INTEGER NOT NULL,
			confidence_bps INTEGER NOT NULL,
			volatility NUMERIC(78, 18) NOT NULL,
			volatility_source VARCHAR(32) NOT NULL,
			emitted_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_il_predictions_series_time ON il_predictions(series, emitted_at DESC);

		CREATE TABLE IF NOT EXISTS predictor_parameters (
			params_id SERIAL PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			config_name VARCHAR(255) NOT NULL DEFAULT 'default',
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			parameters JSONB NOT NULL,
			CONSTRAINT uq_predictor_parameters_config_version UNIQUE (config_name, version)
		);
		CREATE INDEX IF NOT EXISTS idx_predictor_parameters_config_active_timestamp ON predictor_parameters(config_name, is_active, activated_at DESC);

		-- Cycle counter table for persistent global cycle tracking
		CREATE TABLE IF NOT EXISTS cycle_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_cycle INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);

		INSERT INTO cycle_counter (id, current_cycle)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// DropSchema removes every table created by EnsureSchema.
func DropSchema() error {
	if DB == nil {
		return ErrDBNotInitialized
	}
	_, err := DB.Exec(`
		DROP TABLE IF EXISTS il_predictions CASCADE;
		DROP TABLE IF EXISTS volatility_estimates CASCADE;
		DROP TABLE IF EXISTS price_observations CASCADE;
		DROP TABLE IF EXISTS predictor_parameters CASCADE;
		DROP TABLE IF EXISTS cycle_counter CASCADE;
	`)
	if err != nil {
		return fmt.Errorf("failed to drop tables: %w", err)
	}
	log.Warn().Msg("Dropped all tables")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return ErrDBNotInitialized
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}
