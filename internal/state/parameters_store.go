// ./internal/state/parameters_store.go
package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/elys-network/ilpredictor/internal/types"
)

var (
	ErrParametersNotFound      = errors.New("no active parameters found")
	ErrParametersVersionExists = errors.New("parameters version already exists")
)

const pqUniqueViolation = "23505"

// SaveOperatorParameters saves a new version of the estimator and predictor parameters.
func SaveOperatorParameters(params types.Parameters, configName string, version int, makeActive bool) (paramsID int64, err error) {
	if DB == nil {
		return 0, ErrDBNotInitialized
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal parameters: %w", err)
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-panic after rollback
		} else if err != nil {
			tx.Rollback()
		}
	}()

	if makeActive {
		_, err = tx.Exec(`UPDATE predictor_parameters SET is_active = FALSE WHERE config_name = $1 AND is_active = TRUE;`, configName)
		if err != nil {
			return 0, fmt.Errorf("failed to deactivate existing active parameters for %s: %w", configName, err)
		}
	}

	currentTime := time.Now()
	err = tx.QueryRow(`
		INSERT INTO predictor_parameters (version, config_name, is_active, activated_at, created_at, parameters)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING params_id;`,
		version, configName, makeActive, currentTime, currentTime, payload,
	).Scan(&paramsID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return 0, fmt.Errorf("%w: %s v%d", ErrParametersVersionExists, configName, version)
		}
		return 0, fmt.Errorf("failed to insert parameters: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Int("version", version).
		Str("config", configName).
		Int64("params_id", paramsID).
		Bool("active", makeActive).
		Msg("Saved operator parameters")
	return paramsID, nil
}

// LoadActiveOperatorParameters loads the currently active parameters. The stored JSON is
// decoded over the defaults passed in, so columns added after a row was written keep their default.
func LoadActiveOperatorParameters(configName string, defaults types.Parameters) (*types.Parameters, int, error) {
	if DB == nil {
		return nil, 0, ErrDBNotInitialized
	}

	var payload []byte
	var version int
	err := DB.QueryRow(`
		SELECT parameters, version
		FROM predictor_parameters
		WHERE config_name = $1 AND is_active = TRUE
		ORDER BY activated_at DESC
		LIMIT 1;`,
		configName,
	).Scan(&payload, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, fmt.Errorf("%w for config '%s'", ErrParametersNotFound, configName)
		}
		return nil, 0, fmt.Errorf("failed to scan active parameters for config '%s': %w", configName, err)
	}

	params, err := decodeParameters(payload, defaults)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode parameters for config '%s': %w", configName, err)
	}

	log.Info().Str("config", configName).Int("version", version).Msg("Loaded active operator parameters")
	return &params, version, nil
}

// LatestParametersVersion returns the highest stored version of configName, 0 when none exists.
func LatestParametersVersion(configName string) (int, error) {
	if DB == nil {
		return 0, ErrDBNotInitialized
	}
	var version sql.NullInt64
	if err := DB.QueryRow(`SELECT MAX(version) FROM predictor_parameters WHERE config_name = $1;`, configName).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get latest parameters version for config '%s': %w", configName, err)
	}
	return int(version.Int64), nil
}

// SaveParametersAsNextVersion stores params as the active version following the latest one of configName.
func SaveParametersAsNextVersion(params types.Parameters, configName string) (int, error) {
	latest, err := LatestParametersVersion(configName)
	if err != nil {
		return 0, err
	}
	next := latest + 1
	if _, err := SaveOperatorParameters(params, configName, next, true); err != nil {
		return 0, err
	}
	return next, nil
}

func decodeParameters(payload []byte, defaults types.Parameters) (types.Parameters, error) {
	params := defaults
	if err := json.Unmarshal(payload, &params); err != nil {
		return types.Parameters{}, err
	}
	return params, nil
}
