// Package config loads the engine's process-wide configuration: a .env
// file via godotenv, then one typed Config struct per subsystem, each
// with its own LoadConfigFromEnv the way pkg/database does it.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/matrixqa/engine/pkg/aiprovider"
	"github.com/matrixqa/engine/pkg/blobstore"
	"github.com/matrixqa/engine/pkg/broker"
	"github.com/matrixqa/engine/pkg/database"
	"github.com/matrixqa/engine/pkg/lock"
	"github.com/matrixqa/engine/pkg/quota"
	"github.com/matrixqa/engine/pkg/search"
)

// Config is the umbrella configuration object: one field per subsystem,
// each populated by that subsystem's own LoadConfigFromEnv.
type Config struct {
	Database   database.Config
	Broker     broker.Config
	Lock       lock.Config
	Storage    blobstore.Config
	Search     search.Config
	Quota      quota.Config
	AIProvider aiprovider.Config
}

// Load reads a .env file if present (a missing file is not an error —
// production deployments set real environment variables instead) and then
// loads every subsystem's configuration from the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("database config: %w", err)
	}

	brokerCfg, err := broker.LoadConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("broker config: %w", err)
	}

	lockCfg, err := lock.LoadConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("lock config: %w", err)
	}

	storageCfg, err := blobstore.LoadConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("storage config: %w", err)
	}

	searchCfg, err := search.LoadConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("search config: %w", err)
	}

	quotaCfg := quota.LoadConfigFromEnv()

	aiCfg, err := aiprovider.LoadConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("ai provider config: %w", err)
	}

	return Config{
		Database:   dbCfg,
		Broker:     brokerCfg,
		Lock:       lockCfg,
		Storage:    storageCfg,
		Search:     searchCfg,
		Quota:      quotaCfg,
		AIProvider: aiCfg,
	}, nil
}
