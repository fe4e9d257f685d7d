package lock

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds Redis connection configuration for the distributed lock.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns the host:port pair go-redis expects.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadConfigFromEnv loads Redis lock configuration from the environment.
func LoadConfigFromEnv() (Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("REDIS_PORT", "6379"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid REDIS_PORT: %w", err)
	}

	db, err := strconv.Atoi(getEnvOrDefault("REDIS_DB", "0"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	return Config{
		Host:     getEnvOrDefault("REDIS_HOST", "localhost"),
		Port:     port,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
	}, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
