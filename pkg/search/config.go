package search

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds hybrid search configuration: where the per-tenant keyword
// indexes live on disk and how the embedding model is set up.
type Config struct {
	BleveIndexDir       string
	EmbeddingModelPath  string
	EmbeddingDimensions int
	EmbeddingMaxTokens  int
	RRFK                int
}

// LoadConfigFromEnv loads hybrid search configuration from the environment,
// defaulting the embedding dimensions/max-tokens/RRF constant the way the
// pack's sagasu config defaults its embedding settings.
func LoadConfigFromEnv() (Config, error) {
	dims, err := strconv.Atoi(getEnvOrDefault("SEARCH_EMBEDDING_DIMENSIONS", "384"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid SEARCH_EMBEDDING_DIMENSIONS: %w", err)
	}
	maxTokens, err := strconv.Atoi(getEnvOrDefault("SEARCH_EMBEDDING_MAX_TOKENS", "256"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid SEARCH_EMBEDDING_MAX_TOKENS: %w", err)
	}
	rrfK, err := strconv.Atoi(getEnvOrDefault("SEARCH_RRF_K", "60"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid SEARCH_RRF_K: %w", err)
	}

	return Config{
		BleveIndexDir:       getEnvOrDefault("SEARCH_BLEVE_INDEX_DIR", "./data/bleve"),
		EmbeddingModelPath:  getEnvOrDefault("SEARCH_EMBEDDING_MODEL_PATH", "./data/models/all-MiniLM-L6-v2.onnx"),
		EmbeddingDimensions: dims,
		EmbeddingMaxTokens:  maxTokens,
		RRFK:                rrfK,
	}, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
