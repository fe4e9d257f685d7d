package blobstore

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds S3(-compatible) connection configuration. Endpoint is empty
// for real AWS S3 and set for MinIO/other S3-compatible deployments, the
// way the teacher's storage package supports LakeFS/MinIO/Hetzner/AWS
// through the same endpoint-resolver knob.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// LoadConfigFromEnv loads object storage configuration from the environment.
func LoadConfigFromEnv() (Config, error) {
	bucket := os.Getenv("STORAGE_BUCKET")
	if bucket == "" {
		return Config{}, fmt.Errorf("STORAGE_BUCKET is required")
	}

	pathStyle, err := strconv.ParseBool(getEnvOrDefault("STORAGE_USE_PATH_STYLE", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid STORAGE_USE_PATH_STYLE: %w", err)
	}

	return Config{
		Bucket:          bucket,
		Region:          getEnvOrDefault("STORAGE_REGION", "us-east-1"),
		Endpoint:        os.Getenv("STORAGE_ENDPOINT"),
		AccessKeyID:     os.Getenv("STORAGE_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("STORAGE_SECRET_ACCESS_KEY"),
		UsePathStyle:    pathStyle,
	}, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
