package quota

import "os"

// Config holds quota-service tuning. Unlike every other subsystem's
// LoadConfigFromEnv, this one cannot fail: every field has a hardcoded
// default and there is no required variable to validate.
type Config struct {
	// DefaultTier is read from QUOTA_DEFAULT_TIER (FREE when unset). The
	// quota Service does not consult it: a company with no subscription
	// row is always treated as FREE.
	DefaultTier string
}

// LoadConfigFromEnv reads quota configuration from the environment. It never
// errors — callers depend on this exact signature (see pkg/config).
func LoadConfigFromEnv() Config {
	tier := os.Getenv("QUOTA_DEFAULT_TIER")
	if tier == "" {
		tier = "FREE"
	}
	return Config{DefaultTier: tier}
}
