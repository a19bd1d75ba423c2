package authgate

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment variable read by [LoadConfigFromEnv],
// e.g. AUTHGATE_LOCKOUT_MAX_FAILED_ATTEMPTS or AUTHGATE_STORE_REDIS_ADDR.
const EnvPrefix = "AUTHGATE_"

// LoadConfigFromEnv overlays AUTHGATE_* environment variables onto [DefaultConfig] and
// validates the result. Unset variables keep their defaults.
func LoadConfigFromEnv() (Config, error) {
	return loadConfig(env.Options{Prefix: EnvPrefix})
}

func loadConfig(opts env.Options) (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
