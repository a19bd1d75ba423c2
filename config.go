package authgate

import (
	"errors"
	"strings"
	"time"
)

const (
	// DefaultMaxFailedAttempts is the failed-login threshold that triggers a lockout.
	DefaultMaxFailedAttempts = 3
	// DefaultLockoutDuration is measured from the last failed attempt.
	DefaultLockoutDuration = 15 * time.Minute
)

// Config holds every tunable of the engine, the controller and the CLI wiring.
//
// Config values are copied into the engine by [Builder.Build] and treated as immutable afterwards.
type Config struct {
	Lockout LockoutConfig `envPrefix:"LOCKOUT_"`
	Flow    FlowConfig    `envPrefix:"FLOW_"`
	Store   StoreConfig   `envPrefix:"STORE_"`
	Backend BackendConfig `envPrefix:"BACKEND_"`
	Token   TokenConfig   `envPrefix:"TOKEN_"`
	Audit   AuditConfig   `envPrefix:"AUDIT_"`
	Metrics MetricsConfig `envPrefix:"METRICS_"`
	Log     LogConfig     `envPrefix:"LOG_"`
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig is the failed-attempt policy.
type LockoutConfig struct {
	MaxFailedAttempts int           `env:"MAX_FAILED_ATTEMPTS"`
	Duration          time.Duration `env:"DURATION"`
}

/*
====================================
FLOW CONFIG
====================================
*/

// FlowConfig controls the login flow controller.
type FlowConfig struct {
	MinUsernameLength  int           `env:"MIN_USERNAME_LENGTH"`
	MinPasswordLength  int           `env:"MIN_PASSWORD_LENGTH"`
	TickInterval       time.Duration `env:"TICK_INTERVAL"`
	AdminRoles         []string      `env:"ADMIN_ROLES" envSeparator:","`
	AdminDestination   string        `env:"ADMIN_DESTINATION"`
	DefaultDestination string        `env:"DEFAULT_DESTINATION"`
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig selects the storage technology behind each scope. The library itself only
// consumes [store.Scope] values; this section is read by cmd/authgate.
type StoreConfig struct {
	Session     string        `env:"SESSION"` // "memory" (default) or "redis"
	Durable     string        `env:"DURABLE"` // "file" (default), "sqlite", "redis" or "memory"
	RedisAddr   string        `env:"REDIS_ADDR"`
	RedisPrefix string        `env:"REDIS_PREFIX"`
	SessionTTL  time.Duration `env:"SESSION_TTL"`
	SQLitePath  string        `env:"SQLITE_PATH"`
	FilePath    string        `env:"FILE_PATH"`
}

/*
====================================
BACKEND CONFIG
====================================
*/

// BackendConfig selects the credential backend used by cmd/authgate.
type BackendConfig struct {
	Kind            string        `env:"KIND"` // "memory" (default), "http", "sqlite" or "postgres"
	BaseURL         string        `env:"BASE_URL"`
	Timeout         time.Duration `env:"TIMEOUT"`
	DSN             string        `env:"DSN"`
	SimulateLatency bool          `env:"SIMULATE_LATENCY"`
	ResetTTL        time.Duration `env:"RESET_TTL"` // lifetime of directory reset tokens
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig configures token issue (reference directory) and verification on restore.
type TokenConfig struct {
	SigningMethod   string        `env:"SIGNING_METHOD"` // "hs256" (default) or "ed25519"
	Secret          string        `env:"SECRET"`
	TTL             time.Duration `env:"TTL"`
	Issuer          string        `env:"ISSUER"`
	VerifyOnRestore bool          `env:"VERIFY_ON_RESTORE"`
}

/*
====================================
AUDIT / METRICS / LOG CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `env:"ENABLED"`
	BufferSize int  `env:"BUFFER_SIZE"`
	DropIfFull bool `env:"DROP_IF_FULL"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"ENABLE_LATENCY_HISTOGRAMS"`
}

// LogConfig controls the CLI logger.
type LogConfig struct {
	Format string `env:"FORMAT"` // "text" (default) or "json"
	Level  string `env:"LEVEL"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the default policy: 3 attempts, 15 minute lockout, 1 second ticker.
func DefaultConfig() Config {
	return Config{
		Lockout: LockoutConfig{
			MaxFailedAttempts: DefaultMaxFailedAttempts,
			Duration:          DefaultLockoutDuration,
		},
		Flow: FlowConfig{
			MinUsernameLength:  3,
			MinPasswordLength:  6,
			TickInterval:       time.Second,
			AdminRoles:         []string{"ADMIN", "ROLE_ADMIN"},
			AdminDestination:   "/user",
			DefaultDestination: "/book",
		},
		Store: StoreConfig{
			Session:     "memory",
			Durable:     "file",
			RedisPrefix: "ag",
			SessionTTL:  12 * time.Hour,
			SQLitePath:  "authgate.db",
			FilePath:    "authgate_state.json",
		},
		Backend: BackendConfig{
			Kind:     "memory",
			Timeout:  10 * time.Second,
			ResetTTL: time.Hour,
		},
		Token: TokenConfig{
			SigningMethod: "hs256",
			TTL:           time.Hour,
			Issuer:        "authgate",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Flow.AdminRoles = append([]string(nil), cfg.Flow.AdminRoles...)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Lockout
	if c.Lockout.MaxFailedAttempts < 1 {
		return errors.New("Lockout MaxFailedAttempts must be >= 1")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}

	// Flow
	if c.Flow.MinUsernameLength < 1 {
		return errors.New("Flow MinUsernameLength must be >= 1")
	}
	if c.Flow.MinPasswordLength < 1 {
		return errors.New("Flow MinPasswordLength must be >= 1")
	}
	if c.Flow.TickInterval <= 0 {
		return errors.New("Flow TickInterval must be > 0")
	}
	if c.Flow.TickInterval > c.Lockout.Duration {
		return errors.New("Flow TickInterval must not exceed Lockout Duration")
	}
	if len(c.Flow.AdminRoles) == 0 {
		return errors.New("Flow AdminRoles must not be empty")
	}
	for _, r := range c.Flow.AdminRoles {
		if strings.TrimSpace(r) == "" {
			return errors.New("Flow AdminRoles must not contain blank roles")
		}
	}
	if strings.TrimSpace(c.Flow.AdminDestination) == "" || strings.TrimSpace(c.Flow.DefaultDestination) == "" {
		return errors.New("Flow destinations must be set")
	}

	// Store
	switch c.Store.Session {
	case "memory", "redis":
	default:
		return errors.New("Store Session must be 'memory' or 'redis'")
	}
	switch c.Store.Durable {
	case "memory", "file", "sqlite", "redis":
	default:
		return errors.New("Store Durable must be 'memory', 'file', 'sqlite' or 'redis'")
	}
	if (c.Store.Session == "redis" || c.Store.Durable == "redis") && c.Store.RedisAddr == "" {
		return errors.New("Store RedisAddr is required for redis scopes")
	}
	if c.Store.SessionTTL < 0 {
		return errors.New("Store SessionTTL must be >= 0")
	}

	// Backend
	switch c.Backend.Kind {
	case "memory":
	case "http":
		if c.Backend.BaseURL == "" {
			return errors.New("Backend BaseURL is required for http backend")
		}
	case "sqlite", "postgres":
		if c.Backend.DSN == "" {
			return errors.New("Backend DSN is required for sql backends")
		}
	default:
		return errors.New("Backend Kind must be 'memory', 'http', 'sqlite' or 'postgres'")
	}
	if c.Backend.Timeout < 0 {
		return errors.New("Backend Timeout must be >= 0")
	}
	if c.Backend.ResetTTL < 0 {
		return errors.New("Backend ResetTTL must be >= 0")
	}

	// Token
	if c.Token.SigningMethod != "hs256" && c.Token.SigningMethod != "ed25519" {
		return errors.New("unsupported Token SigningMethod")
	}
	if c.Token.TTL <= 0 {
		return errors.New("Token TTL must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	// Log
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.New("Log Format must be 'text' or 'json'")
	}

	return nil
}
