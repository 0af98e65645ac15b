// Package config snapshots the deployment environment once at startup. No
// component reads environment variables directly; everything receives its
// settings through the Config struct handed out here.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend names a tenant-store implementation.
type Backend string

const (
	BackendFile     Backend = "file"
	BackendPostgres Backend = "postgres"
)

// Config is the immutable startup configuration.
type Config struct {
	Addr string

	// Assertion gate. When PublicKeyPEM/PublicKeyFile yields a key, /token is
	// assertion-gated; otherwise HostAPIKey enables the shared-secret
	// fallback, a strictly weaker deployment mode.
	AssertionPublicKeyPEM  string
	AssertionPublicKeyFile string
	AssertionAudience      string
	AssertionIssuer        string
	HostAPIKey             string

	TokenSecret string
	TokenTTL    time.Duration

	StorageBackend Backend
	PostgresDSN    string
	DataDir        string
	ReplayDir      string
	StorageTimeout time.Duration

	RetentionTTL      time.Duration
	RetentionDisabled bool
	RetentionInterval time.Duration

	PendingDir           string
	PendingSweepInterval time.Duration
	PendingMaxAttempts   int

	AllowedOrigins []string
}

// Error marks a configuration problem; the process fails at startup, not per
// request.
type Error struct {
	msg string
}

func (e *Error) Error() string { return "config: " + e.msg }

func errf(format string, args ...any) error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

// Load reads and validates the INKGATE_* environment.
func Load() (Config, error) {
	cfg := Config{
		Addr:                   envOr("INKGATE_ADDR", ":8080"),
		AssertionPublicKeyPEM:  os.Getenv("INKGATE_ASSERTION_PUBLIC_KEY"),
		AssertionPublicKeyFile: os.Getenv("INKGATE_ASSERTION_PUBLIC_KEY_FILE"),
		AssertionAudience:      envOr("INKGATE_ASSERTION_AUDIENCE", "inkgate"),
		AssertionIssuer:        os.Getenv("INKGATE_ASSERTION_ISSUER"),
		HostAPIKey:             os.Getenv("INKGATE_HOST_API_KEY"),
		TokenSecret:            os.Getenv("INKGATE_TOKEN_SECRET"),
		StorageBackend:         Backend(envOr("INKGATE_STORAGE_BACKEND", string(BackendFile))),
		PostgresDSN:            os.Getenv("INKGATE_PG_DSN"),
		DataDir:                envOr("INKGATE_DATA_DIR", "data/records"),
		ReplayDir:              os.Getenv("INKGATE_REPLAY_DIR"),
		PendingDir:             envOr("INKGATE_PENDING_DIR", "data/pending"),
	}

	var err error
	if cfg.TokenTTL, err = durationOr("INKGATE_TOKEN_TTL", 10*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.StorageTimeout, err = durationOr("INKGATE_STORAGE_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.RetentionTTL, err = durationOr("INKGATE_RETENTION_TTL", 30*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.RetentionInterval, err = durationOr("INKGATE_RETENTION_INTERVAL", time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.PendingSweepInterval, err = durationOr("INKGATE_PENDING_SWEEP_INTERVAL", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.PendingMaxAttempts, err = intOr("INKGATE_PENDING_MAX_ATTEMPTS", 10); err != nil {
		return Config{}, err
	}
	if raw := strings.TrimSpace(os.Getenv("INKGATE_RETENTION_DISABLED")); raw != "" {
		cfg.RetentionDisabled, err = strconv.ParseBool(raw)
		if err != nil {
			return Config{}, errf("INKGATE_RETENTION_DISABLED: %v", err)
		}
	}
	if raw := strings.TrimSpace(os.Getenv("INKGATE_ALLOWED_ORIGINS")); raw != "" {
		for _, origin := range strings.Split(raw, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if strings.TrimSpace(c.TokenSecret) == "" {
		return errf("INKGATE_TOKEN_SECRET is required")
	}
	hasKey := strings.TrimSpace(c.AssertionPublicKeyPEM) != "" || strings.TrimSpace(c.AssertionPublicKeyFile) != ""
	if hasKey && strings.TrimSpace(c.AssertionIssuer) == "" {
		return errf("INKGATE_ASSERTION_ISSUER is required when a verification key is configured")
	}
	if !hasKey && strings.TrimSpace(c.HostAPIKey) == "" {
		return errf("either an assertion verification key or INKGATE_HOST_API_KEY must be configured")
	}
	switch c.StorageBackend {
	case BackendFile:
		if strings.TrimSpace(c.DataDir) == "" {
			return errf("INKGATE_DATA_DIR is required for the file backend")
		}
	case BackendPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return errf("INKGATE_PG_DSN is required for the postgres backend")
		}
	default:
		return errf("unknown storage backend %q", c.StorageBackend)
	}
	return nil
}

// AssertionGated reports whether the deployment verifies host assertions
// rather than the shared-secret fallback.
func (c Config) AssertionGated() bool {
	return strings.TrimSpace(c.AssertionPublicKeyPEM) != "" || strings.TrimSpace(c.AssertionPublicKeyFile) != ""
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func durationOr(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errf("%s: %v", key, err)
	}
	if d <= 0 {
		return 0, errf("%s must be positive", key)
	}
	return d, nil
}

func intOr(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errf("%s: %v", key, err)
	}
	if n <= 0 {
		return 0, errf("%s must be positive", key)
	}
	return n, nil
}
