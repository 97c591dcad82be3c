package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultAddr              = ":8080"
	DefaultSessionTTLHours   = 8
	DefaultCacheTTLSeconds   = 300
	DefaultLockoutThreshold  = 5
	DefaultRateLimitPerSec   = 10
	DefaultRateLimitBurst    = 20
	DefaultMaxBodyBytes      = 1 << 20
	DefaultShutdownTimeoutMS = 10000
)

// AuthConfig holds authentication and session policy.
type AuthConfig struct {
	LockoutThreshold   int `yaml:"lockout_threshold"`
	SessionTTLHours    int `yaml:"session_ttl_hours"`
	MaxSessionsPerUser int `yaml:"max_sessions_per_user"`
}

// SessionTTL returns the session lifetime as a duration.
func (c *AuthConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// CacheConfig holds permission-resolver cache settings.
type CacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

// TTL returns the cache TTL as a duration.
func (c *CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// AuditConfig holds audit policy. FailOpen restores the reference behavior
// of keeping a grant whose audit write failed; the default (false) is
// fail-closed.
type AuditConfig struct {
	FailOpen bool `yaml:"fail_open"`
}

// EmergencyConfig holds break-glass policy. JustificationOptional disables
// the default requirement that emergency requests carry a justification.
type EmergencyConfig struct {
	JustificationOptional bool `yaml:"justification_optional"`
}

// HTTPConfig holds transport settings.
type HTTPConfig struct {
	RateLimitPerSec   int   `yaml:"rate_limit_per_sec"`
	RateLimitBurst    int   `yaml:"rate_limit_burst"`
	MaxBodyBytes      int64 `yaml:"max_body_bytes"`
	ShutdownTimeoutMS int   `yaml:"shutdown_timeout_ms"`
}

// ShutdownTimeout returns the graceful-shutdown window.
func (c *HTTPConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMS) * time.Millisecond
}

// Config holds all application configuration.
type Config struct {
	Addr        string          `yaml:"addr"`
	PGDSN       string          `yaml:"pg_dsn"`
	TokenSecret string          `yaml:"token_secret"`
	Auth        AuthConfig      `yaml:"auth"`
	Cache       CacheConfig     `yaml:"cache"`
	Audit       AuditConfig     `yaml:"audit"`
	Emergency   EmergencyConfig `yaml:"emergency"`
	HTTP        HTTPConfig      `yaml:"http"`
}

// ApplyDefaults fills zero-valued fields with defaults.
func (cfg *Config) ApplyDefaults() {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Auth.LockoutThreshold == 0 {
		cfg.Auth.LockoutThreshold = DefaultLockoutThreshold
	}
	if cfg.Auth.SessionTTLHours == 0 {
		cfg.Auth.SessionTTLHours = DefaultSessionTTLHours
	}
	if cfg.Cache.TTLSeconds == 0 {
		cfg.Cache.TTLSeconds = DefaultCacheTTLSeconds
	}
	if cfg.HTTP.RateLimitPerSec == 0 {
		cfg.HTTP.RateLimitPerSec = DefaultRateLimitPerSec
	}
	if cfg.HTTP.RateLimitBurst == 0 {
		cfg.HTTP.RateLimitBurst = DefaultRateLimitBurst
	}
	if cfg.HTTP.MaxBodyBytes == 0 {
		cfg.HTTP.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.HTTP.ShutdownTimeoutMS == 0 {
		cfg.HTTP.ShutdownTimeoutMS = DefaultShutdownTimeoutMS
	}
}

// Load reads the YAML config file (optional), applies defaults, then env
// overrides. A missing file is not an error: env-only deployments are
// supported.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to defaults
		default:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg.ApplyDefaults()
	cfg.applyEnv()
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	setString(&cfg.Addr, "CLINAUTH_ADDR")
	setString(&cfg.PGDSN, "CLINAUTH_PG_DSN")
	setString(&cfg.TokenSecret, "CLINAUTH_TOKEN_SECRET")
	setInt(&cfg.Auth.LockoutThreshold, "CLINAUTH_LOCKOUT_THRESHOLD")
	setInt(&cfg.Auth.SessionTTLHours, "CLINAUTH_SESSION_TTL_HOURS")
	setInt(&cfg.Auth.MaxSessionsPerUser, "CLINAUTH_MAX_SESSIONS_PER_USER")
	setInt(&cfg.Cache.TTLSeconds, "CLINAUTH_CACHE_TTL_SECONDS")
	setBool(&cfg.Audit.FailOpen, "CLINAUTH_AUDIT_FAIL_OPEN")
	setBool(&cfg.Emergency.JustificationOptional, "CLINAUTH_EMERGENCY_JUSTIFICATION_OPTIONAL")
	setInt(&cfg.HTTP.RateLimitPerSec, "CLINAUTH_RATE_LIMIT_PER_SEC")
	setInt(&cfg.HTTP.RateLimitBurst, "CLINAUTH_RATE_LIMIT_BURST")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
