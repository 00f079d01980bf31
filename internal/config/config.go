// Package config loads and validates gateway configuration from
// environment variables, plus the declarative route table from a YAML
// file (§6 Configuration surface).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sessiongate/gateway/internal/breaker"
	"github.com/sessiongate/gateway/internal/metrics"
)

// Config holds all gateway configuration.
type Config struct {
	// HTTP server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ShutdownWait time.Duration

	// Redis (session store) settings.
	RedisAddr          string
	RedisPassword      string
	RedisPoolSize      int
	SessionReadTimeout time.Duration

	// Breaker policies, keyed by name ("default", "redis", "downstream").
	Breakers map[string]breaker.Policy

	// Route table.
	RoutesFile string

	// Session Validation Filter settings (§9 Open questions).
	PartnerDefensiveMode bool
	PathNormalization    metrics.Variant

	// Audit persistence (optional; disabled when DSN is empty).
	AuditDSN     string
	AuditEncrypt bool

	// Tracing (optional; disabled when endpoint is empty).
	OTLPEndpoint string

	// Operational settings.
	ServiceName string
	LogLevel    string
}

// Load reads configuration from environment variables with sensible
// defaults. Missing variables use defaults; only malformed values are
// rejected, and their parse errors are accumulated rather than failing
// fast on the first one.
func Load() (Config, error) {
	var errs []error
	cfg := Config{
		RedisAddr:     envStr("GATEWAY_REDIS_ADDR", "localhost:6379"),
		RedisPassword: envStr("GATEWAY_REDIS_PASSWORD", ""),
		RoutesFile:    envStr("GATEWAY_ROUTES_FILE", "routes.yaml"),
		AuditDSN:      envStr("GATEWAY_AUDIT_DSN", ""),
		OTLPEndpoint:  envStr("GATEWAY_OTLP_ENDPOINT", ""),
		ServiceName:   envStr("GATEWAY_SERVICE_NAME", "session-gateway"),
		LogLevel:      envStr("GATEWAY_LOG_LEVEL", "info"),
	}

	cfg.Port, errs = collectInt(errs, "GATEWAY_PORT", 8080)
	cfg.RedisPoolSize, errs = collectInt(errs, "GATEWAY_REDIS_POOL_SIZE", 10)

	cfg.ReadTimeout, errs = collectDuration(errs, "GATEWAY_READ_TIMEOUT", 10*time.Second)
	cfg.WriteTimeout, errs = collectDuration(errs, "GATEWAY_WRITE_TIMEOUT", 30*time.Second)
	cfg.ShutdownWait, errs = collectDuration(errs, "GATEWAY_SHUTDOWN_WAIT", 15*time.Second)
	cfg.SessionReadTimeout, errs = collectDuration(errs, "GATEWAY_SESSION_READ_TIMEOUT", 3*time.Second)

	cfg.PartnerDefensiveMode, errs = collectBool(errs, "GATEWAY_PARTNER_DEFENSIVE_MODE", true)
	cfg.AuditEncrypt, errs = collectBool(errs, "GATEWAY_AUDIT_ENCRYPT", false)

	var normErr error
	cfg.PathNormalization, normErr = envVariant("GATEWAY_METRICS_PATH_NORMALIZATION", metrics.VariantSuffixAware)
	if normErr != nil {
		errs = append(errs, normErr)
	}

	policies, policyErrs := loadBreakerPolicies()
	cfg.Breakers = policies
	errs = append(errs, policyErrs...)

	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return Config{}, fmt.Errorf("config: invalid environment variables:\n  %s", strings.Join(msgs, "\n  "))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadBreakerPolicies starts from §4.4's defaults and applies any
// GATEWAY_BREAKER_<POLICY>_* overrides found in the environment.
func loadBreakerPolicies() (map[string]breaker.Policy, []error) {
	var errs []error
	policies := breaker.DefaultPolicies()

	for name, p := range policies {
		prefix := "GATEWAY_BREAKER_" + strings.ToUpper(name) + "_"
		p.FailureRate = envFloatOr(prefix+"FAILURE_RATE", p.FailureRate, &errs)
		p.OpenWait = envDurationOr(prefix+"OPEN_WAIT", p.OpenWait, &errs)
		p.Window = envIntOr(prefix+"WINDOW", p.Window, &errs)
		p.MinCalls = envIntOr(prefix+"MIN_CALLS", p.MinCalls, &errs)
		p.HalfOpenProbes = envIntOr(prefix+"HALF_OPEN_PROBES", p.HalfOpenProbes, &errs)
		p.SlowRate = envFloatOr(prefix+"SLOW_RATE", p.SlowRate, &errs)
		p.SlowThreshold = envDurationOr(prefix+"SLOW_THRESHOLD", p.SlowThreshold, &errs)
		policies[name] = p
	}
	return policies, errs
}

// Validate checks that required configuration is present and sane.
func (c Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, errors.New("config: GATEWAY_PORT must be between 1 and 65535"))
	}
	if c.ReadTimeout <= 0 {
		errs = append(errs, errors.New("config: GATEWAY_READ_TIMEOUT must be positive"))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, errors.New("config: GATEWAY_WRITE_TIMEOUT must be positive"))
	}
	if c.SessionReadTimeout <= 0 {
		errs = append(errs, errors.New("config: GATEWAY_SESSION_READ_TIMEOUT must be positive"))
	}
	if c.RedisAddr == "" {
		errs = append(errs, errors.New("config: GATEWAY_REDIS_ADDR is required"))
	}
	if c.RoutesFile == "" {
		errs = append(errs, errors.New("config: GATEWAY_ROUTES_FILE is required"))
	}
	if c.PathNormalization != metrics.VariantPrefix && c.PathNormalization != metrics.VariantSuffixAware {
		errs = append(errs, errors.New("config: GATEWAY_METRICS_PATH_NORMALIZATION must be \"prefix\" or \"suffix-aware\""))
	}
	for name, p := range c.Breakers {
		if p.MinCalls <= 0 || p.Window <= 0 {
			errs = append(errs, fmt.Errorf("config: breaker %q must have positive window and min-calls", name))
		}
		if p.FailureRate <= 0 || p.FailureRate > 1 {
			errs = append(errs, fmt.Errorf("config: breaker %q failure rate must be in (0,1]", name))
		}
	}

	return errors.Join(errs...)
}

func collectInt(errs []error, key string, fallback int) (int, []error) {
	v, err := envInt(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

func collectBool(errs []error, key string, fallback bool) (bool, []error) {
	v, err := envBool(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

func collectDuration(errs []error, key string, fallback time.Duration) (time.Duration, []error) {
	v, err := envDuration(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envIntOr(key string, fallback int, errs *[]error) int {
	v, err := envInt(key, fallback)
	if err != nil {
		*errs = append(*errs, err)
		return fallback
	}
	return v
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}

func envDurationOr(key string, fallback time.Duration, errs *[]error) time.Duration {
	v, err := envDuration(key, fallback)
	if err != nil {
		*errs = append(*errs, err)
		return fallback
	}
	return v
}

func envFloatOr(key string, fallback float64, errs *[]error) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s=%q is not a valid float", key, v))
		return fallback
	}
	return f
}

func envVariant(key string, fallback metrics.Variant) (metrics.Variant, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	switch metrics.Variant(v) {
	case metrics.VariantPrefix, metrics.VariantSuffixAware:
		return metrics.Variant(v), nil
	default:
		return fallback, fmt.Errorf("%s=%q is not a valid normalization variant", key, v)
	}
}
