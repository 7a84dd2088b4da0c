// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// JWT Authentication
	JWTSecret         string `koanf:"jwt_secret"`
	JWTPreviousSecret string `koanf:"jwt_previous_secret"` // set during key rotation

	// Realtime document store. Empty RedisURL selects the in-memory backend.
	RedisURL string `koanf:"redis_url"`

	// Optional Postgres mirror for position records.
	DatabaseURL string `koanf:"database_url"`

	// Dead-reckoning tuning
	StrideDegrees        float64 `koanf:"stride_degrees"`         // degrees of travel per step
	SatelliteTimeoutMS   int     `koanf:"satellite_timeout_ms"`   // bound on a single satellite fix attempt
	TrackIntervalSeconds int     `koanf:"track_interval_seconds"` // background reporting cadence
}

// Configuration validation errors.
var (
	ErrMissingJWTSecret = errors.New("JWT_SECRET is required")
	ErrInvalidPort      = errors.New("PORT must be a valid integer")
)

// Default values for non-secret configuration.
const (
	DefaultPort                 = 8080
	DefaultEnv                  = "development"
	DefaultStrideDegrees        = 0.0008
	DefaultSatelliteTimeoutMS   = 5000
	DefaultTrackIntervalSeconds = 5
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Parse port from env, collecting error if invalid
	// Try WAYPOST_PORT first, then PORT for backward compatibility
	port, portErr := getEnvIntOrDefaultMulti([]string{"WAYPOST_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	satelliteTimeout, timeoutErr := getEnvIntOrDefault("SATELLITE_TIMEOUT_MS", k.Int("satellite_timeout_ms"), DefaultSatelliteTimeoutMS)
	if timeoutErr != nil {
		loadErrs = append(loadErrs, timeoutErr)
	}

	trackInterval, intervalErr := getEnvIntOrDefault("TRACK_INTERVAL_SECONDS", k.Int("track_interval_seconds"), DefaultTrackIntervalSeconds)
	if intervalErr != nil {
		loadErrs = append(loadErrs, intervalErr)
	}

	stride, strideErr := getEnvFloatOrDefault("STRIDE_DEGREES", k.Float64("stride_degrees"), DefaultStrideDegrees)
	if strideErr != nil {
		loadErrs = append(loadErrs, strideErr)
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:                 port,
		Env:                  getEnvOrDefaultMulti([]string{"WAYPOST_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		JWTSecret:            getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTPreviousSecret:    getEnvOrKoanf("JWT_PREVIOUS_SECRET", k, "jwt_previous_secret"),
		RedisURL:             getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		DatabaseURL:          getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		StrideDegrees:        stride,
		SatelliteTimeoutMS:   satelliteTimeout,
		TrackIntervalSeconds: trackInterval,
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, err)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as a float.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                   fmt.Sprintf("%d", c.Port),
		"env":                    c.Env,
		"jwt_secret":             maskSecret(c.JWTSecret),
		"jwt_previous_secret":    maskSecret(c.JWTPreviousSecret),
		"redis_url":              maskURL(c.RedisURL),
		"database_url":           maskURL(c.DatabaseURL),
		"stride_degrees":         fmt.Sprintf("%g", c.StrideDegrees),
		"satellite_timeout_ms":   fmt.Sprintf("%d", c.SatelliteTimeoutMS),
		"track_interval_seconds": fmt.Sprintf("%d", c.TrackIntervalSeconds),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskURL masks the password in a connection URL.
func maskURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Look for password pattern: user:password@host
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
