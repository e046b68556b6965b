// Package config provides configuration loading and validation for the
// audit trail service. It uses koanf to merge environment variables with
// optional file overrides.
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

// Config holds all configuration values for the service.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Redis (optional; secret-cache invalidation)
	RedisURL string `koanf:"redis_url"`

	// Admin JWT authentication. The previous secret supports dual-key
	// rotation of admin tokens.
	JWTSecret         string `koanf:"jwt_secret"`
	JWTPreviousSecret string `koanf:"jwt_previous_secret"`

	// Verification
	VerifyConcurrency int    `koanf:"verify_concurrency"`
	VerifyBatchSize   int    `koanf:"verify_batch_size"`
	IncrementalCron   string `koanf:"incremental_cron"`
	FullCron          string `koanf:"full_cron"`

	// Append path
	AppendMaxRetries int `koanf:"append_max_retries"`

	// Report archive (optional; S3-compatible object storage)
	ArchiveBucketName      string `koanf:"archive_bucket_name"`
	ArchiveAccessKeyID     string `koanf:"archive_access_key_id"`
	ArchiveSecretAccessKey string `koanf:"archive_secret_access_key"`
	ArchiveEndpoint        string `koanf:"archive_endpoint"`

	// Tracing (optional; OTLP endpoint)
	OTLPEndpoint string `koanf:"otlp_endpoint"`

	// CORS origin allowlist (optional; empty keeps the API same-origin)
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL      = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret        = errors.New("JWT_SECRET is required")
	ErrInvalidPort             = errors.New("PORT must be a valid integer")
	ErrMissingArchiveBucket    = errors.New("ARCHIVE_BUCKET_NAME is required when archiving is configured")
	ErrMissingArchiveKeyID     = errors.New("ARCHIVE_ACCESS_KEY_ID is required when archiving is configured")
	ErrMissingArchiveKeySecret = errors.New("ARCHIVE_SECRET_ACCESS_KEY is required when archiving is configured")
	ErrMissingArchiveEndpoint  = errors.New("ARCHIVE_ENDPOINT is required when archiving is configured")
)

// Default values for non-secret configuration.
const (
	DefaultPort              = 8080
	DefaultEnv               = "development"
	DefaultVerifyConcurrency = 4
	DefaultVerifyBatchSize   = 500
	DefaultIncrementalCron   = "*/5 * * * *"
	DefaultFullCron          = "0 3 * * *"
	DefaultAppendMaxRetries  = 3
)

// Load reads configuration from environment variables and an optional
// config file. Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if
// valid). If a config file path is provided and the file cannot be
// loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, portErr := getEnvIntOrDefault("PORT", k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}
	concurrency, concErr := getEnvIntOrDefault("VERIFY_CONCURRENCY", k.Int("verify_concurrency"), DefaultVerifyConcurrency)
	if concErr != nil {
		loadErrs = append(loadErrs, concErr)
	}
	batchSize, batchErr := getEnvIntOrDefault("VERIFY_BATCH_SIZE", k.Int("verify_batch_size"), DefaultVerifyBatchSize)
	if batchErr != nil {
		loadErrs = append(loadErrs, batchErr)
	}
	maxRetries, retryErr := getEnvIntOrDefault("APPEND_MAX_RETRIES", k.Int("append_max_retries"), DefaultAppendMaxRetries)
	if retryErr != nil {
		loadErrs = append(loadErrs, retryErr)
	}

	cfg := &Config{
		Port:              port,
		Env:               getEnvOrDefault("ENV", k.String("env"), DefaultEnv),
		DatabaseURL:       getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:          getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		JWTSecret:         getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTPreviousSecret: getEnvOrKoanf("JWT_PREVIOUS_SECRET", k, "jwt_previous_secret"),
		VerifyConcurrency: concurrency,
		VerifyBatchSize:   batchSize,
		IncrementalCron:   getEnvOrDefault("INCREMENTAL_CRON", k.String("incremental_cron"), DefaultIncrementalCron),
		FullCron:          getEnvOrDefault("FULL_CRON", k.String("full_cron"), DefaultFullCron),
		AppendMaxRetries:  maxRetries,

		ArchiveBucketName:      getEnvOrKoanf("ARCHIVE_BUCKET_NAME", k, "archive_bucket_name"),
		ArchiveAccessKeyID:     getEnvOrKoanf("ARCHIVE_ACCESS_KEY_ID", k, "archive_access_key_id"),
		ArchiveSecretAccessKey: getEnvOrKoanf("ARCHIVE_SECRET_ACCESS_KEY", k, "archive_secret_access_key"),
		ArchiveEndpoint:        getEnvOrKoanf("ARCHIVE_ENDPOINT", k, "archive_endpoint"),

		OTLPEndpoint: getEnvOrKoanf("OTLP_ENDPOINT", k, "otlp_endpoint"),

		CORSAllowedOrigins: splitList(getEnvOrKoanf("CORS_ALLOWED_ORIGINS", k, "cors_allowed_origins")),
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// ArchiveEnabled reports whether any archive setting is configured.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveBucketName != "" || c.ArchiveAccessKeyID != "" ||
		c.ArchiveSecretAccessKey != "" || c.ArchiveEndpoint != ""
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}

	// Archiving is optional, but if any value is set, all are required.
	if c.ArchiveEnabled() {
		if c.ArchiveBucketName == "" {
			errs = append(errs, ErrMissingArchiveBucket)
		}
		if c.ArchiveAccessKeyID == "" {
			errs = append(errs, ErrMissingArchiveKeyID)
		}
		if c.ArchiveSecretAccessKey == "" {
			errs = append(errs, ErrMissingArchiveKeySecret)
		}
		if c.ArchiveEndpoint == "" {
			errs = append(errs, ErrMissingArchiveEndpoint)
		}
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                      fmt.Sprintf("%d", c.Port),
		"env":                       c.Env,
		"database_url":              maskDatabaseURL(c.DatabaseURL),
		"redis_url":                 maskDatabaseURL(c.RedisURL),
		"jwt_secret":                maskSecret(c.JWTSecret),
		"jwt_previous_secret":       maskSecret(c.JWTPreviousSecret),
		"verify_concurrency":        fmt.Sprintf("%d", c.VerifyConcurrency),
		"verify_batch_size":         fmt.Sprintf("%d", c.VerifyBatchSize),
		"incremental_cron":          c.IncrementalCron,
		"full_cron":                 c.FullCron,
		"append_max_retries":        fmt.Sprintf("%d", c.AppendMaxRetries),
		"archive_bucket_name":       c.ArchiveBucketName,
		"archive_access_key_id":     maskSecret(c.ArchiveAccessKeyID),
		"archive_secret_access_key": maskSecret(c.ArchiveSecretAccessKey),
		"archive_endpoint":          c.ArchiveEndpoint,
		"otlp_endpoint":             c.OTLPEndpoint,
		"cors_allowed_origins":      strings.Join(c.CORSAllowedOrigins, ","),
	}
}

// splitList parses a comma-separated value into trimmed, non-empty items.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
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
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidPort)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
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

// maskDatabaseURL masks the password in a connection URL.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

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
