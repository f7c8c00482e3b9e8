package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	// HTTP Server Configuration
	HTTPPort           int
	CORSAllowedOrigins []string
	TrustedProxies     []string // addresses or CIDR ranges whose X-Forwarded-For is believed

	// Runtime
	Environment string
	LogLevel    string
	LogFormat   string
	DataDir     string

	// Database Configuration
	DatabaseURL string

	// Authentication Configuration
	AdminUsername     string
	AdminPassword     string
	JWTSecret         string
	JWTSecretSource   string
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	PasswordMinLength int

	// Rate limiting (requests per minute); Redis makes the limit shared across replicas
	RateLimitAnonPerMinute int
	RateLimitUserPerMinute int
	RedisURL               string

	// Optional audit sinks
	SlackBotToken      string
	SlackAlertsChannel string
	KafkaBrokers       string
	KafkaTopic         string

	// Pagination
	AlertPageSize    int
	AlertMaxPageSize int
	EventPageSize    int
	EventMaxPageSize int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.HTTPPort = getEnvAsIntOrDefault("HTTP_PORT", 8000)
	cfg.CORSAllowedOrigins = getEnvAsListOrDefault("CORS_ALLOWED_ORIGINS", []string{"*"})
	cfg.TrustedProxies = getEnvAsListOrDefault("TRUSTED_PROXIES", nil)

	cfg.Environment = getEnvOrDefault("ENVIRONMENT", "development")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.LogFormat = os.Getenv("LOG_FORMAT")
	cfg.DataDir = getEnvOrDefault("DATA_DIR", "data")

	cfg.DatabaseURL = getEnvOrDefault("DATABASE_URL", "threatwatch.db")

	cfg.AdminUsername = os.Getenv("ADMIN_USERNAME")
	cfg.AdminPassword = os.Getenv("ADMIN_PASSWORD") // No default - must be set
	cfg.AccessTokenTTL = time.Duration(getEnvAsIntOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15)) * time.Minute
	cfg.RefreshTokenTTL = time.Duration(getEnvAsIntOrDefault("REFRESH_TOKEN_TTL_HOURS", 24)) * time.Hour
	cfg.PasswordMinLength = getEnvAsIntOrDefault("PASSWORD_MIN_LENGTH", 8)

	cfg.RateLimitAnonPerMinute = getEnvAsIntOrDefault("RATE_LIMIT_ANON_PER_MINUTE", 30)
	cfg.RateLimitUserPerMinute = getEnvAsIntOrDefault("RATE_LIMIT_USER_PER_MINUTE", 120)
	cfg.RedisURL = os.Getenv("REDIS_URL")

	cfg.SlackBotToken = os.Getenv("SLACK_BOT_TOKEN")
	cfg.SlackAlertsChannel = os.Getenv("SLACK_ALERTS_CHANNEL")
	cfg.KafkaBrokers = os.Getenv("KAFKA_BROKERS")
	cfg.KafkaTopic = getEnvOrDefault("KAFKA_TOPIC", "threatwatch.alerts")

	cfg.AlertPageSize = getEnvAsIntOrDefault("ALERT_PAGE_SIZE", 10)
	cfg.AlertMaxPageSize = getEnvAsIntOrDefault("ALERT_MAX_PAGE_SIZE", 100)
	cfg.EventPageSize = getEnvAsIntOrDefault("EVENT_PAGE_SIZE", 20)
	cfg.EventMaxPageSize = getEnvAsIntOrDefault("EVENT_MAX_PAGE_SIZE", 100)

	// JWT Secret: auto-generate and persist under DATA_DIR if not provided via env var
	secret, source, err := loadOrGenerateJWTSecret(filepath.Join(cfg.DataDir, ".jwt_secret"))
	if err != nil {
		return nil, err
	}
	cfg.JWTSecret = secret
	cfg.JWTSecretSource = source

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects inconsistent settings
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.HTTPPort))
	}
	for _, p := range c.TrustedProxies {
		if !validProxyEntry(p) {
			errs = append(errs, fmt.Errorf("TRUSTED_PROXIES entry %q is not an IP address or CIDR range", p))
		}
	}
	if c.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL_MINUTES must be positive"))
	}
	if c.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("REFRESH_TOKEN_TTL_HOURS must be positive"))
	}
	if c.PasswordMinLength < 1 {
		errs = append(errs, errors.New("PASSWORD_MIN_LENGTH must be at least 1"))
	}
	if c.RateLimitAnonPerMinute <= 0 || c.RateLimitUserPerMinute <= 0 {
		errs = append(errs, errors.New("rate limits must be positive"))
	}
	errs = append(errs, validatePageSizes("ALERT", c.AlertPageSize, c.AlertMaxPageSize)...)
	errs = append(errs, validatePageSizes("EVENT", c.EventPageSize, c.EventMaxPageSize)...)
	if c.SlackBotToken != "" && c.SlackAlertsChannel == "" {
		errs = append(errs, errors.New("SLACK_ALERTS_CHANNEL is required when SLACK_BOT_TOKEN is set"))
	}
	if c.AdminUsername != "" && c.AdminPassword == "" {
		errs = append(errs, errors.New("ADMIN_PASSWORD is required when ADMIN_USERNAME is set"))
	}
	return errors.Join(errs...)
}

func validProxyEntry(s string) bool {
	if strings.Contains(s, "/") {
		_, err := netip.ParsePrefix(s)
		return err == nil
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

func validatePageSizes(prefix string, size, max int) []error {
	var errs []error
	if size <= 0 {
		errs = append(errs, fmt.Errorf("%s_PAGE_SIZE must be positive", prefix))
	}
	if max < size {
		errs = append(errs, fmt.Errorf("%s_MAX_PAGE_SIZE (%d) must not be below %s_PAGE_SIZE (%d)", prefix, max, prefix, size))
	}
	return errs
}

// SlackEnabled reports whether the Slack audit sink is configured
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackAlertsChannel != ""
}

// KafkaEnabled reports whether the Kafka audit sink is configured
func (c *Config) KafkaEnabled() bool {
	return strings.TrimSpace(c.KafkaBrokers) != ""
}

// loadOrGenerateJWTSecret loads JWT secret from file or generates a new one.
// source describes where the secret came from, for the startup log.
func loadOrGenerateJWTSecret(secretPath string) (secret, source string, err error) {
	// First check if JWT_SECRET env var is set (allows override)
	if envSecret := os.Getenv("JWT_SECRET"); envSecret != "" {
		return envSecret, "environment", nil
	}

	// Try to load existing secret from file
	if data, err := os.ReadFile(secretPath); err == nil {
		if secret := strings.TrimSpace(string(data)); secret != "" {
			return secret, secretPath, nil
		}
	}

	secret, err = generateSecureSecret(32) // 256 bits
	if err != nil {
		return "", "", err
	}

	if err := os.MkdirAll(filepath.Dir(secretPath), 0755); err != nil {
		return secret, "generated (not persisted)", nil
	}
	if err := os.WriteFile(secretPath, []byte(secret), 0600); err != nil {
		return secret, "generated (not persisted)", nil
	}
	return secret, "generated and saved to " + secretPath, nil
}

// generateSecureSecret generates a cryptographically secure random string
func generateSecureSecret(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("could not generate secure random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault returns the value of an environment variable as an integer or a default value
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsListOrDefault splits a comma-separated variable, dropping empty items
func getEnvAsListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
