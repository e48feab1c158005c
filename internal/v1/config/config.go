package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	JWTSecret   string
	DatabaseURL string

	// Optional variables with defaults
	Port           string
	GoEnv          string
	RedisAddr      string
	RedisPassword  string
	FrontendOrigin string
	SessionSecret  string

	// Optional analytics (Kafka disabled when empty)
	KafkaBrokers string

	// Rate limits (formatted as "<count>-<period>", e.g. "50-M")
	RateLimitWsMessages   string
	RateLimitChatMessages string
}

// IsProduction reports whether origin checks and strict CORS apply.
func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

// ValidateEnv validates all required environment variables and returns a Config object.
// Returns an error if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: JWT_SECRET (minimum 32 characters)
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		errors = append(errors, "JWT_SECRET is required")
	} else if len(cfg.JWTSecret) < 32 {
		errors = append(errors, fmt.Sprintf("JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
	}

	// Required: DATABASE_URL
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errors = append(errors, "DATABASE_URL is required")
	}

	// Optional: PORT (defaults to 4000)
	cfg.Port = getEnvOrDefault("PORT", "4000")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	// Optional: REDIS_ADDR (defaults to localhost)
	cfg.RedisAddr = getEnvOrDefault("REDIS_ADDR", "localhost:6379")
	if !isValidHostPort(cfg.RedisAddr) {
		errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	// Optional: GO_ENV (defaults to "development")
	cfg.GoEnv = getEnvOrDefault("GO_ENV", "development")

	// Optional: FRONTEND_ORIGIN — WebSocket handshake allow-list in production
	cfg.FrontendOrigin = getEnvOrDefault("FRONTEND_ORIGIN", "http://localhost:3000")

	// SESSION_SECRET belongs to the external auth surface; recognized so a
	// shared .env validates, never read past this point.
	cfg.SessionSecret = os.Getenv("SESSION_SECRET")

	// Optional: KAFKA_BROKERS (comma-separated; analytics disabled when unset)
	cfg.KafkaBrokers = os.Getenv("KAFKA_BROKERS")

	// Rate limits: 50 messages per rolling 60 seconds for both surfaces
	cfg.RateLimitWsMessages = getEnvOrDefault("RATE_LIMIT_WS_MESSAGES", "50-M")
	cfg.RateLimitChatMessages = getEnvOrDefault("RATE_LIMIT_CHAT_MESSAGES", "50-M")

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	return parts[0] != ""
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("Environment configuration validated")
	slog.Info("Configuration",
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"database_url", redactSecret(cfg.DatabaseURL),
		"port", cfg.Port,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"frontend_origin", cfg.FrontendOrigin,
		"kafka_brokers", cfg.KafkaBrokers,
		"rate_limit_ws", cfg.RateLimitWsMessages,
		"rate_limit_chat", cfg.RateLimitChatMessages,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
