// Package config provides configuration management for the proxy-cheap
// integration service. It loads configuration from environment variables
// and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Provider  ProviderConfig
	RateLimit RateLimitConfig
	Server    ServerConfig
	Redis     RedisConfig
	Logging   LoggingConfig
}

// ProviderConfig holds proxy-cheap API configuration
type ProviderConfig struct {
	APIKey       string
	APISecret    string
	BaseURL      string
	Timeout      time.Duration
	PollInterval time.Duration
}

// RateLimitConfig holds outbound rate limiting and retry configuration.
// The limiter budget is process-wide and shared by the sync coordinator
// and the command dispatcher.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	DefaultRetryAfter time.Duration
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestsPerSec  int
}

// RedisConfig holds the optional snapshot mirror configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Provider: ProviderConfig{
			APIKey:       getEnv("PROXYCHEAP_API_KEY", ""),
			APISecret:    getEnv("PROXYCHEAP_API_SECRET", ""),
			BaseURL:      getEnv("PROXYCHEAP_BASE_URL", "https://api.proxy-cheap.com"),
			Timeout:      getEnvAsDuration("PROXYCHEAP_TIMEOUT", 30*time.Second),
			PollInterval: getEnvAsDuration("POLL_INTERVAL", 300*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 2.0),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 4),
			MaxAttempts:       getEnvAsInt("RATE_LIMIT_MAX_ATTEMPTS", 4),
			BaseDelay:         getEnvAsDuration("RATE_LIMIT_BASE_DELAY", 500*time.Millisecond),
			MaxDelay:          getEnvAsDuration("RATE_LIMIT_MAX_DELAY", 30*time.Second),
			DefaultRetryAfter: getEnvAsDuration("RATE_LIMIT_DEFAULT_RETRY_AFTER", 5*time.Second),
		},
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestsPerSec:  getEnvAsInt("SERVER_RATE_LIMIT_RPS", 50),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Provider.APIKey == "" {
		return fmt.Errorf("PROXYCHEAP_API_KEY is required")
	}
	if c.Provider.APISecret == "" {
		return fmt.Errorf("PROXYCHEAP_API_SECRET is required")
	}
	if c.Provider.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", c.Provider.PollInterval)
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("provider timeout must be positive, got %v", c.Provider.Timeout)
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate limit RPS must be positive, got %v", c.RateLimit.RequestsPerSecond)
	}
	if c.RateLimit.MaxAttempts < 1 {
		return fmt.Errorf("rate limit max attempts must be at least 1, got %d", c.RateLimit.MaxAttempts)
	}
	if c.RateLimit.BaseDelay > c.RateLimit.MaxDelay {
		return fmt.Errorf("rate limit base delay cannot exceed max delay")
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := strings.ToLower(getEnv(key, ""))
	if valueStr == "" {
		return defaultValue
	}
	return valueStr == "1" || valueStr == "true" || valueStr == "yes"
}

// getEnvAsDuration gets an environment variable as a duration with a default value.
// Accepts Go duration strings ("5m") or plain seconds ("300").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
