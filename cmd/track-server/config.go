package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/ups-track-resolver/pkg/client"
	"github.com/Sternrassler/ups-track-resolver/pkg/logging"
	"github.com/Sternrassler/ups-track-resolver/pkg/resolve"
	"github.com/redis/go-redis/v9"
)

// errMissingCredentials is returned when the OAuth credentials are not set.
var errMissingCredentials = errors.New("UPS_CLIENT_ID and UPS_CLIENT_SECRET are required")

// serverConfig is the environment-derived configuration of the server.
type serverConfig struct {
	Port     string
	RedisURL string
	Logging  logging.Config
	Client   client.Config
	Resolve  resolve.Config
}

// loadConfig reads the server configuration from the environment.
func loadConfig() (serverConfig, error) {
	cfg := serverConfig{
		Port:     getEnv("PORT", "8080"),
		RedisURL: getEnv("REDIS_URL", ""),
		Logging:  logging.DefaultConfig(),
		Resolve:  resolve.DefaultConfig(),
	}

	cfg.Logging.Level = logging.LogLevel(getEnv("LOG_LEVEL", string(logging.LevelInfo)))

	var err error
	if cfg.Logging.Pretty, err = getEnvBool("LOG_PRETTY", false); err != nil {
		return cfg, err
	}

	clientID := getEnv("UPS_CLIENT_ID", "")
	clientSecret := getEnv("UPS_CLIENT_SECRET", "")
	if clientID == "" || clientSecret == "" {
		return cfg, errMissingCredentials
	}
	cfg.Client = client.DefaultConfig(clientID, clientSecret)
	cfg.Client.TransactionSrc = getEnv("UPS_TRANSACTION_SRC", cfg.Client.TransactionSrc)

	useProd, err := getEnvBool("USE_PROD", false)
	if err != nil {
		return cfg, err
	}
	if useProd {
		cfg.Client.BaseURL = client.ProductionBaseURL
	}

	if cfg.Resolve.BatchSize, err = getEnvInt("BATCH_SIZE", cfg.Resolve.BatchSize); err != nil {
		return cfg, err
	}
	if cfg.Resolve.MaxAttempts, err = getEnvInt("MAX_ATTEMPTS", cfg.Resolve.MaxAttempts); err != nil {
		return cfg, err
	}
	if cfg.Resolve.BaseDelay, err = getEnvDuration("BASE_DELAY", cfg.Resolve.BaseDelay); err != nil {
		return cfg, err
	}
	if cfg.Resolve.LookupTimeout, err = getEnvDuration("LOOKUP_TIMEOUT", cfg.Resolve.LookupTimeout); err != nil {
		return cfg, err
	}

	if err := cfg.Resolve.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// redisOptions accepts either a redis:// URL or a plain host:port address.
func redisOptions(redisURL string) (*redis.Options, error) {
	if strings.Contains(redisURL, "://") {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: redisURL}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return b, nil
}

// getEnvDuration accepts Go durations ("2s") and bare milliseconds ("2000").
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}
