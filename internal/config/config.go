package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	OWMAPIKey       string
	OWMBaseURL      string
	UpstreamTimeout time.Duration

	CacheTTL time.Duration

	MinPollInterval     time.Duration
	MaxPollInterval     time.Duration
	DefaultPollInterval time.Duration
	SessionGracePeriod  time.Duration
	SubscriberBuffer    int

	RateLimit  int
	RateWindow time.Duration

	KafkaEnabled       bool
	KafkaBrokers       []string
	KafkaAlertTopic    string
	KafkaSnapshotTopic string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	HistoryLimit int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	cfg := &Config{
		OWMAPIKey:  os.Getenv("OWM_API_KEY"),
		OWMBaseURL: envOrDefault("OWM_BASE_URL", "https://api.openweathermap.org"),

		KafkaBrokers:       parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaAlertTopic:    envOrDefault("KAFKA_ALERT_TOPIC", "flood-alert-events"),
		KafkaSnapshotTopic: envOrDefault("KAFKA_SNAPSHOT_TOPIC", "risk-snapshots"),

		HTTPAddr:  envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:  envOrDefault("LOG_LEVEL", "info"),
		LogFormat: envOrDefault("LOG_FORMAT", "json"),
	}

	cfg.KafkaEnabled = envOrDefault("KAFKA_ENABLED", "false") == "true"

	var err error
	if cfg.UpstreamTimeout, err = envDuration("UPSTREAM_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = envDuration("CACHE_TTL", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.MinPollInterval, err = envDuration("MIN_POLL_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxPollInterval, err = envDuration("MAX_POLL_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.DefaultPollInterval, err = envDuration("DEFAULT_POLL_INTERVAL", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.SessionGracePeriod, err = envDuration("SESSION_GRACE_PERIOD", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = envDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RateWindow, err = envDuration("RATE_WINDOW", time.Minute); err != nil {
		return nil, err
	}
	if cfg.SubscriberBuffer, err = envInt("SUBSCRIBER_BUFFER", 8); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = envInt("RATE_LIMIT", 30); err != nil {
		return nil, err
	}
	if cfg.HistoryLimit, err = envInt("HISTORY_LIMIT", 500); err != nil {
		return nil, err
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.MinPollInterval <= 0 {
		return errors.New("MIN_POLL_INTERVAL must be positive")
	}
	if c.MaxPollInterval < c.MinPollInterval {
		return errors.New("MAX_POLL_INTERVAL must be >= MIN_POLL_INTERVAL")
	}
	if c.DefaultPollInterval < c.MinPollInterval || c.DefaultPollInterval > c.MaxPollInterval {
		return errors.New("DEFAULT_POLL_INTERVAL must be within [MIN_POLL_INTERVAL, MAX_POLL_INTERVAL]")
	}
	if c.RateLimit <= 0 {
		return errors.New("RATE_LIMIT must be positive")
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}

func parseBrokers(s string) []string {
	parts := strings.Split(s, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}
