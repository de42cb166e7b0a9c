// Package configs provides application configuration loaded from environment variables.
// All configuration is externalized via environment variables for 12-factor app compliance.
package configs

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// AppConfig holds all application configuration.
// Load it once at startup using AppLoad().
type AppConfig struct {
	// Auth contains settings for the upstream approval-token exchange.
	Auth AuthConfig

	// Feed contains settings for the realtime market-data feed.
	Feed FeedConfig

	// Kafka contains producer settings for the broadcast stream.
	Kafka KafkaConfig

	// Chart contains settings for the chart cache service.
	Chart ChartConfig

	// Server contains HTTP listen addresses.
	Server ServerConfig
}

// AuthConfig holds approval-token exchange settings.
type AuthConfig struct {
	// ApprovalURL is the upstream OAuth approval endpoint.
	ApprovalURL string

	// RefreshMargin is how long before expiry a token is refreshed.
	RefreshMargin time.Duration

	// Validity is the vendor's fixed token validity window.
	Validity time.Duration
}

// FeedConfig holds realtime websocket feed settings.
type FeedConfig struct {
	// WSURL is the upstream market-data websocket endpoint.
	WSURL string

	// Credentials is the set of app key pairs available to the allocator.
	Credentials []Credential

	// Instruments is the instrument code universe to subscribe to.
	Instruments []string

	// SubscriptionTypes is the list of enabled realtime tr_ids.
	SubscriptionTypes []string

	// SubscriptionCeiling is the vendor's total registration limit per key.
	SubscriptionCeiling int

	// OpenCooldown is the delay between consecutive session opens.
	// The vendor rejects rapid repeated connections from the same key.
	OpenCooldown time.Duration
}

// Credential is one upstream app key pair.
type Credential struct {
	KeyID  string
	Secret string
}

// KafkaConfig holds Kafka producer settings for the broadcast stream.
type KafkaConfig struct {
	// Broker is the Kafka broker address (e.g., "localhost:9092").
	Broker string

	// Topic is the Kafka topic normalized messages are published to.
	Topic string
}

// ChartConfig holds chart cache service settings.
type ChartConfig struct {
	// HistoryURL is the base URL of the historical-candle REST API.
	HistoryURL string

	// RequestsPerSecond limits calls to the historical-candle API.
	RequestsPerSecond float64

	// RedisAddr is the Redis address for the chart cache.
	// Empty means the in-memory store is used.
	RedisAddr string
}

// ServerConfig holds HTTP listen addresses for the binaries.
type ServerConfig struct {
	// APIAddr is the chart API listen address.
	APIAddr string

	// FeedAddr is the feed status endpoint listen address.
	FeedAddr string
}

// NewLogger builds the shared logrus logger. Level comes from LOG_LEVEL.
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// AppLoad loads all application configuration from environment variables.
// It attempts to load a .env file first (for local development).
// Call this once at application startup.
func AppLoad() *AppConfig {
	_ = godotenv.Load() // Ignore error - .env is optional

	return &AppConfig{
		Auth: AuthConfig{
			ApprovalURL:   getEnv("KIS_APPROVAL_URL", "https://openapi.koreainvestment.com:9443/oauth2/Approval"),
			RefreshMargin: getEnvDuration("TOKEN_REFRESH_MARGIN", time.Hour),
			Validity:      getEnvDuration("TOKEN_VALIDITY", 24*time.Hour),
		},
		Feed: FeedConfig{
			WSURL:               getEnv("KIS_WS_URL", "ws://ops.koreainvestment.com:21000"),
			Credentials:         parseCredentials(getEnv("KIS_APP_KEYS", "")),
			Instruments:         splitList(getEnv("FEED_INSTRUMENTS", "005930,000660,035420")),
			SubscriptionTypes:   splitList(getEnv("FEED_SUBSCRIPTION_TYPES", "H0STASP0,H0STCNT0")),
			SubscriptionCeiling: getEnvInt("FEED_SUBSCRIPTION_CEILING", 42),
			OpenCooldown:        getEnvDuration("FEED_OPEN_COOLDOWN", time.Second),
		},
		Kafka: KafkaConfig{
			Broker: getEnv("KAFKA_BROKER", "localhost:9092"),
			Topic:  getEnv("KAFKA_TOPIC", "market_stream"),
		},
		Chart: ChartConfig{
			HistoryURL:        getEnv("KIS_REST_URL", "https://openapi.koreainvestment.com:9443"),
			RequestsPerSecond: getEnvFloat("CHART_REQUESTS_PER_SECOND", 5),
			RedisAddr:         getEnv("REDIS_ADDR", ""),
		},
		Server: ServerConfig{
			APIAddr:  getEnv("API_ADDR", ":8080"),
			FeedAddr: getEnv("FEED_ADDR", ":8081"),
		},
	}
}

// parseCredentials parses "keyId:secret,keyId:secret" into Credential pairs.
// Malformed entries are skipped.
func parseCredentials(raw string) []Credential {
	var creds []Credential
	for _, pair := range splitList(raw) {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		creds = append(creds, Credential{KeyID: parts[0], Secret: parts[1]})
	}
	return creds
}

// splitList splits a comma-separated env value, dropping empty entries.
func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
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

// getEnvFloat returns the environment variable as float64 or a default.
func getEnvFloat(key string, defaultValue float64) float64 {
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

// getEnvDuration returns the environment variable as a duration or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
