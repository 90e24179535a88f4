package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/akemora/Granter-2.0-sub001/shared"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	ServerPort  string
	DatabaseURL string
	RedisURL    string
	AdminToken  string
	SchemaPath  string
	LogLevel    string
	LogFormat   string

	NotificationThreshold      string
	NotificationsMaxPerRun     string
	NotificationPendingTimeout string
	OpenGrantsCacheTTL         string

	// SMTP delivery
	EmailHost     string
	EmailPort     string
	EmailUser     string
	EmailPassword string
	EmailFrom     string

	// Telegram delivery
	TelegramBotToken string
	TelegramAPIURL   string

	// Cron specs for maintenance jobs
	GrantExpirySchedule       string
	StaleNotificationSchedule string
	MetricsSummarySchedule    string
}

func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		logrus.Warn("Error loading .env file, using system environment variables")
	}

	return &Config{
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		AdminToken:  getEnv("ADMIN_TOKEN", ""),
		SchemaPath:  getEnv("SCHEMA_PATH", "database/schema.sql"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),

		NotificationThreshold:      getEnv("NOTIFICATION_THRESHOLD", "0.6"),
		NotificationsMaxPerRun:     getEnv("NOTIFICATIONS_MAX_PER_RUN", "10"),
		NotificationPendingTimeout: getEnv("NOTIFICATION_PENDING_TIMEOUT", "30m"),
		OpenGrantsCacheTTL:         getEnv("OPEN_GRANTS_CACHE_TTL", "2m"),

		EmailHost:     getEnv("EMAIL_HOST", ""),
		EmailPort:     getEnv("EMAIL_PORT", "587"),
		EmailUser:     getEnv("EMAIL_USER", ""),
		EmailPassword: getEnv("EMAIL_PASSWORD", ""),
		EmailFrom:     getEnv("EMAIL_FROM", ""),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramAPIURL:   getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),

		GrantExpirySchedule:       getEnv("GRANT_EXPIRY_SCHEDULE", "15 0 * * *"),
		StaleNotificationSchedule: getEnv("STALE_NOTIFICATION_SCHEDULE", "*/10 * * * *"),
		MetricsSummarySchedule:    getEnv("METRICS_SUMMARY_SCHEDULE", "0 * * * *"),
	}
}

// GetNotificationThreshold returns the dispatch threshold or 0.6
func (c *Config) GetNotificationThreshold() float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(c.NotificationThreshold), 64)
	if err != nil || value <= 0 || value > 1 {
		logrus.Warnf("Invalid NOTIFICATION_THRESHOLD value: %s, using default 0.6", c.NotificationThreshold)
		return 0.6
	}
	return value
}

// GetNotificationsMaxPerRun returns the per-profile cap for batch dispatch or 10
func (c *Config) GetNotificationsMaxPerRun() int {
	value, err := strconv.Atoi(strings.TrimSpace(c.NotificationsMaxPerRun))
	if err != nil || value <= 0 {
		logrus.Warnf("Invalid NOTIFICATIONS_MAX_PER_RUN value: %s, using default 10", c.NotificationsMaxPerRun)
		return 10
	}
	return value
}

// GetPendingTimeout returns how long a notification may stay pending
func (c *Config) GetPendingTimeout() time.Duration {
	return parseDuration("NOTIFICATION_PENDING_TIMEOUT", c.NotificationPendingTimeout, 30*time.Minute)
}

// GetOpenGrantsCacheTTL returns the TTL of the open-grants snapshot
func (c *Config) GetOpenGrantsCacheTTL() time.Duration {
	return parseDuration("OPEN_GRANTS_CACHE_TTL", c.OpenGrantsCacheTTL, 2*time.Minute)
}

// GetEmailPort returns the SMTP port or 587
func (c *Config) GetEmailPort() int {
	port, err := strconv.Atoi(strings.TrimSpace(c.EmailPort))
	if err != nil || port <= 0 {
		return 587
	}
	return port
}

// EmailEnabled mirrors the SMTP requirements: host, user and password
func (c *Config) EmailEnabled() bool {
	return c.EmailHost != "" && c.EmailUser != "" && c.EmailPassword != ""
}

// GetEmailFrom falls back to the SMTP user and then a local no-reply address
func (c *Config) GetEmailFrom() string {
	if c.EmailFrom != "" {
		return c.EmailFrom
	}
	if c.EmailUser != "" {
		return c.EmailUser
	}
	return "no-reply@granter.local"
}

func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != ""
}

// Unified builds the tuned service configuration with env overrides applied
func (c *Config) Unified() *shared.UnifiedConfiguration {
	unified := shared.NewDefaultUnifiedConfiguration()
	unified.Matching.NotificationThreshold = c.GetNotificationThreshold()
	unified.Matching.MaxNotificationsPerRun = c.GetNotificationsMaxPerRun()
	unified.Delivery.PendingTimeout = c.GetPendingTimeout()
	unified.Cache.DefaultTTL = c.GetOpenGrantsCacheTTL()
	unified.Logging.Level = c.LogLevel
	unified.Logging.Format = c.LogFormat
	unified.ValidateAndApplyDefaults()
	return unified
}

func parseDuration(key, raw string, fallback time.Duration) time.Duration {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		logrus.Warnf("Invalid %s value: %s, using default %s", key, raw, fallback)
		return fallback
	}
	return d
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
