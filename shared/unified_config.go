package shared

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// UnifiedConfiguration holds all configuration parameters for the entire application
type UnifiedConfiguration struct {
	Database DatabaseConfig `json:"database"`
	Matching MatchingConfig `json:"matching"`
	Delivery DeliveryConfig `json:"delivery"`
	Cache    CacheConfig    `json:"cache"`
	Logging  LoggingConfig  `json:"logging"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	MaxOpenConns       int           `json:"max_open_conns"`
	MaxIdleConns       int           `json:"max_idle_conns"`
	ConnMaxLifetime    time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime    time.Duration `json:"conn_max_idle_time"`
	PingTimeout        time.Duration `json:"ping_timeout"`
	SlowQueryThreshold time.Duration `json:"slow_query_threshold"`
}

// MatchingConfig holds scoring thresholds and listing limits
type MatchingConfig struct {
	NotificationThreshold    float64 `json:"notification_threshold"`
	MaxNotificationsPerRun   int     `json:"max_notifications_per_run"`
	DefaultRecommendations   int     `json:"default_recommendations"`
	MaxRecommendations       int     `json:"max_recommendations"`
	DefaultNotificationsPage int     `json:"default_notifications_page"`
	MaxNotificationsPage     int     `json:"max_notifications_page"`
}

// DeliveryConfig holds settings for the queue and the channel senders
type DeliveryConfig struct {
	QueueKey           string        `json:"queue_key"`
	IngestChannel      string        `json:"ingest_channel"`
	DequeueWait        time.Duration `json:"dequeue_wait"`
	PendingTimeout     time.Duration `json:"pending_timeout"`
	HTTPRequestTimeout time.Duration `json:"http_timeout"`
	TelegramRateLimit  time.Duration `json:"telegram_rate_limit"`
	MaxRetryAttempts   int           `json:"max_retries"`
	BreakerFailureRate float64       `json:"breaker_failure_rate"`
	LocalQueueCapacity int           `json:"local_queue_capacity"`
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	DefaultTTL time.Duration `json:"default_ttl"`
	MaxSize    int           `json:"max_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level       string `json:"level"`
	Format      string `json:"format"`
	ServiceName string `json:"service_name"`
}

// NewDefaultUnifiedConfiguration returns production-ready default configuration
func NewDefaultUnifiedConfiguration() *UnifiedConfiguration {
	return &UnifiedConfiguration{
		Database: DatabaseConfig{
			MaxOpenConns:       25,
			MaxIdleConns:       5,
			ConnMaxLifetime:    5 * time.Minute,
			ConnMaxIdleTime:    5 * time.Minute,
			PingTimeout:        5 * time.Second,
			SlowQueryThreshold: 100 * time.Millisecond,
		},
		Matching: MatchingConfig{
			NotificationThreshold:    0.6,
			MaxNotificationsPerRun:   10,
			DefaultRecommendations:   10,
			MaxRecommendations:       50,
			DefaultNotificationsPage: 20,
			MaxNotificationsPage:     100,
		},
		Delivery: DeliveryConfig{
			QueueKey:           "granter:deliveries",
			IngestChannel:      "granter:grants:ingested",
			DequeueWait:        5 * time.Second,
			PendingTimeout:     30 * time.Minute,
			HTTPRequestTimeout: 15 * time.Second,
			TelegramRateLimit:  50 * time.Millisecond,
			MaxRetryAttempts:   3,
			BreakerFailureRate: 0.5,
			LocalQueueCapacity: 256,
		},
		Cache: CacheConfig{
			DefaultTTL: 2 * time.Minute,
			MaxSize:    1000,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			ServiceName: "granter",
		},
	}
}

// ValidateAndApplyDefaults validates configuration and applies defaults for invalid values
func (c *UnifiedConfiguration) ValidateAndApplyDefaults() {
	logger := logrus.WithField("component", "UnifiedConfiguration")
	defaults := NewDefaultUnifiedConfiguration()

	// Database
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = defaults.Database.MaxOpenConns
		logger.Debug("Applied default Database.MaxOpenConns")
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = defaults.Database.MaxIdleConns
		logger.Debug("Applied default Database.MaxIdleConns")
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = defaults.Database.ConnMaxLifetime
		logger.Debug("Applied default Database.ConnMaxLifetime")
	}
	if c.Database.ConnMaxIdleTime <= 0 {
		c.Database.ConnMaxIdleTime = defaults.Database.ConnMaxIdleTime
	}
	if c.Database.PingTimeout <= 0 {
		c.Database.PingTimeout = defaults.Database.PingTimeout
	}
	if c.Database.SlowQueryThreshold <= 0 {
		c.Database.SlowQueryThreshold = defaults.Database.SlowQueryThreshold
	}

	// Matching. Threshold must lie in (0, 1].
	if c.Matching.NotificationThreshold <= 0 || c.Matching.NotificationThreshold > 1 {
		logger.WithField("value", c.Matching.NotificationThreshold).Warn("Invalid notification threshold, using default")
		c.Matching.NotificationThreshold = defaults.Matching.NotificationThreshold
	}
	if c.Matching.MaxNotificationsPerRun <= 0 {
		c.Matching.MaxNotificationsPerRun = defaults.Matching.MaxNotificationsPerRun
		logger.Debug("Applied default Matching.MaxNotificationsPerRun")
	}
	if c.Matching.DefaultRecommendations <= 0 {
		c.Matching.DefaultRecommendations = defaults.Matching.DefaultRecommendations
	}
	if c.Matching.MaxRecommendations <= 0 {
		c.Matching.MaxRecommendations = defaults.Matching.MaxRecommendations
	}
	if c.Matching.DefaultRecommendations > c.Matching.MaxRecommendations {
		c.Matching.DefaultRecommendations = c.Matching.MaxRecommendations
	}
	if c.Matching.DefaultNotificationsPage <= 0 {
		c.Matching.DefaultNotificationsPage = defaults.Matching.DefaultNotificationsPage
	}
	if c.Matching.MaxNotificationsPage <= 0 {
		c.Matching.MaxNotificationsPage = defaults.Matching.MaxNotificationsPage
	}
	if c.Matching.DefaultNotificationsPage > c.Matching.MaxNotificationsPage {
		c.Matching.DefaultNotificationsPage = c.Matching.MaxNotificationsPage
	}

	// Delivery
	if c.Delivery.QueueKey == "" {
		c.Delivery.QueueKey = defaults.Delivery.QueueKey
	}
	if c.Delivery.IngestChannel == "" {
		c.Delivery.IngestChannel = defaults.Delivery.IngestChannel
	}
	if c.Delivery.DequeueWait <= 0 {
		c.Delivery.DequeueWait = defaults.Delivery.DequeueWait
	}
	if c.Delivery.PendingTimeout <= 0 {
		c.Delivery.PendingTimeout = defaults.Delivery.PendingTimeout
		logger.Debug("Applied default Delivery.PendingTimeout")
	}
	if c.Delivery.HTTPRequestTimeout <= 0 {
		c.Delivery.HTTPRequestTimeout = defaults.Delivery.HTTPRequestTimeout
	}
	if c.Delivery.TelegramRateLimit < 0 {
		c.Delivery.TelegramRateLimit = defaults.Delivery.TelegramRateLimit
	}
	if c.Delivery.MaxRetryAttempts < 0 {
		c.Delivery.MaxRetryAttempts = defaults.Delivery.MaxRetryAttempts
	}
	if c.Delivery.BreakerFailureRate == 0 || c.Delivery.BreakerFailureRate > 1 {
		c.Delivery.BreakerFailureRate = defaults.Delivery.BreakerFailureRate
	}
	if c.Delivery.LocalQueueCapacity <= 0 {
		c.Delivery.LocalQueueCapacity = defaults.Delivery.LocalQueueCapacity
	}

	// Cache
	if c.Cache.DefaultTTL <= 0 {
		c.Cache.DefaultTTL = defaults.Cache.DefaultTTL
		logger.Debug("Applied default Cache.DefaultTTL")
	}
	if c.Cache.MaxSize <= 0 {
		c.Cache.MaxSize = defaults.Cache.MaxSize
		logger.Debug("Applied default Cache.MaxSize")
	}

	// Logging
	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaults.Logging.Format
	}
	if c.Logging.ServiceName == "" {
		c.Logging.ServiceName = defaults.Logging.ServiceName
	}
}

// ToJSON serializes the configuration to JSON
func (c *UnifiedConfiguration) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// LoadFromJSON deserializes configuration from JSON
func (c *UnifiedConfiguration) LoadFromJSON(jsonData []byte) error {
	if err := json.Unmarshal(jsonData, c); err != nil {
		return fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	c.ValidateAndApplyDefaults()
	return nil
}
