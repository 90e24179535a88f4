package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/akemora/Granter-2.0-sub001/config"
	"github.com/akemora/Granter-2.0-sub001/database"
	"github.com/akemora/Granter-2.0-sub001/models"
	"github.com/akemora/Granter-2.0-sub001/services"
	"github.com/akemora/Granter-2.0-sub001/shared"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// application holds the services shared by the subcommands
type application struct {
	cfg     *config.Config
	unified *shared.UnifiedConfiguration

	redis *redis.Client
	queue services.DeliveryQueue

	cache          *services.CacheService
	grantService   *services.GrantService
	grants         *services.CachedGrantIndex
	profileStore   *services.PostgresProfileStore
	notifications  *services.PostgresNotificationStore
	engine         *services.MatchEngine
	profiles       *services.ProfileService
	recommendation *services.RecommendationService
	dispatcher     *services.NotificationDispatcher
	httpClients    *shared.HTTPClientFactory
	senderList     []services.Sender
}

// newApplication connects to Postgres and, when REDIS_URL is set, to Redis.
// Without Redis deliveries go through an in-process queue and must be
// consumed by a worker running in the same process.
func newApplication(ctx context.Context, cfg *config.Config) (*application, error) {
	unified := cfg.Unified()

	if err := database.ConnectWithConfig(cfg.DatabaseURL, &unified.Database); err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	a := &application{cfg: cfg, unified: unified}

	if cfg.RedisURL != "" {
		client, err := database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.redis = client
		a.queue = services.NewRedisDeliveryQueue(client, unified.Delivery.QueueKey)
	} else {
		a.queue = services.NewChannelDeliveryQueue(unified.Delivery.LocalQueueCapacity)
	}

	a.cache = services.NewCacheServiceWithConfig(unified.Cache.DefaultTTL, unified.Cache.MaxSize)
	a.grantService = services.NewGrantService(database.DB)
	a.grants = services.NewCachedGrantIndex(a.grantService, a.cache, unified.Cache.DefaultTTL)
	a.profileStore = services.NewPostgresProfileStore(database.DB)
	a.notifications = services.NewPostgresNotificationStore(database.DB)
	a.engine = services.NewMatchEngine()
	a.profiles = services.NewProfileService(a.profileStore)
	a.profiles.OnUpdate(func(p *models.UserProfile) {
		logrus.WithFields(logrus.Fields{
			"component":  "ProfileService",
			"profile_id": p.ID,
			"user_id":    p.UserID,
			"keywords":   len(p.Keywords),
			"channels":   p.EnabledChannels(),
		}).Info("Profile preferences updated")
	})
	a.recommendation = services.NewRecommendationService(a.profileStore, a.grants, a.engine)
	a.dispatcher = services.NewNotificationDispatcher(a.profileStore, a.grants, a.notifications, a.queue, a.engine, unified.Matching)
	a.httpClients = shared.NewHTTPClientFactory(unified.Delivery.HTTPRequestTimeout)

	logrus.WithFields(logrus.Fields{
		"threshold":        unified.Matching.NotificationThreshold,
		"max_per_run":      unified.Matching.MaxNotificationsPerRun,
		"queue":            a.queueKind(),
		"open_grants_ttl":  unified.Cache.DefaultTTL,
		"pending_timeout":  unified.Delivery.PendingTimeout,
		"email_enabled":    cfg.EmailEnabled(),
		"telegram_enabled": cfg.TelegramEnabled(),
	}).Info("Granter services initialized")

	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		if raw, err := unified.ToJSON(); err == nil {
			logrus.Debugf("Effective configuration: %s", raw)
		}
	}

	return a, nil
}

func (a *application) queueKind() string {
	if a.redis != nil {
		return "redis"
	}
	return "in-process"
}

// senders returns the channel senders enabled by configuration
func (a *application) senders() []services.Sender {
	if a.senderList != nil {
		return a.senderList
	}

	senders := []services.Sender{}
	if a.cfg.EmailEnabled() {
		senders = append(senders, services.NewEmailSender(services.EmailConfig{
			Host:     a.cfg.EmailHost,
			Port:     a.cfg.GetEmailPort(),
			User:     a.cfg.EmailUser,
			Password: a.cfg.EmailPassword,
			From:     a.cfg.GetEmailFrom(),
			Timeout:  a.unified.Delivery.HTTPRequestTimeout,
		}))
	}
	if a.cfg.TelegramEnabled() {
		senders = append(senders, services.NewTelegramSender(services.TelegramConfig{
			BotToken:   a.cfg.TelegramBotToken,
			APIURL:     a.cfg.TelegramAPIURL,
			Timeout:    a.unified.Delivery.HTTPRequestTimeout,
			MaxRetries: a.unified.Delivery.MaxRetryAttempts,
			RateLimit:  a.unified.Delivery.TelegramRateLimit,
		}, a.httpClients))
	}
	a.senderList = senders
	return senders
}

func (a *application) Close() {
	if a.httpClients != nil {
		a.httpClients.CleanupAllClients()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close redis client")
		}
	}
	database.Close()
}

// shutdownTimeout bounds graceful shutdown of servers and workers
const shutdownTimeout = 15 * time.Second
