package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/akemora/Granter-2.0-sub001/models"
	"github.com/akemora/Granter-2.0-sub001/shared"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// GrantDispatcher dispatches a stored grant by id
type GrantDispatcher interface {
	ProcessGrantByID(ctx context.Context, grantID uuid.UUID) ([]models.Notification, error)
}

// CacheInvalidator drops cached grant listings
type CacheInvalidator interface {
	Invalidate()
}

// GrantIngestListener turns "grant ingested" events published by the
// ingestion pipeline into dispatch runs
type GrantIngestListener struct {
	client     *redis.Client
	channel    string
	dispatcher GrantDispatcher
	cache      CacheInvalidator
	timeout    time.Duration
}

func NewGrantIngestListener(client *redis.Client, channel string, dispatcher GrantDispatcher, cache CacheInvalidator) *GrantIngestListener {
	return &GrantIngestListener{
		client:     client,
		channel:    channel,
		dispatcher: dispatcher,
		cache:      cache,
		timeout:    2 * time.Minute,
	}
}

// Run subscribes and handles events until ctx is cancelled
func (l *GrantIngestListener) Run(ctx context.Context) error {
	pubsub := l.client.Subscribe(ctx, l.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", l.channel, err)
	}

	logrus.WithFields(logrus.Fields{
		"component": "GrantIngestListener",
		"channel":   l.channel,
	}).Info("Listening for ingested grants")

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("subscription to %s closed", l.channel)
			}
			l.HandlePayload(ctx, msg.Payload)
		}
	}
}

// HandlePayload processes one event payload. Failures are logged; the
// next event is handled regardless.
func (l *GrantIngestListener) HandlePayload(ctx context.Context, payload string) {
	var event models.GrantIngestedEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil || event.GrantID == uuid.Nil {
		logrus.WithFields(logrus.Fields{
			"component": "GrantIngestListener",
			"payload":   payload,
			"error":     err,
		}).Warn("Ignoring malformed grant ingested event")
		return
	}

	if l.cache != nil {
		l.cache.Invalidate()
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	created, err := l.dispatcher.ProcessGrantByID(ctx, event.GrantID)
	fields := logrus.Fields{
		"component": "GrantIngestListener",
		"grant_id":  event.GrantID,
		"created":   len(created),
	}
	switch {
	case shared.IsNotFound(err):
		fields["error"] = err
		logrus.WithFields(fields).Warn("Ingested grant not found in index")
	case err != nil:
		fields["error"] = err
		logrus.WithFields(fields).Error("Dispatch of ingested grant failed")
	default:
		logrus.WithFields(fields).Info("Dispatched ingested grant")
	}
}

// PublishGrantIngested publishes the event the listener consumes. The
// ingestion pipeline and the admin tooling use it.
func PublishGrantIngested(ctx context.Context, client *redis.Client, channel string, event models.GrantIngestedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return client.Publish(ctx, channel, payload).Err()
}
