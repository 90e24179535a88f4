package models

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryRequest is handed to the delivery worker through the queue.
// It carries snapshots so the worker never reads the stores.
type DeliveryRequest struct {
	NotificationID  uuid.UUID           `json:"notification_id"`
	ProfileID       uuid.UUID           `json:"profile_id"`
	GrantID         uuid.UUID           `json:"grant_id"`
	Channel         NotificationChannel `json:"channel"`
	Recipient       string              `json:"recipient"`
	Grant           Grant               `json:"grant"`
	Profile         UserProfile         `json:"profile"`
	Score           float64             `json:"score"`
	MatchedKeywords []string            `json:"matched_keywords"`
	EnqueuedAt      time.Time           `json:"enqueued_at"`
}

// GrantIngestedEvent is published by the ingestion pipeline once a grant
// row has been written
type GrantIngestedEvent struct {
	GrantID  uuid.UUID  `json:"grant_id"`
	SourceID *uuid.UUID `json:"source_id,omitempty"`
}
