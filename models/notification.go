package models

import (
	"time"

	"github.com/google/uuid"
)

type NotificationChannel string

const (
	ChannelEmail    NotificationChannel = "email"
	ChannelTelegram NotificationChannel = "telegram"
)

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// Notification records one alert for a (profile, grant, channel) triple.
// Only Status, Error and SentAt change after creation.
type Notification struct {
	ID              uuid.UUID           `json:"id" gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ProfileID       uuid.UUID           `json:"profile_id" gorm:"type:uuid;not null"`
	GrantID         uuid.UUID           `json:"grant_id" gorm:"type:uuid;not null"`
	Channel         NotificationChannel `json:"channel" gorm:"type:varchar(20);not null"`
	Recipient       string              `json:"recipient" gorm:"type:varchar(320);not null"`
	Status          NotificationStatus  `json:"status" gorm:"type:varchar(20);not null;default:'pending'"`
	Score           float64             `json:"score"`
	MatchedKeywords []string            `json:"matched_keywords" gorm:"type:text[]"`
	Error           *string             `json:"error,omitempty" gorm:"type:text"`
	CreatedAt       time.Time           `json:"created_at" gorm:"default:CURRENT_TIMESTAMP"`
	SentAt          *time.Time          `json:"sent_at,omitempty"`
}

// NotificationWithGrant is the listing shape returned to profile owners
type NotificationWithGrant struct {
	Notification
	GrantTitle string `json:"grant_title"`
	GrantURL   string `json:"grant_url"`
}
