package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type UserProfile struct {
	ID     uuid.UUID `json:"id" gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID uuid.UUID `json:"user_id" gorm:"type:uuid;not null;uniqueIndex"`

	// Matching preferences
	Keywords  []string            `json:"keywords" gorm:"type:text[]"`
	MinAmount decimal.NullDecimal `json:"min_amount" gorm:"type:numeric(14,2)"`
	MaxAmount decimal.NullDecimal `json:"max_amount" gorm:"type:numeric(14,2)"`
	Regions   []string            `json:"regions" gorm:"type:text[]"`

	// Channel preferences and contacts
	EmailNotifications    bool    `json:"email_notifications" gorm:"default:false"`
	TelegramNotifications bool    `json:"telegram_notifications" gorm:"default:false"`
	Email                 *string `json:"email" gorm:"type:varchar(320)"`
	TelegramChatID        *string `json:"telegram_chat_id" gorm:"type:varchar(64)"`

	CreatedAt time.Time `json:"created_at" gorm:"default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `json:"updated_at" gorm:"default:CURRENT_TIMESTAMP"`
}

// EnabledChannels returns the channels that are switched on and have a
// contact to deliver to, in a stable order.
func (p *UserProfile) EnabledChannels() []NotificationChannel {
	var channels []NotificationChannel
	if p.EmailNotifications && nonEmpty(p.Email) {
		channels = append(channels, ChannelEmail)
	}
	if p.TelegramNotifications && nonEmpty(p.TelegramChatID) {
		channels = append(channels, ChannelTelegram)
	}
	return channels
}

// Recipient returns the contact identifier used for a channel
func (p *UserProfile) Recipient(channel NotificationChannel) string {
	switch channel {
	case ChannelEmail:
		if p.Email != nil {
			return strings.TrimSpace(*p.Email)
		}
	case ChannelTelegram:
		if p.TelegramChatID != nil {
			return strings.TrimSpace(*p.TelegramChatID)
		}
	}
	return ""
}

func nonEmpty(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}
