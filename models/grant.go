package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GrantStatus is the lifecycle state reported by the source portal
type GrantStatus string

const (
	GrantStatusOpen     GrantStatus = "open"
	GrantStatusClosed   GrantStatus = "closed"
	GrantStatusUpcoming GrantStatus = "upcoming"
	GrantStatusUnknown  GrantStatus = "unknown"
)

// ParseGrantStatus maps free-form status text onto a known status.
// Anything unrecognised becomes GrantStatusUnknown.
func ParseGrantStatus(raw string) GrantStatus {
	switch GrantStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case GrantStatusOpen:
		return GrantStatusOpen
	case GrantStatusClosed:
		return GrantStatusClosed
	case GrantStatusUpcoming:
		return GrantStatusUpcoming
	default:
		return GrantStatusUnknown
	}
}

type Grant struct {
	ID          uuid.UUID           `json:"id" gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Title       string              `json:"title" gorm:"type:varchar(500);not null"`
	Description string              `json:"description" gorm:"type:text"`
	Amount      decimal.NullDecimal `json:"amount" gorm:"type:numeric(14,2)"`
	Deadline    *time.Time          `json:"deadline" gorm:"type:date"`
	Region      string              `json:"region" gorm:"type:varchar(100)"`
	Sector      string              `json:"sector" gorm:"type:varchar(255)"`
	Status      GrantStatus         `json:"status" gorm:"type:varchar(20);not null;default:'open'"`
	OfficialURL string              `json:"official_url" gorm:"type:varchar(1000)"`
	SourceID    *uuid.UUID          `json:"source_id" gorm:"type:uuid"`

	CreatedAt time.Time `json:"created_at" gorm:"default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `json:"updated_at" gorm:"default:CURRENT_TIMESTAMP"`
}

// IsClosed reports whether the portal marked the grant closed
func (g *Grant) IsClosed() bool {
	return g.Status == GrantStatusClosed
}

// DeadlinePassed reports whether the deadline date lies before the calendar
// date of at. A grant is still open for the whole of its deadline day.
func (g *Grant) DeadlinePassed(at time.Time) bool {
	if g.Deadline == nil {
		return false
	}
	d := g.Deadline.UTC()
	a := at.UTC()
	deadlineDay := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	today := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	return deadlineDay.Before(today)
}
