package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type SourceType string

const (
	SourceTypeAPI  SourceType = "API"
	SourceTypeHTML SourceType = "HTML"
	SourceTypeRSS  SourceType = "RSS"
	SourceTypePDF  SourceType = "PDF"
)

// Source is an origin portal or feed that grants are ingested from.
// It is populated by the ingestion pipeline and only read here.
type Source struct {
	ID       uuid.UUID       `json:"id" gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name     string          `json:"name" gorm:"type:varchar(255);not null"`
	URL      string          `json:"url" gorm:"type:varchar(1000);not null;uniqueIndex"`
	Region   string          `json:"region" gorm:"type:varchar(100);default:'ES'"`
	Type     SourceType      `json:"type" gorm:"type:varchar(10);not null"`
	Active   bool            `json:"active" gorm:"default:true"`
	Metadata json.RawMessage `json:"metadata" gorm:"type:jsonb;default:'{}'"`
	LastRun  *time.Time      `json:"last_run"`

	CreatedAt time.Time `json:"created_at" gorm:"default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `json:"updated_at" gorm:"default:CURRENT_TIMESTAMP"`
}
