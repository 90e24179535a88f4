package services

import (
	"context"
	"errors"
	"time"

	"github.com/akemora/Granter-2.0-sub001/models"
	"github.com/google/uuid"
)

// ErrNotificationFinal is returned when a delivery result arrives for a
// notification that is no longer pending
var ErrNotificationFinal = errors.New("notification already has a final status")

// ProfileStore gives read access to matching profiles and the single write
// used by ProfileService. Lookups return nil, nil for unknown ids.
type ProfileStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.UserProfile, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error)
	GetActiveProfiles(ctx context.Context) ([]models.UserProfile, error)
	Save(ctx context.Context, profile *models.UserProfile) error
}

// GrantIndex gives read access to grants. Lookups return nil, nil for
// unknown ids. GetOpenGrants returns grants not closed whose deadline is
// today or later, or absent.
type GrantIndex interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Grant, error)
	GetOpenGrants(ctx context.Context) ([]models.Grant, error)
}

// NotificationStore persists notifications behind a uniqueness constraint
// on (profile, grant, channel). Create returns shared.ErrDuplicateNotification
// when the triple already exists.
type NotificationStore interface {
	Exists(ctx context.Context, profileID, grantID uuid.UUID, channel models.NotificationChannel) (bool, error)
	Create(ctx context.Context, notification *models.Notification) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.NotificationStatus, errMsg *string, sentAt *time.Time) error
	ListRecentForProfile(ctx context.Context, profileID uuid.UUID, limit int) ([]models.NotificationWithGrant, error)
	FailStalePending(ctx context.Context, createdBefore time.Time, reason string) (int64, error)
}

var (
	_ ProfileStore      = (*PostgresProfileStore)(nil)
	_ GrantIndex        = (*GrantService)(nil)
	_ GrantIndex        = (*CachedGrantIndex)(nil)
	_ NotificationStore = (*PostgresNotificationStore)(nil)
)
