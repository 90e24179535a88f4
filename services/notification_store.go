package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/akemora/Granter-2.0-sub001/models"
	"github.com/akemora/Granter-2.0-sub001/shared"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// PostgresNotificationStore implements NotificationStore on the
// grant_notifications table
type PostgresNotificationStore struct {
	DB          *sql.DB
	dbOptimizer *DatabaseOptimizer
}

func NewPostgresNotificationStore(db *sql.DB) *PostgresNotificationStore {
	return &PostgresNotificationStore{
		DB:          db,
		dbOptimizer: NewDatabaseOptimizer(db),
	}
}

// Exists reports whether a notification was already recorded for the triple
func (s *PostgresNotificationStore) Exists(ctx context.Context, profileID, grantID uuid.UUID, channel models.NotificationChannel) (bool, error) {
	query := `SELECT EXISTS (
                  SELECT 1 FROM grant_notifications
                  WHERE profile_id = $1 AND grant_id = $2 AND channel = $3
              )`

	var exists bool
	err := s.dbOptimizer.ExecuteWithRetry(ctx, "notifications.exists", func() error {
		return s.DB.QueryRowContext(ctx, query, profileID, grantID, string(channel)).Scan(&exists)
	})
	if err != nil {
		return false, fmt.Errorf("failed to check notification: %w", err)
	}
	return exists, nil
}

// Create inserts a notification. When the (profile, grant, channel) triple
// already exists nothing is written and shared.ErrDuplicateNotification is
// returned. A retried insert that finds the row written by its own earlier
// attempt succeeds.
func (s *PostgresNotificationStore) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Status == "" {
		n.Status = models.NotificationPending
	}

	query := `
		WITH inserted AS (
			INSERT INTO grant_notifications (
				id, profile_id, grant_id, channel, recipient, status, score, matched_keywords, error, sent_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (profile_id, grant_id, channel) DO NOTHING
			RETURNING id, created_at
		)
		SELECT id, created_at FROM inserted
		UNION ALL
		SELECT id, created_at FROM grant_notifications
		WHERE profile_id = $2 AND grant_id = $3 AND channel = $4
		  AND NOT EXISTS (SELECT 1 FROM inserted)
		LIMIT 1
	`

	var storedID uuid.UUID
	var createdAt time.Time
	err := s.dbOptimizer.ExecuteWithRetry(ctx, "notifications.create", func() error {
		return s.DB.QueryRowContext(ctx, query,
			n.ID, n.ProfileID, n.GrantID, string(n.Channel), n.Recipient, string(n.Status),
			n.Score, pq.Array(nonNilStrings(n.MatchedKeywords)), n.Error, n.SentAt,
		).Scan(&storedID, &createdAt)
	})
	if err := createOutcome(storedID, n.ID, err); err != nil {
		return err
	}
	n.CreatedAt = createdAt
	return nil
}

// createOutcome interprets the row returned by Create's insert. The row
// carries the caller's id only when this call wrote it.
func createOutcome(storedID, ownID uuid.UUID, err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows), isUniqueViolation(err):
		return shared.ErrDuplicateNotification
	case err != nil:
		return fmt.Errorf("failed to create notification: %w", err)
	case storedID != ownID:
		return shared.ErrDuplicateNotification
	}
	return nil
}

// UpdateStatus moves a pending notification to its final status. Final
// statuses are never overwritten: ErrNotificationFinal is returned instead.
func (s *PostgresNotificationStore) UpdateStatus(ctx context.Context, id uuid.UUID, status models.NotificationStatus, errMsg *string, sentAt *time.Time) error {
	query := `UPDATE grant_notifications
              SET status = $2, error = $3, sent_at = $4
              WHERE id = $1 AND status = 'pending'`

	var affected int64
	err := s.dbOptimizer.ExecuteWithRetry(ctx, "notifications.update_status", func() error {
		result, err := s.DB.ExecContext(ctx, query, id, string(status), errMsg, sentAt)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update notification %s: %w", id, err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := s.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM grant_notifications WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check notification %s: %w", id, err)
	}
	if !exists {
		return shared.NewNotFoundError("notification", id.String(), "notification-store", "update_status")
	}
	return ErrNotificationFinal
}

// ListRecentForProfile returns the newest notifications of a profile with
// the grant title and link
func (s *PostgresNotificationStore) ListRecentForProfile(ctx context.Context, profileID uuid.UUID, limit int) ([]models.NotificationWithGrant, error) {
	query := `SELECT n.id, n.profile_id, n.grant_id, n.channel, n.recipient, n.status, n.score,
                     n.matched_keywords, n.error, n.created_at, n.sent_at, g.title, g.official_url
              FROM grant_notifications n
              JOIN grants g ON g.id = n.grant_id
              WHERE n.profile_id = $1
              ORDER BY n.created_at DESC, n.id
              LIMIT $2`

	notifications := []models.NotificationWithGrant{}
	err := s.dbOptimizer.ExecuteWithRetry(ctx, "notifications.recent", func() error {
		rows, err := s.DB.QueryContext(ctx, query, profileID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		notifications = notifications[:0]
		for rows.Next() {
			var n models.NotificationWithGrant
			if err := rows.Scan(
				&n.ID, &n.ProfileID, &n.GrantID, &n.Channel, &n.Recipient, &n.Status, &n.Score,
				pq.Array(&n.MatchedKeywords), &n.Error, &n.CreatedAt, &n.SentAt, &n.GrantTitle, &n.GrantURL,
			); err != nil {
				return fmt.Errorf("failed to scan notification row: %w", err)
			}
			notifications = append(notifications, n)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications for profile %s: %w", profileID, err)
	}
	return notifications, nil
}

// FailStalePending marks notifications still pending since before
// createdBefore as failed with reason
func (s *PostgresNotificationStore) FailStalePending(ctx context.Context, createdBefore time.Time, reason string) (int64, error) {
	query := `UPDATE grant_notifications
              SET status = 'failed', error = $2
              WHERE status = 'pending' AND created_at < $1`

	var affected int64
	err := s.dbOptimizer.ExecuteWithRetry(ctx, "notifications.fail_stale", func() error {
		result, err := s.DB.ExecContext(ctx, query, createdBefore, reason)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending notifications: %w", err)
	}

	if affected > 0 {
		logrus.WithFields(logrus.Fields{
			"component":      "NotificationStore",
			"failed":         affected,
			"created_before": createdBefore,
		}).Warn("Marked stale pending notifications as failed")
	}
	return affected, nil
}

// DatabaseMetrics returns the query metrics of the store
func (s *PostgresNotificationStore) DatabaseMetrics() *shared.DatabaseMetrics {
	return s.dbOptimizer.Metrics()
}
