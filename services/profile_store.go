package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/akemora/Granter-2.0-sub001/models"
	"github.com/akemora/Granter-2.0-sub001/shared"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const profileColumns = `id, user_id, keywords, min_amount, max_amount, regions,
              email_notifications, telegram_notifications, email, telegram_chat_id,
              created_at, updated_at`

// PostgresProfileStore implements ProfileStore on the user_profiles table
type PostgresProfileStore struct {
	DB          *sql.DB
	dbOptimizer *DatabaseOptimizer
}

func NewPostgresProfileStore(db *sql.DB) *PostgresProfileStore {
	return &PostgresProfileStore{
		DB:          db,
		dbOptimizer: NewDatabaseOptimizer(db),
	}
}

// Get returns a profile by id, or nil when it does not exist
func (s *PostgresProfileStore) Get(ctx context.Context, id uuid.UUID) (*models.UserProfile, error) {
	return s.getOne(ctx, "profiles.get", `SELECT `+profileColumns+` FROM user_profiles WHERE id = $1`, id)
}

// GetByUserID returns the profile owned by a user, or nil
func (s *PostgresProfileStore) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	return s.getOne(ctx, "profiles.get_by_user", `SELECT `+profileColumns+` FROM user_profiles WHERE user_id = $1`, userID)
}

func (s *PostgresProfileStore) getOne(ctx context.Context, operation, query string, arg interface{}) (*models.UserProfile, error) {
	var profile *models.UserProfile
	err := s.dbOptimizer.ExecuteWithRetry(ctx, operation, func() error {
		p, err := scanProfile(s.DB.QueryRowContext(ctx, query, arg))
		if err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}
		profile = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %v: %w", arg, err)
	}
	return profile, nil
}

// GetActiveProfiles returns profiles with at least one notification
// channel switched on
func (s *PostgresProfileStore) GetActiveProfiles(ctx context.Context) ([]models.UserProfile, error) {
	query := `SELECT ` + profileColumns + `
              FROM user_profiles
              WHERE email_notifications OR telegram_notifications
              ORDER BY created_at, id`

	var profiles []models.UserProfile
	err := s.dbOptimizer.ExecuteWithRetry(ctx, "profiles.active", func() error {
		rows, err := s.DB.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		profiles = profiles[:0]
		for rows.Next() {
			p, err := scanProfile(rows)
			if err != nil {
				return fmt.Errorf("failed to scan profile row: %w", err)
			}
			profiles = append(profiles, *p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query active profiles: %w", err)
	}
	return profiles, nil
}

// Save inserts the profile or replaces the preferences of the user's
// existing profile. ID and timestamps are filled from the stored row.
func (s *PostgresProfileStore) Save(ctx context.Context, profile *models.UserProfile) error {
	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
	}

	query := `
		INSERT INTO user_profiles (
			id, user_id, keywords, min_amount, max_amount, regions,
			email_notifications, telegram_notifications, email, telegram_chat_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE SET
			keywords = EXCLUDED.keywords,
			min_amount = EXCLUDED.min_amount,
			max_amount = EXCLUDED.max_amount,
			regions = EXCLUDED.regions,
			email_notifications = EXCLUDED.email_notifications,
			telegram_notifications = EXCLUDED.telegram_notifications,
			email = EXCLUDED.email,
			telegram_chat_id = EXCLUDED.telegram_chat_id,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	err := s.dbOptimizer.ExecuteWithRetry(ctx, "profiles.save", func() error {
		return s.DB.QueryRowContext(ctx, query,
			profile.ID, profile.UserID,
			pq.Array(nonNilStrings(profile.Keywords)),
			profile.MinAmount, profile.MaxAmount,
			pq.Array(nonNilStrings(profile.Regions)),
			profile.EmailNotifications, profile.TelegramNotifications,
			profile.Email, profile.TelegramChatID,
		).Scan(&profile.ID, &profile.CreatedAt, &profile.UpdatedAt)
	})
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "check_violation" {
			return shared.NewInvalidProfileError(pqErr.Message, "profile-store", "save")
		}
		return fmt.Errorf("failed to save profile for user %s: %w", profile.UserID, err)
	}
	return nil
}

func scanProfile(row rowScanner) (*models.UserProfile, error) {
	var p models.UserProfile
	err := row.Scan(
		&p.ID, &p.UserID, pq.Array(&p.Keywords), &p.MinAmount, &p.MaxAmount, pq.Array(&p.Regions),
		&p.EmailNotifications, &p.TelegramNotifications, &p.Email, &p.TelegramChatID,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// DatabaseMetrics returns the query metrics of the store
func (s *PostgresProfileStore) DatabaseMetrics() *shared.DatabaseMetrics {
	return s.dbOptimizer.Metrics()
}
