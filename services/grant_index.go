package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/akemora/Granter-2.0-sub001/models"
	"github.com/akemora/Granter-2.0-sub001/shared"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const grantColumns = `id, title, description, amount, deadline, region, sector,
              status, official_url, source_id, created_at, updated_at`

// GrantService is the Postgres-backed GrantIndex. Grants are written by the
// ingestion pipeline; this service only reads them and closes expired ones.
type GrantService struct {
	DB          *sql.DB
	dbOptimizer *DatabaseOptimizer
}

func NewGrantService(db *sql.DB) *GrantService {
	return &GrantService{
		DB:          db,
		dbOptimizer: NewDatabaseOptimizer(db),
	}
}

// Get returns a grant by id, or nil when it does not exist
func (s *GrantService) Get(ctx context.Context, id uuid.UUID) (*models.Grant, error) {
	query := `SELECT ` + grantColumns + ` FROM grants WHERE id = $1`

	var grant *models.Grant
	err := s.dbOptimizer.ExecuteWithRetry(ctx, "grants.get", func() error {
		g, err := scanGrant(s.DB.QueryRowContext(ctx, query, id))
		if err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}
		grant = g
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load grant %s: %w", id, err)
	}
	return grant, nil
}

// GetOpenGrants returns grants that are not closed and whose deadline is
// today or later, earliest deadline first
func (s *GrantService) GetOpenGrants(ctx context.Context) ([]models.Grant, error) {
	query := `SELECT ` + grantColumns + `
              FROM grants
              WHERE status <> 'closed' AND (deadline IS NULL OR deadline >= CURRENT_DATE)
              ORDER BY deadline ASC NULLS LAST, id`

	var grants []models.Grant
	err := s.dbOptimizer.ExecuteWithRetry(ctx, "grants.open", func() error {
		rows, err := s.DB.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		grants = grants[:0]
		for rows.Next() {
			g, err := scanGrant(rows)
			if err != nil {
				return fmt.Errorf("failed to scan grant row: %w", err)
			}
			grants = append(grants, *g)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query open grants: %w", err)
	}
	return grants, nil
}

// CloseExpired marks every grant whose deadline lies before today as closed
// and returns how many rows changed
func (s *GrantService) CloseExpired(ctx context.Context) (int64, error) {
	query := `UPDATE grants SET status = 'closed', updated_at = NOW()
              WHERE status <> 'closed' AND deadline IS NOT NULL AND deadline < CURRENT_DATE`

	var affected int64
	err := s.dbOptimizer.ExecuteWithRetry(ctx, "grants.close_expired", func() error {
		result, err := s.DB.ExecContext(ctx, query)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to close expired grants: %w", err)
	}

	if affected > 0 {
		logrus.WithFields(logrus.Fields{
			"component": "GrantService",
			"closed":    affected,
		}).Info("Closed expired grants")
	}
	return affected, nil
}

// GetSources returns the ingestion sources, active ones first
func (s *GrantService) GetSources(ctx context.Context) ([]models.Source, error) {
	query := `SELECT id, name, url, region, type, active, metadata, last_run, created_at, updated_at
              FROM sources
              ORDER BY active DESC, name`

	var sources []models.Source
	err := s.dbOptimizer.ExecuteWithRetry(ctx, "sources.list", func() error {
		rows, err := s.DB.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		sources = sources[:0]
		for rows.Next() {
			var src models.Source
			var metadata []byte
			if err := rows.Scan(
				&src.ID, &src.Name, &src.URL, &src.Region, &src.Type, &src.Active,
				&metadata, &src.LastRun, &src.CreatedAt, &src.UpdatedAt,
			); err != nil {
				return fmt.Errorf("failed to scan source row: %w", err)
			}
			src.Metadata = metadata
			sources = append(sources, src)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	return sources, nil
}

// DatabaseMetrics exposes the query metrics of this service
func (s *GrantService) DatabaseMetrics() *shared.DatabaseMetrics {
	return s.dbOptimizer.Metrics()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGrant(row rowScanner) (*models.Grant, error) {
	var g models.Grant
	err := row.Scan(
		&g.ID, &g.Title, &g.Description, &g.Amount, &g.Deadline, &g.Region, &g.Sector,
		&g.Status, &g.OfficialURL, &g.SourceID, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}
