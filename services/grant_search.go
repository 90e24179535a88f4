package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/akemora/Granter-2.0-sub001/models"
	"github.com/akemora/Granter-2.0-sub001/shared"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const (
	DefaultGrantPageSize = 20
	MaxGrantPageSize     = 100
	maxSearchQueryLength = 500
)

// ValidateGrantSearch rejects filters and paging values a search cannot
// serve and returns the page size to use, capped at MaxGrantPageSize
func ValidateGrantSearch(filters models.GrantFilters, skip, take int) (int, error) {
	invalid := func(reason string) (int, error) {
		return 0, shared.NewInvalidRequestError(reason, "grant-service", "search")
	}

	if skip < 0 {
		return invalid("skip cannot be negative")
	}
	if take <= 0 {
		return invalid("take must be greater than 0")
	}
	if len(strings.TrimSpace(filters.Query)) > maxSearchQueryLength {
		return invalid(fmt.Sprintf("query cannot exceed %d characters", maxSearchQueryLength))
	}
	if filters.MinAmount.Valid && filters.MinAmount.Decimal.IsNegative() {
		return invalid("min_amount cannot be negative")
	}
	if filters.MaxAmount.Valid && filters.MaxAmount.Decimal.IsNegative() {
		return invalid("max_amount cannot be negative")
	}
	if filters.MinAmount.Valid && filters.MaxAmount.Valid && filters.MinAmount.Decimal.GreaterThan(filters.MaxAmount.Decimal) {
		return invalid("min_amount cannot be greater than max_amount")
	}
	if filters.DeadlineAfter != nil && filters.DeadlineBefore != nil && !filters.DeadlineAfter.Before(*filters.DeadlineBefore) {
		return invalid("deadline_after must be before deadline_before")
	}
	if filters.Status != "" && models.ParseGrantStatus(string(filters.Status)) != filters.Status {
		return invalid(fmt.Sprintf("unknown status %q", filters.Status))
	}

	if take > MaxGrantPageSize {
		take = MaxGrantPageSize
	}
	return take, nil
}

// grantSearchWhere builds the WHERE clause for filters, numbering
// placeholders from $1
func grantSearchWhere(filters models.GrantFilters) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	add := func(condition string, arg interface{}) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if q := strings.TrimSpace(filters.Query); q != "" {
		add(`to_tsvector('simple', title || ' ' || description) @@ plainto_tsquery('simple', $%d)`, q)
	}

	regions := make([]string, 0, len(filters.Regions))
	for _, r := range filters.Regions {
		if r = strings.TrimSpace(r); r != "" {
			regions = append(regions, r)
		}
	}
	if len(regions) > 0 {
		add("region = ANY($%d)", pq.Array(regions))
	}

	if sector := strings.TrimSpace(filters.Sector); sector != "" {
		add("LOWER(sector) = LOWER($%d)", sector)
	}
	if filters.Status != "" {
		add("status = $%d", string(filters.Status))
	}
	if filters.MinAmount.Valid {
		add("amount >= $%d", filters.MinAmount.Decimal)
	}
	if filters.MaxAmount.Valid {
		add("amount <= $%d", filters.MaxAmount.Decimal)
	}
	if filters.DeadlineAfter != nil {
		add("deadline > $%d", *filters.DeadlineAfter)
	}
	if filters.DeadlineBefore != nil {
		add("deadline < $%d", *filters.DeadlineBefore)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// Search returns one page of grants matching filters, newest first with
// ties broken by id, plus the total number of matches
func (s *GrantService) Search(ctx context.Context, filters models.GrantFilters, skip, take int) (models.GrantPage, error) {
	take, err := ValidateGrantSearch(filters, skip, take)
	if err != nil {
		return models.GrantPage{}, err
	}

	start := time.Now()
	where, args := grantSearchWhere(filters)
	countQuery := `SELECT COUNT(*) FROM grants` + where
	listQuery := `SELECT ` + grantColumns + ` FROM grants` + where +
		fmt.Sprintf(` ORDER BY created_at DESC, id ASC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)

	var total int
	var grants []models.Grant
	err = s.dbOptimizer.ExecuteWithRetry(ctx, "grants.search", func() error {
		if err := s.DB.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
			return err
		}

		rows, err := s.DB.QueryContext(ctx, listQuery, append(args, take, skip)...)
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
		return models.GrantPage{}, shared.WrapError(err, shared.ErrorCategoryDatabase, shared.CodeServiceUnavailable, "grant-service", "search", true)
	}

	page := models.NewGrantPage(grants, total, skip, take)
	logrus.WithFields(logrus.Fields{
		"component": "GrantService",
		"total":     page.Total,
		"returned":  len(page.Data),
		"page":      page.CurrentPage,
		"duration":  time.Since(start),
	}).Debug("Grant search completed")

	return page, nil
}
