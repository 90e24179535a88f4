package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// GrantFilters narrows a grant search. Zero values mean no filter.
type GrantFilters struct {
	Query          string              `json:"query,omitempty"`
	Regions        []string            `json:"regions,omitempty"`
	Sector         string              `json:"sector,omitempty"`
	Status         GrantStatus         `json:"status,omitempty"`
	MinAmount      decimal.NullDecimal `json:"min_amount"`
	MaxAmount      decimal.NullDecimal `json:"max_amount"`
	DeadlineAfter  *time.Time          `json:"deadline_after,omitempty"`
	DeadlineBefore *time.Time          `json:"deadline_before,omitempty"`
}

// GrantPage is one page of search results plus paging metadata
type GrantPage struct {
	Data        []Grant `json:"data"`
	Total       int     `json:"total"`
	Skip        int     `json:"skip"`
	Take        int     `json:"take"`
	CurrentPage int     `json:"current_page"`
	TotalPages  int     `json:"total_pages"`
}

// NewGrantPage fills in the page numbers. take must be positive.
func NewGrantPage(data []Grant, total, skip, take int) GrantPage {
	if data == nil {
		data = []Grant{}
	}
	return GrantPage{
		Data:        data,
		Total:       total,
		Skip:        skip,
		Take:        take,
		CurrentPage: skip/take + 1,
		TotalPages:  (total + take - 1) / take,
	}
}
