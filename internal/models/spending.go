package models

import "time"

// UncategorizedLabel groups spending booked without a category.
const UncategorizedLabel = "others"

// SpendingQuery narrows a user's spending report. Month without Year means
// the month of the current year.
type SpendingQuery struct {
	UserID   string `json:"-" validate:"required,max=64"`
	Category string `json:"category,omitempty" validate:"max=64"`
	Year     int    `json:"year,omitempty" validate:"omitempty,min=1970,max=9999"`
	Month    int    `json:"month,omitempty" validate:"omitempty,min=1,max=12"`
	Limit    int    `json:"limit,omitempty" validate:"omitempty,min=1,max=50"`
}

// SpendingFilter is what the repository sums over. Zero From/To leave the
// window open on that side; To is exclusive.
type SpendingFilter struct {
	Category string
	From     time.Time
	To       time.Time
}

type CategoryTotal struct {
	Category string `json:"category"`
	Amount   int64  `json:"amount"`
}

// SpendingSummary counts debit legs of transactions that are neither
// reversals nor reversed.
type SpendingSummary struct {
	UserID        string          `json:"user_id"`
	Category      string          `json:"category,omitempty"`
	From          *time.Time      `json:"from,omitempty"`
	To            *time.Time      `json:"to,omitempty"`
	Total         int64           `json:"total"`
	TopCategories []CategoryTotal `json:"top_categories"`
}
