package services

import (
	"context"
	"errors"
	"time"

	"github.com/ledgerx/backend/internal/models"
	"go.opentelemetry.io/otel/attribute"
)

const defaultTopCategories = 5

// ListUserEntries returns the user's ledger history, newest first.
func (s *LedgerService) ListUserEntries(ctx context.Context, userID string) ([]models.LedgerEntry, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.ListUserEntries")
	defer span.End()

	if userID == "" {
		return nil, &RequestError{Err: errors.New("user id is required")}
	}
	return s.repo.ListUserEntries(ctx, userID)
}

// GetSpendingSummary totals what the user spent and ranks the categories.
func (s *LedgerService) GetSpendingSummary(ctx context.Context, q models.SpendingQuery) (*models.SpendingSummary, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.GetSpendingSummary")
	defer span.End()
	span.SetAttributes(attribute.String("ledger.user", q.UserID))

	if err := s.validator.ValidateStruct(&q); err != nil {
		return nil, &RequestError{Err: err}
	}

	filter := models.SpendingFilter{Category: q.Category}
	filter.From, filter.To = spendingWindow(q, s.now().UTC())

	total, err := s.repo.SumSpending(ctx, q.UserID, filter)
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit == 0 {
		limit = defaultTopCategories
	}
	top, err := s.repo.TopCategories(ctx, q.UserID, filter, limit)
	if err != nil {
		return nil, err
	}
	if top == nil {
		top = []models.CategoryTotal{}
	}

	summary := &models.SpendingSummary{
		UserID:        q.UserID,
		Category:      q.Category,
		Total:         total,
		TopCategories: top,
	}
	if !filter.From.IsZero() {
		summary.From, summary.To = &filter.From, &filter.To
	}
	return summary, nil
}

// spendingWindow turns Year/Month into a half-open UTC range. Both zero
// means no window.
func spendingWindow(q models.SpendingQuery, now time.Time) (from, to time.Time) {
	switch {
	case q.Month != 0:
		year := q.Year
		if year == 0 {
			year = now.Year()
		}
		from = time.Date(year, time.Month(q.Month), 1, 0, 0, 0, 0, time.UTC)
		return from, from.AddDate(0, 1, 0)
	case q.Year != 0:
		from = time.Date(q.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return from, from.AddDate(1, 0, 0)
	}
	return time.Time{}, time.Time{}
}
