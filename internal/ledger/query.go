package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fleetlease/backend/internal/models"
	"github.com/fleetlease/backend/internal/store"
)

// MaxPageSize caps list queries.
const MaxPageSize = 500

func (s *Service) GetPosting(ctx context.Context, postingID string) (*models.Posting, error) {
	p, err := s.store.GetPosting(ctx, postingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &PostingNotFoundError{PostingID: postingID}
	}
	if err != nil {
		return nil, fmt.Errorf("get posting %s: %w", postingID, err)
	}
	return p, nil
}

func (s *Service) GetBalance(ctx context.Context, referenceID string) (*models.Balance, error) {
	b, err := s.store.GetBalance(ctx, referenceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &BalanceNotFoundError{ReferenceID: referenceID}
	}
	if err != nil {
		return nil, fmt.Errorf("get balance %s: %w", referenceID, err)
	}
	return b, nil
}

func (s *Service) ListPostings(ctx context.Context, f models.PostingFilter) ([]*models.Posting, error) {
	f.Limit, f.Offset = clampPage(f.Limit, f.Offset)
	postings, err := s.store.ListPostings(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list postings: %w", err)
	}
	return postings, nil
}

func (s *Service) ListBalances(ctx context.Context, f models.BalanceFilter) ([]*models.Balance, error) {
	f.Limit, f.Offset = clampPage(f.Limit, f.Offset)
	balances, err := s.store.ListBalances(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	return balances, nil
}

// DriverSummary is what a driver still owes, per category and overall.
type DriverSummary struct {
	DriverID     string                              `json:"driver_id"`
	Outstanding  map[models.Category]decimal.Decimal `json:"outstanding"`
	Total        decimal.Decimal                     `json:"total"`
	OpenBalances int                                 `json:"open_balances"`
}

func (s *Service) DriverSummary(ctx context.Context, driverID string) (*DriverSummary, error) {
	if driverID == "" {
		return nil, invalidf("driver id is required")
	}
	balances, err := s.store.ListBalances(ctx, models.BalanceFilter{
		DriverID: driverID,
		Status:   models.BalanceOpen,
	})
	if err != nil {
		return nil, fmt.Errorf("summarize driver %s: %w", driverID, err)
	}

	summary := &DriverSummary{
		DriverID:    driverID,
		Outstanding: make(map[models.Category]decimal.Decimal),
		Total:       decimal.Zero,
	}
	for _, b := range balances {
		summary.Outstanding[b.Category] = summary.Outstanding[b.Category].Add(b.Balance)
		summary.Total = summary.Total.Add(b.Balance)
		summary.OpenBalances++
	}
	return summary, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
