// Package ledger holds the four engines that mutate the driver ledger:
// obligation creation, priority-ordered earnings application, targeted
// payment allocation and void/reversal. Every operation runs as a single
// store transaction; the first error rolls the whole event back.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fleetlease/backend/internal/audit"
	"github.com/fleetlease/backend/internal/models"
	"github.com/fleetlease/backend/internal/store"
)

type Service struct {
	store    store.Store
	priority *models.PriorityTable
	log      *zap.Logger
	audit    *audit.Logger
	now      func() time.Time
	newID    func() string
}

type Option func(*Service)

// WithPriority replaces the default category order used by ApplyEarnings.
func WithPriority(t *models.PriorityTable) Option {
	return func(s *Service) { s.priority = t }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithAudit(a *audit.Logger) Option {
	return func(s *Service) { s.audit = a }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:    st,
		priority: models.MustPriorityTable(models.DefaultPriority),
		log:      zap.NewNop(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.audit == nil {
		s.audit = audit.NewLogger(s.log)
	}
	return s
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC()
}

// credit builds a POSTED credit posting of -amount.
func (s *Service) credit(category models.Category, amount decimal.Decimal, referenceID, driverID string, at time.Time) *models.Posting {
	return &models.Posting{
		ID:          s.newID(),
		Category:    category,
		Amount:      amount.Neg(),
		EntryType:   models.EntryCredit,
		Status:      models.PostingPosted,
		ReferenceID: referenceID,
		DriverID:    driverID,
		CreatedAt:   at,
	}
}

// apply moves b by amount on behalf of postingID and records the application
// row. Positive amounts pay the balance down, negative ones restore it.
func (s *Service) apply(ctx context.Context, tx store.Tx, b *models.Balance, postingID string, amount decimal.Decimal, at time.Time) (*models.BalanceApplication, error) {
	next := b.Balance.Sub(amount)
	if next.IsNegative() || next.GreaterThan(b.Owed()) {
		return nil, invalidf("balance %s would move to %s outside [0, %s]",
			b.ReferenceID, next.StringFixed(2), b.Owed().StringFixed(2))
	}

	b.Apply(amount)
	b.UpdatedAt = at
	if err := tx.UpdateBalance(ctx, b); err != nil {
		return nil, fmt.Errorf("update balance %s: %w", b.ReferenceID, err)
	}

	app := &models.BalanceApplication{
		ID:        s.newID(),
		BalanceID: b.ID,
		PostingID: postingID,
		Amount:    amount,
		CreatedAt: at,
	}
	if err := tx.InsertApplication(ctx, app); err != nil {
		return nil, fmt.Errorf("insert application for %s: %w", b.ReferenceID, err)
	}
	b.AppliedPaymentRefs = append(b.AppliedPaymentRefs, postingID)
	return app, nil
}

// fail records a failed ledger event and hands err back unchanged.
func (s *Service) fail(operation, driverID string, err error) error {
	var invalid *InvalidOperationError
	if errors.As(err, &invalid) || errors.Is(err, ErrBalanceNotFound) || errors.Is(err, ErrPostingNotFound) {
		s.log.Warn("ledger operation rejected",
			zap.String("operation", operation),
			zap.String("driver_id", driverID),
			zap.Error(err))
	} else {
		s.log.Error("ledger operation failed",
			zap.String("operation", operation),
			zap.String("driver_id", driverID),
			zap.Error(err))
	}
	s.audit.LogError(operation, driverID, err)
	return err
}

// amountScale is the number of decimal places the ledger stores.
const amountScale = 2

// checkScale rejects amounts that cannot be stored without rounding.
func checkScale(what string, amount decimal.Decimal) error {
	if !amount.Equal(amount.Round(amountScale)) {
		return invalidf("%s %s has more than %d decimal places", what, amount.String(), amountScale)
	}
	return nil
}

func positive(amount decimal.Decimal) bool {
	return amount.GreaterThan(decimal.Zero)
}
