package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fleetlease/backend/internal/models"
	"github.com/fleetlease/backend/internal/store"
)

type ObligationRequest struct {
	Category    models.Category
	Amount      decimal.Decimal
	ReferenceID string
	DriverID    string
	LeaseID     *string
	VehicleID   *string
	MedallionID *string
	Description string
}

func (r ObligationRequest) validate() error {
	if !positive(r.Amount) {
		return invalidf("obligation amount must be positive, got %s", r.Amount.String())
	}
	if err := checkScale("obligation amount", r.Amount); err != nil {
		return err
	}
	if !r.Category.Valid() {
		return invalidf("unknown category %q", r.Category)
	}
	if r.Category.CreditOnly() {
		return invalidf("category %s cannot carry an obligation", r.Category)
	}
	if r.ReferenceID == "" {
		return invalidf("reference id is required")
	}
	if r.DriverID == "" {
		return invalidf("driver id is required")
	}
	return nil
}

// CreateObligation records a DEBIT posting and opens its balance.
func (s *Service) CreateObligation(ctx context.Context, req ObligationRequest) (*models.Balance, error) {
	if err := req.validate(); err != nil {
		return nil, s.fail("create_obligation", req.DriverID, err)
	}

	at := s.timestamp()
	posting := &models.Posting{
		ID:          s.newID(),
		Category:    req.Category,
		Amount:      req.Amount,
		EntryType:   models.EntryDebit,
		Status:      models.PostingPosted,
		ReferenceID: req.ReferenceID,
		DriverID:    req.DriverID,
		LeaseID:     req.LeaseID,
		VehicleID:   req.VehicleID,
		MedallionID: req.MedallionID,
		Description: req.Description,
		CreatedAt:   at,
	}
	balance := &models.Balance{
		ID:             s.newID(),
		Category:       req.Category,
		ReferenceID:    req.ReferenceID,
		OriginalAmount: req.Amount,
		PriorBalance:   decimal.Zero,
		Balance:        req.Amount,
		Status:         models.BalanceOpen,
		DriverID:       req.DriverID,
		LeaseID:        req.LeaseID,
		VehicleID:      req.VehicleID,
		MedallionID:    req.MedallionID,
		CreatedAt:      at,
		UpdatedAt:      at,
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if existing, err := tx.LockBalanceByReference(ctx, req.ReferenceID); err == nil {
			return invalidf("reference %s already has a %s balance", req.ReferenceID, existing.Status)
		} else if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("lookup balance %s: %w", req.ReferenceID, err)
		}

		if err := tx.InsertPosting(ctx, posting); err != nil {
			return fmt.Errorf("insert posting: %w", err)
		}
		if err := tx.InsertBalance(ctx, balance); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return invalidf("reference %s already has a balance", req.ReferenceID)
			}
			return fmt.Errorf("insert balance: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("create_obligation", req.DriverID, err)
	}

	s.log.Info("obligation created",
		zap.String("posting_id", posting.ID),
		zap.String("reference_id", req.ReferenceID),
		zap.String("driver_id", req.DriverID),
		zap.String("category", string(req.Category)),
		zap.String("amount", req.Amount.StringFixed(2)))
	s.audit.LogObligation(posting.ID, req.ReferenceID, req.DriverID, req.Amount, string(req.Category))

	return balance, nil
}
