package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fleetlease/backend/internal/models"
	"github.com/fleetlease/backend/internal/store"
)

type PaymentMethod string

const (
	PaymentCash  PaymentMethod = "CASH"
	PaymentCheck PaymentMethod = "CHECK"
	PaymentACH   PaymentMethod = "ACH"
	PaymentCard  PaymentMethod = "CARD"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCheck, PaymentACH, PaymentCard:
		return true
	}
	return false
}

// ParsePaymentMethod accepts any case.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	m := PaymentMethod(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", invalidf("unknown payment method %q", s)
	}
	return m, nil
}

// Allocation directs part of a payment at one obligation.
type Allocation struct {
	ReferenceID string
	Amount      decimal.Decimal
}

type TargetedPayment struct {
	Amount      decimal.Decimal
	Allocations []Allocation
	DriverID    string
	LeaseID     *string
	Method      PaymentMethod
}

func (p TargetedPayment) validate() error {
	if !positive(p.Amount) {
		return invalidf("payment amount must be positive, got %s", p.Amount.String())
	}
	if err := checkScale("payment amount", p.Amount); err != nil {
		return err
	}
	if p.DriverID == "" {
		return invalidf("driver id is required")
	}
	if !p.Method.Valid() {
		return invalidf("unknown payment method %q", p.Method)
	}
	if len(p.Allocations) == 0 {
		return invalidf("at least one allocation is required")
	}

	total := decimal.Zero
	for _, a := range p.Allocations {
		if a.ReferenceID == "" {
			return invalidf("allocation reference id is required")
		}
		if !positive(a.Amount) {
			return invalidf("allocation to %s must be positive, got %s", a.ReferenceID, a.Amount.String())
		}
		if err := checkScale("allocation to "+a.ReferenceID, a.Amount); err != nil {
			return err
		}
		total = total.Add(a.Amount)
	}
	if total.GreaterThan(p.Amount) {
		return invalidf("allocations total %s exceeds payment %s", total.StringFixed(2), p.Amount.StringFixed(2))
	}
	return nil
}

// ApplyTargetedPayment credits the named balances with the given amounts,
// bypassing the priority order. Any failing allocation aborts the batch.
// Whatever the allocations leave of the payment is not recorded.
func (s *Service) ApplyTargetedPayment(ctx context.Context, p TargetedPayment) ([]*models.Posting, error) {
	if err := p.validate(); err != nil {
		return nil, s.fail("apply_targeted_payment", p.DriverID, err)
	}

	at := s.timestamp()
	var postings []*models.Posting
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		postings = nil

		locked, err := s.lockAllocated(ctx, tx, p)
		if err != nil {
			return err
		}

		for _, a := range p.Allocations {
			b, ok := locked[a.ReferenceID]
			if !ok {
				return &BalanceNotFoundError{ReferenceID: a.ReferenceID}
			}
			if b.DriverID != p.DriverID {
				return invalidf("balance %s does not belong to driver %s", b.ReferenceID, p.DriverID)
			}
			if b.Status != models.BalanceOpen {
				return invalidf("balance %s is %s", b.ReferenceID, b.Status)
			}
			if a.Amount.GreaterThan(b.Balance) {
				return invalidf("allocation %s to %s exceeds remaining balance %s",
					a.Amount.String(), b.ReferenceID, b.Balance.StringFixed(2))
			}

			posting := s.credit(b.Category, a.Amount,
				fmt.Sprintf("PAYMENT-%s-%s", p.Method, b.ReferenceID), p.DriverID, at)
			posting.LeaseID = p.LeaseID
			posting.VehicleID = b.VehicleID
			posting.MedallionID = b.MedallionID
			posting.Description = fmt.Sprintf("%s payment to %s", p.Method, b.ReferenceID)

			if err := tx.InsertPosting(ctx, posting); err != nil {
				return fmt.Errorf("insert payment posting: %w", err)
			}
			if _, err := s.apply(ctx, tx, b, posting.ID, a.Amount, at); err != nil {
				return err
			}
			postings = append(postings, posting)
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("apply_targeted_payment", p.DriverID, err)
	}

	for i, posting := range postings {
		s.log.Info("payment allocated",
			zap.String("posting_id", posting.ID),
			zap.String("reference_id", p.Allocations[i].ReferenceID),
			zap.String("driver_id", p.DriverID),
			zap.String("method", string(p.Method)),
			zap.String("amount", p.Allocations[i].Amount.StringFixed(2)))
		s.audit.LogAllocation(posting.ID, p.Allocations[i].ReferenceID, p.DriverID, p.Allocations[i].Amount, string(p.Method))
	}
	return postings, nil
}

// lockAllocated locks every distinct target balance, in id order like every
// other multi-row lock, before anything is written. Unknown references are
// left out of the map and reported by the caller in allocation order.
func (s *Service) lockAllocated(ctx context.Context, tx store.Tx, p TargetedPayment) (map[string]*models.Balance, error) {
	refs := make([]string, 0, len(p.Allocations))
	seen := make(map[string]bool, len(p.Allocations))
	for _, a := range p.Allocations {
		if !seen[a.ReferenceID] {
			seen[a.ReferenceID] = true
			refs = append(refs, a.ReferenceID)
		}
	}

	balances, err := tx.LockBalancesByReferences(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("lock allocated balances: %w", err)
	}
	locked := make(map[string]*models.Balance, len(balances))
	for _, b := range balances {
		locked[b.ReferenceID] = b
	}
	return locked, nil
}
