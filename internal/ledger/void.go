package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fleetlease/backend/internal/models"
	"github.com/fleetlease/backend/internal/store"
)

// VoidPosting offsets postingID with a reversal posting and undoes its effect
// on the balances it touched. It returns the reversal.
//
// A debit can only be voided while nothing has been paid against its balance;
// the outstanding amount is then written off by the reversal and the balance
// closes. Voiding a credit restores every balance it paid down.
func (s *Service) VoidPosting(ctx context.Context, postingID, reason string) (*models.Posting, error) {
	var (
		original *models.Posting
		reversal *models.Posting
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		original, err = tx.LockPosting(ctx, postingID)
		if errors.Is(err, store.ErrNotFound) {
			return &PostingNotFoundError{PostingID: postingID}
		}
		if err != nil {
			return fmt.Errorf("lock posting %s: %w", postingID, err)
		}
		if original.Status == models.PostingVoided {
			return invalidf("posting %s is already voided", postingID)
		}
		if original.IsReversal() {
			return invalidf("posting %s is a reversal and cannot be voided", postingID)
		}

		at := s.timestamp()
		reversalFor := original.ID
		reversal = &models.Posting{
			ID:            s.newID(),
			Category:      original.Category,
			Amount:        original.Amount.Neg(),
			EntryType:     original.EntryType.Flip(),
			Status:        models.PostingPosted,
			ReferenceID:   "VOID-" + original.ReferenceID,
			ReversalForID: &reversalFor,
			DriverID:      original.DriverID,
			LeaseID:       original.LeaseID,
			VehicleID:     original.VehicleID,
			MedallionID:   original.MedallionID,
			Description:   reason,
			CreatedAt:     at,
		}
		if err := tx.InsertPosting(ctx, reversal); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return invalidf("posting %s is already reversed", postingID)
			}
			return fmt.Errorf("insert reversal: %w", err)
		}
		if err := tx.MarkPostingVoided(ctx, original.ID, reason, at); err != nil {
			return fmt.Errorf("mark posting %s voided: %w", postingID, err)
		}

		if original.EntryType == models.EntryDebit {
			return s.writeOffDebit(ctx, tx, original, reversal.ID, at)
		}
		return s.restoreCredit(ctx, tx, original, reversal.ID, at)
	})
	if err != nil {
		driverID := ""
		if original != nil {
			driverID = original.DriverID
		}
		return nil, s.fail("void_posting", driverID, err)
	}

	s.log.Info("posting voided",
		zap.String("posting_id", original.ID),
		zap.String("reversal_id", reversal.ID),
		zap.String("driver_id", original.DriverID),
		zap.String("amount", original.Amount.StringFixed(2)),
		zap.String("reason", reason))
	s.audit.LogVoid(original.ID, reversal.ID, original.DriverID, original.Amount, reason)

	return reversal, nil
}

func (s *Service) writeOffDebit(ctx context.Context, tx store.Tx, original *models.Posting, reversalID string, at time.Time) error {
	b, err := tx.LockBalanceByReference(ctx, original.ReferenceID)
	if errors.Is(err, store.ErrNotFound) {
		return &BalanceNotFoundError{ReferenceID: original.ReferenceID}
	}
	if err != nil {
		return fmt.Errorf("lock balance %s: %w", original.ReferenceID, err)
	}

	apps, err := tx.ApplicationsByBalance(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("load applications for %s: %w", b.ReferenceID, err)
	}
	paid := decimal.Zero
	for _, a := range apps {
		paid = paid.Add(a.Amount)
	}
	if !paid.IsZero() {
		return invalidf("balance %s has %s applied; post a compensating adjustment instead",
			b.ReferenceID, paid.StringFixed(2))
	}

	_, err = s.apply(ctx, tx, b, reversalID, b.Balance, at)
	return err
}

func (s *Service) restoreCredit(ctx context.Context, tx store.Tx, original *models.Posting, reversalID string, at time.Time) error {
	apps, err := tx.ApplicationsByPosting(ctx, original.ID)
	if err != nil {
		return fmt.Errorf("load applications for %s: %w", original.ID, err)
	}

	ids := make([]string, 0, len(apps))
	for _, a := range apps {
		ids = append(ids, a.BalanceID)
	}
	sort.Strings(ids)

	locked := make(map[string]*models.Balance, len(ids))
	for _, id := range ids {
		if _, ok := locked[id]; ok {
			continue
		}
		b, err := tx.LockBalance(ctx, id)
		if err != nil {
			return fmt.Errorf("lock balance %s: %w", id, err)
		}
		locked[id] = b
	}

	for _, a := range apps {
		if _, err := s.apply(ctx, tx, locked[a.BalanceID], reversalID, a.Amount.Neg(), at); err != nil {
			return err
		}
	}
	return nil
}
