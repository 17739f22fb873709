package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fleetlease/backend/internal/models"
	"github.com/fleetlease/backend/internal/store"
)

// EarningsResult describes one committed ApplyEarnings call.
type EarningsResult struct {
	Postings     []*models.Posting
	Applications []*models.BalanceApplication
	// Unapplied is what was left after every open balance was paid.
	// The ledger does not carry it forward.
	Unapplied decimal.Decimal
}

// ApplyEarnings posts a driver's earnings as one EARNINGS credit and spends it
// over the driver's open balances in priority order. A non-positive amount is
// a no-op and returns a nil result.
func (s *Service) ApplyEarnings(ctx context.Context, driverID string, amount decimal.Decimal, leaseID *string) (*EarningsResult, error) {
	if !positive(amount) {
		return nil, nil
	}
	if driverID == "" {
		return nil, s.fail("apply_earnings", driverID, invalidf("driver id is required"))
	}
	if err := checkScale("earnings amount", amount); err != nil {
		return nil, s.fail("apply_earnings", driverID, err)
	}

	at := s.timestamp()
	posting := s.credit(models.CategoryEarnings, amount, "EARNINGS-"+at.Format("2006-01-02"), driverID, at)
	posting.LeaseID = leaseID
	posting.Description = "weekly earnings"

	var result *EarningsResult
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		result = &EarningsResult{Postings: []*models.Posting{posting}}

		if err := tx.InsertPosting(ctx, posting); err != nil {
			return fmt.Errorf("insert earnings posting: %w", err)
		}

		// rows come back locked in id order; the walk order is decided here
		balances, err := tx.LockOpenBalances(ctx, driverID)
		if err != nil {
			return fmt.Errorf("lock open balances: %w", err)
		}
		s.priority.Sort(balances)

		remaining := amount
		for _, b := range balances {
			if !positive(remaining) {
				break
			}
			payment := decimal.Min(remaining, b.Balance)
			app, err := s.apply(ctx, tx, b, posting.ID, payment, at)
			if err != nil {
				return err
			}
			result.Applications = append(result.Applications, app)
			remaining = remaining.Sub(payment)
		}
		result.Unapplied = remaining
		return nil
	})
	if err != nil {
		return nil, s.fail("apply_earnings", driverID, err)
	}

	s.log.Info("earnings applied",
		zap.String("posting_id", posting.ID),
		zap.String("driver_id", driverID),
		zap.String("amount", amount.StringFixed(2)),
		zap.Int("balances_touched", len(result.Applications)),
		zap.String("unapplied", result.Unapplied.StringFixed(2)))
	s.audit.LogEarnings(posting.ID, driverID, amount, result.Unapplied, len(result.Applications))

	return result, nil
}
