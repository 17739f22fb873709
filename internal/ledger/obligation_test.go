package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetlease/backend/internal/models"
)

func TestService_CreateObligation(t *testing.T) {
	s, st := newTestService(t)
	lease := "lease-9"

	b, err := s.CreateObligation(context.Background(), ObligationRequest{
		Category:    models.CategoryEZPass,
		Amount:      dec("42.50"),
		ReferenceID: "EZ-100",
		DriverID:    driver,
		LeaseID:     &lease,
		Description: "toll",
	})
	require.NoError(t, err)

	assert.True(t, b.Balance.Equal(dec("42.50")))
	assert.True(t, b.OriginalAmount.Equal(b.Balance))
	assert.True(t, b.PriorBalance.IsZero())
	assert.Equal(t, models.BalanceOpen, b.Status)
	assert.Equal(t, "EZ-100", b.ReferenceID)

	postings := allPostings(t, st)
	require.Len(t, postings, 1)
	p := postings[0]
	assert.Equal(t, models.EntryDebit, p.EntryType)
	assert.Equal(t, models.PostingPosted, p.Status)
	assert.Equal(t, models.CategoryEZPass, p.Category)
	assert.True(t, p.Amount.Equal(dec("42.50")))
	assert.Equal(t, "EZ-100", p.ReferenceID)
	assert.Equal(t, &lease, p.LeaseID)

	stored := balanceOf(t, s, "EZ-100")
	assert.Empty(t, stored.AppliedPaymentRefs)
	assertLedgerConsistent(t, st)
}

func TestService_CreateObligation_Rejected(t *testing.T) {
	tests := []struct {
		name string
		req  ObligationRequest
	}{
		{"zero amount", ObligationRequest{Category: models.CategoryLease, Amount: decimal.Zero, ReferenceID: "R", DriverID: driver}},
		{"negative amount", ObligationRequest{Category: models.CategoryLease, Amount: dec("-5"), ReferenceID: "R", DriverID: driver}},
		{"unknown category", ObligationRequest{Category: "PARKING", Amount: dec("5"), ReferenceID: "R", DriverID: driver}},
		{"earnings category", ObligationRequest{Category: models.CategoryEarnings, Amount: dec("5"), ReferenceID: "R", DriverID: driver}},
		{"interim payment category", ObligationRequest{Category: models.CategoryInterimPayment, Amount: dec("5"), ReferenceID: "R", DriverID: driver}},
		{"missing reference", ObligationRequest{Category: models.CategoryLease, Amount: dec("5"), DriverID: driver}},
		{"missing driver", ObligationRequest{Category: models.CategoryLease, Amount: dec("5"), ReferenceID: "R"}},
		{"sub-cent amount", ObligationRequest{Category: models.CategoryLease, Amount: dec("10.005"), ReferenceID: "R", DriverID: driver}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, st := newTestService(t)

			b, err := s.CreateObligation(context.Background(), tt.req)
			assert.Nil(t, b)
			assert.ErrorIs(t, err, ErrInvalidOperation)

			var invalid *InvalidOperationError
			assert.ErrorAs(t, err, &invalid)
			assert.Empty(t, allPostings(t, st))
		})
	}
}

func TestService_CreateObligation_TrailingZerosAccepted(t *testing.T) {
	s, _ := newTestService(t)

	b, err := s.CreateObligation(context.Background(), ObligationRequest{
		Category: models.CategoryLease, Amount: dec("10.500"), ReferenceID: "R", DriverID: driver,
	})
	require.NoError(t, err)
	assert.True(t, b.Balance.Equal(dec("10.5")))
}

func TestService_CreateObligation_DuplicateReference(t *testing.T) {
	s, st := newTestService(t)
	mustObligation(t, s, models.CategoryPVB, "65", "PVB-1")

	_, err := s.CreateObligation(context.Background(), ObligationRequest{
		Category:    models.CategoryPVB,
		Amount:      dec("65"),
		ReferenceID: "PVB-1",
		DriverID:    driver,
	})
	assert.ErrorIs(t, err, ErrInvalidOperation)

	assert.Len(t, allPostings(t, st), 1)
	assert.True(t, balanceOf(t, s, "PVB-1").Balance.Equal(dec("65")))
}

func TestService_CreateObligation_PersistenceFailureLeavesNothing(t *testing.T) {
	s, st := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.CreateObligation(ctx, ObligationRequest{
		Category:    models.CategoryRepair,
		Amount:      dec("300"),
		ReferenceID: "REP-1",
		DriverID:    driver,
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, allPostings(t, st))

	_, err = s.GetBalance(context.Background(), "REP-1")
	assert.ErrorIs(t, err, ErrBalanceNotFound)
}
