package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetlease/backend/internal/models"
)

func TestService_DriverSummary(t *testing.T) {
	s, _ := newTestService(t)
	mustObligation(t, s, models.CategoryLease, "100", "LEASE-1")
	mustObligation(t, s, models.CategoryLease, "50", "LEASE-2")
	mustObligation(t, s, models.CategoryTaxes, "10", "TAX-1")
	_, err := s.ApplyEarnings(context.Background(), driver, dec("20"), nil)
	require.NoError(t, err)

	summary, err := s.DriverSummary(context.Background(), driver)
	require.NoError(t, err)

	assert.Equal(t, driver, summary.DriverID)
	assert.Equal(t, 2, summary.OpenBalances)
	assert.True(t, summary.Total.Equal(dec("140")))
	assert.True(t, summary.Outstanding[models.CategoryLease].Equal(dec("140")))
	_, hasTaxes := summary.Outstanding[models.CategoryTaxes]
	assert.False(t, hasTaxes)

	_, err = s.DriverSummary(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidOperation)
}

func TestService_ListPostings_Filters(t *testing.T) {
	s, _ := newTestService(t)
	mustObligation(t, s, models.CategoryLease, "100", "LEASE-1")
	mustObligation(t, s, models.CategoryTaxes, "10", "TAX-1")
	mustObligation(t, s, models.CategoryEZPass, "5", "EZ-1")
	_, err := s.ApplyEarnings(context.Background(), driver, dec("5"), nil)
	require.NoError(t, err)

	debits, err := s.ListPostings(context.Background(), models.PostingFilter{
		DriverID:   driver,
		Categories: []models.Category{models.CategoryLease, models.CategoryTaxes},
	})
	require.NoError(t, err)
	require.Len(t, debits, 2)
	assert.Equal(t, "LEASE-1", debits[0].ReferenceID)
	assert.Equal(t, "TAX-1", debits[1].ReferenceID)

	page, err := s.ListPostings(context.Background(), models.PostingFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "EZ-1", page[0].ReferenceID)
	assert.Equal(t, models.CategoryEarnings, page[1].Category)
}

func TestService_ListBalances_Status(t *testing.T) {
	s, _ := newTestService(t)
	mustObligation(t, s, models.CategoryTaxes, "10", "TAX-1")
	mustObligation(t, s, models.CategoryLease, "100", "LEASE-1")
	_, err := s.ApplyEarnings(context.Background(), driver, dec("10"), nil)
	require.NoError(t, err)

	closed, err := s.ListBalances(context.Background(), models.BalanceFilter{Status: models.BalanceClosed})
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "TAX-1", closed[0].ReferenceID)
	assert.Len(t, closed[0].AppliedPaymentRefs, 1)
}

func TestService_Get_NotFound(t *testing.T) {
	s, _ := newTestService(t)

	_, err := s.GetBalance(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrBalanceNotFound)

	_, err = s.GetPosting(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrPostingNotFound)
}

func TestClampPage(t *testing.T) {
	limit, offset := clampPage(0, -3)
	assert.Equal(t, MaxPageSize, limit)
	assert.Equal(t, 0, offset)

	limit, _ = clampPage(MaxPageSize+1, 0)
	assert.Equal(t, MaxPageSize, limit)

	limit, offset = clampPage(10, 20)
	assert.Equal(t, 10, limit)
	assert.Equal(t, 20, offset)
}
