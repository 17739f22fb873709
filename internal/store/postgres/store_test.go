package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetlease/backend/internal/models"
	"github.com/fleetlease/backend/internal/store"
)

var now = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func q(query string) string {
	return regexp.QuoteMeta(query)
}

func balanceRow(id, ref string, amount string, version int) *sqlmock.Rows {
	return sqlmock.NewRows(strings.Split(balanceColumns, ", ")).
		AddRow(id, "LEASE", ref, amount, "0", amount, "OPEN", "driver-1", nil, nil, nil, version, now, now)
}

func TestStore_Migrate(t *testing.T) {
	s, mock := newMock(t)
	for range schema {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_WithinTx(t *testing.T) {
	t.Run("commits on success", func(t *testing.T) {
		s, mock := newMock(t)
		amount := decimal.RequireFromString("42.50")
		p := &models.Posting{
			ID: "p1", Category: models.CategoryEZPass, Amount: amount, EntryType: models.EntryDebit,
			Status: models.PostingPosted, ReferenceID: "EZ-1", DriverID: "driver-1", CreatedAt: now,
		}

		mock.ExpectBegin()
		mock.ExpectExec(q("INSERT INTO postings (" + postingColumns + ")")).
			WithArgs("p1", models.CategoryEZPass, amount, models.EntryDebit, models.PostingPosted, "EZ-1", nil,
				"driver-1", nil, nil, nil, "", "", now, nil).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			return tx.InsertPosting(ctx, p)
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		s, mock := newMock(t)
		boom := errors.New("boom")

		mock.ExpectBegin()
		mock.ExpectRollback()

		err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectBegin().WillReturnError(sql.ErrConnDone)

		err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			t.Fatal("callback must not run")
			return nil
		})
		assert.ErrorIs(t, err, sql.ErrConnDone)
	})
}

func TestTx_InsertBalance_UniqueViolation(t *testing.T) {
	s, mock := newMock(t)
	b := &models.Balance{
		ID: "b1", Category: models.CategoryLease, ReferenceID: "L-1",
		OriginalAmount: decimal.NewFromInt(100), Balance: decimal.NewFromInt(100),
		Status: models.BalanceOpen, DriverID: "driver-1", CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO balances (" + balanceColumns + ")")).
		WillReturnError(&pq.Error{Code: pqUniqueViolation, Constraint: "balances_reference_id_key"})
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertBalance(ctx, b)
	})
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
	assert.Contains(t, err.Error(), "balances_reference_id_key")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTx_LockAndUpdateBalance(t *testing.T) {
	t.Run("version matches", func(t *testing.T) {
		s, mock := newMock(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("SELECT " + balanceColumns + " FROM balances WHERE reference_id = $1 FOR UPDATE")).
			WithArgs("L-1").
			WillReturnRows(balanceRow("b1", "L-1", "100.00", 3))
		mock.ExpectExec(q("UPDATE balances SET balance = $1, status = $2, version = version + 1, updated_at = $3 WHERE id = $4 AND version = $5")).
			WithArgs(decimal.NewFromInt(60), models.BalanceOpen, now, "b1", 3).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			b, err := tx.LockBalanceByReference(ctx, "L-1")
			require.NoError(t, err)
			assert.True(t, b.Balance.Equal(decimal.NewFromInt(100)))
			assert.Equal(t, models.CategoryLease, b.Category)

			b.Apply(decimal.NewFromInt(40))
			b.UpdatedAt = now
			require.NoError(t, tx.UpdateBalance(ctx, b))
			assert.Equal(t, 4, b.Version)
			return nil
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale version", func(t *testing.T) {
		s, mock := newMock(t)

		mock.ExpectBegin()
		mock.ExpectExec(q("UPDATE balances SET")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		b := &models.Balance{ID: "b1", Balance: decimal.NewFromInt(1), Status: models.BalanceOpen, Version: 2}
		err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			return tx.UpdateBalance(ctx, b)
		})
		assert.ErrorIs(t, err, store.ErrConcurrentUpdate)
		assert.Equal(t, 2, b.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing reference", func(t *testing.T) {
		s, mock := newMock(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FROM balances WHERE reference_id = $1 FOR UPDATE")).
			WithArgs("nope").
			WillReturnRows(sqlmock.NewRows(strings.Split(balanceColumns, ", ")))
		mock.ExpectRollback()

		err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			_, err := tx.LockBalanceByReference(ctx, "nope")
			return err
		})
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTx_LockOpenBalances(t *testing.T) {
	s, mock := newMock(t)

	rows := balanceRow("b1", "L-1", "100.00", 0).
		AddRow("b2", "TAXES", "T-1", "10.00", "0", "10.00", "OPEN", "driver-1", nil, nil, nil, 0, now, now)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM balances WHERE driver_id = $1 AND status = $2 AND balance > 0 ORDER BY id FOR UPDATE")).
		WithArgs("driver-1", models.BalanceOpen).
		WillReturnRows(rows)
	mock.ExpectCommit()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		balances, err := tx.LockOpenBalances(ctx, "driver-1")
		require.NoError(t, err)
		require.Len(t, balances, 2)
		assert.Equal(t, models.CategoryTaxes, balances[1].Category)
		return nil
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTx_LockBalancesByReferences(t *testing.T) {
	s, mock := newMock(t)

	rows := balanceRow("b1", "Z-1", "10.00", 0).
		AddRow("b2", "LEASE", "A-1", "20.00", "0", "20.00", "OPEN", "driver-1", nil, nil, nil, 0, now, now)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM balances WHERE reference_id = ANY($1) ORDER BY id FOR UPDATE")).
		WithArgs(pq.Array([]string{"A-1", "Z-1", "NOPE"})).
		WillReturnRows(rows)
	mock.ExpectCommit()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		balances, err := tx.LockBalancesByReferences(ctx, []string{"A-1", "Z-1", "NOPE"})
		require.NoError(t, err)
		require.Len(t, balances, 2)
		assert.Equal(t, "b1", balances[0].ID)
		assert.Equal(t, "A-1", balances[1].ReferenceID)
		return nil
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTx_MarkPostingVoided(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE postings SET status = $1, void_reason = $2, voided_at = $3 WHERE id = $4 AND status = $5")).
		WithArgs(models.PostingVoided, "typo", now, "p1", models.PostingPosted).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.MarkPostingVoided(ctx, "p1", "typo", now)
	})
	assert.ErrorIs(t, err, store.ErrConcurrentUpdate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTx_Applications(t *testing.T) {
	s, mock := newMock(t)
	a := &models.BalanceApplication{ID: "a1", BalanceID: "b1", PostingID: "p1", Amount: decimal.NewFromInt(10), CreatedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO balance_applications (id, balance_id, posting_id, amount, created_at) VALUES ($1, $2, $3, $4, $5)")).
		WithArgs("a1", "b1", "p1", decimal.NewFromInt(10), now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(q("FROM balance_applications WHERE posting_id = $1 ORDER BY created_at, id")).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance_id", "posting_id", "amount", "created_at"}).
			AddRow("a1", "b1", "p1", "10.00", now))
	mock.ExpectCommit()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.InsertApplication(ctx, a))
		apps, err := tx.ApplicationsByPosting(ctx, "p1")
		require.NoError(t, err)
		require.Len(t, apps, 1)
		assert.True(t, apps[0].Amount.Equal(decimal.NewFromInt(10)))
		return nil
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetBalance_WithPaymentRefs(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(q("SELECT " + balanceColumns + " FROM balances WHERE reference_id = $1")).
		WithArgs("L-1").
		WillReturnRows(balanceRow("b1", "L-1", "100.00", 2))
	mock.ExpectQuery(q("SELECT balance_id, posting_id FROM balance_applications WHERE balance_id = ANY($1)")).
		WithArgs(pq.Array([]string{"b1"})).
		WillReturnRows(sqlmock.NewRows([]string{"balance_id", "posting_id"}).
			AddRow("b1", "p7").
			AddRow("b1", "p9"))

	b, err := s.GetBalance(context.Background(), "L-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p7", "p9"}, b.AppliedPaymentRefs)
	assert.Equal(t, 2, b.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetPosting_NotFound(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(q("FROM postings WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(strings.Split(postingColumns, ", ")))

	_, err := s.GetPosting(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_ListPostings_Filters(t *testing.T) {
	s, mock := newMock(t)
	cats := []models.Category{models.CategoryLease, models.CategoryTaxes}

	mock.ExpectQuery(q("SELECT " + postingColumns + " FROM postings WHERE driver_id = $1 AND category = ANY($2) ORDER BY created_at, id LIMIT $3 OFFSET $4")).
		WithArgs("driver-1", pq.Array([]string{"LEASE", "TAXES"}), 10, 20).
		WillReturnRows(sqlmock.NewRows(strings.Split(postingColumns, ", ")).
			AddRow("p1", "LEASE", "100.00", "DEBIT", "POSTED", "L-1", nil, "driver-1", "lease-1", nil, nil, "", "", now, nil))

	postings, err := s.ListPostings(context.Background(), models.PostingFilter{
		DriverID:   "driver-1",
		Categories: cats,
		Limit:      10,
		Offset:     20,
	})
	require.NoError(t, err)
	require.Len(t, postings, 1)
	require.NotNil(t, postings[0].LeaseID)
	assert.Equal(t, "lease-1", *postings[0].LeaseID)
	assert.Nil(t, postings[0].ReversalForID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListBalances_NoFilter(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(q("SELECT "+balanceColumns+" FROM balances ORDER BY created_at, id") + "$").
		WillReturnRows(sqlmock.NewRows(strings.Split(balanceColumns, ", ")))

	balances, err := s.ListBalances(context.Background(), models.BalanceFilter{})
	require.NoError(t, err)
	assert.Empty(t, balances)
	assert.NoError(t, mock.ExpectationsWereMet())
}
