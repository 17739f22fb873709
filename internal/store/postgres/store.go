package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/fleetlease/backend/internal/models"
	"github.com/fleetlease/backend/internal/store"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

const (
	postingColumns = "id, category, amount, entry_type, status, reference_id, reversal_for_id, driver_id, lease_id, vehicle_id, medallion_id, description, void_reason, created_at, voided_at"
	balanceColumns = "id, category, reference_id, original_amount, prior_balance, balance, status, driver_id, lease_id, vehicle_id, medallion_id, version, created_at, updated_at"

	pqUniqueViolation = "23505"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(ctx, &tx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// ==================== Reader ====================

func (s *Store) GetPosting(ctx context.Context, postingID string) (*models.Posting, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+postingColumns+" FROM postings WHERE id = $1", postingID)
	return scanPosting(row)
}

func (s *Store) GetBalance(ctx context.Context, referenceID string) (*models.Balance, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+balanceColumns+" FROM balances WHERE reference_id = $1", referenceID)
	b, err := scanBalance(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadPaymentRefs(ctx, []*models.Balance{b}); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) ListPostings(ctx context.Context, f models.PostingFilter) ([]*models.Posting, error) {
	var w where
	w.eq("driver_id", f.DriverID)
	w.eq("lease_id", f.LeaseID)
	w.eq("reference_id", f.ReferenceID)
	w.eq("status", string(f.Status))
	w.categories(f.Categories)

	query := "SELECT " + postingColumns + " FROM postings" + w.String() +
		" ORDER BY created_at, id" + w.page(f.Limit, f.Offset)
	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var postings []*models.Posting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, err
		}
		postings = append(postings, p)
	}
	return postings, rows.Err()
}

func (s *Store) ListBalances(ctx context.Context, f models.BalanceFilter) ([]*models.Balance, error) {
	var w where
	w.eq("driver_id", f.DriverID)
	w.eq("lease_id", f.LeaseID)
	w.eq("status", string(f.Status))
	w.categories(f.Categories)

	query := "SELECT " + balanceColumns + " FROM balances" + w.String() +
		" ORDER BY created_at, id" + w.page(f.Limit, f.Offset)
	balances, err := queryBalances(ctx, s.db, query, w.args...)
	if err != nil {
		return nil, err
	}
	if err := s.loadPaymentRefs(ctx, balances); err != nil {
		return nil, err
	}
	return balances, nil
}

func (s *Store) loadPaymentRefs(ctx context.Context, balances []*models.Balance) error {
	if len(balances) == 0 {
		return nil
	}
	byID := make(map[string]*models.Balance, len(balances))
	ids := make([]string, 0, len(balances))
	for _, b := range balances {
		byID[b.ID] = b
		ids = append(ids, b.ID)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT balance_id, posting_id FROM balance_applications WHERE balance_id = ANY($1) ORDER BY created_at, id",
		pq.Array(ids))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var balanceID, postingID string
		if err := rows.Scan(&balanceID, &postingID); err != nil {
			return err
		}
		if b, ok := byID[balanceID]; ok {
			b.AppliedPaymentRefs = append(b.AppliedPaymentRefs, postingID)
		}
	}
	return rows.Err()
}

// ==================== Tx ====================

type tx struct {
	tx *sql.Tx
}

func (t *tx) InsertPosting(ctx context.Context, p *models.Posting) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO postings ("+postingColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)",
		p.ID, p.Category, p.Amount, p.EntryType, p.Status, p.ReferenceID, p.ReversalForID,
		p.DriverID, p.LeaseID, p.VehicleID, p.MedallionID, p.Description, p.VoidReason,
		p.CreatedAt, p.VoidedAt)
	return mapError(err)
}

func (t *tx) LockPosting(ctx context.Context, postingID string) (*models.Posting, error) {
	row := t.tx.QueryRowContext(ctx,
		"SELECT "+postingColumns+" FROM postings WHERE id = $1 FOR UPDATE", postingID)
	return scanPosting(row)
}

func (t *tx) MarkPostingVoided(ctx context.Context, postingID, reason string, at time.Time) error {
	result, err := t.tx.ExecContext(ctx,
		"UPDATE postings SET status = $1, void_reason = $2, voided_at = $3 WHERE id = $4 AND status = $5",
		models.PostingVoided, reason, at, postingID, models.PostingPosted)
	if err != nil {
		return err
	}
	return expectOneRow(result)
}

func (t *tx) InsertBalance(ctx context.Context, b *models.Balance) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO balances ("+balanceColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)",
		b.ID, b.Category, b.ReferenceID, b.OriginalAmount, b.PriorBalance, b.Balance, b.Status,
		b.DriverID, b.LeaseID, b.VehicleID, b.MedallionID, b.Version, b.CreatedAt, b.UpdatedAt)
	return mapError(err)
}

func (t *tx) LockBalance(ctx context.Context, balanceID string) (*models.Balance, error) {
	row := t.tx.QueryRowContext(ctx,
		"SELECT "+balanceColumns+" FROM balances WHERE id = $1 FOR UPDATE", balanceID)
	return scanBalance(row)
}

func (t *tx) LockBalanceByReference(ctx context.Context, referenceID string) (*models.Balance, error) {
	row := t.tx.QueryRowContext(ctx,
		"SELECT "+balanceColumns+" FROM balances WHERE reference_id = $1 FOR UPDATE", referenceID)
	return scanBalance(row)
}

func (t *tx) LockBalancesByReferences(ctx context.Context, referenceIDs []string) ([]*models.Balance, error) {
	return queryBalances(ctx, t.tx,
		"SELECT "+balanceColumns+" FROM balances WHERE reference_id = ANY($1) ORDER BY id FOR UPDATE",
		pq.Array(referenceIDs))
}

func (t *tx) LockOpenBalances(ctx context.Context, driverID string) ([]*models.Balance, error) {
	return queryBalances(ctx, t.tx,
		"SELECT "+balanceColumns+" FROM balances WHERE driver_id = $1 AND status = $2 AND balance > 0 ORDER BY id FOR UPDATE",
		driverID, models.BalanceOpen)
}

func (t *tx) UpdateBalance(ctx context.Context, b *models.Balance) error {
	result, err := t.tx.ExecContext(ctx,
		"UPDATE balances SET balance = $1, status = $2, version = version + 1, updated_at = $3 WHERE id = $4 AND version = $5",
		b.Balance, b.Status, b.UpdatedAt, b.ID, b.Version)
	if err != nil {
		return err
	}
	if err := expectOneRow(result); err != nil {
		return fmt.Errorf("balance %s: %w", b.ID, err)
	}
	b.Version++
	return nil
}

func (t *tx) InsertApplication(ctx context.Context, a *models.BalanceApplication) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO balance_applications (id, balance_id, posting_id, amount, created_at) VALUES ($1, $2, $3, $4, $5)",
		a.ID, a.BalanceID, a.PostingID, a.Amount, a.CreatedAt)
	return mapError(err)
}

func (t *tx) ApplicationsByPosting(ctx context.Context, postingID string) ([]*models.BalanceApplication, error) {
	return queryApplications(ctx, t.tx,
		"SELECT id, balance_id, posting_id, amount, created_at FROM balance_applications WHERE posting_id = $1 ORDER BY created_at, id",
		postingID)
}

func (t *tx) ApplicationsByBalance(ctx context.Context, balanceID string) ([]*models.BalanceApplication, error) {
	return queryApplications(ctx, t.tx,
		"SELECT id, balance_id, posting_id, amount, created_at FROM balance_applications WHERE balance_id = $1 ORDER BY created_at, id",
		balanceID)
}

// ==================== helpers ====================

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPosting(row scanner) (*models.Posting, error) {
	var p models.Posting
	err := row.Scan(&p.ID, &p.Category, &p.Amount, &p.EntryType, &p.Status, &p.ReferenceID,
		&p.ReversalForID, &p.DriverID, &p.LeaseID, &p.VehicleID, &p.MedallionID,
		&p.Description, &p.VoidReason, &p.CreatedAt, &p.VoidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanBalance(row scanner) (*models.Balance, error) {
	var b models.Balance
	err := row.Scan(&b.ID, &b.Category, &b.ReferenceID, &b.OriginalAmount, &b.PriorBalance,
		&b.Balance, &b.Status, &b.DriverID, &b.LeaseID, &b.VehicleID, &b.MedallionID,
		&b.Version, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func queryBalances(ctx context.Context, q querier, query string, args ...any) ([]*models.Balance, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []*models.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func queryApplications(ctx context.Context, q querier, query string, args ...any) ([]*models.BalanceApplication, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []*models.BalanceApplication
	for rows.Next() {
		var a models.BalanceApplication
		if err := rows.Scan(&a.ID, &a.BalanceID, &a.PostingID, &a.Amount, &a.CreatedAt); err != nil {
			return nil, err
		}
		apps = append(apps, &a)
	}
	return apps, rows.Err()
}

func expectOneRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return store.ErrConcurrentUpdate
	}
	return nil
}

func mapError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return fmt.Errorf("%w: %s", store.ErrAlreadyExists, pqErr.Constraint)
	}
	return err
}

// where accumulates AND-ed filter clauses with positional arguments.
type where struct {
	clauses []string
	args    []any
}

func (w *where) eq(column, value string) {
	if value == "" {
		return
	}
	w.args = append(w.args, value)
	w.clauses = append(w.clauses, fmt.Sprintf("%s = $%d", column, len(w.args)))
}

func (w *where) categories(cats []models.Category) {
	if len(cats) == 0 {
		return
	}
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = string(c)
	}
	w.args = append(w.args, pq.Array(names))
	w.clauses = append(w.clauses, fmt.Sprintf("category = ANY($%d)", len(w.args)))
}

func (w *where) page(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		w.args = append(w.args, limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(w.args))
	}
	if offset > 0 {
		w.args = append(w.args, offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(w.args))
	}
	return b.String()
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}
