// Package store defines persistence for the posting log and the balance tracker.
//
// Every ledger mutation runs through Store.WithinTx: the callback receives a Tx
// whose writes commit together or not at all. Balance rows read through a Tx are
// locked until the transaction ends.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fleetlease/backend/internal/models"
)

var (
	ErrNotFound         = errors.New("store: not found")
	ErrAlreadyExists    = errors.New("store: already exists")
	ErrConcurrentUpdate = errors.New("store: concurrent update")
)

// Tx is the set of row operations available inside one unit of work.
type Tx interface {
	InsertPosting(ctx context.Context, p *models.Posting) error
	// LockPosting reads a posting and holds its row lock for the rest of the transaction.
	LockPosting(ctx context.Context, postingID string) (*models.Posting, error)
	MarkPostingVoided(ctx context.Context, postingID, reason string, at time.Time) error

	InsertBalance(ctx context.Context, b *models.Balance) error
	LockBalance(ctx context.Context, balanceID string) (*models.Balance, error)
	// LockBalanceByReference returns ErrNotFound when no balance carries the reference.
	LockBalanceByReference(ctx context.Context, referenceID string) (*models.Balance, error)
	// LockBalancesByReferences locks the balances carrying any of the references,
	// in id order. Unknown references are simply absent from the result.
	LockBalancesByReferences(ctx context.Context, referenceIDs []string) ([]*models.Balance, error)
	// LockOpenBalances locks every OPEN balance of the driver with a positive amount, in id order.
	// Every multi-row balance lock is taken in id order so transactions cannot deadlock.
	LockOpenBalances(ctx context.Context, driverID string) ([]*models.Balance, error)
	// UpdateBalance persists balance and status, guarded by b.Version.
	// On success b.Version is incremented; a stale version yields ErrConcurrentUpdate.
	UpdateBalance(ctx context.Context, b *models.Balance) error

	InsertApplication(ctx context.Context, a *models.BalanceApplication) error
	ApplicationsByPosting(ctx context.Context, postingID string) ([]*models.BalanceApplication, error)
	ApplicationsByBalance(ctx context.Context, balanceID string) ([]*models.BalanceApplication, error)
}

// Reader serves the read projections. Returned balances carry AppliedPaymentRefs.
type Reader interface {
	GetPosting(ctx context.Context, postingID string) (*models.Posting, error)
	GetBalance(ctx context.Context, referenceID string) (*models.Balance, error)
	ListPostings(ctx context.Context, f models.PostingFilter) ([]*models.Posting, error)
	ListBalances(ctx context.Context, f models.BalanceFilter) ([]*models.Balance, error)
}

type Store interface {
	Reader

	// WithinTx runs fn in a single transaction. Any error from fn, or a
	// cancelled ctx, rolls everything back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
