// Package memory is an in-process store.Store used by tests and local runs.
//
// Transactions are serialized by a single mutex and run against a private copy
// of the state which replaces the committed state only when the callback
// succeeds, so a failed transaction leaves nothing behind.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fleetlease/backend/internal/models"
	"github.com/fleetlease/backend/internal/store"
)

var _ store.Store = (*Store)(nil)

type state struct {
	postings     map[string]*models.Posting
	postingOrder []string
	balances     map[string]*models.Balance
	byReference  map[string]string
	applications []*models.BalanceApplication
}

func newState() *state {
	return &state{
		postings:    make(map[string]*models.Posting),
		balances:    make(map[string]*models.Balance),
		byReference: make(map[string]string),
	}
}

func (s *state) clone() *state {
	c := &state{
		postings:     make(map[string]*models.Posting, len(s.postings)),
		postingOrder: append([]string(nil), s.postingOrder...),
		balances:     make(map[string]*models.Balance, len(s.balances)),
		byReference:  make(map[string]string, len(s.byReference)),
		applications: make([]*models.BalanceApplication, len(s.applications)),
	}
	for id, p := range s.postings {
		c.postings[id] = copyPosting(p)
	}
	for id, b := range s.balances {
		c.balances[id] = copyBalance(b)
	}
	for ref, id := range s.byReference {
		c.byReference[ref] = id
	}
	for i, a := range s.applications {
		cp := *a
		c.applications[i] = &cp
	}
	return c
}

type Store struct {
	mu    sync.RWMutex
	state *state
}

func New() *Store {
	return &Store{state: newState()}
}

func (s *Store) Migrate(context.Context) error { return nil }
func (s *Store) Ping(context.Context) error    { return nil }
func (s *Store) Close() error                  { return nil }

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	working := s.state.clone()
	if err := fn(ctx, &tx{st: working}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.state = working
	return nil
}

// ==================== Reader ====================

func (s *Store) GetPosting(_ context.Context, postingID string) (*models.Posting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.state.postings[postingID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyPosting(p), nil
}

func (s *Store) GetBalance(_ context.Context, referenceID string) (*models.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.state.byReference[referenceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.state.withRefs(s.state.balances[id]), nil
}

func (s *Store) ListPostings(_ context.Context, f models.PostingFilter) ([]*models.Posting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Posting, 0)
	for _, id := range s.state.postingOrder {
		p := s.state.postings[id]
		if f.DriverID != "" && p.DriverID != f.DriverID {
			continue
		}
		if f.LeaseID != "" && deref(p.LeaseID) != f.LeaseID {
			continue
		}
		if f.ReferenceID != "" && p.ReferenceID != f.ReferenceID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if !hasCategory(f.Categories, p.Category) {
			continue
		}
		result = append(result, copyPosting(p))
	}
	return paginate(result, f.Limit, f.Offset), nil
}

func (s *Store) ListBalances(_ context.Context, f models.BalanceFilter) ([]*models.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Balance, 0)
	for _, b := range s.state.balances {
		if f.DriverID != "" && b.DriverID != f.DriverID {
			continue
		}
		if f.LeaseID != "" && deref(b.LeaseID) != f.LeaseID {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		if !hasCategory(f.Categories, b.Category) {
			continue
		}
		result = append(result, s.state.withRefs(b))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return paginate(result, f.Limit, f.Offset), nil
}

func (s *state) withRefs(b *models.Balance) *models.Balance {
	out := copyBalance(b)
	out.AppliedPaymentRefs = nil
	for _, a := range s.applications {
		if a.BalanceID == b.ID {
			out.AppliedPaymentRefs = append(out.AppliedPaymentRefs, a.PostingID)
		}
	}
	return out
}

// ==================== Tx ====================

type tx struct {
	st *state
}

func (t *tx) InsertPosting(_ context.Context, p *models.Posting) error {
	if _, exists := t.st.postings[p.ID]; exists {
		return fmt.Errorf("%w: posting %s", store.ErrAlreadyExists, p.ID)
	}
	if p.ReversalForID != nil {
		for _, other := range t.st.postings {
			if other.ReversalForID != nil && *other.ReversalForID == *p.ReversalForID {
				return fmt.Errorf("%w: reversal of %s", store.ErrAlreadyExists, *p.ReversalForID)
			}
		}
	}
	t.st.postings[p.ID] = copyPosting(p)
	t.st.postingOrder = append(t.st.postingOrder, p.ID)
	return nil
}

func (t *tx) LockPosting(_ context.Context, postingID string) (*models.Posting, error) {
	p, ok := t.st.postings[postingID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyPosting(p), nil
}

func (t *tx) MarkPostingVoided(_ context.Context, postingID, reason string, at time.Time) error {
	p, ok := t.st.postings[postingID]
	if !ok || p.Status != models.PostingPosted {
		return store.ErrConcurrentUpdate
	}
	p.Status = models.PostingVoided
	p.VoidReason = reason
	voidedAt := at
	p.VoidedAt = &voidedAt
	return nil
}

func (t *tx) InsertBalance(_ context.Context, b *models.Balance) error {
	if _, exists := t.st.balances[b.ID]; exists {
		return fmt.Errorf("%w: balance %s", store.ErrAlreadyExists, b.ID)
	}
	if _, exists := t.st.byReference[b.ReferenceID]; exists {
		return fmt.Errorf("%w: balance reference %s", store.ErrAlreadyExists, b.ReferenceID)
	}
	t.st.balances[b.ID] = copyBalance(b)
	t.st.byReference[b.ReferenceID] = b.ID
	return nil
}

func (t *tx) LockBalance(_ context.Context, balanceID string) (*models.Balance, error) {
	b, ok := t.st.balances[balanceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyBalance(b), nil
}

func (t *tx) LockBalanceByReference(_ context.Context, referenceID string) (*models.Balance, error) {
	id, ok := t.st.byReference[referenceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyBalance(t.st.balances[id]), nil
}

func (t *tx) LockBalancesByReferences(_ context.Context, referenceIDs []string) ([]*models.Balance, error) {
	seen := make(map[string]bool, len(referenceIDs))
	var result []*models.Balance
	for _, ref := range referenceIDs {
		id, ok := t.st.byReference[ref]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		result = append(result, copyBalance(t.st.balances[id]))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (t *tx) LockOpenBalances(_ context.Context, driverID string) ([]*models.Balance, error) {
	var result []*models.Balance
	for _, b := range t.st.balances {
		if b.DriverID == driverID && b.Status == models.BalanceOpen && b.Balance.IsPositive() {
			result = append(result, copyBalance(b))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (t *tx) UpdateBalance(_ context.Context, b *models.Balance) error {
	current, ok := t.st.balances[b.ID]
	if !ok || current.Version != b.Version {
		return fmt.Errorf("balance %s: %w", b.ID, store.ErrConcurrentUpdate)
	}
	current.Balance = b.Balance
	current.Status = b.Status
	current.UpdatedAt = b.UpdatedAt
	current.Version++
	b.Version++
	return nil
}

func (t *tx) InsertApplication(_ context.Context, a *models.BalanceApplication) error {
	cp := *a
	t.st.applications = append(t.st.applications, &cp)
	return nil
}

func (t *tx) ApplicationsByPosting(_ context.Context, postingID string) ([]*models.BalanceApplication, error) {
	var result []*models.BalanceApplication
	for _, a := range t.st.applications {
		if a.PostingID == postingID {
			cp := *a
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (t *tx) ApplicationsByBalance(_ context.Context, balanceID string) ([]*models.BalanceApplication, error) {
	var result []*models.BalanceApplication
	for _, a := range t.st.applications {
		if a.BalanceID == balanceID {
			cp := *a
			result = append(result, &cp)
		}
	}
	return result, nil
}

// ==================== helpers ====================

func copyPosting(p *models.Posting) *models.Posting {
	cp := *p
	return &cp
}

func copyBalance(b *models.Balance) *models.Balance {
	cp := *b
	cp.AppliedPaymentRefs = append([]string(nil), b.AppliedPaymentRefs...)
	return &cp
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func hasCategory(filter []models.Category, c models.Category) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == c {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, limit, offset int) []T {
	start := offset
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if limit == 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
