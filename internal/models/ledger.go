package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

// Flip returns the opposite side of the entry.
func (e EntryType) Flip() EntryType {
	if e == EntryDebit {
		return EntryCredit
	}
	return EntryDebit
}

type PostingStatus string

const (
	PostingPosted PostingStatus = "POSTED"
	PostingVoided PostingStatus = "VOIDED"
)

type BalanceStatus string

const (
	BalanceOpen   BalanceStatus = "OPEN"
	BalanceClosed BalanceStatus = "CLOSED"
)

// Posting is one immutable ledger transaction record.
// Only Status (and the void bookkeeping fields) may change after insert.
type Posting struct {
	ID            string          `json:"id" db:"id"`
	Category      Category        `json:"category" db:"category"`
	Amount        decimal.Decimal `json:"amount" db:"amount"` // positive = debit, negative = credit
	EntryType     EntryType       `json:"entry_type" db:"entry_type"`
	Status        PostingStatus   `json:"status" db:"status"`
	ReferenceID   string          `json:"reference_id" db:"reference_id"`
	ReversalForID *string         `json:"reversal_for_id,omitempty" db:"reversal_for_id"`
	DriverID      string          `json:"driver_id" db:"driver_id"`
	LeaseID       *string         `json:"lease_id,omitempty" db:"lease_id"`
	VehicleID     *string         `json:"vehicle_id,omitempty" db:"vehicle_id"`
	MedallionID   *string         `json:"medallion_id,omitempty" db:"medallion_id"`
	Description   string          `json:"description,omitempty" db:"description"`
	VoidReason    string          `json:"void_reason,omitempty" db:"void_reason"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	VoidedAt      *time.Time      `json:"voided_at,omitempty" db:"voided_at"`
}

// IsReversal reports whether the posting offsets an earlier one.
func (p *Posting) IsReversal() bool {
	return p.ReversalForID != nil
}

// Balance is the rolling amount still owed on one obligation.
type Balance struct {
	ID                 string          `json:"id" db:"id"`
	Category           Category        `json:"category" db:"category"`
	ReferenceID        string          `json:"reference_id" db:"reference_id"`
	OriginalAmount     decimal.Decimal `json:"original_amount" db:"original_amount"`
	PriorBalance       decimal.Decimal `json:"prior_balance" db:"prior_balance"`
	Balance            decimal.Decimal `json:"balance" db:"balance"`
	Status             BalanceStatus   `json:"status" db:"status"`
	AppliedPaymentRefs []string        `json:"applied_payment_refs"`
	DriverID           string          `json:"driver_id" db:"driver_id"`
	LeaseID            *string         `json:"lease_id,omitempty" db:"lease_id"`
	VehicleID          *string         `json:"vehicle_id,omitempty" db:"vehicle_id"`
	MedallionID        *string         `json:"medallion_id,omitempty" db:"medallion_id"`
	Version            int             `json:"version" db:"version"` // for optimistic locking
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// Owed is the ceiling the balance may never exceed.
func (b *Balance) Owed() decimal.Decimal {
	return b.OriginalAmount.Add(b.PriorBalance)
}

// Apply moves the balance by amount (positive pays down, negative restores)
// and recomputes the status from the new value.
func (b *Balance) Apply(amount decimal.Decimal) {
	b.Balance = b.Balance.Sub(amount)
	b.Refresh()
}

// Refresh derives OPEN/CLOSED from the current balance.
func (b *Balance) Refresh() {
	if b.Balance.LessThanOrEqual(decimal.Zero) {
		b.Status = BalanceClosed
		return
	}
	b.Status = BalanceOpen
}

// BalanceApplication is one row of a balance's payment audit trail.
type BalanceApplication struct {
	ID        string          `json:"id" db:"id"`
	BalanceID string          `json:"balance_id" db:"balance_id"`
	PostingID string          `json:"posting_id" db:"posting_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"` // positive reduces the balance
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// PostingFilter narrows posting listings. Zero values mean "any".
type PostingFilter struct {
	DriverID    string
	LeaseID     string
	ReferenceID string
	Categories  []Category
	Status      PostingStatus
	Limit       int
	Offset      int
}

// BalanceFilter narrows balance listings. Zero values mean "any".
type BalanceFilter struct {
	DriverID   string
	LeaseID    string
	Categories []Category
	Status     BalanceStatus
	Limit      int
	Offset     int
}
