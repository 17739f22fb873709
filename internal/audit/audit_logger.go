package audit

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	EventObligationCreated = "OBLIGATION_CREATED"
	EventEarningsApplied   = "EARNINGS_APPLIED"
	EventPaymentAllocated  = "PAYMENT_ALLOCATED"
	EventPostingVoided     = "POSTING_VOIDED"
	EventError             = "ERROR"
)

type AuditEvent struct {
	Timestamp   time.Time         `json:"timestamp"`
	EventType   string            `json:"event_type"`
	PostingID   string            `json:"posting_id,omitempty"`
	ReferenceID string            `json:"reference_id,omitempty"`
	DriverID    string            `json:"driver_id"`
	Amount      decimal.Decimal   `json:"amount"`
	Status      string            `json:"status"`
	Details     map[string]string `json:"details,omitempty"`
}

// Logger writes one audit record per committed ledger event.
type Logger struct {
	log *zap.Logger
	now func() time.Time
}

func NewLogger(log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{log: log.Named("audit"), now: time.Now}
}

func (a *Logger) LogObligation(postingID, referenceID, driverID string, amount decimal.Decimal, category string) {
	a.write(AuditEvent{
		EventType:   EventObligationCreated,
		PostingID:   postingID,
		ReferenceID: referenceID,
		DriverID:    driverID,
		Amount:      amount,
		Status:      "SUCCESS",
		Details:     map[string]string{"category": category},
	})
}

func (a *Logger) LogEarnings(postingID, driverID string, amount, unapplied decimal.Decimal, balancesTouched int) {
	a.write(AuditEvent{
		EventType: EventEarningsApplied,
		PostingID: postingID,
		DriverID:  driverID,
		Amount:    amount,
		Status:    "SUCCESS",
		Details: map[string]string{
			"unapplied":        unapplied.StringFixed(2),
			"balances_touched": strconv.Itoa(balancesTouched),
		},
	})
}

func (a *Logger) LogAllocation(postingID, referenceID, driverID string, amount decimal.Decimal, method string) {
	a.write(AuditEvent{
		EventType:   EventPaymentAllocated,
		PostingID:   postingID,
		ReferenceID: referenceID,
		DriverID:    driverID,
		Amount:      amount,
		Status:      "SUCCESS",
		Details:     map[string]string{"payment_method": method},
	})
}

func (a *Logger) LogVoid(postingID, reversalID, driverID string, amount decimal.Decimal, reason string) {
	a.write(AuditEvent{
		EventType: EventPostingVoided,
		PostingID: postingID,
		DriverID:  driverID,
		Amount:    amount,
		Status:    "SUCCESS",
		Details: map[string]string{
			"reversal_id": reversalID,
			"reason":      reason,
		},
	})
}

func (a *Logger) LogError(operation, driverID string, err error) {
	a.write(AuditEvent{
		EventType: EventError,
		DriverID:  driverID,
		Status:    "FAILED",
		Details: map[string]string{
			"operation": operation,
			"error":     err.Error(),
		},
	})
}

func (a *Logger) write(event AuditEvent) {
	event.Timestamp = a.now().UTC()
	a.log.Info("AUDIT",
		zap.Time("timestamp", event.Timestamp),
		zap.String("event_type", event.EventType),
		zap.String("posting_id", event.PostingID),
		zap.String("reference_id", event.ReferenceID),
		zap.String("driver_id", event.DriverID),
		zap.String("amount", event.Amount.StringFixed(2)),
		zap.String("status", event.Status),
		zap.Any("details", event.Details),
	)
}
