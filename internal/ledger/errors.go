package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidOperation = errors.New("invalid ledger operation")
	ErrBalanceNotFound  = errors.New("balance not found")
	ErrPostingNotFound  = errors.New("posting not found")
)

// InvalidOperationError is returned when a request violates a ledger rule.
type InvalidOperationError struct {
	Reason string
}

func (e *InvalidOperationError) Error() string {
	return fmt.Sprintf("invalid ledger operation: %s", e.Reason)
}

func (e *InvalidOperationError) Unwrap() error { return ErrInvalidOperation }

func invalidf(format string, args ...any) error {
	return &InvalidOperationError{Reason: fmt.Sprintf(format, args...)}
}

type BalanceNotFoundError struct {
	ReferenceID string
}

func (e *BalanceNotFoundError) Error() string {
	return fmt.Sprintf("no balance for reference %q", e.ReferenceID)
}

func (e *BalanceNotFoundError) Unwrap() error { return ErrBalanceNotFound }

type PostingNotFoundError struct {
	PostingID string
}

func (e *PostingNotFoundError) Error() string {
	return fmt.Sprintf("posting %q not found", e.PostingID)
}

func (e *PostingNotFoundError) Unwrap() error { return ErrPostingNotFound }
