// Package apperr holds the error taxonomy shared by the account lifecycle
// manager, the transaction engine and the request layer. Every failure the
// core reports is an *Error with a stable Kind; causes from the stores are
// kept for logging but never surface in the message.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the stable code of a reported failure
type Kind string

const (
	OwnerNotFound              Kind = "USER_NOT_FOUND"
	AccountNotFound            Kind = "ACCOUNT_NOT_FOUND"
	TransactionNotFound        Kind = "TRANSACTION_NOT_FOUND"
	OwnerAccountMismatch       Kind = "USER_ACCOUNT_UNMATCH"
	TransactionAccountMismatch Kind = "TRANSACTION_ACCOUNT_UNMATCH"
	AccountAlreadyClosed       Kind = "ACCOUNT_ALREADY_UNREGISTERED"
	BalanceNotZero             Kind = "BALANCE_NOT_EMPTY"
	AmountExceedsBalance       Kind = "AMOUNT_EXCEED_BALANCE"
	CancelMustBeFull           Kind = "CANCEL_MUST_FULLY"
	TransactionTooOldToCancel  Kind = "TOO_OLD_ORDER_TO_CANCEL"
	TooManyAccounts            Kind = "MAX_ACCOUNT_PER_USER_10"
	InvalidRequest             Kind = "INVALID_REQUEST"
	LockTimeout                Kind = "ACCOUNT_TRANSACTION_LOCK"
	InternalError              Kind = "INTERNAL_SERVER_ERROR"
)

var messages = map[Kind]string{
	OwnerNotFound:              "user not found",
	AccountNotFound:            "account not found",
	TransactionNotFound:        "transaction not found",
	OwnerAccountMismatch:       "user is not the owner of the account",
	TransactionAccountMismatch: "transaction did not occur on this account",
	AccountAlreadyClosed:       "account is already unregistered",
	BalanceNotZero:             "account with remaining balance cannot be unregistered",
	AmountExceedsBalance:       "amount exceeds account balance",
	CancelMustBeFull:           "partial cancellation is not allowed",
	TransactionTooOldToCancel:  "transactions older than one year cannot be cancelled",
	TooManyAccounts:            "a user may hold at most 10 accounts",
	InvalidRequest:             "invalid request",
	LockTimeout:                "account is in use by another transaction",
	InternalError:              "internal server error",
}

// Message returns the default human readable text for k
func (k Kind) Message() string {
	if m, ok := messages[k]; ok {
		return m
	}

	return string(k)
}

// Error is a reported failure of the core
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so callers can compare against
// New(kind) or use the package level Is helper.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return t.Kind == e.Kind
}

// New returns an error of kind k carrying the default message
func New(k Kind) *Error {
	return &Error{Kind: k, Message: k.Message()}
}

// Newf returns an error of kind k with a formatted message
func Newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected failure. The cause is kept for logs only.
func Internal(err error) *Error {
	return &Error{Kind: InternalError, Message: InternalError.Message(), Err: err}
}

// Is reports whether err is an *Error of kind k
func Is(err error, k Kind) bool {
	return KindOf(err) == k
}

// KindOf returns the kind of err. Errors outside the taxonomy are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return InternalError
}

// From converts err into an *Error, wrapping unknown errors as internal
func From(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	return Internal(err)
}
