package market

import (
	"errors"
	"fmt"
)

// Validation errors are returned before any collaborator is called.
var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidUnits         = errors.New("invalid units")
	ErrInvalidListingID     = errors.New("invalid listing id")
	ErrInvalidUserID        = errors.New("invalid user id")
	ErrInvalidBidID         = errors.New("invalid bid id")
	ErrInvalidClaimID       = errors.New("invalid claim id")
	ErrInvalidMetadataJSON  = errors.New("invalid metadata json")
	ErrInvalidListingStatus = errors.New("invalid listing status")
	ErrInvalidBidStatus     = errors.New("invalid bid status")
	ErrInvalidClaimStatus   = errors.New("invalid claim status")
	ErrInvalidWeekday       = errors.New("invalid weekday")
	ErrInvalidClockTime     = errors.New("invalid clock time")
	ErrInvalidRule          = errors.New("invalid availability rule")
	ErrInvalidHorizon       = errors.New("invalid horizon")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// Business-rule errors reported by collaborators. The core converts them into
// outcome reasons instead of returning them to callers.
var (
	ErrStatusClosed      = errors.New("listing is not open")
	ErrBelowFloor        = errors.New("bid below minimum floor")
	ErrBelowCurrent      = errors.New("bid not above current bid")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrCapacityExhausted = errors.New("capacity exhausted")
	ErrSlotElapsed       = errors.New("slot already started")
	ErrNotReservable     = errors.New("listing is not reservable")
	ErrUnknownListing    = errors.New("unknown listing")
	ErrDuplicateRef      = errors.New("duplicate reference")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// Reason is a stable, user-facing business-rule code.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonStatusClosed        Reason = "status_closed"
	ReasonBelowFloor          Reason = "below_floor"
	ReasonBelowCurrent        Reason = "below_current"
	ReasonInsufficientBalance Reason = "insufficient_funds"
	ReasonProviderError       Reason = "provider_error"
	ReasonCapacityExhausted   Reason = "capacity_exhausted"
	ReasonSlotElapsed         Reason = "slot_elapsed"
	ReasonNotReservable       Reason = "not_reservable"
	ReasonOrphanedCharge      Reason = "orphaned_charge"
)

// String returns the wire code.
func (reason Reason) String() string {
	return string(reason)
}

// ReasonFromError maps a collaborator business-rule error to its reason.
func ReasonFromError(err error) (Reason, bool) {
	switch {
	case errors.Is(err, ErrStatusClosed):
		return ReasonStatusClosed, true
	case errors.Is(err, ErrBelowFloor):
		return ReasonBelowFloor, true
	case errors.Is(err, ErrBelowCurrent):
		return ReasonBelowCurrent, true
	case errors.Is(err, ErrInsufficientFunds):
		return ReasonInsufficientBalance, true
	case errors.Is(err, ErrCapacityExhausted):
		return ReasonCapacityExhausted, true
	case errors.Is(err, ErrSlotElapsed):
		return ReasonSlotElapsed, true
	case errors.Is(err, ErrNotReservable):
		return ReasonNotReservable, true
	default:
		return ReasonNone, false
	}
}

// ErrorForReason returns the sentinel error matching a wire reason code.
func ErrorForReason(reason Reason) (error, bool) {
	switch reason {
	case ReasonStatusClosed:
		return ErrStatusClosed, true
	case ReasonBelowFloor:
		return ErrBelowFloor, true
	case ReasonBelowCurrent:
		return ErrBelowCurrent, true
	case ReasonInsufficientBalance:
		return ErrInsufficientFunds, true
	case ReasonCapacityExhausted:
		return ErrCapacityExhausted, true
	case ReasonSlotElapsed:
		return ErrSlotElapsed, true
	case ReasonNotReservable:
		return ErrNotReservable, true
	default:
		return nil, false
	}
}
