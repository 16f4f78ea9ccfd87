package market

import (
	"context"
	"time"
)

// Option configures the market services.
type Option func(*serviceOptions)

type serviceOptions struct {
	logger         OperationLogger
	slotSource     SlotSource
	orphanReporter OrphanReporter
	claimTimeout   time.Duration
}

func collectOptions(options []Option) serviceOptions {
	collected := serviceOptions{claimTimeout: defaultClaimTimeout}
	for _, option := range options {
		if option != nil {
			option(&collected)
		}
	}
	return collected
}

// OperationLogger records domain-level events emitted by service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing market operation.
type OperationLog struct {
	Operation string
	UserID    UserID
	ListingID ListingID
	Amount    AmountMinor
	Units     int
	Reference string
	Reason    Reason
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) Option {
	return func(options *serviceOptions) {
		options.logger = logger
	}
}

// WithSlotSource enables a fresh capacity preflight before any balance deduction.
func WithSlotSource(source SlotSource) Option {
	return func(options *serviceOptions) {
		options.slotSource = source
	}
}

// WithOrphanReporter wires the escalation sink for orphaned charges.
func WithOrphanReporter(reporter OrphanReporter) Option {
	return func(options *serviceOptions) {
		options.orphanReporter = reporter
	}
}

// WithClaimTimeout bounds the non-cancellable claim step of a reservation.
func WithClaimTimeout(timeout time.Duration) Option {
	return func(options *serviceOptions) {
		if timeout > 0 {
			options.claimTimeout = timeout
		}
	}
}

func logOperation(ctx context.Context, logger OperationLogger, entry OperationLog) {
	if logger == nil {
		return
	}
	if entry.Status == "" {
		switch {
		case entry.Error != nil:
			entry.Status = OperationStatusError
		case entry.Reason != ReasonNone:
			entry.Status = OperationStatusRejected
		default:
			entry.Status = OperationStatusOK
		}
	}
	logger.LogOperation(ctx, entry)
}
