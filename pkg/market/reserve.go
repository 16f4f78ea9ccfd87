package market

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// BalanceAdjustment is a signed request to the balance provider.
type BalanceAdjustment struct {
	UserID UserID
	// Amount is negative for a deduction.
	Amount      int64
	Description string
	Reference   string
}

// BalanceReceipt is the provider's confirmation of an adjustment.
type BalanceReceipt struct {
	NewBalance int64
	// Charged is the provider-confirmed deduction; zero when the provider omits it.
	Charged AmountMinor
}

// BalanceLine is one entry of a user's balance history.
type BalanceLine struct {
	Amount      int64
	Description string
	Reference   string
	CreatedAt   time.Time
}

// BalanceProvider owns user balances. AdjustBalance reports
// ErrInsufficientFunds when a deduction would make the balance negative.
type BalanceProvider interface {
	AdjustBalance(ctx context.Context, adjustment BalanceAdjustment) (BalanceReceipt, error)
}

// ClaimRequest asks the claim store to record a reservation.
type ClaimRequest struct {
	ListingID     ListingID
	UserID        UserID
	Units         int
	SlotStart     time.Time
	AmountCharged AmountMinor
	Payload       MetadataJSON
	Reference     string
}

// ClaimStore creates claims. For slot claims it must check capacity
// atomically and report ErrCapacityExhausted when the slot cannot hold Units.
type ClaimStore interface {
	CreateClaim(ctx context.Context, request ClaimRequest) (Claim, error)
}

// OrphanedCharge describes a deduction that has no matching claim.
type OrphanedCharge struct {
	ListingID  ListingID
	UserID     UserID
	Units      int
	SlotStart  time.Time
	Charged    AmountMinor
	NewBalance int64
	Reference  string
	Cause      error
	OccurredAt time.Time
}

// OrphanReporter escalates orphaned charges to human support.
type OrphanReporter interface {
	ReportOrphanedCharge(ctx context.Context, orphan OrphanedCharge) error
}

// ReserveRequest is the input to Reserve.
type ReserveRequest struct {
	ListingID ListingID
	UserID    UserID
	Units     int
	// SlotStart selects a time slot; zero for deal redemptions.
	SlotStart time.Time
	Payload   MetadataJSON
	// Reference identifies the attempt for the provider and support staff.
	Reference string
}

// ReservationStatus is the terminal state of a reservation attempt.
type ReservationStatus string

const (
	ReservationConfirmed      ReservationStatus = "confirmed"
	ReservationFailed         ReservationStatus = "failed"
	ReservationOrphanedCharge ReservationStatus = "orphaned_charge"
)

// ReservationOutcome reports a reservation attempt.
type ReservationOutcome struct {
	Status ReservationStatus
	Reason Reason
	// Claim is nil unless Status is ReservationConfirmed.
	Claim *Claim
	// NewBalance is the provider-returned balance; valid when HasBalance.
	NewBalance int64
	HasBalance bool
	Charged    AmountMinor
	Reference  string
	Message    string
	Cause      error
}

// Reservations runs the deduct-then-claim saga.
type Reservations struct {
	listings       ListingSource
	balances       BalanceProvider
	claims         ClaimStore
	nowFn          func() time.Time
	logger         OperationLogger
	slotSource     SlotSource
	orphanReporter OrphanReporter
	claimTimeout   time.Duration
}

// NewReservations wires a Reservations saga.
func NewReservations(listings ListingSource, balances BalanceProvider, claims ClaimStore, now func() time.Time, options ...Option) (*Reservations, error) {
	if listings == nil {
		return nil, fmt.Errorf("%w: listing source dependency is nil", ErrInvalidServiceConfig)
	}
	if balances == nil {
		return nil, fmt.Errorf("%w: balance provider dependency is nil", ErrInvalidServiceConfig)
	}
	if claims == nil {
		return nil, fmt.Errorf("%w: claim store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	collected := collectOptions(options)
	return &Reservations{
		listings:       listings,
		balances:       balances,
		claims:         claims,
		nowFn:          now,
		logger:         collected.logger,
		slotSource:     collected.slotSource,
		orphanReporter: collected.orphanReporter,
		claimTimeout:   collected.claimTimeout,
	}, nil
}

// Reserve deducts unitPrice*units from the user's balance and then creates
// the claim. The two steps are not atomic: when the claim fails after a
// successful deduction the outcome is ReservationOrphanedCharge, which must be
// shown to the user and never retried.
func (reservations *Reservations) Reserve(ctx context.Context, request ReserveRequest) (ReservationOutcome, error) {
	if err := validateReserveRequest(request); err != nil {
		return ReservationOutcome{}, err
	}

	outcome, operationError := reservations.reserve(ctx, request)
	entry := OperationLog{
		Operation: operationReserve,
		UserID:    request.UserID,
		ListingID: request.ListingID,
		Amount:    outcome.Charged,
		Units:     request.Units,
		Reference: request.Reference,
		Reason:    outcome.Reason,
		Error:     operationError,
	}
	switch {
	case operationError != nil:
	case outcome.Status == ReservationOrphanedCharge:
		entry.Status = OperationStatusOrphaned
		entry.Error = outcome.Cause
	case outcome.Status == ReservationFailed:
		entry.Error = outcome.Cause
		entry.Status = OperationStatusRejected
	}
	logOperation(ctx, reservations.logger, entry)
	return outcome, operationError
}

func (reservations *Reservations) reserve(ctx context.Context, request ReserveRequest) (ReservationOutcome, error) {
	listing, err := reservations.listings.GetListing(ctx, request.ListingID)
	if err != nil {
		return ReservationOutcome{}, err
	}
	if !listing.Status.IsOpen() {
		return failed(request, ReasonStatusClosed, nil), nil
	}
	if !listing.Reservable() {
		return failed(request, ReasonNotReservable, nil), nil
	}
	amount, err := listing.AskingPrice.Times(request.Units)
	if err != nil {
		return ReservationOutcome{}, err
	}

	if !request.SlotStart.IsZero() && reservations.slotSource != nil {
		reason, err := reservations.preflightSlot(ctx, request)
		if err != nil {
			return ReservationOutcome{}, err
		}
		if reason != ReasonNone {
			return failed(request, reason, nil), nil
		}
	}

	receipt, err := reservations.balances.AdjustBalance(ctx, BalanceAdjustment{
		UserID:      request.UserID,
		Amount:      -amount.Int64(),
		Description: describeReservation(listing, request),
		Reference:   request.Reference,
	})
	if err != nil {
		if reason, _ := ReasonFromError(err); reason == ReasonInsufficientBalance {
			return failed(request, ReasonInsufficientBalance, err), nil
		}
		return failed(request, ReasonProviderError, err), nil
	}

	charged := amount
	if receipt.Charged > 0 {
		charged = receipt.Charged
	}

	// The deduction is acknowledged; the claim step must finish even if the
	// caller goes away.
	claimCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reservations.claimTimeout)
	defer cancel()
	claim, err := reservations.claims.CreateClaim(claimCtx, ClaimRequest{
		ListingID:     request.ListingID,
		UserID:        request.UserID,
		Units:         request.Units,
		SlotStart:     request.SlotStart,
		AmountCharged: charged,
		Payload:       request.Payload,
		Reference:     request.Reference,
	})
	if err != nil {
		reservations.reportOrphan(claimCtx, OrphanedCharge{
			ListingID:  request.ListingID,
			UserID:     request.UserID,
			Units:      request.Units,
			SlotStart:  request.SlotStart,
			Charged:    charged,
			NewBalance: receipt.NewBalance,
			Reference:  request.Reference,
			Cause:      err,
			OccurredAt: reservations.nowFn(),
		})
		return ReservationOutcome{
			Status:     ReservationOrphanedCharge,
			Reason:     ReasonOrphanedCharge,
			NewBalance: receipt.NewBalance,
			HasBalance: true,
			Charged:    charged,
			Reference:  request.Reference,
			Message:    OrphanedChargeMessage,
			Cause:      err,
		}, nil
	}

	return ReservationOutcome{
		Status:     ReservationConfirmed,
		Claim:      &claim,
		NewBalance: receipt.NewBalance,
		HasBalance: true,
		Charged:    charged,
		Reference:  request.Reference,
	}, nil
}

func (reservations *Reservations) preflightSlot(ctx context.Context, request ReserveRequest) (Reason, error) {
	candidates, err := reservations.slotSource.GetAvailableSlots(ctx, request.ListingID, request.SlotStart)
	if err != nil {
		return ReasonNone, err
	}
	day := CalendarDay{Date: startOfDay(request.SlotStart), Weekday: WeekdayOf(request.SlotStart)}
	slots := FilterSlots(day, candidates, request.Units, reservations.nowFn().In(request.SlotStart.Location()))
	slot, found := FindSlot(slots, ClockTimeOf(request.SlotStart))
	switch {
	case !found:
		return ReasonCapacityExhausted, nil
	case slot.Block == SlotBlockElapsed:
		return ReasonSlotElapsed, nil
	case slot.Block == SlotBlockCapacity:
		return ReasonCapacityExhausted, nil
	default:
		return ReasonNone, nil
	}
}

// reportOrphan is best-effort; a failed report is logged alongside the orphan.
func (reservations *Reservations) reportOrphan(ctx context.Context, orphan OrphanedCharge) {
	if reservations.orphanReporter == nil {
		return
	}
	if err := reservations.orphanReporter.ReportOrphanedCharge(ctx, orphan); err != nil {
		logOperation(ctx, reservations.logger, OperationLog{
			Operation: operationReserve,
			UserID:    orphan.UserID,
			ListingID: orphan.ListingID,
			Amount:    orphan.Charged,
			Units:     orphan.Units,
			Reference: orphan.Reference,
			Reason:    ReasonOrphanedCharge,
			Status:    OperationStatusError,
			Error:     fmt.Errorf("report orphaned charge: %w", err),
		})
	}
}

func validateReserveRequest(request ReserveRequest) error {
	if request.ListingID.IsZero() {
		return fmt.Errorf("%w: empty value", ErrInvalidListingID)
	}
	if request.UserID.IsZero() {
		return fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if request.Units <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidUnits, request.Units)
	}
	return nil
}

func failed(request ReserveRequest, reason Reason, cause error) ReservationOutcome {
	return ReservationOutcome{
		Status:    ReservationFailed,
		Reason:    reason,
		Reference: request.Reference,
		Cause:     cause,
	}
}

func describeReservation(listing Listing, request ReserveRequest) string {
	parts := []string{fmt.Sprintf("reserve %d x %s", request.Units, listing.ID.String())}
	if title := strings.TrimSpace(listing.Title); title != "" {
		parts = append(parts, title)
	}
	if !request.SlotStart.IsZero() {
		parts = append(parts, request.SlotStart.Format(time.RFC3339))
	}
	return strings.Join(parts, " | ")
}
