package market

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestReservations(test *testing.T, store *stubMarket, options ...Option) *Reservations {
	test.Helper()
	reservations, err := NewReservations(store, store, store, fixedClock, options...)
	if err != nil {
		test.Fatalf("reservations init: %v", err)
	}
	return reservations
}

func TestReserveConfirmsClaimAfterDeduction(test *testing.T) {
	test.Parallel()
	deal := openDeal(test, "deal-1", 2_500)
	store := newStubMarket(test, deal)
	user := mustUserID(test, "customer")
	store.balances[user] = 10_000
	reservations := newTestReservations(test, store)

	outcome, err := reservations.Reserve(context.Background(), ReserveRequest{
		ListingID: deal.ID,
		UserID:    user,
		Units:     3,
		Reference: "ref-1",
	})
	if err != nil {
		test.Fatalf("reserve: %v", err)
	}
	if outcome.Status != ReservationConfirmed || outcome.Claim == nil {
		test.Fatalf("expected confirmed claim, got %+v", outcome)
	}
	if outcome.Charged != 7_500 || outcome.NewBalance != 2_500 || !outcome.HasBalance {
		test.Fatalf("unexpected charge/balance: %+v", outcome)
	}
	if outcome.Claim.AmountCharged != 7_500 || outcome.Claim.Units != 3 || outcome.Claim.HasSlot() {
		test.Fatalf("unexpected claim: %+v", outcome.Claim)
	}
}

func TestReserveInsufficientFundsCreatesNoClaim(test *testing.T) {
	test.Parallel()
	deal := openDeal(test, "deal-poor", 5_000)
	store := newStubMarket(test, deal)
	user := mustUserID(test, "poor")
	store.balances[user] = 4_999
	reservations := newTestReservations(test, store)

	outcome, err := reservations.Reserve(context.Background(), ReserveRequest{ListingID: deal.ID, UserID: user, Units: 1})
	if err != nil {
		test.Fatalf("reserve: %v", err)
	}
	if outcome.Status != ReservationFailed || outcome.Reason != ReasonInsufficientBalance {
		test.Fatalf("expected insufficient_funds failure, got %+v", outcome)
	}
	if store.claimCalls != 0 || len(store.claims) != 0 {
		test.Fatalf("expected no claim, got %d calls", store.claimCalls)
	}
	if store.balances[user] != 4_999 {
		test.Fatalf("expected untouched balance, got %d", store.balances[user])
	}
}

func TestReserveClaimFailureIsOrphanedCharge(test *testing.T) {
	test.Parallel()
	deal := openDeal(test, "deal-orphan", 3_000)
	store := newStubMarket(test, deal)
	user := mustUserID(test, "unlucky")
	store.balances[user] = 10_000
	store.claimErr = errStubTransport
	reporter := &recorderReporter{}
	logger := &recorderLogger{}
	reservations := newTestReservations(test, store, WithOrphanReporter(reporter), WithOperationLogger(logger))

	outcome, err := reservations.Reserve(context.Background(), ReserveRequest{
		ListingID: deal.ID,
		UserID:    user,
		Units:     2,
		Reference: "ref-orphan",
	})
	if err != nil {
		test.Fatalf("reserve: %v", err)
	}
	if outcome.Status != ReservationOrphanedCharge || outcome.Reason != ReasonOrphanedCharge {
		test.Fatalf("expected orphaned charge, got %+v", outcome)
	}
	if outcome.NewBalance != 4_000 || outcome.Charged != 6_000 {
		test.Fatalf("expected deducted balance 4000 and charge 6000, got %+v", outcome)
	}
	if outcome.Claim != nil || outcome.Message != OrphanedChargeMessage || !errors.Is(outcome.Cause, errStubTransport) {
		test.Fatalf("unexpected orphan details: %+v", outcome)
	}
	if len(reporter.orphans) != 1 || reporter.orphans[0].Reference != "ref-orphan" || reporter.orphans[0].Charged != 6_000 {
		test.Fatalf("expected orphan reported, got %+v", reporter.orphans)
	}
	if len(logger.entries) != 1 || logger.entries[0].Status != OperationStatusOrphaned {
		test.Fatalf("expected orphaned log entry, got %+v", logger.entries)
	}
}

func TestReserveClaimSurvivesCallerCancellation(test *testing.T) {
	test.Parallel()
	deal := openDeal(test, "deal-cancel", 1_000)
	store := newStubMarket(test, deal)
	user := mustUserID(test, "impatient")
	store.balances[user] = 1_000
	market := &cancellingMarket{stubMarket: store}
	reservations, err := NewReservations(market, market, market, fixedClock, WithClaimTimeout(time.Minute))
	if err != nil {
		test.Fatalf("reservations init: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	outcome, err := reservations.Reserve(withCancel(ctx, cancel), ReserveRequest{ListingID: deal.ID, UserID: user, Units: 1})
	if err != nil {
		test.Fatalf("reserve: %v", err)
	}
	if outcome.Status != ReservationConfirmed {
		test.Fatalf("expected confirmed reservation, got %+v", outcome)
	}
	if store.claimCtxErr != nil {
		test.Fatalf("expected live claim context, got %v", store.claimCtxErr)
	}
}

type cancelKey struct{}

func withCancel(ctx context.Context, cancel context.CancelFunc) context.Context {
	return context.WithValue(ctx, cancelKey{}, cancel)
}

// cancellingMarket cancels the caller's context as soon as the deduction lands.
type cancellingMarket struct {
	*stubMarket
}

func (market *cancellingMarket) AdjustBalance(ctx context.Context, adjustment BalanceAdjustment) (BalanceReceipt, error) {
	receipt, err := market.stubMarket.AdjustBalance(ctx, adjustment)
	if cancel, ok := ctx.Value(cancelKey{}).(context.CancelFunc); ok {
		cancel()
	}
	return receipt, err
}

func TestReserveProviderErrorIsFailure(test *testing.T) {
	test.Parallel()
	deal := openDeal(test, "deal-down", 1_000)
	store := newStubMarket(test, deal)
	store.balanceErr = errStubTransport
	reservations := newTestReservations(test, store)

	outcome, err := reservations.Reserve(context.Background(), ReserveRequest{ListingID: deal.ID, UserID: mustUserID(test, "u"), Units: 1})
	if err != nil {
		test.Fatalf("reserve: %v", err)
	}
	if outcome.Status != ReservationFailed || outcome.Reason != ReasonProviderError || outcome.HasBalance {
		test.Fatalf("expected provider_error failure, got %+v", outcome)
	}
	if store.claimCalls != 0 {
		test.Fatalf("expected no claim attempt")
	}
}

func TestReserveClosedListingSkipsDeduction(test *testing.T) {
	test.Parallel()
	deal := openDeal(test, "deal-closed", 1_000)
	deal.Status = ListingStatusSold
	store := newStubMarket(test, deal)
	reservations := newTestReservations(test, store)

	outcome, err := reservations.Reserve(context.Background(), ReserveRequest{ListingID: deal.ID, UserID: mustUserID(test, "u"), Units: 1})
	if err != nil {
		test.Fatalf("reserve: %v", err)
	}
	if outcome.Reason != ReasonStatusClosed || store.balanceCalls != 0 {
		test.Fatalf("expected status_closed without deduction, got %+v (%d calls)", outcome, store.balanceCalls)
	}
}

func TestReserveRejectsAuctionListings(test *testing.T) {
	test.Parallel()
	auctioned := openDeal(test, "deal-auction", 100_000)
	auctioned.Status = ListingStatusForBid
	auctioned.CurrentBid = 90_000
	testCases := []struct {
		name    string
		listing Listing
	}{
		{name: "vessel under auction", listing: func() Listing {
			vessel := openListing(test, "vessel-auction", 100_000)
			vessel.Status = ListingStatusForBid
			vessel.CurrentBid = 90_000
			return vessel
		}()},
		{name: "vessel for sale", listing: openListing(test, "vessel-sale", 100_000)},
		{name: "deal under auction", listing: auctioned},
	}
	for _, testCase := range testCases {
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubMarket(test, testCase.listing)
			user := mustUserID(test, "buyer")
			store.balances[user] = 100_000
			reservations := newTestReservations(test, store)

			outcome, err := reservations.Reserve(context.Background(), ReserveRequest{ListingID: testCase.listing.ID, UserID: user, Units: 1})
			if err != nil {
				test.Fatalf("reserve: %v", err)
			}
			if outcome.Status != ReservationFailed || outcome.Reason != ReasonNotReservable || outcome.HasBalance {
				test.Fatalf("expected not_reservable failure, got %+v", outcome)
			}
			if store.balanceCalls != 0 || store.claimCalls != 0 || store.balances[user] != 100_000 {
				test.Fatalf("expected untouched balance, got %d (%d deductions)", store.balances[user], store.balanceCalls)
			}
		})
	}
}

func TestReserveProviderReceiptIsAuthoritative(test *testing.T) {
	test.Parallel()
	deal := openDeal(test, "deal-discount", 1_000)
	store := newStubMarket(test, deal)
	user := mustUserID(test, "member")
	store.balances[user] = 5_000
	store.chargedOverride = 800
	reservations := newTestReservations(test, store)

	outcome, err := reservations.Reserve(context.Background(), ReserveRequest{ListingID: deal.ID, UserID: user, Units: 1})
	if err != nil {
		test.Fatalf("reserve: %v", err)
	}
	if outcome.Charged != 800 || outcome.Claim.AmountCharged != 800 {
		test.Fatalf("expected provider charge 800, got %+v", outcome)
	}
}

func TestReserveSlotPreflight(test *testing.T) {
	test.Parallel()
	sameDay := fixedNow
	tomorrow := fixedNow.AddDate(0, 0, 1)
	testCases := []struct {
		name      string
		slotStart time.Time
		remaining int
		units     int
		expected  Reason
		status    ReservationStatus
	}{
		{name: "capacity exhausted", slotStart: ClockTime(10 * 60).On(tomorrow), remaining: 1, units: 2, expected: ReasonCapacityExhausted, status: ReservationFailed},
		{name: "elapsed today", slotStart: ClockTime(9 * 60).On(sameDay), remaining: 10, units: 1, expected: ReasonSlotElapsed, status: ReservationFailed},
		{name: "unknown slot", slotStart: ClockTime(11 * 60).On(tomorrow), remaining: 10, units: 1, expected: ReasonCapacityExhausted, status: ReservationFailed},
		{name: "fits", slotStart: ClockTime(10 * 60).On(tomorrow), remaining: 2, units: 2, expected: ReasonNone, status: ReservationConfirmed},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			charter := openDeal(test, "charter", 1_000)
			store := newStubMarket(test, charter)
			user := mustUserID(test, "sailor")
			store.balances[user] = 100_000
			store.slots = []SlotCandidate{
				{Start: ClockTime(9 * 60), Remaining: testCase.remaining},
				{Start: ClockTime(10 * 60), Remaining: testCase.remaining},
			}
			reservations := newTestReservations(test, store, WithSlotSource(store))

			outcome, err := reservations.Reserve(context.Background(), ReserveRequest{
				ListingID: charter.ID,
				UserID:    user,
				Units:     testCase.units,
				SlotStart: testCase.slotStart,
			})
			if err != nil {
				test.Fatalf("reserve: %v", err)
			}
			if outcome.Status != testCase.status || outcome.Reason != testCase.expected {
				test.Fatalf("expected %s/%q, got %+v", testCase.status, testCase.expected, outcome)
			}
			if testCase.status == ReservationFailed && store.balanceCalls != 0 {
				test.Fatalf("expected no deduction on preflight failure")
			}
		})
	}
}

func TestReserveValidatesRequest(test *testing.T) {
	test.Parallel()
	store := newStubMarket(test)
	reservations := newTestReservations(test, store)
	listingID := mustListingID(test, "deal")
	user := mustUserID(test, "user")
	testCases := []struct {
		name     string
		request  ReserveRequest
		expected error
	}{
		{name: "listing", request: ReserveRequest{UserID: user, Units: 1}, expected: ErrInvalidListingID},
		{name: "user", request: ReserveRequest{ListingID: listingID, Units: 1}, expected: ErrInvalidUserID},
		{name: "units", request: ReserveRequest{ListingID: listingID, UserID: user}, expected: ErrInvalidUnits},
	}
	for _, testCase := range testCases {
		if _, err := reservations.Reserve(context.Background(), testCase.request); !errors.Is(err, testCase.expected) {
			test.Fatalf("%s: expected %v, got %v", testCase.name, testCase.expected, err)
		}
	}
	if store.balanceCalls != 0 {
		test.Fatalf("expected no provider calls")
	}
}

func TestNewReservationsRejectsNilDependencies(test *testing.T) {
	test.Parallel()
	store := newStubMarket(test)
	if _, err := NewReservations(nil, store, store, fixedClock); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected config error for nil listings, got %v", err)
	}
	if _, err := NewReservations(store, nil, store, fixedClock); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected config error for nil balances, got %v", err)
	}
	if _, err := NewReservations(store, store, nil, fixedClock); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected config error for nil claims, got %v", err)
	}
}
