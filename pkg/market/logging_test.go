package market

import (
	"context"
	"testing"
)

func TestAuctionLedgerLogsOperationStatus(test *testing.T) {
	test.Parallel()
	listing := openListing(test, "vessel-log", 100_000)
	store := newStubMarket(test, listing)
	logger := &recorderLogger{}
	ledger, err := NewAuctionLedger(store, fixedClock, WithOperationLogger(logger))
	if err != nil {
		test.Fatalf("ledger init: %v", err)
	}
	bidder := mustUserID(test, "logged")
	ctx := context.Background()

	if _, err := ledger.PlaceBid(ctx, bidder, listing.ID, 90_000); err != nil {
		test.Fatalf("bid: %v", err)
	}
	if _, err := ledger.PlaceBid(ctx, bidder, listing.ID, 1); err != nil {
		test.Fatalf("bid: %v", err)
	}
	if _, err := ledger.PlaceBid(ctx, bidder, mustListingID(test, "missing"), 90_000); err == nil {
		test.Fatalf("expected unknown listing error")
	}

	if len(logger.entries) != 3 {
		test.Fatalf("expected 3 log entries, got %d", len(logger.entries))
	}
	expected := []struct {
		status string
		reason Reason
	}{
		{status: OperationStatusOK},
		{status: OperationStatusRejected, reason: ReasonBelowFloor},
		{status: OperationStatusError},
	}
	for index, entry := range logger.entries {
		if entry.Operation != operationPlaceBid || entry.Status != expected[index].status || entry.Reason != expected[index].reason {
			test.Fatalf("entry %d: unexpected %+v", index, entry)
		}
		if entry.UserID != bidder {
			test.Fatalf("entry %d: expected bidder %s, got %s", index, bidder, entry.UserID)
		}
	}
}

func TestReservationLogsRejectedOnInsufficientFunds(test *testing.T) {
	test.Parallel()
	deal := openDeal(test, "deal-log", 5_000)
	store := newStubMarket(test, deal)
	logger := &recorderLogger{}
	reservations := newTestReservations(test, store, WithOperationLogger(logger))

	if _, err := reservations.Reserve(context.Background(), ReserveRequest{ListingID: deal.ID, UserID: mustUserID(test, "broke"), Units: 1, Reference: "ref-log"}); err != nil {
		test.Fatalf("reserve: %v", err)
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one entry, got %d", len(logger.entries))
	}
	entry := logger.entries[0]
	if entry.Operation != operationReserve || entry.Status != OperationStatusRejected || entry.Reason != ReasonInsufficientBalance || entry.Reference != "ref-log" {
		test.Fatalf("unexpected entry %+v", entry)
	}
}

func TestOrphanReportFailureIsLogged(test *testing.T) {
	test.Parallel()
	deal := openDeal(test, "deal-report", 1_000)
	store := newStubMarket(test, deal)
	user := mustUserID(test, "u")
	store.balances[user] = 1_000
	store.claimErr = errStubTransport
	logger := &recorderLogger{}
	reporter := &recorderReporter{err: errStubTransport}
	reservations := newTestReservations(test, store, WithOperationLogger(logger), WithOrphanReporter(reporter))

	outcome, err := reservations.Reserve(context.Background(), ReserveRequest{ListingID: deal.ID, UserID: user, Units: 1})
	if err != nil {
		test.Fatalf("reserve: %v", err)
	}
	if outcome.Status != ReservationOrphanedCharge {
		test.Fatalf("expected orphaned charge, got %+v", outcome)
	}
	if len(logger.entries) != 2 || logger.entries[0].Status != OperationStatusError || logger.entries[1].Status != OperationStatusOrphaned {
		test.Fatalf("expected report failure then orphan entry, got %+v", logger.entries)
	}
}
