package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var fixedNow = time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time {
	return fixedNow
}

type stubMarket struct {
	mu        sync.Mutex
	listings  map[ListingID]Listing
	bids      map[ListingID][]Bid
	balances  map[UserID]int64
	claims    []Claim
	nextBidID int

	rules     []AvailabilityRule
	dates     []time.Time
	slots     []SlotCandidate
	dateCalls int

	balanceErr      error
	claimErr        error
	chargedOverride AmountMinor
	balanceCalls    int
	claimCalls      int
	claimCtxErr     error
}

func newStubMarket(test *testing.T, listings ...Listing) *stubMarket {
	test.Helper()
	store := &stubMarket{
		listings: make(map[ListingID]Listing),
		bids:     make(map[ListingID][]Bid),
		balances: make(map[UserID]int64),
	}
	for _, listing := range listings {
		store.listings[listing.ID] = listing
	}
	return store
}

func (store *stubMarket) GetListing(_ context.Context, listingID ListingID) (Listing, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	listing, ok := store.listings[listingID]
	if !ok {
		return Listing{}, fmt.Errorf("%w: %s", ErrUnknownListing, listingID)
	}
	return listing, nil
}

func (store *stubMarket) SubmitBid(_ context.Context, submission BidSubmission) (Bid, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	listing, ok := store.listings[submission.ListingID]
	if !ok {
		return Bid{}, ErrUnknownListing
	}
	if evaluation := EvaluateBid(listing, submission.Amount); !evaluation.Accepted {
		err, _ := ErrorForReason(evaluation.Reason)
		return Bid{}, err
	}
	store.nextBidID++
	bid := Bid{
		ID:        BidID{value: fmt.Sprintf("bid-%d", store.nextBidID)},
		ListingID: submission.ListingID,
		BidderID:  submission.BidderID,
		Amount:    submission.Amount,
		Status:    BidStatusActive,
		CreatedAt: submission.CreatedAt,
	}
	store.listings[listing.ID], store.bids[listing.ID] = ApplyAcceptedBid(listing, store.bids[listing.ID], bid)
	return bid, nil
}

func (store *stubMarket) GetBidHistory(_ context.Context, listingID ListingID) ([]Bid, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return append([]Bid(nil), store.bids[listingID]...), nil
}

func (store *stubMarket) CloseListing(_ context.Context, listingID ListingID) (Listing, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	listing, ok := store.listings[listingID]
	if !ok {
		return Listing{}, ErrUnknownListing
	}
	listing.Status = ListingStatusSold
	store.listings[listingID] = listing
	return listing, nil
}

func (store *stubMarket) AdjustBalance(_ context.Context, adjustment BalanceAdjustment) (BalanceReceipt, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.balanceCalls++
	if store.balanceErr != nil {
		return BalanceReceipt{}, store.balanceErr
	}
	next := store.balances[adjustment.UserID] + adjustment.Amount
	if next < 0 {
		return BalanceReceipt{}, ErrInsufficientFunds
	}
	store.balances[adjustment.UserID] = next
	return BalanceReceipt{NewBalance: next, Charged: store.chargedOverride}, nil
}

func (store *stubMarket) CreateClaim(ctx context.Context, request ClaimRequest) (Claim, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.claimCalls++
	store.claimCtxErr = ctx.Err()
	if store.claimErr != nil {
		return Claim{}, store.claimErr
	}
	claim := Claim{
		ID:            ClaimID{value: fmt.Sprintf("claim-%d", len(store.claims)+1)},
		ListingID:     request.ListingID,
		UserID:        request.UserID,
		Units:         request.Units,
		SlotStart:     request.SlotStart,
		AmountCharged: request.AmountCharged,
		Status:        ClaimStatusConfirmed,
		Reference:     request.Reference,
		Payload:       request.Payload,
		CreatedAt:     fixedNow,
	}
	store.claims = append(store.claims, claim)
	return claim, nil
}

func (store *stubMarket) GetAvailabilityRules(context.Context, ListingID) ([]AvailabilityRule, error) {
	return store.rules, nil
}

func (store *stubMarket) GetAvailableDates(_ context.Context, _ ListingID, month time.Month, year int) ([]time.Time, error) {
	store.mu.Lock()
	store.dateCalls++
	store.mu.Unlock()
	var matching []time.Time
	for _, date := range store.dates {
		if date.Month() == month && date.Year() == year {
			matching = append(matching, date)
		}
	}
	return matching, nil
}

func (store *stubMarket) GetAvailableSlots(context.Context, ListingID, time.Time) ([]SlotCandidate, error) {
	return store.slots, nil
}

type recorderLogger struct {
	mu      sync.Mutex
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.entries = append(logger.entries, entry)
}

type recorderReporter struct {
	orphans []OrphanedCharge
	err     error
}

func (reporter *recorderReporter) ReportOrphanedCharge(_ context.Context, orphan OrphanedCharge) error {
	reporter.orphans = append(reporter.orphans, orphan)
	return reporter.err
}

var errStubTransport = errors.New("connection reset")

func mustListingID(test *testing.T, raw string) ListingID {
	test.Helper()
	id, err := NewListingID(raw)
	if err != nil {
		test.Fatalf("listing id: %v", err)
	}
	return id
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	id, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return id
}

func mustClockTime(test *testing.T, raw string) ClockTime {
	test.Helper()
	clock, err := ParseClockTime(raw)
	if err != nil {
		test.Fatalf("clock time: %v", err)
	}
	return clock
}

func openListing(test *testing.T, raw string, asking AmountMinor) Listing {
	test.Helper()
	return Listing{
		ID:          mustListingID(test, raw),
		Kind:        ListingKindVessel,
		Title:       "Test vessel " + raw,
		AskingPrice: asking,
		Status:      ListingStatusForSale,
		UpdatedAt:   fixedNow,
	}
}

func openDeal(test *testing.T, raw string, asking AmountMinor) Listing {
	test.Helper()
	deal := openListing(test, raw, asking)
	deal.Kind = ListingKindDeal
	deal.Title = "Test deal " + raw
	return deal
}
