package market

import (
	"context"
	"fmt"
	"time"
)

// ListingSource returns authoritative listing snapshots.
type ListingSource interface {
	GetListing(ctx context.Context, listingID ListingID) (Listing, error)
}

// BidStore is the authoritative bid collaborator. SubmitBid must re-check the
// bid atomically and report ErrStatusClosed, ErrBelowFloor or ErrBelowCurrent
// when the write loses.
type BidStore interface {
	ListingSource
	SubmitBid(ctx context.Context, submission BidSubmission) (Bid, error)
	GetBidHistory(ctx context.Context, listingID ListingID) ([]Bid, error)
}

// AuctionCloser transitions a listing to sold.
type AuctionCloser interface {
	CloseListing(ctx context.Context, listingID ListingID) (Listing, error)
}

// BidEvaluation is the result of checking a proposed amount against a snapshot.
type BidEvaluation struct {
	Accepted    bool
	Reason      Reason
	MinBidFloor AmountMinor
}

// EvaluateBid checks a proposed amount against a listing snapshot.
func EvaluateBid(listing Listing, proposed AmountMinor) BidEvaluation {
	floor := listing.MinBidFloor()
	evaluation := BidEvaluation{MinBidFloor: floor}
	if !listing.Status.IsOpen() {
		evaluation.Reason = ReasonStatusClosed
		return evaluation
	}
	if proposed < floor {
		evaluation.Reason = ReasonBelowFloor
		return evaluation
	}
	if current, hasBid := listing.CurrentBidAmount(); hasBid && proposed <= current {
		evaluation.Reason = ReasonBelowCurrent
		return evaluation
	}
	evaluation.Accepted = true
	return evaluation
}

// ApplyAcceptedBid returns the listing and history after an accepted bid:
// the prior active bid is superseded and the new bid becomes current.
// History is ordered newest-first.
func ApplyAcceptedBid(listing Listing, history []Bid, bid Bid) (Listing, []Bid) {
	updatedHistory := make([]Bid, 0, len(history)+1)
	bid.Status = BidStatusActive
	updatedHistory = append(updatedHistory, bid)
	for _, previous := range history {
		if previous.Status == BidStatusActive {
			previous.Status = BidStatusSuperseded
		}
		updatedHistory = append(updatedHistory, previous)
	}
	listing.CurrentBid = bid.Amount
	if listing.Status == ListingStatusForSale {
		listing.Status = ListingStatusForBid
	}
	listing.UpdatedAt = bid.CreatedAt
	return listing, updatedHistory
}

// BidOutcome reports what happened to a submitted bid.
type BidOutcome struct {
	Evaluation BidEvaluation
	Bid        Bid
	Listing    Listing
}

// Accepted reports whether the bid was recorded as active.
func (outcome BidOutcome) Accepted() bool {
	return outcome.Evaluation.Accepted
}

// AuctionLedger validates bids and records accepted ones through a BidStore.
// It never moves money.
type AuctionLedger struct {
	store  BidStore
	nowFn  func() time.Time
	logger OperationLogger
}

// NewAuctionLedger wires an AuctionLedger.
func NewAuctionLedger(store BidStore, now func() time.Time, options ...Option) (*AuctionLedger, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: bid store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	collected := collectOptions(options)
	return &AuctionLedger{store: store, nowFn: now, logger: collected.logger}, nil
}

// PlaceBid evaluates a bid against a freshly fetched listing and submits it.
// Rejections are outcomes, not errors; a lost race surfaces as below_current.
func (ledger *AuctionLedger) PlaceBid(ctx context.Context, bidderID UserID, listingID ListingID, amount AmountMinor) (BidOutcome, error) {
	if bidderID.IsZero() {
		return BidOutcome{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if listingID.IsZero() {
		return BidOutcome{}, fmt.Errorf("%w: empty value", ErrInvalidListingID)
	}
	if amount <= 0 {
		return BidOutcome{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}

	outcome, operationError := ledger.placeBid(ctx, bidderID, listingID, amount)
	logOperation(ctx, ledger.logger, OperationLog{
		Operation: operationPlaceBid,
		UserID:    bidderID,
		ListingID: listingID,
		Amount:    amount,
		Reason:    outcome.Evaluation.Reason,
		Error:     operationError,
	})
	return outcome, operationError
}

func (ledger *AuctionLedger) placeBid(ctx context.Context, bidderID UserID, listingID ListingID, amount AmountMinor) (BidOutcome, error) {
	listing, err := ledger.store.GetListing(ctx, listingID)
	if err != nil {
		return BidOutcome{}, err
	}
	evaluation := EvaluateBid(listing, amount)
	outcome := BidOutcome{Evaluation: evaluation, Listing: listing}
	if !evaluation.Accepted {
		return outcome, nil
	}

	bid, err := ledger.store.SubmitBid(ctx, BidSubmission{
		ListingID: listingID,
		BidderID:  bidderID,
		Amount:    amount,
		CreatedAt: ledger.nowFn(),
	})
	if err != nil {
		reason, isBusinessRule := ReasonFromError(err)
		if !isBusinessRule {
			return BidOutcome{}, err
		}
		outcome.Evaluation.Accepted = false
		outcome.Evaluation.Reason = reason
		return outcome, nil
	}

	outcome.Bid = bid
	outcome.Listing, _ = ApplyAcceptedBid(listing, nil, bid)
	return outcome, nil
}

// BidHistory returns the listing's bids newest-first.
func (ledger *AuctionLedger) BidHistory(ctx context.Context, listingID ListingID) ([]Bid, error) {
	if listingID.IsZero() {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidListingID)
	}
	return ledger.store.GetBidHistory(ctx, listingID)
}

// CloseAuction marks a listing sold; later bids are rejected as status_closed.
// The store must also implement AuctionCloser.
func (ledger *AuctionLedger) CloseAuction(ctx context.Context, listingID ListingID) (Listing, error) {
	closer, ok := ledger.store.(AuctionCloser)
	if !ok {
		return Listing{}, fmt.Errorf("%w: bid store cannot close listings", ErrInvalidServiceConfig)
	}
	if listingID.IsZero() {
		return Listing{}, fmt.Errorf("%w: empty value", ErrInvalidListingID)
	}
	listing, operationError := closer.CloseListing(ctx, listingID)
	logOperation(ctx, ledger.logger, OperationLog{
		Operation: operationCloseAuction,
		ListingID: listingID,
		Amount:    listing.CurrentBid,
		Error:     operationError,
	})
	return listing, operationError
}
