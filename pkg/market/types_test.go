package market

import (
	"errors"
	"math"
	"testing"
)

func TestNewAmountMinorRejectsNonPositive(test *testing.T) {
	test.Parallel()
	for _, raw := range []int64{0, -1} {
		if _, err := NewAmountMinor(raw); !errors.Is(err, ErrInvalidAmount) {
			test.Fatalf("amount %d: expected ErrInvalidAmount, got %v", raw, err)
		}
	}
	amount, err := NewAmountMinor(123_456)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	if amount.String() != "1234.56" {
		test.Fatalf("expected 1234.56, got %s", amount.String())
	}
}

func TestAmountMinorTimes(test *testing.T) {
	test.Parallel()
	total, err := AmountMinor(2_500).Times(4)
	if err != nil || total != 10_000 {
		test.Fatalf("expected 10000, got %d (%v)", total, err)
	}
	if _, err := AmountMinor(1).Times(0); !errors.Is(err, ErrInvalidUnits) {
		test.Fatalf("expected ErrInvalidUnits, got %v", err)
	}
	if _, err := AmountMinor(math.MaxInt64 / 2).Times(3); !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected overflow rejection, got %v", err)
	}
}

func TestIdentifiersTrimAndRejectEmpty(test *testing.T) {
	test.Parallel()
	listingID, err := NewListingID("  vessel-7 ")
	if err != nil || listingID.String() != "vessel-7" {
		test.Fatalf("expected trimmed listing id, got %q (%v)", listingID.String(), err)
	}
	if _, err := NewListingID(" "); !errors.Is(err, ErrInvalidListingID) {
		test.Fatalf("expected ErrInvalidListingID, got %v", err)
	}
	if _, err := NewUserID(""); !errors.Is(err, ErrInvalidUserID) {
		test.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
	if _, err := NewBidID(""); !errors.Is(err, ErrInvalidBidID) {
		test.Fatalf("expected ErrInvalidBidID, got %v", err)
	}
	if _, err := NewClaimID(""); !errors.Is(err, ErrInvalidClaimID) {
		test.Fatalf("expected ErrInvalidClaimID, got %v", err)
	}
	if !(ListingID{}).IsZero() || listingID.IsZero() {
		test.Fatalf("unexpected IsZero results")
	}
}

func TestMetadataJSON(test *testing.T) {
	test.Parallel()
	empty, err := NewMetadataJSON("")
	if err != nil || empty.String() != "{}" {
		test.Fatalf("expected default {}, got %q (%v)", empty.String(), err)
	}
	if _, err := NewMetadataJSON("{not json"); !errors.Is(err, ErrInvalidMetadataJSON) {
		test.Fatalf("expected ErrInvalidMetadataJSON, got %v", err)
	}
	if (MetadataJSON{}).String() != "{}" {
		test.Fatalf("expected zero metadata to render {}")
	}
}

func TestParseStatuses(test *testing.T) {
	test.Parallel()
	if status, err := ParseListingStatus("for_bid"); err != nil || !status.IsOpen() {
		test.Fatalf("expected open for_bid, got %s (%v)", status, err)
	}
	if status, _ := ParseListingStatus("sold"); status.IsOpen() {
		test.Fatalf("expected sold to be closed")
	}
	if _, err := ParseListingStatus("archived"); !errors.Is(err, ErrInvalidListingStatus) {
		test.Fatalf("expected ErrInvalidListingStatus, got %v", err)
	}
	if _, err := ParseBidStatus("pending"); !errors.Is(err, ErrInvalidBidStatus) {
		test.Fatalf("expected ErrInvalidBidStatus, got %v", err)
	}
	if status, err := ParseClaimStatus("orphaned_charge"); err != nil || status != ClaimStatusOrphanedCharge {
		test.Fatalf("expected orphaned_charge, got %s (%v)", status, err)
	}
}
