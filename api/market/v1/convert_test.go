package marketv1

import (
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/berth/pkg/market"
)

func TestFromListingCarriesFloorAndDecimalPrice(test *testing.T) {
	test.Parallel()
	listingID, err := market.NewListingID("vessel-1")
	if err != nil {
		test.Fatalf("listing id: %v", err)
	}
	rendered := FromListing(market.Listing{
		ID:          listingID,
		Kind:        market.ListingKindVessel,
		AskingPrice: 1_500_001,
		Status:      market.ListingStatusForBid,
	})
	if rendered.MinBidFloorMinor != 1_350_001 || rendered.AskingPrice != "15000.01" {
		test.Fatalf("unexpected listing payload %+v", rendered)
	}
}

func TestRuleMarketValidates(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		rule     Rule
		expected error
	}{
		{name: "sunday is seven", rule: Rule{Weekday: 7, Start: "10:00", End: "12:00", SlotMinutes: 60, Capacity: 2}},
		{name: "zero weekday", rule: Rule{Weekday: 0, Start: "10:00", End: "12:00", SlotMinutes: 60, Capacity: 2}, expected: market.ErrInvalidWeekday},
		{name: "bad clock", rule: Rule{Weekday: 1, Start: "25:00", End: "26:00", SlotMinutes: 60, Capacity: 2}, expected: market.ErrInvalidClockTime},
		{name: "inverted window", rule: Rule{Weekday: 1, Start: "12:00", End: "10:00", SlotMinutes: 60, Capacity: 2}, expected: market.ErrInvalidRule},
	}
	for _, testCase := range testCases {
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			parsed, err := testCase.rule.Market()
			if testCase.expected == nil {
				if err != nil {
					test.Fatalf("unexpected error %v", err)
				}
				if parsed.Day != market.Sunday {
					test.Fatalf("expected Sunday, got %s", parsed.Day)
				}
				return
			}
			if !errors.Is(err, testCase.expected) {
				test.Fatalf("expected %v, got %v", testCase.expected, err)
			}
		})
	}
}

func TestParseDateUsesLocation(test *testing.T) {
	test.Parallel()
	lisbon, err := time.LoadLocation("Europe/Lisbon")
	if err != nil {
		test.Skipf("tzdata unavailable: %v", err)
	}
	parsed, err := ParseDate("2026-07-01", lisbon)
	if err != nil {
		test.Fatalf("parse: %v", err)
	}
	if parsed.Location() != lisbon || parsed.Hour() != 0 || parsed.Day() != 1 {
		test.Fatalf("unexpected date %v", parsed)
	}
	if _, err := ParseDate("01/07/2026", nil); err == nil {
		test.Fatalf("expected layout error")
	}
}

func TestOutcomeKeepsBalanceAndOrphanStatus(test *testing.T) {
	test.Parallel()
	response := FromOutcome(market.ReservationOutcome{
		Status:     market.ReservationOrphanedCharge,
		Reason:     market.ReasonOrphanedCharge,
		NewBalance: 0,
		HasBalance: true,
		Charged:    5_000,
		Reference:  "ref-1",
	})
	if response.NewBalanceMinor == nil || *response.NewBalanceMinor != 0 || response.Claim != nil {
		test.Fatalf("unexpected response %+v", response)
	}
	outcome, err := response.Market()
	if err != nil {
		test.Fatalf("market: %v", err)
	}
	if outcome.Status != market.ReservationOrphanedCharge || !outcome.HasBalance || outcome.Charged != 5_000 {
		test.Fatalf("unexpected outcome %+v", outcome)
	}
}
