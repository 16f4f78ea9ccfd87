package marketv1

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/berth/pkg/market"
)

// FromListing renders a listing snapshot.
func FromListing(listing market.Listing) Listing {
	return Listing{
		ListingID:        listing.ID.String(),
		Kind:             string(listing.Kind),
		Title:            listing.Title,
		AskingPriceMinor: listing.AskingPrice.Int64(),
		AskingPrice:      listing.AskingPrice.String(),
		CurrentBidMinor:  listing.CurrentBid.Int64(),
		MinBidFloorMinor: listing.MinBidFloor().Int64(),
		Status:           listing.Status.String(),
		UpdatedAt:        listing.UpdatedAt.UTC(),
	}
}

// Market parses the payload back into a listing snapshot.
func (listing Listing) Market() (market.Listing, error) {
	listingID, err := market.NewListingID(listing.ListingID)
	if err != nil {
		return market.Listing{}, err
	}
	status, err := market.ParseListingStatus(listing.Status)
	if err != nil {
		return market.Listing{}, err
	}
	return market.Listing{
		ID:          listingID,
		Kind:        market.ListingKind(listing.Kind),
		Title:       listing.Title,
		AskingPrice: market.AmountMinor(listing.AskingPriceMinor),
		CurrentBid:  market.AmountMinor(listing.CurrentBidMinor),
		Status:      status,
		UpdatedAt:   listing.UpdatedAt,
	}, nil
}

func FromBid(bid market.Bid) Bid {
	return Bid{
		BidID:       bid.ID.String(),
		ListingID:   bid.ListingID.String(),
		BidderID:    bid.BidderID.String(),
		AmountMinor: bid.Amount.Int64(),
		Amount:      bid.Amount.String(),
		Status:      bid.Status.String(),
		CreatedAt:   bid.CreatedAt.UTC(),
	}
}

func (bid Bid) Market() (market.Bid, error) {
	bidID, err := market.NewBidID(bid.BidID)
	if err != nil {
		return market.Bid{}, err
	}
	listingID, err := market.NewListingID(bid.ListingID)
	if err != nil {
		return market.Bid{}, err
	}
	bidderID, err := market.NewUserID(bid.BidderID)
	if err != nil {
		return market.Bid{}, err
	}
	status, err := market.ParseBidStatus(bid.Status)
	if err != nil {
		return market.Bid{}, err
	}
	return market.Bid{
		ID:        bidID,
		ListingID: listingID,
		BidderID:  bidderID,
		Amount:    market.AmountMinor(bid.AmountMinor),
		Status:    status,
		CreatedAt: bid.CreatedAt,
	}, nil
}

func FromRule(rule market.AvailabilityRule) Rule {
	return Rule{
		Weekday:       int(rule.Day),
		Start:         rule.Start.String(),
		End:           rule.End.String(),
		SlotMinutes:   int(rule.SlotLength / time.Minute),
		BufferMinutes: int(rule.Buffer / time.Minute),
		Capacity:      rule.Capacity,
	}
}

func (rule Rule) Market() (market.AvailabilityRule, error) {
	weekday, err := market.WeekdayFromISO(rule.Weekday)
	if err != nil {
		return market.AvailabilityRule{}, err
	}
	start, err := market.ParseClockTime(rule.Start)
	if err != nil {
		return market.AvailabilityRule{}, err
	}
	end, err := market.ParseClockTime(rule.End)
	if err != nil {
		return market.AvailabilityRule{}, err
	}
	parsed := market.AvailabilityRule{
		Day:        weekday,
		Start:      start,
		End:        end,
		SlotLength: time.Duration(rule.SlotMinutes) * time.Minute,
		Buffer:     time.Duration(rule.BufferMinutes) * time.Minute,
		Capacity:   rule.Capacity,
	}
	if err := parsed.Validate(); err != nil {
		return market.AvailabilityRule{}, err
	}
	return parsed, nil
}

// FromDay renders a calendar day; slot start instants use the day's location.
func FromDay(day market.CalendarDay) Day {
	rendered := Day{
		Date:      day.Date.Format(DateLayout),
		Weekday:   int(day.Weekday),
		Available: day.Available,
	}
	for _, slot := range day.Slots {
		rendered.Slots = append(rendered.Slots, Slot{
			Start:      slot.Start.String(),
			StartsAt:   slot.StartOn(day.Date),
			Remaining:  slot.RemainingCapacity,
			Selectable: slot.Selectable,
			Block:      string(slot.Block),
		})
	}
	return rendered
}

// Candidates returns the day's slots as raw provider candidates.
func (day Day) Candidates() ([]market.SlotCandidate, error) {
	candidates := make([]market.SlotCandidate, 0, len(day.Slots))
	for _, slot := range day.Slots {
		start, err := market.ParseClockTime(slot.Start)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, market.SlotCandidate{Start: start, Remaining: slot.Remaining})
	}
	return candidates, nil
}

// ParseDate parses a wire date as midnight in location.
func ParseDate(raw string, location *time.Location) (time.Time, error) {
	if location == nil {
		location = time.UTC
	}
	parsed, err := time.ParseInLocation(DateLayout, raw, location)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: %w", raw, err)
	}
	return parsed, nil
}

func FromClaim(claim market.Claim) Claim {
	rendered := Claim{
		ClaimID:            claim.ID.String(),
		ListingID:          claim.ListingID.String(),
		UserID:             claim.UserID.String(),
		Units:              claim.Units,
		AmountChargedMinor: claim.AmountCharged.Int64(),
		Status:             claim.Status.String(),
		Reference:          claim.Reference,
		Payload:            json.RawMessage(claim.Payload.String()),
		CreatedAt:          claim.CreatedAt.UTC(),
	}
	if claim.HasSlot() {
		slotStart := claim.SlotStart
		rendered.SlotStart = &slotStart
	}
	return rendered
}

func (claim Claim) Market() (market.Claim, error) {
	claimID, err := market.NewClaimID(claim.ClaimID)
	if err != nil {
		return market.Claim{}, err
	}
	listingID, err := market.NewListingID(claim.ListingID)
	if err != nil {
		return market.Claim{}, err
	}
	userID, err := market.NewUserID(claim.UserID)
	if err != nil {
		return market.Claim{}, err
	}
	status, err := market.ParseClaimStatus(claim.Status)
	if err != nil {
		return market.Claim{}, err
	}
	payload, err := market.NewMetadataJSON(string(claim.Payload))
	if err != nil {
		return market.Claim{}, err
	}
	parsed := market.Claim{
		ID:            claimID,
		ListingID:     listingID,
		UserID:        userID,
		Units:         claim.Units,
		AmountCharged: market.AmountMinor(claim.AmountChargedMinor),
		Status:        status,
		Reference:     claim.Reference,
		Payload:       payload,
		CreatedAt:     claim.CreatedAt,
	}
	if claim.SlotStart != nil {
		parsed.SlotStart = *claim.SlotStart
	}
	return parsed, nil
}

// FromOutcome renders a reservation outcome.
func FromOutcome(outcome market.ReservationOutcome) ReservationResponse {
	response := ReservationResponse{
		Status:       string(outcome.Status),
		Reason:       outcome.Reason.String(),
		ChargedMinor: outcome.Charged.Int64(),
		Reference:    outcome.Reference,
		Message:      outcome.Message,
	}
	if outcome.HasBalance {
		balance := outcome.NewBalance
		response.NewBalanceMinor = &balance
	}
	if outcome.Claim != nil {
		claim := FromClaim(*outcome.Claim)
		response.Claim = &claim
	}
	return response
}

// Market parses the response back into an outcome; Cause is not carried.
func (response ReservationResponse) Market() (market.ReservationOutcome, error) {
	outcome := market.ReservationOutcome{
		Status:    market.ReservationStatus(response.Status),
		Reason:    market.Reason(response.Reason),
		Charged:   market.AmountMinor(response.ChargedMinor),
		Reference: response.Reference,
		Message:   response.Message,
	}
	if response.NewBalanceMinor != nil {
		outcome.NewBalance = *response.NewBalanceMinor
		outcome.HasBalance = true
	}
	if response.Claim != nil {
		claim, err := response.Claim.Market()
		if err != nil {
			return market.ReservationOutcome{}, err
		}
		outcome.Claim = &claim
	}
	return outcome, nil
}
