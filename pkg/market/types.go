package market

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// minorUnitExponent is the number of decimal places of the minor currency unit.
const minorUnitExponent = 2

// AmountMinor is an integer amount of money in minor currency units.
type AmountMinor int64

// NewAmountMinor validates an amount and ensures it is strictly positive.
func NewAmountMinor(raw int64) (AmountMinor, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return AmountMinor(raw), nil
}

// Int64 returns the raw minor-unit value.
func (amount AmountMinor) Int64() int64 {
	return int64(amount)
}

// Decimal returns the amount in major units.
func (amount AmountMinor) Decimal() decimal.Decimal {
	return decimal.New(int64(amount), -minorUnitExponent)
}

// String formats the amount in major units with fixed precision.
func (amount AmountMinor) String() string {
	return amount.Decimal().StringFixed(minorUnitExponent)
}

// Times multiplies a unit price by a unit count, rejecting overflow.
func (amount AmountMinor) Times(units int) (AmountMinor, error) {
	if units <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidUnits, units)
	}
	if int64(amount) > math.MaxInt64/int64(units) {
		return 0, fmt.Errorf("%w: %d x %d overflows", ErrInvalidAmount, amount, units)
	}
	return amount * AmountMinor(units), nil
}

// MinBidFloor returns ceil(askingPrice * 0.9) in minor units.
func MinBidFloor(askingPrice AmountMinor) AmountMinor {
	if askingPrice <= 0 {
		return 0
	}
	raw := int64(askingPrice)
	// Split before multiplying so large prices cannot overflow.
	whole, remainder := raw/10, raw%10
	return AmountMinor(whole*9 + (remainder*9+9)/10)
}

// ListingID identifies a vessel or merchant deal.
type ListingID struct {
	value string
}

// UserID identifies a bidder or customer.
type UserID struct {
	value string
}

// BidID identifies a bid record.
type BidID struct {
	value string
}

// ClaimID identifies a reservation claim.
type ClaimID struct {
	value string
}

// NewListingID validates and normalizes a listing id.
func NewListingID(raw string) (ListingID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ListingID{}, fmt.Errorf("%w: empty value", ErrInvalidListingID)
	}
	return ListingID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ListingID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id ListingID) IsZero() bool {
	return id.value == ""
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id UserID) IsZero() bool {
	return id.value == ""
}

// NewBidID validates and normalizes a bid id.
func NewBidID(raw string) (BidID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BidID{}, fmt.Errorf("%w: empty value", ErrInvalidBidID)
	}
	return BidID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id BidID) String() string {
	return id.value
}

// NewClaimID validates and normalizes a claim id.
func NewClaimID(raw string) (ClaimID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ClaimID{}, fmt.Errorf("%w: empty value", ErrInvalidClaimID)
	}
	return ClaimID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ClaimID) String() string {
	return id.value
}

// MetadataJSON stores an arbitrary claim payload.
type MetadataJSON struct {
	value string
}

// NewMetadataJSON validates a payload string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// ListingStatus defines the listing lifecycle.
type ListingStatus string

const (
	ListingStatusDraft   ListingStatus = "draft"
	ListingStatusForSale ListingStatus = "for_sale"
	ListingStatusForBid  ListingStatus = "for_bid"
	ListingStatusSold    ListingStatus = "sold"
)

// ParseListingStatus validates a stored listing status.
func ParseListingStatus(raw string) (ListingStatus, error) {
	switch status := ListingStatus(strings.TrimSpace(raw)); status {
	case ListingStatusDraft, ListingStatusForSale, ListingStatusForBid, ListingStatusSold:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidListingStatus, raw)
	}
}

// String returns the stored representation.
func (status ListingStatus) String() string {
	return string(status)
}

// IsOpen reports whether the listing accepts bids and reservations.
func (status ListingStatus) IsOpen() bool {
	return status == ListingStatusForSale || status == ListingStatusForBid
}

// ListingKind separates auctioned vessels from redeemable deals.
type ListingKind string

const (
	ListingKindVessel ListingKind = "vessel"
	ListingKindDeal   ListingKind = "deal"
)

// Listing is an authoritative snapshot of a vessel or deal.
type Listing struct {
	ID          ListingID
	Kind        ListingKind
	Title       string
	AskingPrice AmountMinor
	// CurrentBid is zero until a bid has been accepted.
	CurrentBid AmountMinor
	Status     ListingStatus
	UpdatedAt  time.Time
}

// Reservable reports whether the listing can be bought with balance. Vessels
// and listings under auction settle through the auction instead.
func (listing Listing) Reservable() bool {
	return listing.Kind != ListingKindVessel && listing.Status == ListingStatusForSale
}

// MinBidFloor returns the listing's minimum acceptable bid.
func (listing Listing) MinBidFloor() AmountMinor {
	return MinBidFloor(listing.AskingPrice)
}

// CurrentBidAmount returns the current bid and whether one exists.
func (listing Listing) CurrentBidAmount() (AmountMinor, bool) {
	return listing.CurrentBid, listing.CurrentBid > 0
}

// BidStatus defines the bid lifecycle.
type BidStatus string

const (
	BidStatusActive     BidStatus = "active"
	BidStatusSuperseded BidStatus = "superseded"
	BidStatusRejected   BidStatus = "rejected"
)

// ParseBidStatus validates a stored bid status.
func ParseBidStatus(raw string) (BidStatus, error) {
	switch status := BidStatus(strings.TrimSpace(raw)); status {
	case BidStatusActive, BidStatusSuperseded, BidStatusRejected:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidBidStatus, raw)
	}
}

// String returns the stored representation.
func (status BidStatus) String() string {
	return string(status)
}

// Bid is an immutable offer on a listing.
type Bid struct {
	ID        BidID
	ListingID ListingID
	BidderID  UserID
	Amount    AmountMinor
	Status    BidStatus
	CreatedAt time.Time
}

// BidSubmission is the write request sent to the authoritative store.
type BidSubmission struct {
	ListingID ListingID
	BidderID  UserID
	Amount    AmountMinor
	CreatedAt time.Time
}

// ClaimStatus defines the claim lifecycle.
type ClaimStatus string

const (
	ClaimStatusPending        ClaimStatus = "pending"
	ClaimStatusConfirmed      ClaimStatus = "confirmed"
	ClaimStatusOrphanedCharge ClaimStatus = "orphaned_charge"
)

// ParseClaimStatus validates a stored claim status.
func ParseClaimStatus(raw string) (ClaimStatus, error) {
	switch status := ClaimStatus(strings.TrimSpace(raw)); status {
	case ClaimStatusPending, ClaimStatusConfirmed, ClaimStatusOrphanedCharge:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidClaimStatus, raw)
	}
}

// String returns the stored representation.
func (status ClaimStatus) String() string {
	return string(status)
}

// Claim is a booking or deal redemption backed by a balance deduction.
type Claim struct {
	ID        ClaimID
	ListingID ListingID
	UserID    UserID
	Units     int
	// SlotStart is zero for deal redemptions.
	SlotStart     time.Time
	AmountCharged AmountMinor
	Status        ClaimStatus
	Reference     string
	Payload       MetadataJSON
	CreatedAt     time.Time
}

// HasSlot reports whether the claim occupies a time slot.
func (claim Claim) HasSlot() bool {
	return !claim.SlotStart.IsZero()
}
