// Package marketv1 defines the JSON contract of the berth HTTP API.
package marketv1

import (
	"encoding/json"
	"time"
)

// DateLayout formats calendar dates on the wire.
const DateLayout = "2006-01-02"

// ErrorBody carries a stable error code and a human message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorEnvelope wraps every non-2xx response.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

type Listing struct {
	ListingID        string    `json:"listing_id"`
	Kind             string    `json:"kind"`
	Title            string    `json:"title"`
	AskingPriceMinor int64     `json:"asking_price_minor"`
	AskingPrice      string    `json:"asking_price"`
	CurrentBidMinor  int64     `json:"current_bid_minor"`
	MinBidFloorMinor int64     `json:"min_bid_floor_minor"`
	Status           string    `json:"status"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type ListingsResponse struct {
	Listings []Listing `json:"listings"`
}

type Bid struct {
	BidID       string    `json:"bid_id"`
	ListingID   string    `json:"listing_id"`
	BidderID    string    `json:"bidder_id"`
	AmountMinor int64     `json:"amount_minor"`
	Amount      string    `json:"amount"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

type BidHistoryResponse struct {
	Bids []Bid `json:"bids"`
}

type BidRequest struct {
	AmountMinor int64 `json:"amount_minor"`
}

// BidResponse reports a bid attempt; rejections carry a reason code.
type BidResponse struct {
	Accepted         bool    `json:"accepted"`
	Reason           string  `json:"reason,omitempty"`
	MinBidFloorMinor int64   `json:"min_bid_floor_minor"`
	Bid              *Bid    `json:"bid,omitempty"`
	Listing          Listing `json:"listing"`
}

// Rule is a weekly availability window; Weekday is ISO (1 = Monday).
type Rule struct {
	Weekday       int    `json:"weekday"`
	Start         string `json:"start"`
	End           string `json:"end"`
	SlotMinutes   int    `json:"slot_minutes"`
	BufferMinutes int    `json:"buffer_minutes"`
	Capacity      int    `json:"capacity"`
}

type RulesResponse struct {
	Rules []Rule `json:"rules"`
}

type DatesResponse struct {
	Dates []string `json:"dates"`
}

type Slot struct {
	Start      string    `json:"start"`
	StartsAt   time.Time `json:"starts_at"`
	Remaining  int       `json:"remaining"`
	Selectable bool      `json:"selectable"`
	Block      string    `json:"block,omitempty"`
}

type Day struct {
	Date      string `json:"date"`
	Weekday   int    `json:"weekday"`
	Available bool   `json:"available"`
	Slots     []Slot `json:"slots,omitempty"`
}

type CalendarResponse struct {
	Timezone string `json:"timezone"`
	Days     []Day  `json:"days"`
}

type ReserveRequest struct {
	ListingID string          `json:"listing_id"`
	Units     int             `json:"units"`
	SlotStart *time.Time      `json:"slot_start,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Reference string          `json:"reference,omitempty"`
}

type Claim struct {
	ClaimID            string          `json:"claim_id"`
	ListingID          string          `json:"listing_id"`
	UserID             string          `json:"user_id"`
	Units              int             `json:"units"`
	SlotStart          *time.Time      `json:"slot_start,omitempty"`
	AmountChargedMinor int64           `json:"amount_charged_minor"`
	Status             string          `json:"status"`
	Reference          string          `json:"reference"`
	Payload            json.RawMessage `json:"payload"`
	CreatedAt          time.Time       `json:"created_at"`
}

type ClaimsResponse struct {
	Claims []Claim `json:"claims"`
}

// ReservationResponse reports the terminal state of a reservation attempt.
// NewBalanceMinor is present whenever the balance provider answered.
type ReservationResponse struct {
	Status          string `json:"status"`
	Reason          string `json:"reason,omitempty"`
	Claim           *Claim `json:"claim,omitempty"`
	NewBalanceMinor *int64 `json:"new_balance_minor,omitempty"`
	ChargedMinor    int64  `json:"charged_minor"`
	Reference       string `json:"reference"`
	Message         string `json:"message,omitempty"`
}

type BalanceEntry struct {
	AmountMinor int64     `json:"amount_minor"`
	Description string    `json:"description"`
	Reference   string    `json:"reference"`
	CreatedAt   time.Time `json:"created_at"`
}

type BalanceResponse struct {
	UserID       string         `json:"user_id"`
	BalanceMinor int64          `json:"balance_minor"`
	Balance      string         `json:"balance"`
	Entries      []BalanceEntry `json:"entries"`
}

type TopUpRequest struct {
	AmountMinor int64  `json:"amount_minor"`
	Reference   string `json:"reference,omitempty"`
}
