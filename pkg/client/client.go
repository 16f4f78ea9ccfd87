// Package client talks to the berth HTTP API. It implements the market
// collaborator interfaces so the core can run on the caller's side.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	marketv1 "github.com/MarkoPoloResearchLab/berth/api/market/v1"
	"github.com/MarkoPoloResearchLab/berth/pkg/market"
)

const (
	defaultCookieName = "app_session"
	defaultTimeout    = 10 * time.Second
)

// ErrInvalidConfig reports a client that cannot be built.
var ErrInvalidConfig = errors.New("client: invalid config")

// APIError is a non-2xx response. It unwraps to the market sentinel matching
// its code when there is one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (apiError *APIError) Error() string {
	return fmt.Sprintf("berth api: %d %s: %s", apiError.StatusCode, apiError.Code, apiError.Message)
}

func (apiError *APIError) Unwrap() error {
	if sentinel, ok := market.ErrorForReason(market.Reason(apiError.Code)); ok {
		return sentinel
	}
	switch apiError.Code {
	case "unknown_listing":
		return market.ErrUnknownListing
	case "duplicate_reference":
		return market.ErrDuplicateRef
	case "invalid_amount":
		return market.ErrInvalidAmount
	case "invalid_units":
		return market.ErrInvalidUnits
	case "invalid_listing_id":
		return market.ErrInvalidListingID
	case "invalid_payload":
		return market.ErrInvalidMetadataJSON
	case "invalid_horizon":
		return market.ErrInvalidHorizon
	default:
		return nil
	}
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *Client) {
		if httpClient != nil {
			client.httpClient = httpClient
		}
	}
}

// WithSession sends the session token as a cookie on every request.
func WithSession(cookieName string, token string) Option {
	return func(client *Client) {
		if strings.TrimSpace(cookieName) != "" {
			client.cookieName = cookieName
		}
		client.sessionToken = token
	}
}

// WithLocation sets the zone wire dates are interpreted in.
func WithLocation(location *time.Location) Option {
	return func(client *Client) {
		if location != nil {
			client.location = location
		}
	}
}

// Client is safe for concurrent use.
type Client struct {
	baseURL      *url.URL
	httpClient   *http.Client
	cookieName   string
	sessionToken string
	location     *time.Location
}

// New builds a client for the API at baseURL.
func New(baseURL string, options ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: base url %q", ErrInvalidConfig, baseURL)
	}
	client := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: defaultTimeout},
		cookieName: defaultCookieName,
		location:   time.UTC,
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client, nil
}

// GetListing implements market.ListingSource.
func (client *Client) GetListing(ctx context.Context, listingID market.ListingID) (market.Listing, error) {
	var response marketv1.Listing
	if err := client.do(ctx, http.MethodGet, listingPath(listingID, ""), nil, nil, &response); err != nil {
		return market.Listing{}, err
	}
	return response.Market()
}

// ListListings returns listings, optionally filtered by status.
func (client *Client) ListListings(ctx context.Context, statuses ...market.ListingStatus) ([]market.Listing, error) {
	query := url.Values{}
	for _, status := range statuses {
		query.Add("status", status.String())
	}
	var response marketv1.ListingsResponse
	if err := client.do(ctx, http.MethodGet, "/api/listings", query, nil, &response); err != nil {
		return nil, err
	}
	listings := make([]market.Listing, 0, len(response.Listings))
	for _, payload := range response.Listings {
		listing, err := payload.Market()
		if err != nil {
			return nil, err
		}
		listings = append(listings, listing)
	}
	return listings, nil
}

// SubmitBid implements market.BidStore. The server re-evaluates the bid and
// records it for the session user; submission.BidderID is not sent. A
// rejection is returned as the matching market sentinel.
func (client *Client) SubmitBid(ctx context.Context, submission market.BidSubmission) (market.Bid, error) {
	var response marketv1.BidResponse
	request := marketv1.BidRequest{AmountMinor: submission.Amount.Int64()}
	if err := client.do(ctx, http.MethodPost, listingPath(submission.ListingID, "/bids"), nil, request, &response); err != nil {
		return market.Bid{}, err
	}
	if !response.Accepted || response.Bid == nil {
		if sentinel, ok := market.ErrorForReason(market.Reason(response.Reason)); ok {
			return market.Bid{}, fmt.Errorf("%w: server rejected %s", sentinel, submission.Amount)
		}
		return market.Bid{}, fmt.Errorf("berth api: bid rejected with %q", response.Reason)
	}
	return response.Bid.Market()
}

// GetBidHistory implements market.BidStore.
func (client *Client) GetBidHistory(ctx context.Context, listingID market.ListingID) ([]market.Bid, error) {
	var response marketv1.BidHistoryResponse
	if err := client.do(ctx, http.MethodGet, listingPath(listingID, "/bids"), nil, nil, &response); err != nil {
		return nil, err
	}
	bids := make([]market.Bid, 0, len(response.Bids))
	for _, payload := range response.Bids {
		bid, err := payload.Market()
		if err != nil {
			return nil, err
		}
		bids = append(bids, bid)
	}
	return bids, nil
}

// GetAvailabilityRules implements market.AvailabilitySource.
func (client *Client) GetAvailabilityRules(ctx context.Context, listingID market.ListingID) ([]market.AvailabilityRule, error) {
	var response marketv1.RulesResponse
	if err := client.do(ctx, http.MethodGet, listingPath(listingID, "/rules"), nil, nil, &response); err != nil {
		return nil, err
	}
	rules := make([]market.AvailabilityRule, 0, len(response.Rules))
	for _, payload := range response.Rules {
		rule, err := payload.Market()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// GetAvailableDates implements market.AvailabilitySource.
func (client *Client) GetAvailableDates(ctx context.Context, listingID market.ListingID, month time.Month, year int) ([]time.Time, error) {
	query := url.Values{}
	query.Set("month", strconv.Itoa(int(month)))
	query.Set("year", strconv.Itoa(year))
	var response marketv1.DatesResponse
	if err := client.do(ctx, http.MethodGet, listingPath(listingID, "/dates"), query, nil, &response); err != nil {
		return nil, err
	}
	dates := make([]time.Time, 0, len(response.Dates))
	for _, raw := range response.Dates {
		date, err := marketv1.ParseDate(raw, client.location)
		if err != nil {
			return nil, err
		}
		dates = append(dates, date)
	}
	return dates, nil
}

// GetAvailableSlots implements market.SlotSource with raw remaining capacity.
func (client *Client) GetAvailableSlots(ctx context.Context, listingID market.ListingID, date time.Time) ([]market.SlotCandidate, error) {
	query := url.Values{}
	query.Set("date", date.In(client.location).Format(marketv1.DateLayout))
	var response marketv1.Day
	if err := client.do(ctx, http.MethodGet, listingPath(listingID, "/slots"), query, nil, &response); err != nil {
		return nil, err
	}
	return response.Candidates()
}

// Reserve runs the reservation on the server for the session user.
func (client *Client) Reserve(ctx context.Context, request market.ReserveRequest) (market.ReservationOutcome, error) {
	payload := marketv1.ReserveRequest{
		ListingID: request.ListingID.String(),
		Units:     request.Units,
		Payload:   json.RawMessage(request.Payload.String()),
		Reference: request.Reference,
	}
	if !request.SlotStart.IsZero() {
		slotStart := request.SlotStart
		payload.SlotStart = &slotStart
	}
	var response marketv1.ReservationResponse
	if err := client.do(ctx, http.MethodPost, "/api/reservations", nil, payload, &response); err != nil {
		return market.ReservationOutcome{}, err
	}
	return response.Market()
}

// Balance returns the session user's balance in minor units.
func (client *Client) Balance(ctx context.Context) (int64, error) {
	var response marketv1.BalanceResponse
	if err := client.do(ctx, http.MethodGet, "/api/balance", nil, nil, &response); err != nil {
		return 0, err
	}
	return response.BalanceMinor, nil
}

// TopUp credits the session user's balance and returns the new balance.
func (client *Client) TopUp(ctx context.Context, amount market.AmountMinor, reference string) (int64, error) {
	var response marketv1.BalanceResponse
	request := marketv1.TopUpRequest{AmountMinor: amount.Int64(), Reference: reference}
	if err := client.do(ctx, http.MethodPost, "/api/balance/topups", nil, request, &response); err != nil {
		return 0, err
	}
	return response.BalanceMinor, nil
}

func listingPath(listingID market.ListingID, suffix string) string {
	return "/api/listings/" + url.PathEscape(listingID.String()) + suffix
}

func (client *Client) do(ctx context.Context, method string, path string, query url.Values, payload any, target any) error {
	endpoint := client.baseURL.JoinPath(path)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("berth api: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return fmt.Errorf("berth api: build request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if client.sessionToken != "" {
		request.AddCookie(&http.Cookie{Name: client.cookieName, Value: client.sessionToken})
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("berth api: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		apiError := &APIError{StatusCode: response.StatusCode, Code: "http_" + strconv.Itoa(response.StatusCode)}
		var envelope marketv1.ErrorEnvelope
		if decodeErr := json.NewDecoder(response.Body).Decode(&envelope); decodeErr == nil && envelope.Error.Code != "" {
			apiError.Code = envelope.Error.Code
			apiError.Message = envelope.Error.Message
		}
		return apiError
	}
	if target == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		return fmt.Errorf("berth api: decode response: %w", err)
	}
	return nil
}
