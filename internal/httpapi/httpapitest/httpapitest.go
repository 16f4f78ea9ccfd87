// Package httpapitest runs the HTTP API over a temporary sqlite store.
package httpapitest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/berth/internal/config"
	"github.com/MarkoPoloResearchLab/berth/internal/httpapi"
	"github.com/MarkoPoloResearchLab/berth/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/berth/pkg/market"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	SigningKey = "secret-key"
	Issuer     = "tauth"
	CookieName = "app_session"
)

// Now is the harness clock: Sunday 2026-03-01 12:00 UTC.
var Now = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

// Clock returns Now.
func Clock() time.Time {
	return Now
}

// Harness is a running API server with direct store access for seeding.
type Harness struct {
	Server   *httptest.Server
	Store    *gormstore.Store
	Config   config.Config
	Registry *prometheus.Registry
}

// New starts a server; it is closed when the test ends.
func New(test testing.TB) *Harness {
	test.Helper()
	db, cleanup, _, err := gormstore.Open("sqlite://"+filepath.Join(test.TempDir(), "berth.db"), nil)
	if err != nil {
		test.Fatalf("open database: %v", err)
	}
	test.Cleanup(func() { _ = cleanup() })
	if err := gormstore.Migrate(context.Background(), db); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	store := gormstore.New(db, gormstore.WithClock(Clock), gormstore.WithLocation(time.UTC))

	cfg := config.Config{
		ListenAddr:        ":0",
		AllowedOrigins:    []string{"http://localhost:8000"},
		SessionSigningKey: SigningKey,
		SessionIssuer:     Issuer,
		SessionCookieName: CookieName,
		RequestTimeout:    2 * time.Second,
	}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("config: %v", err)
	}

	registry := prometheus.NewRegistry()
	services, err := httpapi.WireServices(cfg, httpapi.Wiring{
		Store:      store,
		Logger:     zap.NewNop(),
		Registerer: registry,
		Gatherer:   registry,
		Now:        Clock,
	})
	if err != nil {
		test.Fatalf("wire services: %v", err)
	}

	handler, err := httpapi.NewHandler(cfg, services, zap.NewNop(), Clock)
	if err != nil {
		test.Fatalf("handler: %v", err)
	}
	validator, err := httpapi.NewSessionValidator(cfg)
	if err != nil {
		test.Fatalf("validator: %v", err)
	}
	server := httptest.NewServer(httpapi.NewRouter(cfg, handler, validator))
	test.Cleanup(server.Close)

	return &Harness{Server: server, Store: store, Config: cfg, Registry: registry}
}

// Cookie returns a signed session cookie for userID. The token is valid
// around the real wall clock because the validator checks expiry with it.
func (harness *Harness) Cookie(test testing.TB, userID string) *http.Cookie {
	test.Helper()
	claims := &sessionvalidator.Claims{
		UserID:          userID,
		UserEmail:       userID + "@example.com",
		UserDisplayName: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    harness.Config.SessionIssuer,
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(harness.Config.SessionSigningKey))
	if err != nil {
		test.Fatalf("token signing failed: %v", err)
	}
	return &http.Cookie{Name: harness.Config.SessionCookieName, Value: signed}
}

// SeedListing stores an open listing.
func (harness *Harness) SeedListing(test testing.TB, rawID string, kind market.ListingKind, asking market.AmountMinor) market.ListingID {
	test.Helper()
	listingID, err := market.NewListingID(rawID)
	if err != nil {
		test.Fatalf("listing id: %v", err)
	}
	err = harness.Store.UpsertListing(context.Background(), market.Listing{
		ID:          listingID,
		Kind:        kind,
		Title:       "Listing " + rawID,
		AskingPrice: asking,
		Status:      market.ListingStatusForSale,
	})
	if err != nil {
		test.Fatalf("upsert listing: %v", err)
	}
	return listingID
}

// SeedRules replaces the listing's availability rules.
func (harness *Harness) SeedRules(test testing.TB, listingID market.ListingID, rules ...market.AvailabilityRule) {
	test.Helper()
	if err := harness.Store.ReplaceAvailabilityRules(context.Background(), listingID, rules); err != nil {
		test.Fatalf("rules: %v", err)
	}
}

// TopUp credits a user's balance.
func (harness *Harness) TopUp(test testing.TB, rawUserID string, amount market.AmountMinor) {
	test.Helper()
	userID, err := market.NewUserID(rawUserID)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	if _, err := harness.Store.Balances().TopUp(context.Background(), userID, amount, ""); err != nil {
		test.Fatalf("top up: %v", err)
	}
}

// MondayMorning offers two one-hour slots on Mondays from 09:00.
func MondayMorning(capacity int) market.AvailabilityRule {
	return market.AvailabilityRule{
		Day:        market.Monday,
		Start:      market.ClockTime(9 * 60),
		End:        market.ClockTime(11 * 60),
		SlotLength: time.Hour,
		Capacity:   capacity,
	}
}
