// Package seed loads marketplace fixtures from YAML into the store.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	marketv1 "github.com/MarkoPoloResearchLab/berth/api/market/v1"
	"github.com/MarkoPoloResearchLab/berth/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/berth/pkg/market"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Fixture is the top-level seed document.
type Fixture struct {
	Listings []ListingFixture `yaml:"listings"`
	Balances []BalanceFixture `yaml:"balances"`
}

type ListingFixture struct {
	ID               string            `yaml:"id"`
	Kind             string            `yaml:"kind"`
	Title            string            `yaml:"title"`
	AskingPriceMinor int64             `yaml:"asking_price_minor"`
	Status           string            `yaml:"status"`
	Rules            []RuleFixture     `yaml:"rules"`
	Blackouts        []BlackoutFixture `yaml:"blackouts"`
}

// RuleFixture uses ISO weekdays (1 = Monday) and "HH:MM" times.
type RuleFixture struct {
	Weekday       int    `yaml:"weekday"`
	Start         string `yaml:"start"`
	End           string `yaml:"end"`
	SlotMinutes   int    `yaml:"slot_minutes"`
	BufferMinutes int    `yaml:"buffer_minutes"`
	Capacity      int    `yaml:"capacity"`
}

type BlackoutFixture struct {
	Date string `yaml:"date"`
	Note string `yaml:"note"`
}

// BalanceFixture credits a user once; the reference makes re-seeding safe.
type BalanceFixture struct {
	UserID      string `yaml:"user_id"`
	AmountMinor int64  `yaml:"amount_minor"`
	Reference   string `yaml:"reference"`
}

// Summary counts what Apply wrote.
type Summary struct {
	Listings        int
	Rules           int
	Blackouts       int
	Balances        int
	SkippedBalances int
}

// Load parses a fixture. Unknown keys are rejected.
func Load(reader io.Reader) (Fixture, error) {
	raw, err := io.ReadAll(reader)
	if err != nil {
		return Fixture{}, fmt.Errorf("seed: read: %w", err)
	}
	var fixture Fixture
	if err := yaml.UnmarshalStrict(raw, &fixture); err != nil {
		return Fixture{}, fmt.Errorf("seed: parse: %w", err)
	}
	return fixture, nil
}

// LoadFile parses the fixture at path.
func LoadFile(path string) (Fixture, error) {
	file, err := os.Open(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("seed: %w", err)
	}
	defer file.Close()
	return Load(file)
}

// Apply writes listings, rules and blackouts in one transaction, then credits
// balances. A balance whose reference was already applied is skipped.
func Apply(ctx context.Context, store *gormstore.Store, fixture Fixture, logger *zap.Logger) (Summary, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var summary Summary
	err := store.WithTx(ctx, func(ctx context.Context, transactionStore *gormstore.Store) error {
		for _, listingFixture := range fixture.Listings {
			listing, rules, err := listingFixture.parse()
			if err != nil {
				return err
			}
			if err := transactionStore.UpsertListing(ctx, listing); err != nil {
				return err
			}
			if err := transactionStore.ReplaceAvailabilityRules(ctx, listing.ID, rules); err != nil {
				return err
			}
			for _, blackout := range listingFixture.Blackouts {
				date, err := marketv1.ParseDate(blackout.Date, transactionStore.Location())
				if err != nil {
					return fmt.Errorf("seed: listing %s: %w", listing.ID, err)
				}
				if err := transactionStore.AddBlackout(ctx, listing.ID, date, blackout.Note); err != nil {
					return err
				}
			}
			summary.Listings++
			summary.Rules += len(rules)
			summary.Blackouts += len(listingFixture.Blackouts)
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}

	balances := store.Balances()
	for _, balanceFixture := range fixture.Balances {
		userID, err := market.NewUserID(balanceFixture.UserID)
		if err != nil {
			return summary, fmt.Errorf("seed: balance: %w", err)
		}
		amount, err := market.NewAmountMinor(balanceFixture.AmountMinor)
		if err != nil {
			return summary, fmt.Errorf("seed: balance for %s: %w", userID, err)
		}
		reference := strings.TrimSpace(balanceFixture.Reference)
		if reference == "" {
			reference = "seed:" + userID.String()
		}
		_, err = balances.TopUp(ctx, userID, amount, reference)
		if errors.Is(err, market.ErrDuplicateRef) {
			logger.Debug("seed balance already applied", zap.String("user_id", userID.String()), zap.String("reference", reference))
			summary.SkippedBalances++
			continue
		}
		if err != nil {
			return summary, err
		}
		summary.Balances++
	}
	return summary, nil
}

func (listingFixture ListingFixture) parse() (market.Listing, []market.AvailabilityRule, error) {
	listingID, err := market.NewListingID(listingFixture.ID)
	if err != nil {
		return market.Listing{}, nil, fmt.Errorf("seed: %w", err)
	}
	asking, err := market.NewAmountMinor(listingFixture.AskingPriceMinor)
	if err != nil {
		return market.Listing{}, nil, fmt.Errorf("seed: listing %s: %w", listingID, err)
	}
	status := market.ListingStatusForSale
	if strings.TrimSpace(listingFixture.Status) != "" {
		status, err = market.ParseListingStatus(listingFixture.Status)
		if err != nil {
			return market.Listing{}, nil, fmt.Errorf("seed: listing %s: %w", listingID, err)
		}
	}
	kind := market.ListingKind(strings.TrimSpace(listingFixture.Kind))
	switch kind {
	case "":
		kind = market.ListingKindVessel
	case market.ListingKindVessel, market.ListingKindDeal:
	default:
		return market.Listing{}, nil, fmt.Errorf("seed: listing %s: unknown kind %q", listingID, listingFixture.Kind)
	}

	rules := make([]market.AvailabilityRule, 0, len(listingFixture.Rules))
	for index, ruleFixture := range listingFixture.Rules {
		rule, err := marketv1.Rule{
			Weekday:       ruleFixture.Weekday,
			Start:         ruleFixture.Start,
			End:           ruleFixture.End,
			SlotMinutes:   ruleFixture.SlotMinutes,
			BufferMinutes: ruleFixture.BufferMinutes,
			Capacity:      ruleFixture.Capacity,
		}.Market()
		if err != nil {
			return market.Listing{}, nil, fmt.Errorf("seed: listing %s rule %d: %w", listingID, index, err)
		}
		rules = append(rules, rule)
	}
	return market.Listing{
		ID:          listingID,
		Kind:        kind,
		Title:       strings.TrimSpace(listingFixture.Title),
		AskingPrice: asking,
		Status:      status,
	}, rules, nil
}
