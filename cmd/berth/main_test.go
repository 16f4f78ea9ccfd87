package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/berth/internal/config"
	"github.com/MarkoPoloResearchLab/berth/pkg/market"
	"go.uber.org/zap"
)

const commandFixture = `
listings:
  - id: vessel-aurora
    kind: vessel
    title: Aurora 42
    asking_price_minor: 1500000
balances:
  - user_id: demo-user
    amount_minor: 50000
    reference: welcome
`

func executeCommand(test *testing.T, args ...string) string {
	test.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		test.Fatalf("berth %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func TestSeedCloseAndOrphansCommands(test *testing.T) {
	test.Parallel()
	directory := test.TempDir()
	databaseURL := "sqlite://" + filepath.Join(directory, "berth.db")
	fixturePath := filepath.Join(directory, "fixture.yaml")
	if err := os.WriteFile(fixturePath, []byte(commandFixture), 0o600); err != nil {
		test.Fatalf("write fixture: %v", err)
	}

	output := executeCommand(test, "seed", "--database-url", databaseURL, "--file", fixturePath)
	if !strings.Contains(output, "listings=1") || !strings.Contains(output, "balances=1") {
		test.Fatalf("unexpected seed output %q", output)
	}
	output = executeCommand(test, "seed", "--database-url", databaseURL, "--file", fixturePath)
	if !strings.Contains(output, "skipped_balances=1") {
		test.Fatalf("expected idempotent reseed, got %q", output)
	}

	output = executeCommand(test, "close", "vessel-aurora", "--database-url", databaseURL)
	if !strings.Contains(output, "vessel-aurora sold") {
		test.Fatalf("unexpected close output %q", output)
	}

	output = executeCommand(test, "orphans", "--database-url", databaseURL)
	if lines := strings.Split(strings.TrimSpace(output), "\n"); len(lines) != 1 || !strings.HasPrefix(lines[0], "OCCURRED") {
		test.Fatalf("expected header only, got %q", output)
	}
}

func TestServeRequiresSigningKey(test *testing.T) {
	test.Parallel()
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"serve", "--database-url", "sqlite://" + filepath.Join(test.TempDir(), "berth.db")})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "signing key") {
		test.Fatalf("expected signing key error, got %v", err)
	}
}

func TestLoadConfigReadsEnvironment(test *testing.T) {
	test.Setenv("BERTH_JWT_SIGNING_KEY", "env-secret")
	test.Setenv("BERTH_TIMEZONE", "Europe/Lisbon")
	test.Setenv("BERTH_REQUEST_TIMEOUT", "7s")

	cmd := newServeCommand()
	if err := cmd.ParseFlags([]string{"--listen-addr", ":8080"}); err != nil {
		test.Fatalf("parse flags: %v", err)
	}
	cfg := config.Config{}
	if err := loadConfig(cmd, &cfg, true); err != nil {
		test.Fatalf("load config: %v", err)
	}
	if cfg.SessionSigningKey != "env-secret" || cfg.ListenAddr != ":8080" || cfg.RequestTimeout != 7*time.Second {
		test.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Location().String() != "Europe/Lisbon" {
		test.Fatalf("expected Lisbon, got %s", cfg.Location())
	}
}

type staticListings struct {
	listing market.Listing
}

func (source staticListings) GetListing(context.Context, market.ListingID) (market.Listing, error) {
	return source.listing, nil
}

// lineWriter signals after the first complete write.
type lineWriter struct {
	mu      sync.Mutex
	buffer  bytes.Buffer
	written chan struct{}
	once    sync.Once
}

func (writer *lineWriter) Write(payload []byte) (int, error) {
	writer.mu.Lock()
	defer writer.mu.Unlock()
	written, err := writer.buffer.Write(payload)
	writer.once.Do(func() { close(writer.written) })
	return written, err
}

func (writer *lineWriter) String() string {
	writer.mu.Lock()
	defer writer.mu.Unlock()
	return writer.buffer.String()
}

func TestWatchListingPrintsSnapshots(test *testing.T) {
	test.Parallel()
	listingID, err := market.NewListingID("vessel-watch")
	if err != nil {
		test.Fatalf("listing id: %v", err)
	}
	source := staticListings{listing: market.Listing{
		ID:          listingID,
		Kind:        market.ListingKindVessel,
		AskingPrice: 100_000,
		CurrentBid:  92_000,
		Status:      market.ListingStatusForBid,
	}}
	writer := &lineWriter{written: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- watchListing(ctx, writer, source, listingID, time.Hour, zap.NewNop())
	}()

	select {
	case <-writer.written:
	case <-time.After(5 * time.Second):
		test.Fatalf("no snapshot printed")
	}
	cancel()
	if err := <-done; err != nil {
		test.Fatalf("watch: %v", err)
	}
	if line := writer.String(); !strings.Contains(line, "vessel-watch status=for_bid current_bid=920.00 floor=900.00") {
		test.Fatalf("unexpected output %q", line)
	}
}
