package oplog

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/berth/pkg/market"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func mustListingID(test *testing.T, raw string) market.ListingID {
	test.Helper()
	listingID, err := market.NewListingID(raw)
	if err != nil {
		test.Fatalf("listing id: %v", err)
	}
	return listingID
}

func mustUserID(test *testing.T, raw string) market.UserID {
	test.Helper()
	userID, err := market.NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func TestZapLoggerLevels(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name   string
		entry  market.OperationLog
		level  zapcore.Level
		fields []string
	}{
		{
			name:   "orphaned",
			entry:  market.OperationLog{Operation: "reserve", Status: market.OperationStatusOrphaned, Reference: "ref-1", Units: 2, Error: errors.New("claim failed")},
			level:  zapcore.ErrorLevel,
			fields: []string{"reference", "units", "error"},
		},
		{
			name:   "rejected",
			entry:  market.OperationLog{Operation: "place_bid", Status: market.OperationStatusRejected, Reason: market.ReasonBelowFloor},
			level:  zapcore.InfoLevel,
			fields: []string{"reason"},
		},
		{
			name:  "ok",
			entry: market.OperationLog{Operation: "place_bid", Status: market.OperationStatusOK},
			level: zapcore.DebugLevel,
		},
	}
	for _, testCase := range testCases {
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			core, logs := observer.New(zapcore.DebugLevel)
			logger := NewZapLogger(zap.New(core))
			entry := testCase.entry
			entry.UserID = mustUserID(test, "skipper")
			entry.ListingID = mustListingID(test, "vessel-1")
			logger.LogOperation(context.Background(), entry)

			recorded := logs.All()
			if len(recorded) != 1 {
				test.Fatalf("expected 1 entry, got %d", len(recorded))
			}
			if recorded[0].Level != testCase.level {
				test.Fatalf("expected level %s, got %s", testCase.level, recorded[0].Level)
			}
			fields := recorded[0].ContextMap()
			if fields["listing_id"] != "vessel-1" || fields["user_id"] != "skipper" {
				test.Fatalf("unexpected identity fields %v", fields)
			}
			for _, key := range testCase.fields {
				if _, ok := fields[key]; !ok {
					test.Fatalf("expected field %q in %v", key, fields)
				}
			}
		})
	}
}

func TestMetricsCountsOutcomes(test *testing.T) {
	test.Parallel()
	registry := prometheus.NewRegistry()
	metrics, err := NewMetrics(registry)
	if err != nil {
		test.Fatalf("metrics: %v", err)
	}
	ctx := context.Background()
	metrics.LogOperation(ctx, market.OperationLog{Operation: "place_bid", Status: market.OperationStatusOK})
	metrics.LogOperation(ctx, market.OperationLog{Operation: "place_bid", Status: market.OperationStatusOK})
	metrics.LogOperation(ctx, market.OperationLog{Operation: "reserve", Status: market.OperationStatusOrphaned, Reason: market.ReasonOrphanedCharge})

	if got := testutil.ToFloat64(metrics.operations.WithLabelValues("place_bid", "ok", "")); got != 2 {
		test.Fatalf("expected 2 accepted bids, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.orphans); got != 1 {
		test.Fatalf("expected 1 orphan, got %v", got)
	}
	if _, err := NewMetrics(registry); err == nil {
		test.Fatalf("expected duplicate registration error")
	}
	if _, err := NewMetrics(nil); err == nil {
		test.Fatalf("expected nil registerer error")
	}
}

type countingLogger struct {
	count int
}

func (logger *countingLogger) LogOperation(context.Context, market.OperationLog) {
	logger.count++
}

func TestFanoutSkipsNil(test *testing.T) {
	test.Parallel()
	first := &countingLogger{}
	second := &countingLogger{}
	logger := Fanout(first, nil, second)
	logger.LogOperation(context.Background(), market.OperationLog{Operation: "reserve"})
	if first.count != 1 || second.count != 1 {
		test.Fatalf("expected each logger once, got %d and %d", first.count, second.count)
	}
}
