package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const waitTimeout = 2 * time.Second

type manualTicker struct {
	ticks   chan time.Time
	stopped atomic.Bool
}

func newManualTicker() *manualTicker {
	return &manualTicker{ticks: make(chan time.Time)}
}

func (ticker *manualTicker) C() <-chan time.Time { return ticker.ticks }
func (ticker *manualTicker) Stop()               { ticker.stopped.Store(true) }

func (ticker *manualTicker) factory(time.Duration) Ticker { return ticker }

func (ticker *manualTicker) tick(test *testing.T) {
	test.Helper()
	select {
	case ticker.ticks <- time.Now():
	case <-time.After(waitTimeout):
		test.Fatalf("poller did not accept tick")
	}
}

type countingFetch struct {
	mu     sync.Mutex
	calls  int
	values []int
	errs   []error
}

func (fetch *countingFetch) fetch(context.Context) (int, error) {
	fetch.mu.Lock()
	defer fetch.mu.Unlock()
	index := fetch.calls
	fetch.calls++
	if index < len(fetch.errs) && fetch.errs[index] != nil {
		return 0, fetch.errs[index]
	}
	if index < len(fetch.values) {
		return fetch.values[index], nil
	}
	return index, nil
}

func nextUpdate[T any](test *testing.T, subscription *Subscription[T]) Snapshot[T] {
	test.Helper()
	select {
	case snapshot, ok := <-subscription.Updates():
		if !ok {
			test.Fatalf("updates closed")
		}
		return snapshot
	case <-time.After(waitTimeout):
		test.Fatalf("timed out waiting for snapshot")
	}
	return Snapshot[T]{}
}

func TestStartValidatesConfig(test *testing.T) {
	test.Parallel()
	fetch := func(context.Context) (int, error) { return 0, nil }
	testCases := []struct {
		name       string
		resourceID string
		interval   time.Duration
		fetch      FetchFunc[int]
	}{
		{name: "empty resource", resourceID: " ", interval: time.Second, fetch: fetch},
		{name: "zero interval", resourceID: "listing", fetch: fetch},
		{name: "nil fetch", resourceID: "listing", interval: time.Second},
	}
	for _, testCase := range testCases {
		if _, err := Start(context.Background(), testCase.resourceID, testCase.interval, testCase.fetch); !errors.Is(err, ErrInvalidConfig) {
			test.Fatalf("%s: expected ErrInvalidConfig, got %v", testCase.name, err)
		}
	}
}

func TestSubscriptionReplacesSnapshotOnEachTick(test *testing.T) {
	test.Parallel()
	ticker := newManualTicker()
	source := &countingFetch{values: []int{100, 200, 300}}
	subscription, err := Start(context.Background(), "listing-1", time.Second, source.fetch, WithTicker(ticker.factory))
	if err != nil {
		test.Fatalf("start: %v", err)
	}
	defer subscription.Stop()

	first := nextUpdate(test, subscription)
	if first.Value != 100 || first.Version != 1 {
		test.Fatalf("unexpected initial snapshot %+v", first)
	}
	ticker.tick(test)
	second := nextUpdate(test, subscription)
	if second.Value != 200 || second.Version != 2 {
		test.Fatalf("unexpected second snapshot %+v", second)
	}
	ticker.tick(test)
	third := nextUpdate(test, subscription)
	if third.Value != 300 || third.Version != 3 {
		test.Fatalf("unexpected third snapshot %+v", third)
	}
	latest, ok := subscription.Snapshot()
	if !ok || latest.Version != 3 {
		test.Fatalf("expected latest snapshot version 3, got %+v", latest)
	}
}

func TestFetchErrorKeepsPreviousSnapshot(test *testing.T) {
	test.Parallel()
	ticker := newManualTicker()
	failure := errors.New("gateway timeout")
	source := &countingFetch{values: []int{7, 0, 9}, errs: []error{nil, failure}}
	reported := make(chan error, 1)
	subscription, err := Start(context.Background(), "listing-2", time.Second, source.fetch,
		WithTicker(ticker.factory),
		WithErrorHandler(func(resourceID string, err error) {
			if resourceID == "listing-2" {
				reported <- err
			}
		}))
	if err != nil {
		test.Fatalf("start: %v", err)
	}
	defer subscription.Stop()

	nextUpdate(test, subscription)
	ticker.tick(test)
	select {
	case got := <-reported:
		if !errors.Is(got, failure) {
			test.Fatalf("expected reported failure, got %v", got)
		}
	case <-time.After(waitTimeout):
		test.Fatalf("error handler not called")
	}
	kept, ok := subscription.Snapshot()
	if !ok || kept.Value != 7 || kept.Version != 1 {
		test.Fatalf("expected previous snapshot kept, got %+v", kept)
	}
	ticker.tick(test)
	recovered := nextUpdate(test, subscription)
	if recovered.Value != 9 || recovered.Version != 2 {
		test.Fatalf("unexpected recovered snapshot %+v", recovered)
	}
}

func TestRefreshFetchesOutsideInterval(test *testing.T) {
	test.Parallel()
	ticker := newManualTicker()
	source := &countingFetch{}
	subscription, err := Start(context.Background(), "slots", time.Hour, source.fetch, WithTicker(ticker.factory))
	if err != nil {
		test.Fatalf("start: %v", err)
	}
	defer Stop(subscription)
	nextUpdate(test, subscription)

	refreshed, err := subscription.Refresh(context.Background())
	if err != nil {
		test.Fatalf("refresh: %v", err)
	}
	if refreshed.Version != 2 {
		test.Fatalf("expected version 2 after refresh, got %d", refreshed.Version)
	}
}

func TestStopEndsPollingAndClosesUpdates(test *testing.T) {
	test.Parallel()
	ticker := newManualTicker()
	source := &countingFetch{}
	subscription, err := Start(context.Background(), "listing-3", time.Second, source.fetch, WithTicker(ticker.factory))
	if err != nil {
		test.Fatalf("start: %v", err)
	}
	nextUpdate(test, subscription)

	subscription.Stop()
	subscription.Stop()
	if !ticker.stopped.Load() {
		test.Fatalf("expected ticker stopped")
	}
	if _, open := <-subscription.Updates(); open {
		test.Fatalf("expected updates channel closed")
	}
	if _, err := subscription.Refresh(context.Background()); !errors.Is(err, ErrStopped) {
		test.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestStopCancelsInFlightRefresh(test *testing.T) {
	test.Parallel()
	var calls atomic.Int32
	refreshStarted := make(chan struct{})
	fetch := func(ctx context.Context) (int, error) {
		if calls.Add(1) == 1 {
			return 1, nil
		}
		close(refreshStarted)
		<-ctx.Done()
		return 0, ctx.Err()
	}
	subscription, err := Start(context.Background(), "listing-slow", time.Hour, fetch, WithTicker(newManualTicker().factory))
	if err != nil {
		test.Fatalf("start: %v", err)
	}
	nextUpdate(test, subscription)

	refreshErr := make(chan error, 1)
	go func() {
		_, err := subscription.Refresh(context.Background())
		refreshErr <- err
	}()
	select {
	case <-refreshStarted:
	case <-time.After(waitTimeout):
		test.Fatalf("refresh did not start")
	}

	stopped := make(chan struct{})
	go func() {
		subscription.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(waitTimeout):
		test.Fatalf("stop waited on the in-flight refresh")
	}
	select {
	case err := <-refreshErr:
		if !errors.Is(err, ErrStopped) {
			test.Fatalf("expected ErrStopped, got %v", err)
		}
	case <-time.After(waitTimeout):
		test.Fatalf("refresh did not return")
	}
}

func TestParentContextCancellationStopsPolling(test *testing.T) {
	test.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	subscription, err := Start(ctx, "listing-4", time.Second, (&countingFetch{}).fetch, WithTicker(newManualTicker().factory))
	if err != nil {
		test.Fatalf("start: %v", err)
	}
	cancel()
	select {
	case <-subscription.Done():
	case <-time.After(waitTimeout):
		test.Fatalf("subscription did not stop with its context")
	}
}

func TestSnapshotsAreStampedByClock(test *testing.T) {
	test.Parallel()
	stamp := time.Date(2026, time.May, 1, 8, 0, 0, 0, time.UTC)
	subscription, err := Start(context.Background(), "listing-5", time.Second, (&countingFetch{}).fetch,
		WithTicker(newManualTicker().factory),
		WithClock(func() time.Time { return stamp }))
	if err != nil {
		test.Fatalf("start: %v", err)
	}
	defer subscription.Stop()
	snapshot := nextUpdate(test, subscription)
	if !snapshot.FetchedAt.Equal(stamp) || subscription.ResourceID() != "listing-5" {
		test.Fatalf("unexpected snapshot %+v", snapshot)
	}
}
