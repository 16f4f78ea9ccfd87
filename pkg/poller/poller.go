// Package poller keeps a locally held snapshot of remote state fresh by
// re-fetching it on a fixed interval and on demand.
package poller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidConfig reports a subscription that cannot be started.
var ErrInvalidConfig = errors.New("poller: invalid config")

// ErrStopped is returned by Refresh after the subscription has stopped.
var ErrStopped = errors.New("poller: subscription stopped")

// FetchFunc reads the authoritative state of one resource.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Snapshot is one complete read of a resource. Versions increase by one per
// successful fetch.
type Snapshot[T any] struct {
	Value     T
	Version   uint64
	FetchedAt time.Time
}

// Ticker abstracts time.Ticker for tests.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (wrapped timeTicker) C() <-chan time.Time { return wrapped.ticker.C }
func (wrapped timeTicker) Stop()               { wrapped.ticker.Stop() }

func newTimeTicker(interval time.Duration) Ticker {
	return timeTicker{ticker: time.NewTicker(interval)}
}

// Option configures a subscription.
type Option func(*settings)

type settings struct {
	logger       *zap.Logger
	errorHandler func(resourceID string, err error)
	newTicker    func(time.Duration) Ticker
	now          func() time.Time
}

// WithLogger logs fetch failures and lifecycle events.
func WithLogger(logger *zap.Logger) Option {
	return func(config *settings) {
		if logger != nil {
			config.logger = logger
		}
	}
}

// WithErrorHandler receives fetch failures. The previous snapshot is kept.
func WithErrorHandler(handler func(resourceID string, err error)) Option {
	return func(config *settings) {
		config.errorHandler = handler
	}
}

// WithTicker replaces the interval timer.
func WithTicker(factory func(time.Duration) Ticker) Option {
	return func(config *settings) {
		if factory != nil {
			config.newTicker = factory
		}
	}
}

// WithClock sets the clock used to stamp snapshots.
func WithClock(now func() time.Time) Option {
	return func(config *settings) {
		if now != nil {
			config.now = now
		}
	}
}

// Subscription polls one resource until stopped or until its context ends.
type Subscription[T any] struct {
	resourceID string
	interval   time.Duration
	fetch      FetchFunc[T]
	settings   settings

	fetchMu sync.Mutex

	mu       sync.RWMutex
	snapshot Snapshot[T]
	hasValue bool
	updates  chan Snapshot[T]

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// Start begins polling resourceID every interval. The first fetch happens
// immediately in the background; use Refresh to wait for a fresh value.
func Start[T any](ctx context.Context, resourceID string, interval time.Duration, fetch FetchFunc[T], options ...Option) (*Subscription[T], error) {
	trimmedID := strings.TrimSpace(resourceID)
	if trimmedID == "" {
		return nil, fmt.Errorf("%w: empty resource id", ErrInvalidConfig)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	if fetch == nil {
		return nil, fmt.Errorf("%w: fetch function is nil", ErrInvalidConfig)
	}
	config := settings{logger: zap.NewNop(), newTicker: newTimeTicker, now: time.Now}
	for _, option := range options {
		if option != nil {
			option(&config)
		}
	}

	pollCtx, cancel := context.WithCancel(ctx)
	subscription := &Subscription[T]{
		resourceID: trimmedID,
		interval:   interval,
		fetch:      fetch,
		settings:   config,
		updates:    make(chan Snapshot[T], 1),
		ctx:        pollCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go subscription.run()
	return subscription, nil
}

// Stop cancels a subscription and waits for its goroutine to exit.
func Stop[T any](subscription *Subscription[T]) {
	if subscription != nil {
		subscription.Stop()
	}
}

// ResourceID returns the polled resource.
func (subscription *Subscription[T]) ResourceID() string {
	return subscription.resourceID
}

// Snapshot returns the latest snapshot and whether one has been fetched.
func (subscription *Subscription[T]) Snapshot() (Snapshot[T], bool) {
	subscription.mu.RLock()
	defer subscription.mu.RUnlock()
	return subscription.snapshot, subscription.hasValue
}

// Updates delivers new snapshots. Only the latest undelivered snapshot is
// kept; the channel closes when the subscription stops.
func (subscription *Subscription[T]) Updates() <-chan Snapshot[T] {
	return subscription.updates
}

// Done is closed once polling has stopped.
func (subscription *Subscription[T]) Done() <-chan struct{} {
	return subscription.done
}

// Refresh fetches immediately, outside the interval, and returns the new
// snapshot. Callers use it after actions that are likely to change the resource.
// Stopping the subscription cancels an in-flight refresh with ErrStopped.
func (subscription *Subscription[T]) Refresh(ctx context.Context) (Snapshot[T], error) {
	select {
	case <-subscription.ctx.Done():
		return Snapshot[T]{}, ErrStopped
	default:
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	release := context.AfterFunc(subscription.ctx, cancel)
	defer release()

	snapshot, err := subscription.poll(fetchCtx)
	if err != nil && subscription.ctx.Err() != nil {
		return Snapshot[T]{}, ErrStopped
	}
	return snapshot, err
}

// Stop cancels polling and waits for the goroutine to exit. Safe to call more
// than once.
func (subscription *Subscription[T]) Stop() {
	subscription.stopOnce.Do(subscription.cancel)
	<-subscription.done
}

func (subscription *Subscription[T]) run() {
	defer close(subscription.done)
	defer func() {
		subscription.fetchMu.Lock()
		close(subscription.updates)
		subscription.fetchMu.Unlock()
	}()

	ticker := subscription.settings.newTicker(subscription.interval)
	defer ticker.Stop()
	subscription.settings.logger.Debug("poller started",
		zap.String("resource_id", subscription.resourceID),
		zap.Duration("interval", subscription.interval))

	subscription.poll(subscription.ctx)
	for {
		select {
		case <-subscription.ctx.Done():
			subscription.settings.logger.Debug("poller stopped", zap.String("resource_id", subscription.resourceID))
			return
		case <-ticker.C():
			subscription.poll(subscription.ctx)
		}
	}
}

// poll serializes fetches so versions follow commit order.
func (subscription *Subscription[T]) poll(ctx context.Context) (Snapshot[T], error) {
	subscription.fetchMu.Lock()
	defer subscription.fetchMu.Unlock()
	if subscription.ctx.Err() != nil {
		return Snapshot[T]{}, ErrStopped
	}

	value, err := subscription.fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			subscription.reportError(err)
		}
		return Snapshot[T]{}, err
	}

	subscription.mu.Lock()
	next := Snapshot[T]{
		Value:     value,
		Version:   subscription.snapshot.Version + 1,
		FetchedAt: subscription.settings.now(),
	}
	subscription.snapshot = next
	subscription.hasValue = true
	subscription.mu.Unlock()

	subscription.publish(next)
	return next, nil
}

func (subscription *Subscription[T]) publish(snapshot Snapshot[T]) {
	select {
	case <-subscription.updates:
	default:
	}
	select {
	case subscription.updates <- snapshot:
	default:
	}
}

func (subscription *Subscription[T]) reportError(err error) {
	subscription.settings.logger.Warn("poll failed",
		zap.String("resource_id", subscription.resourceID),
		zap.Error(err))
	if subscription.settings.errorHandler != nil {
		subscription.settings.errorHandler(subscription.resourceID, err)
	}
}
