// Package circulation implements the library's lending rules: copy
// accounting, loans, overdue fines, the reservation queue and the fine
// ledger.  Every mutating operation runs under per-key locks (user
// before book) and inside a single store transaction, so the copy
// counters can never drift from the loans and holds that consumed them.
package circulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iliyamo/library-circulation/internal/config"
	"github.com/iliyamo/library-circulation/internal/lock"
	"github.com/iliyamo/library-circulation/internal/store"
)

const defaultNotifyTimeout = 5 * time.Second

// Deps are the collaborators an Engine runs against.  Store and
// Entitlements are required; the rest fall back to in-process defaults.
type Deps struct {
	Store        store.Store
	Locker       lock.Locker
	Entitlements EntitlementProvider
	Notifier     Notifier
	Logger       *slog.Logger
}

// Option tweaks an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.  Tests use it to move time forward.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = func() time.Time { return now().UTC() } }
}

// WithNotifyTimeout bounds each notification hand-off.
func WithNotifyTimeout(d time.Duration) Option {
	return func(e *Engine) { e.notifyTimeout = d }
}

// Engine is the circulation service.  It is safe for concurrent use.
type Engine struct {
	store         store.Store
	locker        lock.Locker
	entitlements  EntitlementProvider
	notifier      Notifier
	log           *slog.Logger
	policy        config.Policy
	calc          FineCalculator
	retry         retryConfig
	now           func() time.Time
	notifyTimeout time.Duration
	inflight      sync.WaitGroup
}

// New builds an Engine enforcing p.
func New(d Deps, p config.Policy, opts ...Option) (*Engine, error) {
	if d.Store == nil {
		return nil, errors.New("circulation: store is required")
	}
	if d.Entitlements == nil {
		return nil, errors.New("circulation: entitlement provider is required")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		store:        d.Store,
		locker:       d.Locker,
		entitlements: d.Entitlements,
		notifier:     d.Notifier,
		log:          d.Logger,
		policy:       p,
		calc: FineCalculator{
			PerDay:    p.FinePerDay,
			Max:       p.FineMax,
			GraceDays: p.GraceDays,
		},
		retry: retryConfig{
			maxAttempts:  p.RetryMaxAttempts,
			baseDelay:    p.RetryBaseDelay,
			jitterFactor: defaultJitterFactor,
		},
		now:           func() time.Time { return time.Now().UTC() },
		notifyTimeout: defaultNotifyTimeout,
	}
	if e.locker == nil {
		e.locker = lock.NewLocal()
	}
	if e.notifier == nil {
		e.notifier = NopNotifier{}
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Policy returns the rules the engine enforces.
func (e *Engine) Policy() config.Policy { return e.policy }

// Calculator returns the fine calculator derived from the policy.
func (e *Engine) Calculator() FineCalculator { return e.calc }

// Wait blocks until notifications already dispatched have been handed
// to the notifier.
func (e *Engine) Wait() { e.inflight.Wait() }

func userKey(id uint64) string { return fmt.Sprintf("user:%d", id) }
func bookKey(id uint64) string { return fmt.Sprintf("book:%d", id) }

// lockKeys takes keys in the order given and returns a function that
// releases them in reverse.  Callers pass user keys before book keys.
func (e *Engine) lockKeys(ctx context.Context, op string, keys ...string) (func(), error) {
	unlocks := make([]func(), 0, len(keys))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, k := range keys {
		u, err := e.locker.Lock(ctx, k)
		if err != nil {
			release()
			return nil, &Error{Kind: KindTransient, Reason: ReasonLockUnavailable, Op: op, Detail: k, Err: err}
		}
		unlocks = append(unlocks, u)
	}
	return release, nil
}

// txScope is the transaction handle passed to engine steps.  Work
// registered with onCommit runs only after a successful commit.
type txScope struct {
	store.Tx
	after []func()
}

func (s *txScope) onCommit(f func()) { s.after = append(s.after, f) }

// inTx runs fn in a store transaction, retrying on write conflicts.
// Errors that are not already tagged are wrapped with the op name.
func (e *Engine) inTx(ctx context.Context, op string, fn func(ctx context.Context, tx *txScope) error) error {
	err := e.retry.retry(ctx, op, func(ctx context.Context) error {
		scope := &txScope{}
		if err := e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			scope.Tx = tx
			return fn(ctx, scope)
		}); err != nil {
			return err
		}
		for _, f := range scope.after {
			f()
		}
		return nil
	})
	if err == nil || KindOf(err) != KindUnknown {
		return err
	}
	return fmt.Errorf("circulation: %s: %w", op, err)
}

// dispatch hands a notification to the notifier in the background.
func (e *Engine) dispatch(kind string, send func(ctx context.Context) error) {
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.notifyTimeout)
		defer cancel()
		if err := send(ctx); err != nil {
			notificationFailures.WithLabelValues(kind).Inc()
			e.log.Warn("circulation: notification failed", "kind", kind, "err", err)
		}
	}()
}

func (e *Engine) today() time.Time { return dayOf(e.now()) }
