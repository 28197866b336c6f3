package kvwatch

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kvwatch/kvwatch/internal/store"
)

// Record is a value read out of the map together with its write
// metadata. Version is monotonic across the whole map.
type Record[V any] struct {
	Value     V
	Version   uint64
	UpdatedAt time.Time
}

// Map is a concurrent observable key-value map. Readers can fetch the
// current value for a key or block until the next value is written to
// it, with fan-out delivery to any number of waiters per key.
//
// It is safe for concurrent use by multiple goroutines. Handles are
// shared by sharing the *Map pointer; all holders operate on the same
// underlying map.
type Map[K comparable, V any] struct {
	cfg    Config
	store  *store.Map[K, V]
	logger logrus.FieldLogger
	mu     sync.RWMutex
	closed bool
}

// New creates a new map with the provided options.
// K and V must be provided explicitly because they cannot be inferred
// from arguments.
func New[K comparable, V any](opts ...Option) (*Map[K, V], error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	cloner := Cloner[V](ValueCloner[V]{})
	if cfg.cloner != nil {
		typed, ok := cfg.cloner.(Cloner[V])
		if !ok {
			return nil, fmt.Errorf("kvwatch: cloner type mismatch")
		}
		cloner = typed
	}
	logger := cfg.logger
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}

	return &Map[K, V]{
		cfg:    cfg,
		store:  store.NewMap[K, V](cfg.Clock, cloner.Clone, cfg.Policy == FailFast),
		logger: logger,
	}, nil
}

// Set stores value under key and delivers it to every waiter currently
// registered for the key, deregistering them. A waiter registered
// before Set completes is guaranteed to receive this value; one
// registered after waits for a subsequent Set.
//
// If one or more waiters have cancelled their receivers, Set returns a
// DeliveryError carrying the value; the write itself still takes
// effect. The call never blocks beyond the map lock.
func (m *Map[K, V]) Set(ctx context.Context, key K, value V) error {
	if err := mapContextErr(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	waiters := m.store.Waiters(key)
	err := mapStoreErr[V](m.store.Set(key, value))
	if waiters > 0 {
		m.logger.WithFields(logrus.Fields{
			"key":     key,
			"waiters": waiters,
		}).Debug("kvwatch: delivered value to waiters")
	}
	return err
}

// Get returns a copy of the current value for key.
// It returns ErrNotFound if the key has never been set. Get never
// blocks and never registers a waiter.
func (m *Map[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V

	if err := mapContextErr(ctx); err != nil {
		return zero, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return zero, ErrClosed
	}

	record, err := m.store.Get(key)
	if err != nil {
		return zero, mapStoreErr[V](err)
	}
	return record.Value, nil
}

// Observe registers a waiter for the next value written to key and
// returns its receiver without blocking. A waiter is registered even if
// the key already holds a value: the receiver yields the next value
// after this call, never the current one.
func (m *Map[K, V]) Observe(ctx context.Context, key K) (*Receiver[V], error) {
	if err := mapContextErr(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	r := m.store.Observe(key)
	m.logger.WithField("key", key).Debug("kvwatch: registered waiter")
	return &Receiver[V]{inner: r}, nil
}

// Wait blocks until the next value is written to key and returns it.
// It is Observe followed by Recv on the receiver; the map lock is held
// only for the registration step, never while blocked, so writers are
// free to satisfy the wait.
//
// Wait returns ErrClosed if the map is closed or the registration is
// cleared before a value arrives, and ErrTimeout/ErrCanceled when ctx
// ends first. With a background context it blocks indefinitely.
func (m *Map[K, V]) Wait(ctx context.Context, key K) (V, error) {
	r, err := m.Observe(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}
	return r.Recv(ctx)
}

// Waiters returns the number of waiters currently registered for key,
// including cancelled ones not yet swept by a delivery.
func (m *Map[K, V]) Waiters(ctx context.Context, key K) (int, error) {
	if err := mapContextErr(ctx); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return m.store.Waiters(key), nil
}

// ClearWaiters deregisters every pending waiter for key without a
// value. Their Wait/Recv calls return ErrClosed. It returns the number
// of waiters cleared. Waiters on other keys are unaffected.
func (m *Map[K, V]) ClearWaiters(ctx context.Context, key K) (int, error) {
	if err := mapContextErr(ctx); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	n := m.store.ClearWaiters(key)
	if n > 0 {
		m.logger.WithFields(logrus.Fields{
			"key":     key,
			"cleared": n,
		}).Debug("kvwatch: cleared waiters")
	}
	return n, nil
}

// Len returns the number of keys that currently hold a value.
func (m *Map[K, V]) Len(ctx context.Context) (int, error) {
	if err := mapContextErr(ctx); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return m.store.Len(), nil
}

// Snapshot returns a point-in-time copy of all records. Values in the
// snapshot are independent copies.
func (m *Map[K, V]) Snapshot(ctx context.Context) (map[K]Record[V], error) {
	if err := mapContextErr(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	records, err := m.store.Snapshot()
	if err != nil {
		return nil, mapStoreErr[V](err)
	}
	out := make(map[K]Record[V], len(records))
	for key, record := range records {
		out[key] = Record[V](record)
	}
	return out, nil
}

// Range iterates over all records until fn returns false. The map lock
// is held for the duration of the iteration. The callback MUST NOT call
// mutating map methods (Set/Observe/ClearWaiters/Close) or any method
// that takes a write lock, otherwise it can deadlock.
func (m *Map[K, V]) Range(ctx context.Context, fn func(key K, record Record[V]) bool) error {
	if err := mapContextErr(ctx); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}

	return mapStoreErr[V](m.store.Range(func(key K, record store.Record[V]) bool {
		return fn(key, Record[V](record))
	}))
}

// Close marks the map as closed and deregisters every pending waiter;
// blocked Wait/Recv calls return ErrClosed, as do further operations.
// The provided context allows cancellation of the close operation.
func (m *Map[K, V]) Close(ctx context.Context) error {
	if err := mapContextErr(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.closed = true
	m.logger.Debug("kvwatch: map closed")
	return mapStoreErr[V](m.store.Close())
}
