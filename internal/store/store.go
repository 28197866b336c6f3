package store

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrNotFound = errors.New("store: key not found")

// Record is a value stored in the map together with its write metadata.
// Version is monotonic across the whole map and UpdatedAt comes from the
// injected clock, which makes ordering assertions cheap in tests.
type Record[V any] struct {
	Value     V
	Version   uint64
	UpdatedAt time.Time
}

// DeliveryError reports that a newly set value could not be handed to
// every registered waiter. Value is the value that failed to reach
// Unreached of the waiters. The value itself is always stored before
// delivery is attempted, so Get still observes it.
type DeliveryError[V any] struct {
	Value     V
	Unreached int
}

func (e *DeliveryError[V]) Error() string {
	return fmt.Sprintf("store: value not delivered to %d waiter(s)", e.Unreached)
}

// Receiver is one waiter registration: a single-use, capacity-one
// handoff from the map to the caller that observed the key. The
// delivery channel yields exactly one value and is closed afterwards;
// it is closed without a value when the registration is cleared.
type Receiver[V any] struct {
	ch   chan V
	done chan struct{}
	once sync.Once
}

func newReceiver[V any]() *Receiver[V] {
	return &Receiver[V]{
		ch:   make(chan V, 1),
		done: make(chan struct{}),
	}
}

// C returns the delivery channel.
func (r *Receiver[V]) C() <-chan V {
	return r.ch
}

// Done is closed once the receiver has been cancelled.
func (r *Receiver[V]) Done() <-chan struct{} {
	return r.done
}

// Cancel abandons the registration. It is idempotent and safe to call
// from any goroutine. A cancelled waiter is seen as dead at the next
// delivery and reported to the Set caller as a DeliveryError.
func (r *Receiver[V]) Cancel() {
	r.once.Do(func() { close(r.done) })
}

// deliver hands v to the receiver. It returns false if the receiver was
// cancelled. The channel has capacity one and is written at most once,
// so the send itself never blocks.
func (r *Receiver[V]) deliver(v V) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	r.ch <- v
	close(r.ch)
	return true
}

// closeOut ends the registration without a value. Must only be called
// for receivers still present in a waiter list; delivered receivers
// have already closed their channel.
func (r *Receiver[V]) closeOut() {
	close(r.ch)
}

// entry is the per-key state: the latest record, if any, plus the
// waiters registered for the next value. An entry exists as soon as a
// key has been set or observed and is never removed.
type entry[V any] struct {
	record   Record[V]
	hasValue bool
	waiters  []*Receiver[V]
}

// Map is the single-owner observable map. It performs no locking and is
// NOT safe for concurrent use; callers serialize access themselves.
type Map[K comparable, V any] struct {
	entries  map[K]*entry[V]
	clock    func() time.Time
	clone    func(V) (V, error)
	failFast bool
	version  uint64
}

// NewMap creates an empty map. A nil clock defaults to time.Now and a
// nil clone function stores and returns values by plain assignment.
// With failFast set, delivery stops at the first dead waiter instead of
// attempting the rest of the batch.
func NewMap[K comparable, V any](clock func() time.Time, clone func(V) (V, error), failFast bool) *Map[K, V] {
	if clock == nil {
		clock = time.Now
	}
	if clone == nil {
		clone = func(v V) (V, error) { return v, nil }
	}
	return &Map[K, V]{
		entries:  make(map[K]*entry[V]),
		clock:    clock,
		clone:    clone,
		failFast: failFast,
	}
}

func (m *Map[K, V]) entryFor(key K) *entry[V] {
	e, ok := m.entries[key]
	if !ok {
		e = &entry[V]{}
		m.entries[key] = e
	}
	return e
}

// Set stores value under key, then delivers it to every waiter
// registered for the key and deregisters them. Each waiter gets its own
// copy of the value. Dead waiters surface as a DeliveryError; the store
// itself is updated regardless of delivery outcome.
func (m *Map[K, V]) Set(key K, value V) error {
	stored, err := m.clone(value)
	if err != nil {
		return fmt.Errorf("store: clone value: %w", err)
	}

	e := m.entryFor(key)
	m.version++
	e.record = Record[V]{
		Value:     stored,
		Version:   m.version,
		UpdatedAt: m.clock(),
	}
	e.hasValue = true

	if len(e.waiters) == 0 {
		return nil
	}
	if m.failFast {
		return m.notifyFailFast(e, value)
	}
	return m.notifyAll(e, value)
}

// notifyAll attempts delivery to every waiter and deregisters all of
// them, aggregating dead waiters into a single DeliveryError. Copies
// are made up front so a clone failure leaves the batch untouched.
func (m *Map[K, V]) notifyAll(e *entry[V], value V) error {
	copies := make([]V, len(e.waiters))
	for i := range copies {
		v, err := m.clone(value)
		if err != nil {
			return fmt.Errorf("store: clone value: %w", err)
		}
		copies[i] = v
	}

	var unreached int
	for i, w := range e.waiters {
		if !w.deliver(copies[i]) {
			unreached++
		}
	}
	e.waiters = nil

	if unreached > 0 {
		return &DeliveryError[V]{Value: value, Unreached: unreached}
	}
	return nil
}

// notifyFailFast delivers in registration order and stops at the first
// dead waiter. The dead waiter is dropped; waiters not yet attempted
// stay registered and receive the next value instead.
func (m *Map[K, V]) notifyFailFast(e *entry[V], value V) error {
	for len(e.waiters) > 0 {
		w := e.waiters[0]
		v, err := m.clone(value)
		if err != nil {
			return fmt.Errorf("store: clone value: %w", err)
		}
		if !w.deliver(v) {
			unreached := len(e.waiters)
			e.waiters = e.waiters[1:]
			return &DeliveryError[V]{Value: value, Unreached: unreached}
		}
		e.waiters = e.waiters[1:]
	}
	e.waiters = nil
	return nil
}

// Get returns a copy of the record for key, or ErrNotFound if the key
// has never been set. Observing a key does not make it gettable.
func (m *Map[K, V]) Get(key K) (Record[V], error) {
	e, ok := m.entries[key]
	if !ok || !e.hasValue {
		return Record[V]{}, ErrNotFound
	}
	v, err := m.clone(e.record.Value)
	if err != nil {
		return Record[V]{}, fmt.Errorf("store: clone value: %w", err)
	}
	rec := e.record
	rec.Value = v
	return rec, nil
}

// Observe registers a fresh waiter for the next value of key and
// returns its receiver. The entry is created if the key is unknown. The
// current value, if any, is never delivered to the new waiter.
func (m *Map[K, V]) Observe(key K) *Receiver[V] {
	e := m.entryFor(key)
	r := newReceiver[V]()
	e.waiters = append(e.waiters, r)
	return r
}

// Waiters returns how many waiters are registered for key, including
// cancelled ones that have not been swept by a delivery yet.
func (m *Map[K, V]) Waiters(key K) int {
	e, ok := m.entries[key]
	if !ok {
		return 0
	}
	return len(e.waiters)
}

// ClearWaiters deregisters all waiters for key without a value; their
// receivers report a closed registration. It returns the number of
// waiters cleared.
func (m *Map[K, V]) ClearWaiters(key K) int {
	e, ok := m.entries[key]
	if !ok {
		return 0
	}
	n := len(e.waiters)
	for _, w := range e.waiters {
		w.closeOut()
	}
	e.waiters = nil
	return n
}

// Len returns the number of keys that currently hold a value. Keys that
// are only being observed do not count.
func (m *Map[K, V]) Len() int {
	var n int
	for _, e := range m.entries {
		if e.hasValue {
			n++
		}
	}
	return n
}

// Snapshot returns a point-in-time copy of all records. Values are
// cloned, so mutating the snapshot never affects the map.
func (m *Map[K, V]) Snapshot() (map[K]Record[V], error) {
	out := make(map[K]Record[V], len(m.entries))
	for key, e := range m.entries {
		if !e.hasValue {
			continue
		}
		v, err := m.clone(e.record.Value)
		if err != nil {
			return nil, fmt.Errorf("store: clone value: %w", err)
		}
		rec := e.record
		rec.Value = v
		out[key] = rec
	}
	return out, nil
}

// Range iterates over all records until fn returns false. Values passed
// to fn are clones. The callback MUST NOT call mutating map methods;
// the caller is expected to hold its lock for the whole iteration.
func (m *Map[K, V]) Range(fn func(key K, record Record[V]) bool) error {
	for key, e := range m.entries {
		if !e.hasValue {
			continue
		}
		v, err := m.clone(e.record.Value)
		if err != nil {
			return fmt.Errorf("store: clone value: %w", err)
		}
		rec := e.record
		rec.Value = v
		if !fn(key, rec) {
			break
		}
	}
	return nil
}

// Close deregisters every pending waiter on every key without a value.
// Records are kept; the owning layer decides whether further calls are
// allowed.
func (m *Map[K, V]) Close() error {
	for _, e := range m.entries {
		for _, w := range e.waiters {
			w.closeOut()
		}
		e.waiters = nil
	}
	return nil
}
