// Package kvwatch provides an embedded, concurrent key-value map whose
// readers can block until the next value is written to a key.
//
// # Overview
//
// kvwatch is an in-process primitive: no persistence, no replication,
// no network surface. A reader either fetches the current value for a
// key (Get) or registers to be handed the next one (Observe/Wait).
// Any number of waiters can be pending on the same key; a single Set
// fans the new value out to all of them, exactly once per
// registration, and deregisters them.
//
// # Data model
//
// Each key holds at most the latest value plus the list of pending
// waiters. There is no history and no per-waiter backlog: a waiter
// registered after a Set completes waits for the following one. Keys
// are never evicted.
//
// # Generics
//
// The Map type is generic over key and value types. Keys must be
// comparable. Values are duplicated by a Cloner on every store, read
// and delivery, so concurrent holders never share memory; the default
// ValueCloner copies by assignment, and GobCloner deep-copies values
// with reference fields.
//
// # Concurrency
//
// All operations are serialized by one lock per map. Only Wait (and
// Receiver.Recv) blocks, and it does so strictly outside the lock, so
// a blocked waiter never prevents the write that must satisfy it.
// Waits are cancelled through the context or Receiver.Cancel.
//
// # Delivery
//
// A cancelled waiter discovered during delivery surfaces to the Set
// caller as a DeliveryError carrying the value; the write itself
// always takes effect. The default DeliverAll policy still hands the
// value to every healthy waiter; FailFast preserves the historical
// stop-at-first-dead-waiter behavior.
//
// Example
//
//	m, err := kvwatch.New[string, float64]()
//	if err != nil {
//		// handle error
//	}
//	go func() {
//		_ = m.Set(context.Background(), "price", 42.5)
//	}()
//	next, err := m.Wait(context.Background(), "price")
//	if err != nil {
//		// handle error
//	}
//	_ = next
package kvwatch
