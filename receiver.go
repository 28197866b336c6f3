package kvwatch

import (
	"context"

	"github.com/kvwatch/kvwatch/internal/store"
)

// Receiver is the caller's half of one waiter registration created by
// Observe. It is single use: it yields at most one value, after which
// the registration is gone. A Receiver is owned by the goroutine that
// requested it; the map only ever sends the one permitted value.
type Receiver[V any] struct {
	inner *store.Receiver[V]
}

// Recv blocks until the next value for the observed key arrives and
// returns it. It returns ErrClosed if the registration is cleared (or
// the receiver cancelled) before a value arrives, and
// ErrTimeout/ErrCanceled when ctx ends first; an expired ctx also
// cancels the registration.
func (r *Receiver[V]) Recv(ctx context.Context) (V, error) {
	var zero V

	if ctx == nil {
		ctx = context.Background()
	}
	if err := mapContextErr(ctx); err != nil {
		return zero, err
	}

	// Prefer an already-delivered value over a concurrent cancellation.
	select {
	case v, ok := <-r.inner.C():
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	default:
	}

	select {
	case v, ok := <-r.inner.C():
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	case <-r.inner.Done():
		return zero, ErrClosed
	case <-ctx.Done():
		r.inner.Cancel()
		return zero, mapContextErr(ctx)
	}
}

// C returns the delivery channel, for use in caller select loops. It
// yields exactly one value and is closed afterwards; it is closed
// without a value when the registration is cleared. Callers that stop
// listening should Cancel the receiver.
func (r *Receiver[V]) C() <-chan V {
	return r.inner.C()
}

// Cancel abandons the wait. It is idempotent and safe to call from any
// goroutine. The map notices the cancellation at the next delivery for
// the key and reports it to that Set caller as a DeliveryError; other
// waiters on the key are unaffected.
func (r *Receiver[V]) Cancel() {
	r.inner.Cancel()
}
