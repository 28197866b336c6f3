package kvwatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/kvwatch/kvwatch/internal/store"
)

var (
	// ErrNotFound indicates that the requested key has never been set.
	ErrNotFound = errors.New("kvwatch: key not found")
	// ErrClosed indicates that the map has been closed, or that a waiter
	// registration ended without ever receiving a value.
	ErrClosed = errors.New("kvwatch: map is closed")
	// ErrTimeout indicates that the context deadline expired.
	ErrTimeout = errors.New("kvwatch: operation timed out")
	// ErrCanceled indicates that the context was canceled.
	ErrCanceled = errors.New("kvwatch: operation canceled")
)

// DeliveryError reports that a value written by Set could not be handed
// to every waiter registered for the key, because one or more of them
// had cancelled their receivers. Value is the value that failed to
// reach Unreached of the waiters. The write itself always succeeds:
// Get observes the value regardless of delivery outcome.
//
// Match it with errors.As:
//
//	var de *kvwatch.DeliveryError[string]
//	if errors.As(err, &de) {
//		// de.Value, de.Unreached
//	}
type DeliveryError[V any] struct {
	Value     V
	Unreached int
}

func (e *DeliveryError[V]) Error() string {
	return fmt.Sprintf("kvwatch: value not delivered to %d waiter(s)", e.Unreached)
}

func mapContextErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		if errors.Is(err, context.Canceled) {
			return ErrCanceled
		}
		return err
	}
	return nil
}

func mapStoreErr[V any](err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	var de *store.DeliveryError[V]
	if errors.As(err, &de) {
		return &DeliveryError[V]{Value: de.Value, Unreached: de.Unreached}
	}
	return err
}
