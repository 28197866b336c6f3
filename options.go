package kvwatch

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// DeliveryPolicy controls what happens when Set finds a dead waiter
// (a cancelled receiver) in the batch it is delivering to.
type DeliveryPolicy int

const (
	// DeliverAll attempts delivery to every registered waiter and
	// deregisters all of them, aggregating dead waiters into a single
	// DeliveryError. A dead waiter never starves its siblings. This is
	// the default.
	DeliverAll DeliveryPolicy = iota
	// FailFast stops at the first dead waiter. The dead waiter is
	// dropped, already-notified waiters are deregistered, and waiters
	// not yet attempted stay registered for the next Set.
	FailFast
)

func (p DeliveryPolicy) String() string {
	switch p {
	case DeliverAll:
		return "deliver-all"
	case FailFast:
		return "fail-fast"
	default:
		return fmt.Sprintf("delivery-policy(%d)", int(p))
	}
}

// Option configures the map on creation.
// Return an error to reject an invalid option value.
type Option func(*Config) error

// Config holds runtime configuration for a kvwatch map.
// Users typically set it via Option helpers.
type Config struct {
	Clock  func() time.Time
	Policy DeliveryPolicy
	cloner any
	logger logrus.FieldLogger
}

func defaultConfig() Config {
	return Config{
		Clock:  time.Now,
		Policy: DeliverAll,
	}
}

func (c *Config) finalize() error {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Policy != DeliverAll && c.Policy != FailFast {
		return fmt.Errorf("kvwatch: unknown delivery policy %v", c.Policy)
	}
	return nil
}

// WithClock sets the time source used to stamp records.
// Useful for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Config) error {
		if clock == nil {
			return fmt.Errorf("kvwatch: clock cannot be nil")
		}
		c.Clock = clock
		return nil
	}
}

// WithDeliveryPolicy selects the behavior of Set toward dead waiters.
func WithDeliveryPolicy(policy DeliveryPolicy) Option {
	return func(c *Config) error {
		if policy != DeliverAll && policy != FailFast {
			return fmt.Errorf("kvwatch: unknown delivery policy %v", policy)
		}
		c.Policy = policy
		return nil
	}
}

// WithCloner sets the value cloner. The default is ValueCloner, which
// copies by assignment; use GobCloner or a CloneFunc for values with
// reference fields.
func WithCloner[V any](cloner Cloner[V]) Option {
	return func(c *Config) error {
		if cloner == nil {
			return fmt.Errorf("kvwatch: cloner cannot be nil")
		}
		c.cloner = cloner
		return nil
	}
}

// WithLogger sets a logger for debug-level operational events
// (waiter registration, delivery outcomes, clears). Logging is off by
// default.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Config) error {
		if logger == nil {
			return fmt.Errorf("kvwatch: logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}
