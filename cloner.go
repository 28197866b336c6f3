package kvwatch

import (
	"bytes"
	"encoding/gob"
)

// Cloner duplicates values on their way in and out of the map. Every
// value stored, delivered to a waiter, or returned by a read is an
// independent copy, so concurrent holders never observe each other's
// mutations.
type Cloner[V any] interface {
	Clone(value V) (V, error)
}

// ValueCloner copies by plain assignment. It is the default and the
// right choice for value types (numbers, strings, structs without
// reference fields). Values containing slices, maps or pointers will
// share memory with the original.
type ValueCloner[V any] struct{}

func (ValueCloner[V]) Clone(value V) (V, error) {
	return value, nil
}

// GobCloner deep-copies through an encoding/gob round trip. It works
// with most Go types without extra registration and is the safe choice
// for values with reference fields, at the cost of an encode/decode
// per copy.
type GobCloner[V any] struct{}

func (GobCloner[V]) Clone(value V) (V, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(value); err != nil {
		var zero V
		return zero, err
	}
	var out V
	dec := gob.NewDecoder(bytes.NewReader(buf.Bytes()))
	if err := dec.Decode(&out); err != nil {
		var zero V
		return zero, err
	}
	return out, nil
}

// CloneFunc adapts a plain function to the Cloner interface.
type CloneFunc[V any] func(value V) (V, error)

func (f CloneFunc[V]) Clone(value V) (V, error) {
	return f(value)
}
