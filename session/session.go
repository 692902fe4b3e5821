// Copyright 2025 Keymesh Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package session defines the slice of the pub/sub session layer the
// storage runtime depends on, together with an in-process implementation
// used by the daemon and by tests. The session is acquired once when the
// storage manager is constructed and shared by reference across every
// storage worker.
package session

// Sample is one datum traversing the data space.
type Sample struct {
	Key   string
	Value []byte
}

// Unsubscriber cancels a subscription. Calling it more than once is
// harmless.
type Unsubscriber func()

// Session provides the pub/sub primitives a storage worker needs to serve
// its key expression.
type Session interface {
	// Publish routes a value to every subscriber whose key expression
	// intersects the key.
	Publish(key string, value []byte)

	// Subscribe registers a handler for every sample whose key matches
	// the given key expression. The handler may be invoked concurrently
	// with the caller.
	Subscribe(keyExpr string, handler func(Sample)) (Unsubscriber, error)
}
