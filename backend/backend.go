// Copyright 2025 Keymesh Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package backend defines the capability set a volume wraps: admin-status
// reporting, storage creation, and optional data interceptors. Backend
// implementations are either the built-in in-memory one or constructed at
// runtime by the entry point exported from a dynamically loaded library.
package backend

import (
	"github.com/keymesh/storaged/config"
	"github.com/keymesh/storaged/session"
)

// EntryPointName is the exported symbol a backend library must provide.
// Its value must be assignable to CreateFunc.
const EntryPointName = "NewBackend"

// CreateFunc is the signature of a backend library's entry point: given
// the volume configuration it constructs a backend instance or reports a
// construction error.
type CreateFunc func(config.VolumeConfig) (Backend, error)

// Interceptor transforms a sample on its way into or out of a storage.
type Interceptor func(session.Sample) session.Sample

// Backend is one loaded backend implementation. It must not be used
// after Close, and never after the library that produced it has been
// released; the loader's handle encodes that ordering.
type Backend interface {
	// AdminStatus returns an opaque payload rendered by admin queries
	// against the volume's key.
	AdminStatus() interface{}

	// CreateStorage builds the storage instance backing one storage
	// worker. The caller serialises CreateStorage calls; a backend need
	// not tolerate two concurrent creations.
	CreateStorage(config.StorageConfig) (Storage, error)

	// IncomingInterceptor returns the transform applied to samples
	// before they are stored, or nil when the backend declares none.
	IncomingInterceptor() Interceptor

	// OutgoingInterceptor returns the transform applied to samples
	// served out of a storage, or nil.
	OutgoingInterceptor() Interceptor

	// Close releases the backend. Called exactly once, after every
	// storage created from it has stopped.
	Close() error
}

// Entry is one stored (key, value) pair.
type Entry struct {
	Key   string
	Value []byte
}

// Storage is the data-path object a backend creates per storage
// instance. Only one worker drives a given Storage, so implementations
// need to be safe for one writer plus concurrent readers at most.
type Storage interface {
	// Put stores value under key, replacing any previous value.
	Put(key string, value []byte) error

	// Get returns the stored entries whose keys match the expression.
	Get(keyExpr string) ([]Entry, error)

	// AdminStatus returns an opaque payload folded into the hosting
	// worker's live status report.
	AdminStatus() interface{}

	// Close releases the storage's resources.
	Close() error
}
