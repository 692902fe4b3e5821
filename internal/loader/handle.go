// Copyright 2025 Keymesh Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package loader

import (
	"sync/atomic"

	"github.com/juju/errors"

	"github.com/keymesh/storaged/backend"
)

// Handle owns one backend instance together with the library that
// produced it. The backend must never outlive that library: Close
// destroys the backend first and releases the library reference after,
// and the handle is the library's only owner.
type Handle struct {
	b    backend.Backend
	lib  Library // nil for the built-in backend; released after b
	path string
	live atomic.Bool
}

func newHandle(b backend.Backend, lib Library, path string) *Handle {
	h := &Handle{b: b, lib: lib, path: path}
	h.live.Store(true)
	return h
}

// Backend returns the owned backend instance. Callers must not retain it
// past the handle's Close.
func (h *Handle) Backend() backend.Backend {
	return h.b
}

// Path returns the resolved library path, or the built-in sentinel.
func (h *Handle) Path() string {
	return h.path
}

// Live reports whether the handle is still open. It flips to false on
// Close so dependents holding the handle know to stop.
func (h *Handle) Live() bool {
	return h.live.Load()
}

// Close destroys the backend instance and then releases the library.
// Safe to call more than once; only the first call does anything.
func (h *Handle) Close() error {
	if !h.live.CompareAndSwap(true, false) {
		return nil
	}
	err := h.b.Close()
	// The library reference goes only after the backend is destroyed.
	h.lib = nil
	return errors.Trace(err)
}
