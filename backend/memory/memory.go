// Copyright 2025 Keymesh Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package memory implements the built-in in-memory backend registered
// under the reserved volume name "memory". It is the safety-net backend:
// always loadable, no library involved, data kept in a plain map.
package memory

import (
	"sync"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/keymesh/storaged/backend"
	"github.com/keymesh/storaged/config"
	"github.com/keymesh/storaged/keyexpr"
)

var logger = loggo.GetLogger("storaged.backend.memory")

// New constructs the built-in backend. The signature matches
// backend.CreateFunc so the loader treats built-in and loaded backends
// uniformly.
func New(cfg config.VolumeConfig) (backend.Backend, error) {
	logger.Debugf("creating memory backend for volume %q", cfg.Name)
	return &memoryBackend{name: cfg.Name}, nil
}

type memoryBackend struct {
	mu       sync.Mutex
	name     string
	storages int
	closed   bool
}

// AdminStatus is part of the backend.Backend interface.
func (b *memoryBackend) AdminStatus() interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]interface{}{
		"backend":  "memory",
		"storages": b.storages,
	}
}

// CreateStorage is part of the backend.Backend interface.
func (b *memoryBackend) CreateStorage(cfg config.StorageConfig) (backend.Storage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.Errorf("memory backend %q already closed", b.name)
	}
	b.storages++
	return &memoryStorage{
		backend: b,
		keyExpr: cfg.KeyExpr,
		data:    make(map[string][]byte),
	}, nil
}

// IncomingInterceptor is part of the backend.Backend interface. The
// memory backend declares no interceptors.
func (*memoryBackend) IncomingInterceptor() backend.Interceptor { return nil }

// OutgoingInterceptor is part of the backend.Backend interface.
func (*memoryBackend) OutgoingInterceptor() backend.Interceptor { return nil }

// Close is part of the backend.Backend interface.
func (b *memoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type memoryStorage struct {
	backend *memoryBackend
	keyExpr string

	mu   sync.RWMutex
	data map[string][]byte
}

// Put is part of the backend.Storage interface.
func (s *memoryStorage) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return errors.Errorf("memory storage already closed")
	}
	s.data[key] = append([]byte(nil), value...)
	return nil
}

// Get is part of the backend.Storage interface.
func (s *memoryStorage) Get(expr string) ([]backend.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []backend.Entry
	for key, value := range s.data {
		if keyexpr.Intersects(expr, key) {
			entries = append(entries, backend.Entry{Key: key, Value: value})
		}
	}
	return entries, nil
}

// AdminStatus is part of the backend.Storage interface.
func (s *memoryStorage) AdminStatus() interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"backend":  "memory",
		"key_expr": s.keyExpr,
		"entries":  len(s.data),
	}
}

// Close is part of the backend.Storage interface.
func (s *memoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	s.backend.mu.Lock()
	s.backend.storages--
	s.backend.mu.Unlock()
	return nil
}
