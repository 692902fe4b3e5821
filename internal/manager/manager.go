// Copyright 2025 Keymesh Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package manager implements the runtime orchestrator: the single
// stateful object owning every volume and storage, applying
// reconciliation batches, and answering admin queries. One mutex guards
// the state; it is held across map mutation and state reads only, never
// across a worker's independent execution.
package manager

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/keymesh/storaged/config"
	"github.com/keymesh/storaged/internal/loader"
	"github.com/keymesh/storaged/internal/storages"
	"github.com/keymesh/storaged/session"
)

var logger = loggo.GetLogger("storaged.manager")

// defaultStatusTimeout bounds the wait for one storage worker's status
// reply during an admin query. A worker that never answers is reported
// as absent rather than stalling the query.
const defaultStatusTimeout = time.Second

// Config holds the orchestrator's dependencies.
type Config struct {
	// Name is the plugin instance name, part of every admin key.
	Name string

	// Session is the shared pub/sub session, acquired once here and
	// lent by reference to every storage worker.
	Session session.Session

	// Loader resolves volumes to backends. Left nil, one is built from
	// the configuration's backend search dirs.
	Loader *loader.Loader

	// Clock times bounded waits. Left nil, the wall clock is used.
	Clock clock.Clock

	// StatusTimeout overrides the per-storage admin status deadline.
	StatusTimeout time.Duration
}

// Validate returns an error if the config cannot drive a manager.
func (c Config) Validate() error {
	if c.Name == "" {
		return errors.NotValidf("empty Name")
	}
	if c.Session == nil {
		return errors.NotValidf("nil Session")
	}
	return nil
}

// StorageManager owns the runtime state. Invariants: at most one live
// handle per volume name and per (volume, storage) pair, and a storage
// entry exists only while its volume's handle does.
type StorageManager struct {
	config Config
	loader *loader.Loader
	clock  clock.Clock
	uid    string

	mu       sync.Mutex
	volumes  map[string]*loader.Handle
	storages map[string]map[string]*storages.Handle
}

// New constructs the orchestrator, registers the always-present built-in
// volume, and applies the initial configuration. A required volume that
// fails to load aborts construction; the manager never starts
// half-initialised.
func New(cfg Config, plugin config.Plugin) (*StorageManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.StatusTimeout == 0 {
		cfg.StatusTimeout = defaultStatusTimeout
	}
	l := cfg.Loader
	if l == nil {
		l = loader.New(loader.Config{SearchDirs: plugin.BackendSearchDirs})
	}
	m := &StorageManager{
		config:   cfg,
		loader:   l,
		clock:    cfg.Clock,
		uid:      uuid.New().String(),
		volumes:  make(map[string]*loader.Handle),
		storages: make(map[string]map[string]*storages.Handle),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.addVolume(config.VolumeConfig{Name: config.BuiltinVolume}); err != nil {
		return nil, errors.Annotate(err, "registering built-in volume")
	}
	if err := m.apply(config.Diffs(config.Plugin{Name: plugin.Name}, plugin)); err != nil {
		m.close()
		return nil, errors.Trace(err)
	}
	return m, nil
}

// Apply runs one reconciliation batch sequentially under the state lock.
// An error aborts the remaining diffs; the already-applied ones stay
// applied. There is no rollback, by contract. A non-required volume that
// fails to load is logged and skipped rather than aborting the batch.
func (m *StorageManager) Apply(diffs []config.Diff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.apply(diffs)
}

func (m *StorageManager) apply(diffs []config.Diff) error {
	for _, diff := range diffs {
		logger.Debugf("applying %s", diff)
		switch diff.Kind {
		case config.DeleteVolume:
			if err := m.removeVolume(diff.Volume.Name); err != nil {
				return errors.Trace(err)
			}
		case config.AddVolume:
			err := m.addVolume(diff.Volume)
			if err == nil {
				continue
			}
			if diff.Volume.Required || errors.Is(err, errors.AlreadyExists) {
				return errors.Trace(err)
			}
			logger.Errorf("cannot load volume %q (not required, skipping): %v", diff.Volume.Name, err)
		case config.DeleteStorage:
			err := m.removeStorage(diff.Storage.Volume, diff.Storage.Name)
			if err != nil && !errors.Is(err, errors.NotFound) {
				return errors.Trace(err)
			}
		case config.AddStorage:
			if err := m.addStorage(diff.Storage); err != nil {
				return errors.Trace(err)
			}
		default:
			return errors.NotValidf("diff kind %v", diff.Kind)
		}
	}
	return nil
}

// AddVolume loads the volume's backend and registers its handle. The
// name must not already be registered; callers replace a volume by
// removing it first.
func (m *StorageManager) AddVolume(v config.VolumeConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addVolume(v)
}

func (m *StorageManager) addVolume(v config.VolumeConfig) error {
	if _, ok := m.volumes[v.Name]; ok {
		return errors.AlreadyExistsf("volume %q", v.Name)
	}
	h, err := m.loader.Load(v)
	if err != nil {
		return errors.Trace(err)
	}
	m.volumes[v.Name] = h
	logger.Infof("volume %q registered (library %s)", v.Name, h.Path())
	return nil
}

// RemoveVolume stops every storage hosted on the volume, waits for them
// all, then closes the backend handle, which destroys the backend before
// releasing its library. The built-in volume cannot be removed.
func (m *StorageManager) RemoveVolume(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeVolume(name)
}

func (m *StorageManager) removeVolume(name string) error {
	if name == config.BuiltinVolume {
		return errors.NotSupportedf("removing built-in volume %q", name)
	}
	h, ok := m.volumes[name]
	if !ok {
		return errors.NotFoundf("volume %q", name)
	}
	m.stopVolumeStorages(name)
	delete(m.volumes, name)
	logger.Infof("volume %q removed", name)
	return errors.Trace(h.Close())
}

// stopVolumeStorages fans out Stop to every storage on the volume, then
// joins on all of them before the volume's backend may be torn down.
func (m *StorageManager) stopVolumeStorages(name string) {
	hosted := m.storages[name]
	for _, sh := range hosted {
		sh.Stop()
	}
	for storageName, sh := range hosted {
		if err := sh.Wait(); err != nil {
			logger.Warningf("storage %q on volume %q exited with: %v", storageName, name, err)
		}
	}
	delete(m.storages, name)
}

// AddStorage starts a worker for the storage on its configured volume
// and registers the control handle. A start failure leaves no partial
// registration.
func (m *StorageManager) AddStorage(s config.StorageConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addStorage(s)
}

func (m *StorageManager) addStorage(s config.StorageConfig) error {
	vh, ok := m.volumes[s.Volume]
	if !ok {
		return errors.NotFoundf("volume %q", s.Volume)
	}
	if _, ok := m.storages[s.Volume][s.Name]; ok {
		return errors.AlreadyExistsf("storage %q on volume %q", s.Name, s.Volume)
	}
	b := vh.Backend()
	h, err := storages.Start(storages.Config{
		Storage:  s,
		Backend:  b,
		Incoming: b.IncomingInterceptor(),
		Outgoing: b.OutgoingInterceptor(),
		Session:  m.config.Session,
		AdminKey: m.statusKey() + "/storages/" + s.Name,
	})
	if err != nil {
		return errors.Trace(err)
	}
	if m.storages[s.Volume] == nil {
		m.storages[s.Volume] = make(map[string]*storages.Handle)
	}
	m.storages[s.Volume][s.Name] = h
	logger.Infof("storage %q started on volume %q", s.Name, s.Volume)
	return nil
}

// RemoveStorage sends the storage's worker a best-effort Stop and drops
// the control handle. The entry is removed even if the worker is
// already gone.
func (m *StorageManager) RemoveStorage(volume, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeStorage(volume, name)
}

func (m *StorageManager) removeStorage(volume, name string) error {
	sh, ok := m.storages[volume][name]
	if !ok {
		return errors.NotFoundf("storage %q on volume %q", name, volume)
	}
	sh.Stop()
	delete(m.storages[volume], name)
	if len(m.storages[volume]) == 0 {
		delete(m.storages, volume)
	}
	logger.Infof("storage %q removed from volume %q", name, volume)
	return nil
}

// Close tears the whole runtime down: every storage stopped and joined,
// every volume handle (including the built-in one) closed.
func (m *StorageManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.close()
}

func (m *StorageManager) close() error {
	var firstErr error
	for name, h := range m.volumes {
		m.stopVolumeStorages(name)
		if err := h.Close(); err != nil && firstErr == nil {
			firstErr = errors.Annotatef(err, "closing volume %q", name)
		}
		delete(m.volumes, name)
	}
	return firstErr
}
