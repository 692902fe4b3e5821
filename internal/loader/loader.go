// Copyright 2025 Keymesh Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package loader resolves a volume configuration to a backend handle:
// the reserved built-in backend, an explicit list of library paths, or a
// name-based search across configured directories. It is the only place
// that manufactures backend instances from loaded libraries.
package loader

import (
	"os"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/keymesh/storaged/backend/memory"
	"github.com/keymesh/storaged/config"
)

var logger = loggo.GetLogger("storaged.loader")

const (
	// LibraryPrefix prefixes the filename synthesized when a backend is
	// resolved by name: kmbackend_<name>.so.
	LibraryPrefix = "kmbackend_"

	// LibrarySuffix is the platform library suffix. Go plugins use .so
	// on every supported platform.
	LibrarySuffix = ".so"

	// BuiltinPath is the sentinel library path reported for the
	// built-in backend, which involves no library at all.
	BuiltinPath = "<static-memory>"
)

// Config holds the loader's dependencies.
type Config struct {
	// SearchDirs lists the directories searched, in order, when a
	// backend is resolved by name.
	SearchDirs []string

	// Open loads the library at a path. Left nil it uses the process
	// dynamic loader; tests substitute it.
	Open OpenFunc
}

// Loader resolves volume configurations to backend handles.
type Loader struct {
	searchDirs []string
	open       OpenFunc
}

// New returns a Loader using the given configuration.
func New(cfg Config) *Loader {
	open := cfg.Open
	if open == nil {
		open = openLibrary
	}
	return &Loader{searchDirs: cfg.SearchDirs, open: open}
}

// Load produces the backend handle for the volume, or an error when no
// library can be resolved, the entry point is missing, or the backend
// constructor fails. It never falls back to the built-in backend for a
// volume that asked for a library.
func (l *Loader) Load(cfg config.VolumeConfig) (*Handle, error) {
	if cfg.Name == config.BuiltinVolume {
		b, err := memory.New(cfg)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return newHandle(b, nil, BuiltinPath), nil
	}
	if cfg.ByPaths() {
		return l.loadByPaths(cfg)
	}
	return l.loadByName(cfg)
}

func (l *Loader) loadByPaths(cfg config.VolumeConfig) (*Handle, error) {
	for _, path := range cfg.Paths {
		lib, err := l.open(path)
		if err != nil {
			logger.Debugf("volume %q: cannot load %s: %v", cfg.Name, path, err)
			continue
		}
		return l.fromLibrary(cfg, lib, path)
	}
	return nil, errors.NotFoundf("loadable backend library for volume %q in paths %v", cfg.Name, cfg.Paths)
}

func (l *Loader) loadByName(cfg config.VolumeConfig) (*Handle, error) {
	filename := LibraryPrefix + cfg.BackendName() + LibrarySuffix
	for _, dir := range l.searchDirs {
		path := filepath.Join(dir, filename)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		lib, err := l.open(path)
		if err != nil {
			return nil, errors.Annotatef(err, "loading backend library %s for volume %q", path, cfg.Name)
		}
		return l.fromLibrary(cfg, lib, path)
	}
	return nil, errors.NotFoundf("backend library %q for volume %q in search dirs %v", filename, cfg.Name, l.searchDirs)
}

// fromLibrary resolves the entry point and invokes it. The library moves
// into the returned handle, which keeps it alive for as long as the
// backend instance exists.
func (l *Loader) fromLibrary(cfg config.VolumeConfig, lib Library, path string) (*Handle, error) {
	create, err := lib.Entry()
	if err != nil {
		return nil, errors.Annotatef(err, "volume %q: library %s", cfg.Name, path)
	}
	b, err := create(cfg)
	if err != nil {
		return nil, errors.Annotatef(err, "creating backend for volume %q from %s", cfg.Name, path)
	}
	logger.Infof("loaded backend for volume %q from %s", cfg.Name, path)
	return newHandle(b, lib, path), nil
}
