// Copyright 2025 Keymesh Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package loader

import (
	"plugin"

	"github.com/juju/errors"

	"github.com/keymesh/storaged/backend"
	"github.com/keymesh/storaged/config"
)

// Library is one loaded backend library.
type Library interface {
	// Entry resolves the backend creation entry point. A missing or
	// ill-typed symbol is a not-found error naming the symbol.
	Entry() (backend.CreateFunc, error)
}

// OpenFunc loads the library at path.
type OpenFunc func(path string) (Library, error)

// openLibrary is the default OpenFunc, extending the process's address
// space with the shared object at path.
func openLibrary(path string) (Library, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return pluginLibrary{p: p}, nil
}

type pluginLibrary struct {
	p *plugin.Plugin
}

// Entry is part of the Library interface.
func (l pluginLibrary) Entry() (backend.CreateFunc, error) {
	sym, err := l.p.Lookup(backend.EntryPointName)
	if err != nil {
		return nil, errors.NotFoundf("entry point %q", backend.EntryPointName)
	}
	switch fn := sym.(type) {
	case func(config.VolumeConfig) (backend.Backend, error):
		return fn, nil
	case backend.CreateFunc:
		return fn, nil
	case *backend.CreateFunc:
		return *fn, nil
	}
	return nil, errors.NotValidf("entry point %q: unexpected signature", backend.EntryPointName)
}
