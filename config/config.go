// Copyright 2025 Keymesh Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config holds the typed configuration records consumed by the
// storage manager, their YAML surface, and the diff engine that turns an
// old/new pair of configurations into an ordered reconciliation batch.
package config

import (
	"reflect"
	"sort"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

// BuiltinVolume is the reserved name of the always-present in-memory
// volume. It needs no library and cannot be removed by configuration.
const BuiltinVolume = "memory"

// VolumeConfig describes one named backend to load. The zero Rest map and
// a populated one compare equal for diffing purposes only if both are
// empty. A volume is immutable once applied; changing any field is a
// remove-and-re-add of the whole volume.
type VolumeConfig struct {
	// Name uniquely identifies the volume.
	Name string `yaml:"-"`

	// Backend selects the backend library by name. Empty means the
	// volume name doubles as the backend name.
	Backend string `yaml:"backend,omitempty"`

	// Paths lists explicit library paths to try in order. When
	// non-empty it takes precedence over name-based search.
	Paths []string `yaml:"paths,omitempty"`

	// Required marks a volume whose load failure is fatal rather than
	// logged and skipped.
	Required bool `yaml:"required,omitempty"`

	// Rest carries backend-specific settings, passed through opaquely.
	Rest map[string]interface{} `yaml:",inline"`
}

// ByPaths reports whether the backend is resolved from explicit library
// paths rather than by name search.
func (v VolumeConfig) ByPaths() bool {
	return len(v.Paths) > 0
}

// BackendName returns the name used to synthesize the library filename
// when resolving by name.
func (v VolumeConfig) BackendName() string {
	if v.Backend != "" {
		return v.Backend
	}
	return v.Name
}

// StorageConfig describes one storage instance hosted on a volume.
// Immutable once applied.
type StorageConfig struct {
	// Name uniquely identifies the storage within its volume.
	Name string `yaml:"-"`

	// Volume names the hosting volume.
	Volume string `yaml:"volume"`

	// KeyExpr is the key expression whose samples this storage serves.
	KeyExpr string `yaml:"key_expr"`

	// Rest carries backend-specific settings, passed through opaquely.
	Rest map[string]interface{} `yaml:",inline"`
}

// Plugin is one full configuration snapshot for the storage manager.
type Plugin struct {
	// Name is the plugin instance name, used as the admin key suffix.
	Name string

	// BackendSearchDirs lists the directories searched for backend
	// libraries resolved by name.
	BackendSearchDirs []string

	// Volumes and Storages are sorted by name; names are unique (per
	// volume, for storages).
	Volumes  []VolumeConfig
	Storages []StorageConfig
}

type pluginDoc struct {
	BackendSearchDirs []string                 `yaml:"backend_search_dirs"`
	Volumes           map[string]yaml.Node     `yaml:"volumes"`
	Storages          map[string]StorageConfig `yaml:"storages"`
}

// Parse decodes a YAML configuration document into a validated Plugin
// snapshot. The document shape is:
//
//	backend_search_dirs: [/usr/lib/storaged]
//	volumes:
//	  influxdb:
//	    backend: influxdb
//	    required: true
//	    url: http://localhost:8086
//	storages:
//	  s1:
//	    volume: memory
//	    key_expr: a/b/**
func Parse(name string, data []byte) (Plugin, error) {
	var doc pluginDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Plugin{}, errors.Annotate(err, "parsing configuration")
	}
	plugin := Plugin{
		Name:              name,
		BackendSearchDirs: doc.BackendSearchDirs,
	}
	for volName, node := range doc.Volumes {
		var vol VolumeConfig
		if err := node.Decode(&vol); err != nil {
			return Plugin{}, errors.Annotatef(err, "volume %q", volName)
		}
		vol.Name = volName
		plugin.Volumes = append(plugin.Volumes, vol)
	}
	for storName, stor := range doc.Storages {
		stor.Name = storName
		plugin.Storages = append(plugin.Storages, stor)
	}
	sort.Slice(plugin.Volumes, func(i, j int) bool {
		return plugin.Volumes[i].Name < plugin.Volumes[j].Name
	})
	sort.Slice(plugin.Storages, func(i, j int) bool {
		return plugin.Storages[i].Name < plugin.Storages[j].Name
	})
	if err := plugin.Validate(); err != nil {
		return Plugin{}, errors.Trace(err)
	}
	return plugin, nil
}

// Validate checks internal consistency: non-empty names and key
// expressions, and storages referencing declared volumes (or the
// built-in one).
func (p Plugin) Validate() error {
	if p.Name == "" {
		return errors.NotValidf("empty plugin name")
	}
	declared := map[string]bool{BuiltinVolume: true}
	for _, v := range p.Volumes {
		if v.Name == "" {
			return errors.NotValidf("volume with empty name")
		}
		if v.Name == BuiltinVolume {
			// The built-in volume is registered automatically and
			// carries no configuration.
			return errors.NotValidf("volume %q (reserved name)", v.Name)
		}
		declared[v.Name] = true
	}
	seen := map[string]bool{}
	for _, s := range p.Storages {
		if s.Name == "" {
			return errors.NotValidf("storage with empty name")
		}
		if s.KeyExpr == "" {
			return errors.NotValidf("storage %q without key expression", s.Name)
		}
		if !declared[s.Volume] {
			return errors.NotValidf("storage %q on undeclared volume %q", s.Name, s.Volume)
		}
		key := s.Volume + "/" + s.Name
		if seen[key] {
			return errors.NotValidf("duplicate storage %q on volume %q", s.Name, s.Volume)
		}
		seen[key] = true
	}
	return nil
}

func volumeEqual(a, b VolumeConfig) bool {
	return reflect.DeepEqual(normaliseVolume(a), normaliseVolume(b))
}

func storageEqual(a, b StorageConfig) bool {
	return reflect.DeepEqual(normaliseStorage(a), normaliseStorage(b))
}

// normaliseVolume maps an empty settings map to nil so that "absent" and
// "empty" compare equal across YAML round trips.
func normaliseVolume(v VolumeConfig) VolumeConfig {
	if len(v.Rest) == 0 {
		v.Rest = nil
	}
	if len(v.Paths) == 0 {
		v.Paths = nil
	}
	return v
}

func normaliseStorage(s StorageConfig) StorageConfig {
	if len(s.Rest) == 0 {
		s.Rest = nil
	}
	return s
}
