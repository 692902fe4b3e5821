// Copyright 2025 Keymesh Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package config

import (
	"fmt"

	"github.com/juju/collections/set"
)

// DiffKind enumerates the reconciliation operations.
type DiffKind int

const (
	AddVolume DiffKind = iota
	DeleteVolume
	AddStorage
	DeleteStorage
)

// String is used in logs and error messages.
func (k DiffKind) String() string {
	switch k {
	case AddVolume:
		return "add-volume"
	case DeleteVolume:
		return "delete-volume"
	case AddStorage:
		return "add-storage"
	case DeleteStorage:
		return "delete-storage"
	}
	return fmt.Sprintf("unknown-diff-%d", int(k))
}

// Diff is one reconciliation operation. Volume is set for volume
// operations, Storage for storage operations.
type Diff struct {
	Kind    DiffKind
	Volume  VolumeConfig
	Storage StorageConfig
}

// String renders the diff for logging.
func (d Diff) String() string {
	switch d.Kind {
	case AddVolume, DeleteVolume:
		return fmt.Sprintf("%s %q", d.Kind, d.Volume.Name)
	default:
		return fmt.Sprintf("%s %q (volume %q)", d.Kind, d.Storage.Name, d.Storage.Volume)
	}
}

// Diffs computes the operations transforming a running state equivalent
// to old into one equivalent to new. A changed volume is emitted as
// delete-then-add of the whole volume, and every storage hosted on it in
// new is re-emitted so the applier respawns them after the volume comes
// back. Emission order is volume deletes, storage deletes, volume adds,
// storage adds: all deletes precede all adds, so the applier never holds
// two live handles for the same name.
func Diffs(old, new Plugin) []Diff {
	oldVolumes := volumesByName(old)
	newVolumes := volumesByName(new)
	oldNames := set.NewStrings()
	for name := range oldVolumes {
		oldNames.Add(name)
	}
	newNames := set.NewStrings()
	for name := range newVolumes {
		newNames.Add(name)
	}

	// replaced volumes are present on both sides with changed settings.
	replaced := set.NewStrings()
	for _, name := range oldNames.Intersection(newNames).SortedValues() {
		if !volumeEqual(oldVolumes[name], newVolumes[name]) {
			replaced.Add(name)
		}
	}

	var deletes, adds []Diff
	for _, name := range oldNames.SortedValues() {
		if !newNames.Contains(name) || replaced.Contains(name) {
			deletes = append(deletes, Diff{Kind: DeleteVolume, Volume: oldVolumes[name]})
		}
	}
	for _, name := range newNames.SortedValues() {
		if !oldNames.Contains(name) || replaced.Contains(name) {
			adds = append(adds, Diff{Kind: AddVolume, Volume: newVolumes[name]})
		}
	}

	oldStorages := storagesByVolume(old)
	newStorages := storagesByVolume(new)
	survivors := oldNames.Intersection(newNames).Difference(replaced)
	// The built-in volume is always registered even when undeclared, so
	// storages hosted on it diff like any surviving volume's.
	if !replaced.Contains(BuiltinVolume) {
		survivors.Add(BuiltinVolume)
	}

	for _, volume := range sortedKeys(oldStorages) {
		if !survivors.Contains(volume) {
			// The volume's removal (or replacement) tears these down.
			continue
		}
		for _, s := range oldStorages[volume] {
			if match, ok := findStorage(newStorages[volume], s.Name); !ok || !storageEqual(s, match) {
				deletes = append(deletes, Diff{Kind: DeleteStorage, Storage: s})
			}
		}
	}
	for _, volume := range sortedKeys(newStorages) {
		respawn := replaced.Contains(volume) || !survivors.Contains(volume)
		for _, s := range newStorages[volume] {
			if respawn {
				adds = append(adds, Diff{Kind: AddStorage, Storage: s})
				continue
			}
			if match, ok := findStorage(oldStorages[volume], s.Name); !ok || !storageEqual(s, match) {
				adds = append(adds, Diff{Kind: AddStorage, Storage: s})
			}
		}
	}
	return append(deletes, adds...)
}

func volumesByName(p Plugin) map[string]VolumeConfig {
	m := make(map[string]VolumeConfig, len(p.Volumes))
	for _, v := range p.Volumes {
		m[v.Name] = v
	}
	return m
}

func storagesByVolume(p Plugin) map[string][]StorageConfig {
	m := make(map[string][]StorageConfig)
	for _, s := range p.Storages {
		m[s.Volume] = append(m[s.Volume], s)
	}
	return m
}

func findStorage(storages []StorageConfig, name string) (StorageConfig, bool) {
	for _, s := range storages {
		if s.Name == name {
			return s, true
		}
	}
	return StorageConfig{}, false
}

func sortedKeys(m map[string][]StorageConfig) []string {
	keys := set.NewStrings()
	for k := range m {
		keys.Add(k)
	}
	return keys.SortedValues()
}
