// Copyright 2025 Keymesh Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package manager

// VolumeNames exposes the registered volume names for tests.
func (m *StorageManager) VolumeNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedNames(m.volumes)
}

// StorageNames exposes the registered (volume, storage) names for tests.
func (m *StorageManager) StorageNames() map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make(map[string][]string)
	for volume, hosted := range m.storages {
		names[volume] = sortedNames(hosted)
	}
	return names
}
