// Copyright 2025 Keymesh Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package manager

import (
	"github.com/juju/collections/set"

	"github.com/keymesh/storaged/keyexpr"
	"github.com/keymesh/storaged/version"
)

// Response is one admin-space (key, value) pair.
type Response struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// statusKey is the root of this runtime's admin namespace.
func (m *StorageManager) statusKey() string {
	return "@/service/" + m.uid + "/status/plugins/" + m.config.Name
}

// StatusKey exposes the admin-namespace root, mostly for tests and for
// the daemon's logs.
func (m *StorageManager) StatusKey() string {
	return m.statusKey()
}

// Query renders the runtime state entries whose synthetic keys intersect
// the selector:
//
//	<root>/version              build identifier
//	<root>/volumes/<v>/__path__ backend library path (or sentinel)
//	<root>/volumes/<v>          backend admin status
//	<root>/storages/<s>         worker live status
//
// It never mutates state, and a storage worker that does not answer
// within the bounded wait is omitted rather than blocking the query.
func (m *StorageManager) Query(selector string) []Response {
	m.mu.Lock()
	defer m.mu.Unlock()

	responses := []Response{}
	root := m.statusKey()
	if key := root + "/version"; keyexpr.Intersects(key, selector) {
		responses = append(responses, Response{Key: key, Value: version.Build})
	}

	for _, name := range sortedNames(m.volumes) {
		h := m.volumes[name]
		if key := root + "/volumes/" + name + "/__path__"; keyexpr.Intersects(key, selector) {
			responses = append(responses, Response{Key: key, Value: h.Path()})
		}
		if key := root + "/volumes/" + name; keyexpr.Intersects(key, selector) {
			responses = append(responses, Response{Key: key, Value: h.Backend().AdminStatus()})
		}
	}

	for _, volume := range sortedNames(m.storages) {
		for _, name := range sortedNames(m.storages[volume]) {
			key := root + "/storages/" + name
			if !keyexpr.Intersects(key, selector) {
				continue
			}
			if status, ok := m.storages[volume][name].Status(m.clock, m.config.StatusTimeout); ok {
				responses = append(responses, Response{Key: key, Value: status})
			}
		}
	}
	return responses
}

func sortedNames[V any](m map[string]V) []string {
	names := set.NewStrings()
	for name := range m {
		names.Add(name)
	}
	return names.SortedValues()
}
