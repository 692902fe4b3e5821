// Copyright 2025 Keymesh Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package manager_test

import (
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/keymesh/storaged/backend"
	"github.com/keymesh/storaged/backend/memory"
	"github.com/keymesh/storaged/config"
	"github.com/keymesh/storaged/internal/loader"
	"github.com/keymesh/storaged/internal/manager"
	"github.com/keymesh/storaged/session"
)

type managerSuite struct {
	testing.IsolationSuite

	hub *session.Hub
	// loadable maps library paths the stub loader can "open" to the
	// backends it creates, so tests can inspect them afterwards.
	loadable map[string]*trackingBackend
}

var _ = gc.Suite(&managerSuite{})

func (s *managerSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.hub = session.NewHub()
	s.loadable = make(map[string]*trackingBackend)
}

// trackingBackend wraps the memory backend, recording Close.
type trackingBackend struct {
	backend.Backend
	closed bool
}

func (b *trackingBackend) Close() error {
	b.closed = true
	return b.Backend.Close()
}

type stubLibrary struct {
	suite *managerSuite
	path  string
}

func (l *stubLibrary) Entry() (backend.CreateFunc, error) {
	return func(cfg config.VolumeConfig) (backend.Backend, error) {
		inner, err := memory.New(cfg)
		if err != nil {
			return nil, err
		}
		b := &trackingBackend{Backend: inner}
		l.suite.loadable[l.path] = b
		return b, nil
	}, nil
}

// newManager builds a manager whose loader "opens" any path ending in
// ".so" without touching the real dynamic loader.
func (s *managerSuite) newManager(c *gc.C, plugin config.Plugin) *manager.StorageManager {
	l := loader.New(loader.Config{
		SearchDirs: plugin.BackendSearchDirs,
		Open: func(path string) (loader.Library, error) {
			if !strings.HasSuffix(path, ".so") {
				return nil, errors.Errorf("cannot open %s", path)
			}
			return &stubLibrary{suite: s, path: path}, nil
		},
	})
	m, err := manager.New(manager.Config{
		Name:    "test",
		Session: s.hub,
		Loader:  l,
	}, plugin)
	c.Assert(err, jc.ErrorIsNil)
	s.AddCleanup(func(c *gc.C) {
		c.Check(m.Close(), jc.ErrorIsNil)
	})
	return m
}

func volumeConfig(name string) config.VolumeConfig {
	return config.VolumeConfig{Name: name, Paths: []string{"/lib/" + name + ".so"}}
}

func storageConfig(name, volume, keyExpr string) config.StorageConfig {
	return config.StorageConfig{Name: name, Volume: volume, KeyExpr: keyExpr}
}

func (s *managerSuite) TestBuiltinVolumeAlwaysPresent(c *gc.C) {
	m := s.newManager(c, config.Plugin{Name: "test"})
	c.Check(m.VolumeNames(), jc.DeepEquals, []string{"memory"})

	responses := m.Query("**/volumes/memory/__path__")
	c.Assert(responses, gc.HasLen, 1)
	c.Check(responses[0].Value, gc.Equals, loader.BuiltinPath)
}

func (s *managerSuite) TestAddDuplicateVolumeFails(c *gc.C) {
	m := s.newManager(c, config.Plugin{Name: "test"})
	c.Assert(m.AddVolume(volumeConfig("db")), jc.ErrorIsNil)

	err := m.AddVolume(volumeConfig("db"))
	c.Assert(err, jc.ErrorIs, errors.AlreadyExists)
	c.Assert(err, gc.ErrorMatches, `volume "db" already exists`)
}

func (s *managerSuite) TestApplyDuplicateAddVolumeAborts(c *gc.C) {
	m := s.newManager(c, config.Plugin{Name: "test"})

	err := m.Apply([]config.Diff{
		{Kind: config.AddVolume, Volume: volumeConfig("db")},
		{Kind: config.AddVolume, Volume: volumeConfig("db")},
	})
	c.Assert(err, jc.ErrorIs, errors.AlreadyExists)
	// The first add stays applied; no silent replacement happened.
	c.Check(m.VolumeNames(), jc.DeepEquals, []string{"db", "memory"})
}

func (s *managerSuite) TestAddStorageOnUnknownVolume(c *gc.C) {
	m := s.newManager(c, config.Plugin{Name: "test"})
	err := m.AddStorage(storageConfig("s1", "nowhere", "a/**"))
	c.Assert(err, jc.ErrorIs, errors.NotFound)
	c.Assert(err, gc.ErrorMatches, `volume "nowhere" not found`)
	c.Check(m.StorageNames(), gc.HasLen, 0)
}

func (s *managerSuite) TestAddDuplicateStorageFails(c *gc.C) {
	m := s.newManager(c, config.Plugin{Name: "test"})
	c.Assert(m.AddStorage(storageConfig("s1", "memory", "a/**")), jc.ErrorIsNil)
	err := m.AddStorage(storageConfig("s1", "memory", "a/**"))
	c.Assert(err, jc.ErrorIs, errors.AlreadyExists)
}

func (s *managerSuite) TestRemoveBuiltinVolumeRejected(c *gc.C) {
	m := s.newManager(c, config.Plugin{Name: "test"})
	err := m.RemoveVolume("memory")
	c.Assert(err, jc.ErrorIs, errors.NotSupported)
	c.Check(m.VolumeNames(), jc.DeepEquals, []string{"memory"})
}

func (s *managerSuite) TestStorageLifecycleScenario(c *gc.C) {
	m := s.newManager(c, config.Plugin{Name: "test"})

	c.Assert(m.AddStorage(storageConfig("s1", "memory", "a/b/**")), jc.ErrorIsNil)
	responses := m.Query("**/storages/s1")
	c.Assert(responses, gc.HasLen, 1)
	payload, ok := responses[0].Value.(map[string]interface{})
	c.Assert(ok, jc.IsTrue)
	c.Check(payload["key_expr"], gc.Equals, "a/b/**")

	c.Assert(m.RemoveVolume("memory"), jc.ErrorIs, errors.NotSupported)

	c.Assert(m.RemoveStorage("memory", "s1"), jc.ErrorIsNil)
	c.Check(m.Query("**/storages/s1"), gc.HasLen, 0)
	c.Check(m.StorageNames(), gc.HasLen, 0)
}

func (s *managerSuite) TestRemoveVolumeStopsStoragesFirst(c *gc.C) {
	m := s.newManager(c, config.Plugin{Name: "test"})
	c.Assert(m.AddVolume(volumeConfig("db")), jc.ErrorIsNil)
	c.Assert(m.AddStorage(storageConfig("s1", "db", "a/**")), jc.ErrorIsNil)
	c.Assert(m.AddStorage(storageConfig("s2", "db", "b/**")), jc.ErrorIsNil)

	c.Assert(m.RemoveVolume("db"), jc.ErrorIsNil)
	c.Check(m.VolumeNames(), jc.DeepEquals, []string{"memory"})
	c.Check(m.StorageNames(), gc.HasLen, 0)
	c.Check(s.loadable["/lib/db.so"].closed, jc.IsTrue)
	c.Check(m.Query("**/storages/*"), gc.HasLen, 0)
}

func (s *managerSuite) TestRemoveUnknownStorage(c *gc.C) {
	m := s.newManager(c, config.Plugin{Name: "test"})
	err := m.RemoveStorage("memory", "nope")
	c.Assert(err, jc.ErrorIs, errors.NotFound)
}

func (s *managerSuite) TestApplyAbortsRemainingKeepsApplied(c *gc.C) {
	m := s.newManager(c, config.Plugin{Name: "test"})

	err := m.Apply([]config.Diff{
		{Kind: config.AddVolume, Volume: volumeConfig("db")},
		{Kind: config.AddStorage, Storage: storageConfig("s1", "missing", "a/**")},
		{Kind: config.AddVolume, Volume: volumeConfig("later")},
	})
	c.Assert(err, jc.ErrorIs, errors.NotFound)
	// Applied diffs stay; diffs after the failure were not applied.
	c.Check(m.VolumeNames(), jc.DeepEquals, []string{"db", "memory"})
}

func (s *managerSuite) TestNonRequiredVolumeLoadFailureSkipped(c *gc.C) {
	m := s.newManager(c, config.Plugin{Name: "test"})

	broken := config.VolumeConfig{Name: "broken", Paths: []string{"/nope.not-a-lib"}}
	err := m.Apply([]config.Diff{
		{Kind: config.AddVolume, Volume: broken},
		{Kind: config.AddVolume, Volume: volumeConfig("db")},
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(m.VolumeNames(), jc.DeepEquals, []string{"db", "memory"})
}

func (s *managerSuite) TestRequiredVolumeLoadFailureAborts(c *gc.C) {
	m := s.newManager(c, config.Plugin{Name: "test"})

	broken := config.VolumeConfig{Name: "broken", Paths: []string{"/nope.not-a-lib"}, Required: true}
	err := m.Apply([]config.Diff{
		{Kind: config.AddVolume, Volume: broken},
		{Kind: config.AddVolume, Volume: volumeConfig("db")},
	})
	c.Assert(err, jc.ErrorIs, errors.NotFound)
	c.Check(m.VolumeNames(), jc.DeepEquals, []string{"memory"})
}

func (s *managerSuite) TestRequiredVolumeFailureFatalAtConstruction(c *gc.C) {
	l := loader.New(loader.Config{
		Open: func(path string) (loader.Library, error) {
			return nil, errors.Errorf("cannot open %s", path)
		},
	})
	_, err := manager.New(manager.Config{
		Name:    "test",
		Session: s.hub,
		Loader:  l,
	}, config.Plugin{
		Name: "test",
		Volumes: []config.VolumeConfig{
			{Name: "db", Paths: []string{"/lib/db.so"}, Required: true},
		},
	})
	c.Assert(err, jc.ErrorIs, errors.NotFound)
}

func (s *managerSuite) TestReconcileRoundTripRestoresState(c *gc.C) {
	planA := config.Plugin{
		Name: "test",
		Volumes: []config.VolumeConfig{
			volumeConfig("db"),
		},
		Storages: []config.StorageConfig{
			storageConfig("s1", "db", "a/**"),
			storageConfig("sm", "memory", "m/**"),
		},
	}
	planB := config.Plugin{
		Name: "test",
		Volumes: []config.VolumeConfig{
			volumeConfig("other"),
		},
		Storages: []config.StorageConfig{
			storageConfig("s2", "other", "b/**"),
		},
	}
	m := s.newManager(c, planA)
	volumesA, storagesA := m.VolumeNames(), m.StorageNames()

	c.Assert(m.Apply(config.Diffs(planA, planB)), jc.ErrorIsNil)
	c.Check(m.VolumeNames(), jc.DeepEquals, []string{"memory", "other"})
	c.Check(m.StorageNames(), jc.DeepEquals, map[string][]string{"other": {"s2"}})

	c.Assert(m.Apply(config.Diffs(planB, planA)), jc.ErrorIsNil)
	c.Check(m.VolumeNames(), jc.DeepEquals, volumesA)
	c.Check(m.StorageNames(), jc.DeepEquals, storagesA)
}

func (s *managerSuite) TestStoragesNeverOutliveVolume(c *gc.C) {
	plan := config.Plugin{
		Name:    "test",
		Volumes: []config.VolumeConfig{volumeConfig("db")},
		Storages: []config.StorageConfig{
			storageConfig("s1", "db", "a/**"),
		},
	}
	m := s.newManager(c, plan)

	// Replace the volume's settings: the whole volume is respawned and
	// its storage with it, and at no point is a storage registered
	// under an absent volume.
	changed := config.Plugin{
		Name: "test",
		Volumes: []config.VolumeConfig{
			{Name: "db", Paths: []string{"/lib/db2.so"}},
		},
		Storages: plan.Storages,
	}
	c.Assert(m.Apply(config.Diffs(plan, changed)), jc.ErrorIsNil)

	volumes := set.NewStrings(m.VolumeNames()...)
	for volume := range m.StorageNames() {
		c.Check(volumes.Contains(volume), jc.IsTrue)
	}
	c.Check(m.StorageNames(), jc.DeepEquals, map[string][]string{"db": {"s1"}})
}

func (s *managerSuite) TestQueryVersion(c *gc.C) {
	m := s.newManager(c, config.Plugin{Name: "test"})
	responses := m.Query("**/version")
	c.Assert(responses, gc.HasLen, 1)
	c.Check(responses[0].Key, gc.Equals, m.StatusKey()+"/version")
}

func (s *managerSuite) TestQueryDoesNotMatchUnrelated(c *gc.C) {
	m := s.newManager(c, config.Plugin{Name: "test"})
	c.Check(m.Query("some/other/space/**"), gc.HasLen, 0)
}
