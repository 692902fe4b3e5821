// Copyright 2025 Keymesh Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package config_test

import (
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/keymesh/storaged/config"
)

type configSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&configSuite{})

const sampleConfig = `
backend_search_dirs:
  - /usr/lib/storaged
  - /opt/backends
volumes:
  influxdb:
    backend: influxdb
    required: true
    url: http://localhost:8086
  rocks:
    paths:
      - /opt/backends/kmbackend_rocks.so
storages:
  s1:
    volume: memory
    key_expr: demo/example/**
  s2:
    volume: influxdb
    key_expr: metrics/**
    retention: 7d
`

func (*configSuite) TestParse(c *gc.C) {
	plugin, err := config.Parse("storage-manager", []byte(sampleConfig))
	c.Assert(err, jc.ErrorIsNil)

	c.Check(plugin.Name, gc.Equals, "storage-manager")
	c.Check(plugin.BackendSearchDirs, jc.DeepEquals, []string{"/usr/lib/storaged", "/opt/backends"})

	c.Assert(plugin.Volumes, gc.HasLen, 2)
	influx := plugin.Volumes[0]
	c.Check(influx.Name, gc.Equals, "influxdb")
	c.Check(influx.Backend, gc.Equals, "influxdb")
	c.Check(influx.Required, jc.IsTrue)
	c.Check(influx.ByPaths(), jc.IsFalse)
	c.Check(influx.BackendName(), gc.Equals, "influxdb")
	c.Check(influx.Rest, jc.DeepEquals, map[string]interface{}{"url": "http://localhost:8086"})

	rocks := plugin.Volumes[1]
	c.Check(rocks.Name, gc.Equals, "rocks")
	c.Check(rocks.ByPaths(), jc.IsTrue)
	c.Check(rocks.BackendName(), gc.Equals, "rocks")
	c.Check(rocks.Paths, jc.DeepEquals, []string{"/opt/backends/kmbackend_rocks.so"})

	c.Assert(plugin.Storages, gc.HasLen, 2)
	c.Check(plugin.Storages[0].Name, gc.Equals, "s1")
	c.Check(plugin.Storages[0].Volume, gc.Equals, "memory")
	c.Check(plugin.Storages[0].KeyExpr, gc.Equals, "demo/example/**")
	c.Check(plugin.Storages[1].Rest, jc.DeepEquals, map[string]interface{}{"retention": "7d"})
}

func (*configSuite) TestParseRejectsBadYAML(c *gc.C) {
	_, err := config.Parse("p", []byte("volumes: [not, a, map"))
	c.Assert(err, gc.ErrorMatches, "parsing configuration: .*")
}

func (*configSuite) TestValidateRejectsReservedVolumeName(c *gc.C) {
	_, err := config.Parse("p", []byte(`
volumes:
  memory:
    backend: whatever
`))
	c.Assert(err, jc.ErrorIs, errors.NotValid)
	c.Assert(err, gc.ErrorMatches, `volume "memory" \(reserved name\) not valid`)
}

func (*configSuite) TestValidateRejectsUndeclaredVolume(c *gc.C) {
	_, err := config.Parse("p", []byte(`
storages:
  s1:
    volume: ghost
    key_expr: a/**
`))
	c.Assert(err, jc.ErrorIs, errors.NotValid)
	c.Assert(err, gc.ErrorMatches, `storage "s1" on undeclared volume "ghost" not valid`)
}

func (*configSuite) TestValidateRejectsMissingKeyExpr(c *gc.C) {
	_, err := config.Parse("p", []byte(`
storages:
  s1:
    volume: memory
`))
	c.Assert(err, jc.ErrorIs, errors.NotValid)
	c.Assert(err, gc.ErrorMatches, `storage "s1" without key expression not valid`)
}

func (*configSuite) TestStorageOnBuiltinVolumeAllowed(c *gc.C) {
	plugin, err := config.Parse("p", []byte(`
storages:
  s1:
    volume: memory
    key_expr: a/**
`))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(plugin.Storages, gc.HasLen, 1)
}
