package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

var sample = []byte(`
log:
  level: DEBUG
  formatter: json
binding:
  strictunknownfields: true
  maxpendingbatches: 16
storage:
  path: /var/lib/yepmodel
  workspace: notes
metrics:
  enabled: true
  addr: 127.0.0.1:9090
`)

func TestParse(t *testing.T) {
	c, err := NewParser(EnvPrefix, nil).Parse(sample)
	require.NoError(t, err)
	require.Equal(t, Loglevel("debug"), c.Log.Level)
	require.Equal(t, "json", c.Log.Formatter)
	require.True(t, c.Binding.StrictUnknownFields)
	require.False(t, c.Binding.AutoResync)
	require.Equal(t, 16, c.Binding.MaxPendingBatches)
	require.Equal(t, "/var/lib/yepmodel", c.Storage.Path)
	require.Equal(t, "notes", c.Storage.Workspace)
	require.Equal(t, "127.0.0.1:9090", c.Metrics.Addr)

	opts := c.Binding.Options()
	require.True(t, opts.StrictUnknownFields)
	require.Equal(t, 16, opts.MaxPendingBatches)
}

func TestParseEmptyUsesDefaults(t *testing.T) {
	c, err := NewParser(EnvPrefix, nil).Parse(nil)
	require.NoError(t, err)
	require.Equal(t, Default(), c)
}

func TestEnvironmentOverrides(t *testing.T) {
	env := []string{
		"YEPMODEL_LOG_LEVEL=warn",
		"YEPMODEL_BINDING_AUTORESYNC=true",
		"YEPMODEL_BINDING_MAXPENDINGBATCHES=3",
		"YEPMODEL_STORAGE_PATH=/tmp/override",
		"UNRELATED=1",
	}
	c, err := NewParser(EnvPrefix, env).Parse(sample)
	require.NoError(t, err)
	require.Equal(t, Loglevel("warn"), c.Log.Level)
	require.True(t, c.Binding.AutoResync)
	require.Equal(t, 3, c.Binding.MaxPendingBatches)
	require.Equal(t, "/tmp/override", c.Storage.Path)
	require.Equal(t, "json", c.Log.Formatter)
}

func TestParseErrors(t *testing.T) {
	cases := map[string]struct {
		in  string
		env []string
	}{
		"bad level":       {in: "log:\n  level: loud\n"},
		"bad formatter":   {in: "log:\n  formatter: xml\n"},
		"unknown section": {in: "cache:\n  size: 1\n"},
		"negative queue":  {in: "binding:\n  maxpendingbatches: -1\n"},
		"metrics no addr": {in: "metrics:\n  enabled: true\n  addr: \"\"\n"},
		"no workspace":    {in: "storage:\n  workspace: \"\"\n"},
		"bad env value":   {env: []string{"YEPMODEL_BINDING_MAXPENDINGBATCHES=lots"}},
		"bad env level":   {env: []string{"YEPMODEL_LOG_LEVEL=trace"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewParser(EnvPrefix, tc.env).Parse([]byte(tc.in))
			require.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, sample, 0o600))
	t.Setenv("YEPMODEL_METRICS_ENABLED", "false")

	c, err := Load(path)
	require.NoError(t, err)
	require.False(t, c.Metrics.Enabled)
	require.Equal(t, "json", c.Log.Formatter)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
}
