package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "affinityd.toml")
	require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	return p
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, c.Worker.Interval)
	assert.Equal(t, DefaultStoreDSN(), c.Store.DSN)
	assert.False(t, c.Server.Enabled)
	assert.Equal(t, DefaultListen, c.Server.Listen)
	assert.Equal(t, "/api", c.Server.BasePath)
	assert.True(t, c.Metrics.Enabled)
	assert.Equal(t, 10, c.Log.File.MaxSizeMB)
	assert.Empty(t, c.History.DSNs)
	assert.Zero(t, c.History.Retention)
	assert.Equal(t, "@hourly", c.History.PruneSchedule)
}

func TestDefaultStoreDSNInConfigDir(t *testing.T) {
	dsn := DefaultStoreDSN()
	assert.Equal(t, "store.sqlite", filepath.Base(dsn))
	if dir, err := os.UserConfigDir(); err == nil {
		assert.Equal(t, filepath.Join(dir, "affinityd", "store.sqlite"), dsn)
	}
}

func TestLoadFile(t *testing.T) {
	p := writeTOML(t, `
[store]
dsn = "postgres://u:p@localhost/affinity"

[worker]
interval = "750ms"

[log]
level = "debug"
format = "json"
  [log.file]
  path = "/tmp/affinityd.log"
  max_backups = 9

[server]
enabled = true
listen = ":9999"
base_path = "v1/"

[metrics]
enabled = false

[history]
enabled = true
dsns = ["sqlite://:memory:", "  ", "clickhouse://localhost:9000/default"]
retention = "72h"
prune_schedule = "0 3 * * *"
`)
	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@localhost/affinity", c.Store.DSN)
	assert.Equal(t, 750*time.Millisecond, c.Worker.Interval)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "json", c.Log.Format)
	assert.Equal(t, "/tmp/affinityd.log", c.Log.File.Path)
	assert.Equal(t, 9, c.Log.File.MaxBackups)
	assert.Equal(t, 7, c.Log.File.MaxAgeDays)
	assert.True(t, c.Server.Enabled)
	assert.Equal(t, ":9999", c.Server.Listen)
	assert.Equal(t, "/v1", c.Server.BasePath)
	assert.False(t, c.Metrics.Enabled)
	assert.Equal(t, []string{"sqlite://:memory:", "clickhouse://localhost:9000/default"}, c.History.DSNs)
	assert.Equal(t, 72*time.Hour, c.History.Retention)
	assert.Equal(t, "0 3 * * *", c.History.PruneSchedule)
}

func TestEnvOverridesFile(t *testing.T) {
	p := writeTOML(t, `
[store]
dsn = "/from/file.sqlite"
[worker]
interval = "2s"
`)
	t.Setenv("AFFINITYD_STORE_DSN", "/from/env.sqlite")
	t.Setenv("AFFINITYD_SERVER_ENABLED", "true")
	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "/from/env.sqlite", c.Store.DSN)
	assert.Equal(t, 2*time.Second, c.Worker.Interval)
	assert.True(t, c.Server.Enabled)
}

func TestLoadErrors(t *testing.T) {
	cases := map[string]string{
		"zero interval": "[worker]\ninterval = \"0s\"\n",
		"bad level":     "[log]\nlevel = \"loud\"\n",
		"no listen":     "[server]\nenabled = true\nlisten = \"\"\n",
		"empty history": "[history]\nenabled = true\n",
		"empty dsn":     "[store]\ndsn = \"  \"\n",
		"bad schedule":  "[history]\nenabled = true\ndsns = [\":memory:\"]\nretention = \"1h\"\nprune_schedule = \"often\"\n",
		"neg retention": "[history]\nretention = \"-1h\"\n",
		"tls no source": "[server]\nenabled = true\n[server.tls]\nenabled = true\n",
		"not toml":      "[[[",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeTOML(t, data))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoadServerTLS(t *testing.T) {
	p := writeTOML(t, `
[server]
enabled = true
  [server.tls]
  enabled = true
  dir = "/etc/affinityd/tls"
  auto_generate = true
  hosts = ["gamebox", "192.168.1.20"]
`)
	c, err := Load(p)
	require.NoError(t, err)
	assert.True(t, c.Server.TLS.Enabled)
	assert.True(t, c.Server.TLS.AutoGenerate)
	assert.Equal(t, "/etc/affinityd/tls", c.Server.TLS.Dir)
	assert.Equal(t, []string{"gamebox", "192.168.1.20"}, c.Server.TLS.Hosts)
}
