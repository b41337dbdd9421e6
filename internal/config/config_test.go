package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "objcore.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := write(t, `
[server]
name = "bench"
tick_rate = "50ms"

[gc]
collect_every = 2
purge_stale_references = false

[allocator]
kind = "block"
max_bytes = 1048576

[database]
enabled = true
dsn = "postgres://x@db/objcore"

[logging]
format = "json"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "bench", cfg.Server.Name)
	assert.Equal(t, 50*time.Millisecond, cfg.Server.TickRate)
	assert.Equal(t, 2, cfg.GC.CollectEvery)
	assert.False(t, cfg.GC.PurgeStaleReferences)
	assert.Equal(t, 1024, cfg.GC.InitialCapacity, "unset keys keep their defaults")
	assert.Equal(t, "block", cfg.Allocator.Kind)
	assert.Equal(t, uint64(1<<20), cfg.Allocator.MaxBytes)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, 25, cfg.Database.FlushEvery)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.NotZero(t, cfg.Server.StartTime)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"allocator": "[allocator]\nkind = \"arena\"",
		"collect":   "[gc]\ncollect_every = 0",
		"format":    "[logging]\nformat = \"xml\"",
		"syntax":    "[gc\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(write(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	t.Setenv(EnvPath, "")
	assert.Equal(t, DefaultPath, Resolve(""))
	t.Setenv(EnvPath, "/etc/objcore.toml")
	assert.Equal(t, "/etc/objcore.toml", Resolve(""))
	assert.Equal(t, "flag.toml", Resolve("flag.toml"))
}
