package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverlaysOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
device_name: my-laptop
listen_addr: "0.0.0.0:17160"
resources:
  max_total_connections: 10
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "my-laptop", cfg.DeviceName)
	require.Equal(t, "0.0.0.0:17160", cfg.ListenAddr)
	require.Equal(t, 10, cfg.Resources.MaxTotalConnections)

	// Untouched fields keep their default values.
	require.Equal(t, DefaultIdleTimeout, cfg.IdleTimeout)
	require.Equal(t, 1739, cfg.PayloadPortStart)
}

func TestLoadParsesDurations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
idle_timeout: 10m
activity_timeout: 30s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 10*time.Minute, cfg.IdleTimeout.Std())
	require.Equal(t, 30*time.Second, cfg.ActivityTimeout.Std())
}

func TestLoadRejectsInvalidPortRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
payload_port_start: 2000
payload_port_end: 1000
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsInvalidTimeout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
idle_timeout: -1s
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestDefaultMatchesResourceDefaultConfig(t *testing.T) {
	cfg := Default()
	require.Equal(t, 3, cfg.Resources.MaxConnectionsPerDevice)
	require.Equal(t, 50, cfg.Resources.MaxTotalConnections)
}
