package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hootenanny.toml"), []byte(body), 0o644))
}

func TestLoad_DefaultsAppliedForUnsetKeys(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
[paths]
socket_dir = "/var/run/hootenanny"

[broker]
control_token = "secret"
`)

	cfg, err := Load("hootenanny", dir)
	require.NoError(t, err)
	assert.Equal(t, "hootenanny", cfg.Broker.Service)
	assert.Equal(t, "secret", cfg.Broker.ControlToken)
	assert.Equal(t, 120.0, cfg.Garden.DefaultBPM)
	assert.Equal(t, 8192, cfg.Garden.RingCapacity)

	eps := cfg.Endpoints()
	assert.Equal(t, "ipc:///var/run/hootenanny/hootenanny-shell", eps.Shell)
	assert.Equal(t, "ipc:///var/run/hootenanny/hootenanny-control", eps.Control)
}

func TestLoad_MissingSocketDirFails(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
[broker]
control_token = "secret"
`)

	_, err := Load("hootenanny", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Paths.SocketDir")
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
[paths]
socket_dir = "/var/run/hootenanny"

[broker]
control_token = "secret"
`)
	t.Setenv("HOOTENANNY_GARDEN_DEFAULT_BPM", "90")

	cfg, err := Load("hootenanny", dir)
	require.NoError(t, err)
	assert.Equal(t, 90.0, cfg.Garden.DefaultBPM)
}
