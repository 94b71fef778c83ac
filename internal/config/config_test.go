package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeTemp(t, `
port: 9000
network:
  mode: udp
  maxConnections: 10
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Port)
	require.Equal(t, NetworkModeUDP, cfg.Network.Mode)
	require.Equal(t, 10, cfg.Network.MaxConnections)
	// Untouched defaults survive the partial override.
	require.Equal(t, 64, cfg.Cluster.MaxPeers)
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.Port = 70000
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsBadNetworkMode(t *testing.T) {
	cfg := Default()
	cfg.Network.Mode = "quic"
	require.Error(t, cfg.Validate())
}

func TestValidateRequiresDatabaseDriverWhenKindIsDatabase(t *testing.T) {
	cfg := Default()
	cfg.Authorization.Enabled = true
	cfg.Authorization.Kind = AuthorizationKindDatabase
	require.Error(t, cfg.Validate())
	cfg.Authorization.Database.Driver = "postgres"
	require.NoError(t, cfg.Validate())
}
