package skyline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skyline-net/skyline/internal/config"
)

func TestStaticAuthenticator(t *testing.T) {
	a := NewStaticAuthenticator(map[string]string{"alice": "secret"})

	ok, err := a.Authenticate("alice", "secret")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = a.Authenticate("alice", "wrong")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = a.Authenticate("nobody", "secret")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNewAuthenticatorFromConfigDisabledAllowsAll(t *testing.T) {
	auth, err := NewAuthenticatorFromConfig(config.AuthorizationConfig{Enabled: false}, nil)
	require.NoError(t, err)
	ok, err := auth.Authenticate("anyone", "anything")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestNewAuthenticatorFromConfigStatic(t *testing.T) {
	auth, err := NewAuthenticatorFromConfig(config.AuthorizationConfig{
		Enabled: true,
		Kind:    config.AuthorizationKindStatic,
	}, map[string]string{"alice": "secret"})
	require.NoError(t, err)
	ok, err := auth.Authenticate("alice", "secret")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestNewAuthenticatorFromConfigDatabaseUnsupported(t *testing.T) {
	_, err := NewAuthenticatorFromConfig(config.AuthorizationConfig{
		Enabled: true,
		Kind:    config.AuthorizationKindDatabase,
	}, nil)
	require.Error(t, err)
}
