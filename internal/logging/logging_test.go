package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewBuildsProductionLogger(t *testing.T) {
	l, err := New(false, "info")
	require.NoError(t, err)
	require.NotNil(t, l)
	l.Infow("constructed", "mode", "production")
	require.NoError(t, l.Sync())
}

func TestNewFallsBackToInfoOnBadLevel(t *testing.T) {
	l, err := New(true, "not-a-level")
	require.NoError(t, err)
	require.NotNil(t, l)
}

func TestNamedAndWithReturnIndependentLoggers(t *testing.T) {
	l := Nop()
	child := l.Named("udp").With("peer", "1.2.3.4")
	require.NotNil(t, child)
	child.Debugw("hello")
}
