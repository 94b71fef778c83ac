package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ConnectedPeers.Set(3)
	m.AcksReceived.Inc()
	m.Retransmits.Add(2)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	var sawConnectedPeers bool
	for _, f := range families {
		if f.GetName() == "skyline_connected_peers" {
			sawConnectedPeers = true
			require.Equal(t, float64(3), f.Metric[0].GetGauge().GetValue())
		}
	}
	require.True(t, sawConnectedPeers)
}
