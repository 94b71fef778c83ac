package udp

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/skyline-net/skyline/internal/logging"
	"github.com/skyline-net/skyline/internal/metrics"
	"github.com/skyline-net/skyline/pkg/util"
	"github.com/skyline-net/skyline/pkg/wire/dataset"
)

func newTestSendEngine(t *testing.T, mtu uint16) *SendEngine {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	return NewSendEngine(mtu, util.SystemClock{}, logging.Nop(), m)
}

func TestSendEngineInsertHighBuffersReliableSet(t *testing.T) {
	e := newTestSendEngine(t, 1200)
	datagrams, err := e.Insert([]byte("hi"), PriorityHigh, 0)
	require.NoError(t, err)
	require.Empty(t, datagrams, "High/Medium sends are buffered, not returned for synchronous send")

	sets := e.Drain()
	require.Len(t, sets, 1)
	require.False(t, sets[0].Flags.IsSplit())
	require.True(t, sets[0].Flags.IsReliable())
}

func TestSendEngineInsertLowSendsImmediatelyUnreliable(t *testing.T) {
	e := newTestSendEngine(t, 1200)
	datagrams, err := e.Insert([]byte("lossy"), PriorityLow, 0)
	require.NoError(t, err)
	require.Len(t, datagrams, 1)
	require.Len(t, datagrams[0].Sets, 1)
	require.True(t, datagrams[0].Sets[0].Flags.IsUnreliable())
	require.Empty(t, e.Drain(), "Low sends never enter the buffered priority queues")
}

func TestSendEngineInsertImmediateSendsSynchronously(t *testing.T) {
	e := newTestSendEngine(t, 1200)
	datagrams, err := e.Insert([]byte("urgent"), PriorityImmediate, 0)
	require.NoError(t, err)
	require.Len(t, datagrams, 1)
	require.Len(t, datagrams[0].Sets, 1)
	require.False(t, datagrams[0].Sets[0].Flags.IsReliable())
	require.Empty(t, e.Drain())
}

func TestSendEngineOversizePayloadSplitsRegardlessOfPriority(t *testing.T) {
	e := newTestSendEngine(t, 200)
	payload := make([]byte, 500)
	datagrams, err := e.Insert(payload, PriorityLow, 0)
	require.NoError(t, err)
	require.Len(t, datagrams, 1, "every split chunk is bundled into one datagram")
	require.Len(t, datagrams[0].Sets, 3, "mtu=200 over a 500-byte buffer produces three datasets, per spec.md's split reassembly scenario")
	for _, ds := range datagrams[0].Sets {
		require.True(t, ds.Flags.IsSplit())
		require.True(t, ds.Flags.IsReliable())
		require.True(t, ds.Flags.IsOrdered())
	}
	require.Equal(t, 1, e.RecoveryDepth(), "the split batch is tracked as one recovery entry")
}

func TestSendEngineSplitBatchAdvancesOrderOncePerBatch(t *testing.T) {
	e := newTestSendEngine(t, 200)
	dg1, err := e.Insert(make([]byte, 500), PriorityMedium, 3)
	require.NoError(t, err)
	dg2, err := e.Insert(make([]byte, 500), PriorityMedium, 3)
	require.NoError(t, err)

	for _, ds := range dg1[0].Sets {
		require.Equal(t, uint32(0), ds.Order.Sequence)
	}
	for _, ds := range dg2[0].Sets {
		require.Equal(t, uint32(1), ds.Order.Sequence)
	}
}

func TestSendEngineDrainOrdersHighBeforeMedium(t *testing.T) {
	e := newTestSendEngine(t, 1200)
	_, err := e.Insert([]byte("medium"), PriorityMedium, 0)
	require.NoError(t, err)
	_, err = e.Insert([]byte("high"), PriorityHigh, 0)
	require.NoError(t, err)

	sets := e.Drain()
	require.Len(t, sets, 2)
	require.Equal(t, []byte("high"), sets[0].Payload)
	require.Equal(t, []byte("medium"), sets[1].Payload)
}

func TestSendEngineDrainEmptiesBuffers(t *testing.T) {
	e := newTestSendEngine(t, 1200)
	_, err := e.Insert([]byte("x"), PriorityHigh, 0)
	require.NoError(t, err)
	require.Len(t, e.Drain(), 1)
	require.Empty(t, e.Drain())
}

func TestSendEngineAckRemovesFromRecovery(t *testing.T) {
	e := newTestSendEngine(t, 1200)
	seq := e.NextDatagramSequences(1)[0]
	e.TrackForRecovery(&dataset.Datagram{Sequence: seq})
	require.Equal(t, 1, e.RecoveryDepth())
	e.Ack(seq)
	require.Equal(t, 0, e.RecoveryDepth())
}

func TestSendEngineFlushDueReturnsNothingImmediatelyAfterInsert(t *testing.T) {
	e := newTestSendEngine(t, 1200)
	seq := e.NextDatagramSequences(1)[0]
	e.TrackForRecovery(&dataset.Datagram{Sequence: seq})
	require.Empty(t, e.FlushDue())
}

func TestSendEngineNackForcesRetransmitEligibility(t *testing.T) {
	e := newTestSendEngine(t, 1200)
	seq := e.NextDatagramSequences(1)[0]
	dg := &dataset.Datagram{Sequence: seq}
	e.TrackForRecovery(dg)
	got, ok := e.Nack(seq)
	require.True(t, ok)
	require.Equal(t, dg, got)
	// A forced nack resets sentAt to zero, so it is immediately due.
	due := e.FlushDue()
	require.Len(t, due, 1)
}
