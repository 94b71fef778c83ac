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

func newTestRecvEngine(t *testing.T) *RecvEngine {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	return NewRecvEngine(util.SystemClock{}, logging.Nop(), m)
}

func TestRecvEngineInsertUnorderedUnsplitDelivers(t *testing.T) {
	e := newTestRecvEngine(t)
	dg := dataset.NewDatagram(1)
	dg.Push(&dataset.DataSet{Seq: 1, Payload: []byte("hello")})

	deliveries := e.Insert(dg)
	require.Len(t, deliveries, 1)
	require.Equal(t, []byte("hello"), deliveries[0].Payload)
}

func TestRecvEngineDropsDuplicateDatagram(t *testing.T) {
	e := newTestRecvEngine(t)
	dg := dataset.NewDatagram(1)
	dg.Push(&dataset.DataSet{Seq: 1, Payload: []byte("hello")})

	require.Len(t, e.Insert(dg), 1)
	require.Empty(t, e.Insert(dg))
}

func TestRecvEngineReassemblesSplitPayload(t *testing.T) {
	e := newTestRecvEngine(t)
	flags := dataset.Flags(dataset.FlagSplit)
	dg1 := dataset.NewDatagram(1)
	dg1.Push(&dataset.DataSet{Flags: flags, Seq: 1, Split: dataset.SplitInfo{ID: 5, Total: 2, Index: 0}, Payload: []byte("ab")})
	dg2 := dataset.NewDatagram(2)
	dg2.Push(&dataset.DataSet{Flags: flags, Seq: 2, Split: dataset.SplitInfo{ID: 5, Total: 2, Index: 1}, Payload: []byte("cd")})

	require.Empty(t, e.Insert(dg1))
	deliveries := e.Insert(dg2)
	require.Len(t, deliveries, 1)
	require.Equal(t, []byte("abcd"), deliveries[0].Payload)
}

func TestRecvEngineOrdersByChannel(t *testing.T) {
	e := newTestRecvEngine(t)
	flags := dataset.Flags(dataset.FlagOrdered)
	dgB := dataset.NewDatagram(1)
	dgB.Push(&dataset.DataSet{Flags: flags, Seq: 1, Order: dataset.OrderInfo{ID: 3, Sequence: 1}, Payload: []byte("b")})
	dgA := dataset.NewDatagram(2)
	dgA.Push(&dataset.DataSet{Flags: flags, Seq: 2, Order: dataset.OrderInfo{ID: 3, Sequence: 0}, Payload: []byte("a")})

	require.Empty(t, e.Insert(dgB))
	deliveries := e.Insert(dgA)
	require.Len(t, deliveries, 2)
	require.Equal(t, []byte("a"), deliveries[0].Payload)
	require.Equal(t, []byte("b"), deliveries[1].Payload)
}

func TestRecvEngineFlushAcksDrainsPending(t *testing.T) {
	e := newTestRecvEngine(t)
	dg := dataset.NewDatagram(7)
	e.Insert(dg)
	acks := e.FlushAcks()
	require.Equal(t, []uint32{7}, acks)
	require.Empty(t, e.FlushAcks())
}

func TestRecvEngineMissingReportsWindowGaps(t *testing.T) {
	e := newTestRecvEngine(t)
	e.Insert(dataset.NewDatagram(0))
	e.Insert(dataset.NewDatagram(2))
	missing := e.Missing()
	require.Contains(t, missing, uint32(1))
}
