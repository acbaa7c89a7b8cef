package raft

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type frame struct {
	msgType uint8
	data    []byte
}

// frameSink collects the frames a transport hands to its handler.
type frameSink struct {
	mu     sync.Mutex
	frames []frame
}

func (s *frameSink) handle(msgType uint8, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame{msgType: msgType, data: data})
}

func (s *frameSink) received() []frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]frame(nil), s.frames...)
}

func TestTCPTransportDeliversFrames(t *testing.T) {
	server := NewTCPTransport("127.0.0.1:0", nil)
	sink := &frameSink{}
	require.NoError(t, server.Listen(sink.handle))
	defer server.Close()

	client := NewTCPTransport("127.0.0.1:0", nil)
	defer client.Close()
	client.SetPeerAddress(1, server.LocalAddr())

	msgType, data, err := EncodeMessage(2, &RequestVote{Term: 3, CandidateID: 2, LastLogIndex: 7, LastLogTerm: 2})
	require.NoError(t, err)
	require.NoError(t, client.Send(1, msgType, data))
	require.NoError(t, client.Send(1, RPCTimeoutNow, nil))

	require.Eventually(t, func() bool { return len(sink.received()) == 2 }, waitFor, tick)
	frames := sink.received()

	from, msg, err := DecodeMessage(frames[0].msgType, frames[0].data)
	require.NoError(t, err)
	require.Equal(t, uint64(2), from)
	require.Equal(t, &RequestVote{Term: 3, CandidateID: 2, LastLogIndex: 7, LastLogTerm: 2}, msg)
	require.Equal(t, RPCTimeoutNow, frames[1].msgType)
	require.Empty(t, frames[1].data)
}

func TestTCPTransportRedialsNewAddress(t *testing.T) {
	first := NewTCPTransport("127.0.0.1:0", nil)
	firstSink := &frameSink{}
	require.NoError(t, first.Listen(firstSink.handle))
	defer first.Close()

	second := NewTCPTransport("127.0.0.1:0", nil)
	secondSink := &frameSink{}
	require.NoError(t, second.Listen(secondSink.handle))
	defer second.Close()

	client := NewTCPTransport("", map[uint64]string{1: first.LocalAddr()})
	defer client.Close()
	require.NoError(t, client.Send(1, RPCTimeoutNow, []byte{1}))
	require.Eventually(t, func() bool { return len(firstSink.received()) == 1 }, waitFor, tick)

	client.SetPeerAddress(1, second.LocalAddr())
	require.NoError(t, client.Send(1, RPCTimeoutNow, []byte{2}))
	require.Eventually(t, func() bool { return len(secondSink.received()) == 1 }, waitFor, tick)
	require.Equal(t, []byte{2}, secondSink.received()[0].data)
}

func TestTCPTransportErrors(t *testing.T) {
	client := NewTCPTransport("127.0.0.1:0", nil)
	client.SetTimeout(time.Second)
	require.ErrorIs(t, client.Send(9, RPCTimeoutNow, nil), ErrConnectFailed)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	require.ErrorIs(t, client.Send(9, RPCTimeoutNow, nil), ErrTransportClosed)
}

func TestTCPTransportCloseStopsListener(t *testing.T) {
	server := NewTCPTransport("127.0.0.1:0", nil)
	require.NoError(t, server.Listen((&frameSink{}).handle))
	addr := server.LocalAddr()

	client := NewTCPTransport("", map[uint64]string{1: addr})
	defer client.Close()
	require.NoError(t, client.Send(1, RPCTimeoutNow, nil))

	require.NoError(t, server.Close())
	require.Eventually(t, func() bool {
		return client.Send(1, RPCTimeoutNow, nil) != nil
	}, waitFor, tick, "sends to a closed transport eventually fail")
}

func TestInMemoryNetworkPartitions(t *testing.T) {
	network := NewInMemoryNetwork()
	sinks := make(map[uint64]*frameSink)
	transports := make(map[uint64]*InMemoryTransport)
	for _, id := range []uint64{1, 2, 3} {
		sinks[id] = &frameSink{}
		transports[id] = network.NewTransport(id, "")
		require.NoError(t, transports[id].Listen(sinks[id].handle))
	}

	require.NoError(t, transports[1].Send(2, RPCTimeoutNow, []byte("x")))
	require.Len(t, sinks[2].received(), 1)

	network.Disconnect(1, 2)
	require.ErrorIs(t, transports[1].Send(2, RPCTimeoutNow, nil), ErrConnectFailed)
	require.ErrorIs(t, transports[2].Send(1, RPCTimeoutNow, nil), ErrConnectFailed)
	require.NoError(t, transports[1].Send(3, RPCTimeoutNow, nil))

	network.Isolate(3)
	require.ErrorIs(t, transports[1].Send(3, RPCTimeoutNow, nil), ErrConnectFailed)
	require.ErrorIs(t, transports[3].Send(2, RPCTimeoutNow, nil), ErrConnectFailed)

	network.Heal()
	require.NoError(t, transports[1].Send(2, RPCTimeoutNow, nil))
	require.NoError(t, transports[3].Send(2, RPCTimeoutNow, nil))
	require.Len(t, sinks[2].received(), 3)

	require.ErrorIs(t, transports[1].Send(9, RPCTimeoutNow, nil), ErrConnectFailed)
	require.NoError(t, transports[2].Close())
	require.ErrorIs(t, transports[1].Send(2, RPCTimeoutNow, nil), ErrConnectFailed)
	require.ErrorIs(t, transports[2].Send(1, RPCTimeoutNow, nil), ErrTransportClosed)
}

func TestInMemoryTransportCopiesFrames(t *testing.T) {
	network := NewInMemoryNetwork()
	sink := &frameSink{}
	a := network.NewTransport(1, "a")
	b := network.NewTransport(2, "b")
	require.NoError(t, b.Listen(sink.handle))
	require.Equal(t, "a", a.LocalAddr())

	data := []byte("payload")
	require.NoError(t, a.Send(2, RPCTimeoutNow, data))
	data[0] = 'X'
	require.Equal(t, []byte("payload"), sink.received()[0].data)
}
