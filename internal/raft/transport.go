package raft

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"
)

// maxFrameSize bounds the payload of one frame read from the network.
const maxFrameSize = 64 * 1024 * 1024

// Transport moves encoded messages between members. Messages are one-way;
// replies travel as separate messages.
type Transport interface {
	// Send delivers one frame to a peer.
	Send(peerID uint64, msgType uint8, data []byte) error

	// Listen starts accepting frames and hands each to handler.
	Listen(handler RPCHandler) error

	// SetPeerAddress records or changes the address of a peer.
	SetPeerAddress(peerID uint64, addr string)

	// Close shuts down the transport.
	Close() error

	// LocalAddr returns the local address.
	LocalAddr() string
}

// RPCHandler handles one incoming frame. It must not block for long.
type RPCHandler func(msgType uint8, data []byte)

// TCPTransport implements Transport over TCP. Each peer gets one outbound
// connection, dialed on first use and redialed after a failure.
type TCPTransport struct {
	addr     string
	listener net.Listener
	peers    map[uint64]string    // peerID -> address
	conns    map[uint64]*peerConn // peerID -> connection
	inbound  map[net.Conn]struct{}
	handler  RPCHandler
	timeout  time.Duration
	closed   bool
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

type peerConn struct {
	conn net.Conn
	mu   sync.Mutex
}

// NewTCPTransport creates a TCP transport listening on addr.
func NewTCPTransport(addr string, peers map[uint64]string) *TCPTransport {
	t := &TCPTransport{
		addr:    addr,
		peers:   make(map[uint64]string),
		conns:   make(map[uint64]*peerConn),
		inbound: make(map[net.Conn]struct{}),
		timeout: 5 * time.Second,
	}
	for id, a := range peers {
		t.peers[id] = a
	}
	return t
}

// SetTimeout sets the dial and write timeout.
func (t *TCPTransport) SetTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = d
}

// LocalAddr returns the address the transport listens on.
func (t *TCPTransport) LocalAddr() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.addr
}

// Send writes one frame to a peer.
// Frame format: [type:1][length:4][data:N]
func (t *TCPTransport) Send(peerID uint64, msgType uint8, data []byte) error {
	pc, timeout, err := t.connFor(peerID)
	if err != nil {
		return err
	}

	frame := make([]byte, 5+len(data))
	frame[0] = msgType
	binary.LittleEndian.PutUint32(frame[1:5], uint32(len(data)))
	copy(frame[5:], data)

	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.conn.SetWriteDeadline(time.Now().Add(timeout))
	if _, err := pc.conn.Write(frame); err != nil {
		t.removeConn(peerID, pc)
		return err
	}
	return nil
}

func (t *TCPTransport) connFor(peerID uint64) (*peerConn, time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, 0, ErrTransportClosed
	}
	if pc, ok := t.conns[peerID]; ok {
		return pc, t.timeout, nil
	}
	addr, ok := t.peers[peerID]
	if !ok || addr == "" {
		return nil, 0, ErrConnectFailed
	}
	conn, err := net.DialTimeout("tcp", addr, t.timeout)
	if err != nil {
		return nil, 0, err
	}
	pc := &peerConn{conn: conn}
	t.conns[peerID] = pc
	return pc, t.timeout, nil
}

// Listen starts accepting connections and reading frames.
func (t *TCPTransport) Listen(handler RPCHandler) error {
	l, err := net.Listen("tcp", t.addr)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.listener = l
	t.handler = handler
	t.mu.Unlock()

	t.wg.Add(1)
	go t.acceptLoop(l)

	return nil
}

func (t *TCPTransport) acceptLoop(l net.Listener) {
	defer t.wg.Done()

	for {
		conn, err := l.Accept()
		if err != nil {
			t.mu.RLock()
			closed := t.closed
			t.mu.RUnlock()
			if closed {
				return
			}
			continue
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			conn.Close()
			return
		}
		t.inbound[conn] = struct{}{}
		t.mu.Unlock()

		t.wg.Add(1)
		go t.handleConn(conn)
	}
}

func (t *TCPTransport) handleConn(conn net.Conn) {
	defer t.wg.Done()
	defer func() {
		t.mu.Lock()
		delete(t.inbound, conn)
		t.mu.Unlock()
		conn.Close()
	}()

	header := make([]byte, 5)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}

		msgType := header[0]
		dataLen := binary.LittleEndian.Uint32(header[1:5])
		if dataLen > maxFrameSize {
			return
		}

		data := make([]byte, dataLen)
		if dataLen > 0 {
			if _, err := io.ReadFull(conn, data); err != nil {
				return
			}
		}

		t.mu.RLock()
		handler, closed := t.handler, t.closed
		t.mu.RUnlock()
		if closed {
			return
		}
		if handler != nil {
			handler(msgType, data)
		}
	}
}

func (t *TCPTransport) removeConn(peerID uint64, pc *peerConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.conns[peerID]; ok && cur == pc {
		delete(t.conns, peerID)
	}
	pc.conn.Close()
}

// Close shuts down the transport.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	l := t.listener
	for _, pc := range t.conns {
		pc.conn.Close()
	}
	t.conns = make(map[uint64]*peerConn)
	for conn := range t.inbound {
		conn.Close()
	}
	t.mu.Unlock()

	if l != nil {
		l.Close()
	}
	t.wg.Wait()

	return nil
}

// SetPeerAddress adds or changes a peer's address. An existing connection
// to the old address is dropped.
func (t *TCPTransport) SetPeerAddress(peerID uint64, addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.peers[peerID] == addr {
		return
	}
	t.peers[peerID] = addr
	if pc, ok := t.conns[peerID]; ok {
		pc.conn.Close()
		delete(t.conns, peerID)
	}
}

// RemovePeer forgets a peer.
func (t *TCPTransport) RemovePeer(peerID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.peers, peerID)
	if pc, ok := t.conns[peerID]; ok {
		pc.conn.Close()
		delete(t.conns, peerID)
	}
}

// InMemoryNetwork connects InMemoryTransports within one process. Links can
// be cut to simulate partitions.
type InMemoryNetwork struct {
	transports map[uint64]*InMemoryTransport
	cut        map[[2]uint64]bool
	mu         sync.RWMutex
}

// NewInMemoryNetwork creates a new in-memory network.
func NewInMemoryNetwork() *InMemoryNetwork {
	return &InMemoryNetwork{
		transports: make(map[uint64]*InMemoryTransport),
		cut:        make(map[[2]uint64]bool),
	}
}

// NewTransport creates the transport of member nodeID.
func (n *InMemoryNetwork) NewTransport(nodeID uint64, addr string) *InMemoryTransport {
	t := &InMemoryTransport{
		id:      nodeID,
		addr:    addr,
		network: n,
	}

	n.mu.Lock()
	n.transports[nodeID] = t
	n.mu.Unlock()

	return t
}

func linkKey(a, b uint64) [2]uint64 {
	if a > b {
		a, b = b, a
	}
	return [2]uint64{a, b}
}

// Disconnect drops all traffic between a and b in both directions.
func (n *InMemoryNetwork) Disconnect(a, b uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cut[linkKey(a, b)] = true
}

// Isolate disconnects id from every other member.
func (n *InMemoryNetwork) Isolate(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for other := range n.transports {
		if other != id {
			n.cut[linkKey(id, other)] = true
		}
	}
}

// Heal restores every link.
func (n *InMemoryNetwork) Heal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cut = make(map[[2]uint64]bool)
}

// InMemoryTransport implements Transport on an InMemoryNetwork.
type InMemoryTransport struct {
	id      uint64
	addr    string
	network *InMemoryNetwork
	handler RPCHandler
	closed  bool
	mu      sync.RWMutex
}

// Send hands the frame straight to the peer's handler.
func (t *InMemoryTransport) Send(peerID uint64, msgType uint8, data []byte) error {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return ErrTransportClosed
	}
	t.mu.RUnlock()

	t.network.mu.RLock()
	peer, ok := t.network.transports[peerID]
	cut := t.network.cut[linkKey(t.id, peerID)]
	t.network.mu.RUnlock()

	if !ok || cut {
		return ErrConnectFailed
	}

	peer.mu.RLock()
	handler := peer.handler
	closed := peer.closed
	peer.mu.RUnlock()

	if closed || handler == nil {
		return ErrConnectFailed
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	handler(msgType, buf)
	return nil
}

// Listen registers the handler for incoming frames.
func (t *InMemoryTransport) Listen(handler RPCHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
	return nil
}

// SetPeerAddress is a no-op; members are found by id.
func (t *InMemoryTransport) SetPeerAddress(uint64, string) {}

// Close shuts down the transport.
func (t *InMemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.handler = nil
	return nil
}

// LocalAddr returns the local address.
func (t *InMemoryTransport) LocalAddr() string {
	return t.addr
}
