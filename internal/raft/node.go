package raft

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KilimcininKorOglu/concord/internal/logging"
	"github.com/KilimcininKorOglu/concord/internal/slicing"
)

const (
	inboxSize    = 1024
	outboundSize = 1024
)

type envelope struct {
	from uint64
	msg  Message
}

// Node runs one participant: a dispatch goroutine feeding the current
// Behavior from the inbox, and one sender goroutine per peer.
type Node struct {
	cfg       *Config
	ctx       *Context
	transport Transport
	logger    logging.Logger
	assembler *slicing.Assembler

	inbox  chan envelope
	queues map[uint64]chan Message
	stopCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup

	// Owned by the dispatch goroutine.
	behavior  Behavior
	assembled []envelope

	running int32

	mu     sync.RWMutex
	status Status
	err    error
}

// NewNode creates a node and recovers its state from storage. The caller
// keeps ownership of storage.
func NewNode(cfg *Config, sm StateMachine, storage Storage, transport Transport, logger logging.Logger) (*Node, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	n := &Node{
		cfg:       cfg,
		transport: transport,
		inbox:     make(chan envelope, inboxSize),
		queues:    make(map[uint64]chan Message),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}

	ctx, err := NewContext(cfg, ContextOptions{
		Storage:      storage,
		StateMachine: sm,
		Sender:       n,
		Scheduler:    NewTimeScheduler(n.post),
		Logger:       logger,
		Post:         n.post,
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Recover(); err != nil {
		return nil, err
	}
	n.ctx = ctx
	n.logger = ctx.Logger()

	reply := func(to uint64, msg interface{}) { n.Send(to, msg) }
	n.assembler = slicing.NewAssembler(reply, n.onAssembled, slicing.Options{
		SliceSize: cfg.MaxMessageSliceSize,
		Expiry:    3 * cfg.ElectionTimeout(),
		Logger:    n.logger.Named("assembler"),
	})

	for _, p := range ctx.Peers() {
		n.queues[p.ID] = make(chan Message, outboundSize)
		if p.Addr != "" {
			transport.SetPeerAddress(p.ID, p.Addr)
		}
	}
	n.status = Status{
		ID:            cfg.ID,
		Role:          RoleFollower.String(),
		Term:          ctx.CurrentTerm(),
		CommitIndex:   ctx.log.CommitIndex(),
		LastApplied:   ctx.log.LastApplied(),
		LastIndex:     ctx.log.LastIndex(),
		LastTerm:      ctx.log.LastTerm(),
		SnapshotIndex: ctx.log.SnapshotIndex(),
		SnapshotTerm:  ctx.log.SnapshotTerm(),
	}
	return n, nil
}

// ID returns the node's ID.
func (n *Node) ID() uint64 {
	return n.cfg.ID
}

// Start begins accepting messages and runs the node as a Follower.
func (n *Node) Start() error {
	if !atomic.CompareAndSwapInt32(&n.running, 0, 1) {
		return nil // Already running
	}
	if err := n.transport.Listen(n.handleRPC); err != nil {
		atomic.StoreInt32(&n.running, 0)
		return err
	}

	for id, q := range n.queues {
		n.wg.Add(1)
		go n.sendLoop(id, q)
	}
	go n.run()

	n.logger.Info("node started", "addr", n.transport.LocalAddr(), "peers", len(n.queues))
	return nil
}

// Stop shuts the node down and waits for its goroutines.
func (n *Node) Stop() {
	if !atomic.CompareAndSwapInt32(&n.running, 1, 2) {
		return
	}
	close(n.stopCh)
	<-n.doneCh
	n.transport.Close()
	n.wg.Wait()
	n.logger.Info("node stopped")
}

// Propose replicates command and waits until it is applied on this node.
func (n *Node) Propose(ctx context.Context, command []byte) error {
	done := make(chan error, 1)
	if err := n.submit(ctx, &Propose{Command: command, Done: done}); err != nil {
		return err
	}
	return n.await(ctx, done)
}

// TransferLeadership asks the leader to hand leadership to target, or to
// any caught-up voting follower when target is 0. It returns once the
// follower was told to start an election.
func (n *Node) TransferLeadership(ctx context.Context, target uint64) error {
	done := make(chan error, 1)
	if err := n.submit(ctx, &TransferLeadership{TargetID: target, Done: done}); err != nil {
		return err
	}
	return n.await(ctx, done)
}

func (n *Node) submit(ctx context.Context, msg Message) error {
	if atomic.LoadInt32(&n.running) != 1 {
		return ErrNodeStopped
	}
	select {
	case n.inbox <- envelope{from: n.cfg.ID, msg: msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-n.doneCh:
		return n.stoppedErr()
	}
}

func (n *Node) await(ctx context.Context, done chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-n.doneCh:
		return n.stoppedErr()
	}
}

func (n *Node) stoppedErr() error {
	if err := n.Err(); err != nil {
		return err
	}
	return ErrNodeStopped
}

// Status returns the state published after the last processed message.
func (n *Node) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

// IsLeader reports whether the node currently leads.
func (n *Node) IsLeader() bool {
	return n.Status().Role == RoleLeader.String()
}

// LeaderID returns the current leader's ID (0 if unknown).
func (n *Node) LeaderID() uint64 {
	return n.Status().LeaderID
}

// Err returns the persistence error that stopped the node, if any.
func (n *Node) Err() error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.err
}

// Send queues msg for peer to. It never blocks; when the peer's queue is
// full the message is dropped and the protocol retries.
func (n *Node) Send(to uint64, msg Message) {
	q, ok := n.queues[to]
	if !ok {
		n.logger.Debug("no route to member", "to", to)
		return
	}
	select {
	case q <- msg:
	default:
		n.logger.Debug("outbound queue full, dropping message", "to", to)
	}
}

// SetPeerAddress passes an address learned at runtime to the transport.
func (n *Node) SetPeerAddress(id uint64, addr string) {
	n.transport.SetPeerAddress(id, addr)
}

func (n *Node) post(msg Message) {
	select {
	case n.inbox <- envelope{from: n.cfg.ID, msg: msg}:
	case <-n.doneCh:
	}
}

func (n *Node) handleRPC(msgType uint8, data []byte) {
	from, msg, err := DecodeMessage(msgType, data)
	if err != nil {
		n.logger.Warn("dropping undecodable message", "type", msgType, "size", len(data), "error", err)
		return
	}
	select {
	case n.inbox <- envelope{from: from, msg: msg}:
	case <-n.doneCh:
	}
}

func (n *Node) sendLoop(to uint64, q chan Message) {
	defer n.wg.Done()
	for {
		select {
		case <-n.stopCh:
			return
		case msg := <-q:
			msgType, data, err := EncodeMessage(n.cfg.ID, msg)
			if err != nil {
				n.logger.Error("cannot encode message", "to", to, "error", err)
				continue
			}
			if err := n.transport.Send(to, msgType, data); err != nil {
				n.logger.Debug("send failed", "to", to, "type", msgType, "error", err)
			}
		}
	}
}

func (n *Node) run() {
	defer close(n.doneCh)

	n.behavior = newFollower(n.ctx, 0)
	n.publish()

	expiry := time.NewTicker(n.cfg.ElectionTimeout())
	defer expiry.Stop()

	for {
		select {
		case <-n.stopCh:
			n.behavior.Close()
			n.publish()
			return
		case <-expiry.C:
			n.assembler.CheckExpired()
		case env := <-n.inbox:
			if err := n.dispatch(env); err != nil {
				n.logger.Error("stopping after persistence failure", "role", n.behavior.Role().String(), "error", err)
				n.mu.Lock()
				n.err = err
				n.mu.Unlock()
				n.behavior.Close()
				n.publish()
				return
			}
		}
	}
}

func (n *Node) dispatch(env envelope) error {
	if !n.assembler.HandleMessage(env.from, env.msg) {
		return n.step(env.from, env.msg)
	}
	pending := n.assembled
	n.assembled = nil
	for _, p := range pending {
		if err := n.step(p.from, p.msg); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) onAssembled(from uint64, data []byte) {
	ae, err := decodeAppendEntries(data)
	if err != nil {
		n.logger.Warn("dropping undecodable sliced AppendEntries", "from", from, "size", len(data), "error", err)
		return
	}
	n.assembled = append(n.assembled, envelope{from: from, msg: ae})
}

func (n *Node) step(from uint64, msg Message) error {
	prev := n.behavior
	next, err := prev.Handle(from, msg)
	if next != prev {
		n.logger.Info("role changed",
			"from", prev.Role().String(),
			"to", next.Role().String(),
			"term", n.ctx.CurrentTerm())
		prev.Close()
		n.behavior = next
	}
	n.publish()
	return err
}

func (n *Node) publish() {
	s := n.ctx.status(n.behavior)
	n.mu.Lock()
	n.status = s
	n.mu.Unlock()
}
