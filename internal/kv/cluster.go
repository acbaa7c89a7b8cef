package kv

import (
	"context"
	"fmt"
	"sync"

	"github.com/KilimcininKorOglu/concord/internal/config"
	"github.com/KilimcininKorOglu/concord/internal/logging"
	"github.com/KilimcininKorOglu/concord/internal/raft"
)

// ClusterBackend runs a Store behind a raft node. Writes go through the
// replicated log; reads are served from local state.
type ClusterBackend struct {
	cfg       *config.Config
	store     *Store
	node      *raft.Node
	storage   raft.Storage
	transport raft.Transport
	logger    logging.Logger

	// ownsStorage is set when the backend opened storage itself.
	ownsStorage bool

	mu      sync.Mutex
	stopped bool
}

// ClusterBackendConfig holds configuration for ClusterBackend.
type ClusterBackendConfig struct {
	Config *config.Config
	Logger logging.Logger

	// Transport defaults to a TCPTransport listening on Node.RaftAddr.
	Transport raft.Transport
	// Storage defaults to a FileStorage in Storage.DataDir, closed by Stop.
	Storage raft.Storage
}

// NewClusterBackend creates a backend and recovers its state from storage.
func NewClusterBackend(cfg *ClusterBackendConfig) (*ClusterBackend, error) {
	if cfg == nil || cfg.Config == nil {
		return nil, fmt.Errorf("%w: config required", raft.ErrInvalidConfig)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	raftCfg, err := RaftConfig(cfg.Config)
	if err != nil {
		return nil, err
	}

	cb := &ClusterBackend{
		cfg:       cfg.Config,
		store:     NewStore(),
		storage:   cfg.Storage,
		transport: cfg.Transport,
		logger:    logger.Named("kv"),
	}

	if cb.storage == nil {
		fs, err := raft.NewFileStorage(cfg.Config.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		cb.storage = fs
		cb.ownsStorage = true
	}

	if cb.transport == nil {
		peerAddrs := make(map[uint64]string)
		for _, p := range cfg.Config.Cluster.Peers {
			if p.Addr != "" {
				peerAddrs[p.ID] = p.Addr
			}
		}
		t := raft.NewTCPTransport(cfg.Config.Node.RaftAddr, peerAddrs)
		if cfg.Config.Raft.SendTimeout > 0 {
			t.SetTimeout(cfg.Config.Raft.SendTimeout)
		}
		cb.transport = t
	}

	node, err := raft.NewNode(raftCfg, cb.store, cb.storage, cb.transport, logger.Named("raft"))
	if err != nil {
		cb.closeStorage()
		return nil, err
	}
	cb.node = node

	return cb, nil
}

// RaftConfig converts the file configuration into the consensus parameters.
func RaftConfig(cfg *config.Config) (*raft.Config, error) {
	rc := raft.DefaultConfig()
	rc.ID = cfg.Node.ID
	rc.Addr = cfg.Node.RaftAddr
	if cfg.Node.NonVoting {
		rc.Voting = raft.NonVoting
	}
	for _, p := range cfg.Cluster.Peers {
		peer := &raft.PeerInfo{ID: p.ID, Addr: p.Addr, Voting: raft.Voting}
		if p.NonVoting {
			peer.Voting = raft.NonVoting
		}
		rc.Peers = append(rc.Peers, peer)
	}

	r := cfg.Raft
	rc.HeartbeatInterval = r.HeartbeatInterval
	rc.ElectionTimeoutFactor = r.ElectionTimeoutFactor
	rc.ElectionTimeVariance = r.ElectionTimeVariance
	rc.IsolatedCheckInterval = r.IsolatedCheckInterval
	rc.SnapshotBatchCount = r.SnapshotBatchCount
	rc.MaxEntriesPerMessage = r.MaxEntriesPerMessage
	rc.AutomaticElections = r.AutomaticElections
	rc.TempDir = cfg.Storage.TempDir

	sizes := []struct {
		field string
		value string
		set   func(int64)
	}{
		{"raft.snapshotDataThreshold", r.SnapshotDataThreshold, func(n int64) { rc.SnapshotDataThreshold = n }},
		{"raft.snapshotChunkSize", r.SnapshotChunkSize, func(n int64) { rc.SnapshotChunkSize = int(n) }},
		{"raft.maxMessageSliceSize", r.MaxMessageSliceSize, func(n int64) { rc.MaxMessageSliceSize = int(n) }},
		{"raft.snapshotSpoolThreshold", r.SnapshotSpoolThreshold, func(n int64) { rc.SnapshotSpoolThreshold = int(n) }},
	}
	for _, s := range sizes {
		n, err := config.ParseSize(s.value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", raft.ErrInvalidConfig, s.field, err)
		}
		s.set(n)
	}

	if err := rc.Validate(); err != nil {
		return nil, err
	}
	return rc, nil
}

// Start starts the raft node.
func (cb *ClusterBackend) Start() error {
	if err := cb.node.Start(); err != nil {
		return err
	}
	cb.logger.Info("cluster backend started",
		"id", cb.cfg.Node.ID,
		"raftAddr", cb.transport.LocalAddr(),
		"peers", len(cb.cfg.Cluster.Peers))
	return nil
}

// Stop stops the raft node and releases storage the backend opened.
func (cb *ClusterBackend) Stop() {
	cb.mu.Lock()
	if cb.stopped {
		cb.mu.Unlock()
		return
	}
	cb.stopped = true
	cb.mu.Unlock()

	cb.node.Stop()
	cb.transport.Close()
	cb.closeStorage()
	cb.logger.Info("cluster backend stopped")
}

func (cb *ClusterBackend) closeStorage() {
	if !cb.ownsStorage {
		return
	}
	if err := cb.storage.Close(); err != nil {
		cb.logger.Warn("closing storage", "error", err)
	}
}

// Put sets key to value through the replicated log. It returns once the
// command is applied on this node.
func (cb *ClusterBackend) Put(ctx context.Context, key string, value []byte) error {
	return cb.propose(ctx, NewPutCommand(key, value))
}

// Delete removes key through the replicated log. Deleting a missing key
// succeeds.
func (cb *ClusterBackend) Delete(ctx context.Context, key string) error {
	return cb.propose(ctx, NewDeleteCommand(key))
}

func (cb *ClusterBackend) propose(ctx context.Context, cmd *Command) error {
	data, err := cmd.Serialize()
	if err != nil {
		return err
	}
	return cb.node.Propose(ctx, data)
}

// Get returns the locally applied value of key.
func (cb *ClusterBackend) Get(key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	return cb.store.Get(key)
}

// Keys returns the locally applied keys in ascending order.
func (cb *ClusterBackend) Keys() []string {
	return cb.store.Keys()
}

// TransferLeadership hands leadership to target, or to any caught-up voting
// follower when target is 0.
func (cb *ClusterBackend) TransferLeadership(ctx context.Context, target uint64) error {
	return cb.node.TransferLeadership(ctx, target)
}

// IsLeader returns true if this node is the cluster leader.
func (cb *ClusterBackend) IsLeader() bool {
	return cb.node.IsLeader()
}

// LeaderID returns the current leader's node ID.
func (cb *ClusterBackend) LeaderID() uint64 {
	return cb.node.LeaderID()
}

// LeaderAddr returns the configured raft address of the current leader.
func (cb *ClusterBackend) LeaderAddr() string {
	return cb.addrOf(cb.node.LeaderID())
}

func (cb *ClusterBackend) addrOf(id uint64) string {
	if id == 0 {
		return ""
	}
	if id == cb.cfg.Node.ID {
		return cb.transport.LocalAddr()
	}
	for _, p := range cb.cfg.Cluster.Peers {
		if p.ID == id {
			return p.Addr
		}
	}
	return ""
}

// NodeID returns this node's ID.
func (cb *ClusterBackend) NodeID() uint64 {
	return cb.cfg.Node.ID
}

// ClusterStatus is the current state of this member.
type ClusterStatus struct {
	raft.Status
	LeaderAddr string       `json:"leaderAddr,omitempty"`
	Keys       int          `json:"keys"`
	Peers      []PeerStatus `json:"peers"`
	Err        string       `json:"error,omitempty"`
}

// PeerStatus represents a peer's status.
type PeerStatus struct {
	ID     uint64 `json:"id"`
	Addr   string `json:"addr"`
	Voting string `json:"voting"`
}

// Status returns the current cluster status.
func (cb *ClusterBackend) Status() *ClusterStatus {
	s := cb.node.Status()
	status := &ClusterStatus{
		Status:     s,
		LeaderAddr: cb.addrOf(s.LeaderID),
		Keys:       cb.store.Len(),
		Peers:      make([]PeerStatus, 0, len(cb.cfg.Cluster.Peers)),
	}
	if err := cb.node.Err(); err != nil {
		status.Err = err.Error()
	}

	for _, p := range cb.cfg.Cluster.Peers {
		voting := raft.Voting
		if p.NonVoting {
			voting = raft.NonVoting
		}
		status.Peers = append(status.Peers, PeerStatus{
			ID:     p.ID,
			Addr:   p.Addr,
			Voting: voting.String(),
		})
	}

	return status
}
