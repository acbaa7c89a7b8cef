package kv

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/concord/internal/config"
	"github.com/KilimcininKorOglu/concord/internal/raft"
)

func testConfig(id uint64, peers ...uint64) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Node.ID = id
	cfg.Node.RaftAddr = fmt.Sprintf("127.0.0.1:%d", 4440+id)
	for _, p := range peers {
		cfg.Cluster.Peers = append(cfg.Cluster.Peers, config.PeerConfig{
			ID:   p,
			Addr: fmt.Sprintf("127.0.0.1:%d", 4440+p),
		})
	}
	cfg.Raft.HeartbeatInterval = 10 * time.Millisecond
	cfg.Raft.ElectionTimeoutFactor = 5
	cfg.Raft.ElectionTimeVariance = 30 * time.Millisecond
	cfg.Raft.IsolatedCheckInterval = 50 * time.Millisecond
	return cfg
}

type testCluster struct {
	t        *testing.T
	network  *raft.InMemoryNetwork
	backends map[uint64]*ClusterBackend
}

func newTestCluster(t *testing.T, size int) *testCluster {
	t.Helper()
	c := &testCluster{
		t:        t,
		network:  raft.NewInMemoryNetwork(),
		backends: make(map[uint64]*ClusterBackend),
	}
	for i := 1; i <= size; i++ {
		id := uint64(i)
		var peers []uint64
		for j := 1; j <= size; j++ {
			if j != i {
				peers = append(peers, uint64(j))
			}
		}
		cfg := testConfig(id, peers...)
		cb, err := NewClusterBackend(&ClusterBackendConfig{
			Config:    cfg,
			Transport: c.network.NewTransport(id, cfg.Node.RaftAddr),
			Storage:   raft.NewMemoryStorage(),
		})
		require.NoError(t, err)
		c.backends[id] = cb
	}
	for _, cb := range c.backends {
		require.NoError(t, cb.Start())
	}
	t.Cleanup(func() {
		for _, cb := range c.backends {
			cb.Stop()
		}
	})
	return c
}

// currentLeader returns the only member that leads, or nil.
func (c *testCluster) currentLeader() *ClusterBackend {
	var leader *ClusterBackend
	for _, cb := range c.backends {
		if cb.IsLeader() {
			if leader != nil {
				return nil
			}
			leader = cb
		}
	}
	return leader
}

func (c *testCluster) leader() *ClusterBackend {
	c.t.Helper()
	var leader *ClusterBackend
	require.Eventually(c.t, func() bool {
		leader = c.currentLeader()
		return leader != nil
	}, 5*time.Second, 10*time.Millisecond)
	return leader
}

func (c *testCluster) put(key, value string) {
	c.t.Helper()
	require.Eventually(c.t, func() bool {
		leader := c.currentLeader()
		if leader == nil {
			return false
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return leader.Put(ctx, key, []byte(value)) == nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRaftConfig(t *testing.T) {
	cfg := testConfig(1, 2, 3)
	cfg.Cluster.Peers[1].NonVoting = true
	cfg.Raft.SnapshotChunkSize = "64KB"
	cfg.Raft.SnapshotDataThreshold = "1MB"

	rc, err := RaftConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, uint64(1), rc.ID)
	require.Equal(t, "127.0.0.1:4441", rc.Addr)
	require.Equal(t, raft.Voting, rc.Voting)
	require.Len(t, rc.Peers, 2)
	require.Equal(t, raft.Voting, rc.Peers[0].Voting)
	require.Equal(t, raft.NonVoting, rc.Peers[1].Voting)
	require.Equal(t, 64*1024, rc.SnapshotChunkSize)
	require.Equal(t, int64(1<<20), rc.SnapshotDataThreshold)
	require.Equal(t, 50*time.Millisecond, rc.ElectionTimeout())

	cfg.Raft.MaxMessageSliceSize = "huge"
	_, err = RaftConfig(cfg)
	require.ErrorIs(t, err, raft.ErrInvalidConfig)

	cfg = testConfig(0)
	_, err = RaftConfig(cfg)
	require.ErrorIs(t, err, raft.ErrInvalidConfig)
}

func TestSingleNodeBackend(t *testing.T) {
	c := newTestCluster(t, 1)
	cb := c.leader()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, cb.Put(ctx, "greeting", []byte("hello")))
	v, err := cb.Get("greeting")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), v)

	require.NoError(t, cb.Delete(ctx, "greeting"))
	_, err = cb.Get("greeting")
	require.ErrorIs(t, err, ErrKeyNotFound)

	require.ErrorIs(t, cb.Put(ctx, "", []byte("x")), ErrInvalidKey)
	_, err = cb.Get("")
	require.ErrorIs(t, err, ErrInvalidKey)

	status := cb.Status()
	require.Equal(t, raft.RoleLeader.String(), status.Role)
	require.Equal(t, uint64(1), status.LeaderID)
	require.Equal(t, "127.0.0.1:4441", status.LeaderAddr)
	require.Empty(t, status.Peers)
	require.Empty(t, status.Err)
}

func TestClusterReplicatesWrites(t *testing.T) {
	c := newTestCluster(t, 3)

	c.put("a", "1")
	c.put("b", "2")

	for id, cb := range c.backends {
		require.Eventually(t, func() bool {
			v, err := cb.Get("b")
			return err == nil && string(v) == "2"
		}, 5*time.Second, 10*time.Millisecond, "member %d never applied b", id)
	}

	leader := c.leader()
	status := leader.Status()
	require.Len(t, status.Peers, 2)
	require.Equal(t, 2, status.Keys)
	require.Equal(t, leader.NodeID(), leader.LeaderID())
}

func TestFollowerRejectsWrites(t *testing.T) {
	c := newTestCluster(t, 3)
	leader := c.leader()

	for _, cb := range c.backends {
		if cb == leader {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := cb.Put(ctx, "k", []byte("v"))
		cancel()
		require.ErrorIs(t, err, raft.ErrNotLeader)
	}
}

func TestClusterTransferLeadership(t *testing.T) {
	c := newTestCluster(t, 3)
	c.put("k", "v")

	leader := c.leader()
	var target uint64
	for id := range c.backends {
		if id != leader.NodeID() {
			target = id
			break
		}
	}

	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return leader.TransferLeadership(ctx, target) == nil
	}, 5*time.Second, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		return c.backends[target].IsLeader()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBackendRecoversFromStorage(t *testing.T) {
	storage := raft.NewMemoryStorage()
	network := raft.NewInMemoryNetwork()
	cfg := testConfig(1)

	start := func() *ClusterBackend {
		cb, err := NewClusterBackend(&ClusterBackendConfig{
			Config:    cfg,
			Transport: network.NewTransport(1, cfg.Node.RaftAddr),
			Storage:   storage,
		})
		require.NoError(t, err)
		require.NoError(t, cb.Start())
		require.Eventually(t, cb.IsLeader, 5*time.Second, 10*time.Millisecond)
		return cb
	}

	cb := start()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, cb.Put(ctx, "persisted", []byte("yes")))
	cb.Stop()

	cb = start()
	defer cb.Stop()
	require.Eventually(t, func() bool {
		v, err := cb.Get("persisted")
		return err == nil && string(v) == "yes"
	}, 5*time.Second, 10*time.Millisecond)
}
