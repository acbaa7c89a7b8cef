// Package raft implements a Raft consensus core.
//
// # Overview
//
// A participant is always in exactly one role: Follower, Candidate, Leader,
// PreLeader or IsolatedLeader. Each role is a Behavior. A Node owns one
// goroutine that takes messages from its inbox and hands them to the current
// behavior; Handle returns the behavior that should process the next message.
// Nothing inside a behavior blocks on the network. Replies, timer firings and
// snapshot persistence results all come back through the same inbox.
//
// # Roles
//
//   - Follower accepts AppendEntries and InstallSnapshot from the leader and
//     starts an election when the leader goes quiet.
//   - Candidate asks voting peers for votes in a new term.
//   - PreLeader has won an election but has not yet applied its whole log. It
//     replicates a no-op entry of its own term so that older entries commit.
//   - Leader replicates the log and drives commits.
//   - IsolatedLeader is a leader that lost contact with a majority of voting
//     followers. It keeps replicating and returns to Leader once they answer.
//
// # Timers
//
// Election, heartbeat and isolation timers are posted to the inbox as
// messages carrying a generation number. A behavior ignores a timer message
// whose generation is not the one it scheduled last.
//
// # Snapshots
//
// A leader streams snapshots in 1-based chunks. Every chunk carries the
// hash of the chunk before it and the follower refuses anything out of order.
// Log compaction happens at two thresholds: entries replicated to every
// follower are dropped from memory, and the state machine is captured to
// storage once the journal grows past SnapshotBatchCount entries or the
// configured data size.
//
// # Usage
//
//	cfg := raft.DefaultConfig()
//	cfg.ID = 1
//	cfg.Peers = []*raft.PeerInfo{{ID: 2, Addr: "10.0.0.2:4445", Voting: raft.Voting}}
//
//	storage, _ := raft.NewFileStorage("/var/lib/concord/raft")
//	transport := raft.NewTCPTransport("10.0.0.1:4445", nil)
//	node, err := raft.NewNode(cfg, stateMachine, storage, transport, logger)
//	if err != nil {
//	    return err
//	}
//	if err := node.Start(); err != nil {
//	    return err
//	}
//	defer node.Stop()
//
//	err = node.Propose(ctx, command)
package raft
