package raft

import "errors"

// Raft errors.
var (
	// ErrNotLeader is returned when a leader-only operation reaches a non-leader.
	ErrNotLeader = errors.New("raft: not the leader")

	// ErrLeadershipLost is returned to pending proposals when the leader steps down
	// before their entries are applied.
	ErrLeadershipLost = errors.New("raft: leadership lost")

	// ErrNodeStopped is returned when an operation is attempted on a stopped node.
	ErrNodeStopped = errors.New("raft: node stopped")

	// ErrLogCorrupted is returned when encoded log or message data is malformed.
	ErrLogCorrupted = errors.New("raft: log corrupted")

	// ErrLogIndexOutOfRange is returned when an entry is not where the log expects it.
	ErrLogIndexOutOfRange = errors.New("raft: log index out of range")

	// ErrTruncateCommitted is returned when truncation would remove committed entries.
	ErrTruncateCommitted = errors.New("raft: cannot truncate committed entries")

	// ErrInvalidChunk is returned when a snapshot chunk arrives out of sequence,
	// with a broken hash chain, or after the snapshot is complete.
	ErrInvalidChunk = errors.New("raft: invalid snapshot chunk")

	// ErrSnapshotIncomplete is returned when a partially received snapshot is read.
	ErrSnapshotIncomplete = errors.New("raft: snapshot incomplete")

	// ErrSnapshotNotFound is returned when no snapshot has been saved.
	ErrSnapshotNotFound = errors.New("raft: snapshot not found")

	// ErrLeadershipTransferTimeout is returned when no follower caught up in time.
	ErrLeadershipTransferTimeout = errors.New("raft: leadership transfer timed out")

	// ErrLeaderIsolated is returned by a leader that has lost contact with a
	// voting majority.
	ErrLeaderIsolated = errors.New("raft: leader is isolated")

	// ErrUnknownPeer is returned when a request names a member that is not a
	// voting peer.
	ErrUnknownPeer = errors.New("raft: unknown peer")

	// ErrLeadershipTransferInProgress is returned for transfers and proposals
	// made while a transfer is running.
	ErrLeadershipTransferInProgress = errors.New("raft: leadership transfer in progress")

	// ErrUnknownMessage is returned by the codec for unrecognized message types.
	ErrUnknownMessage = errors.New("raft: unknown message type")

	// ErrTransportClosed is returned when the transport is closed.
	ErrTransportClosed = errors.New("raft: transport closed")

	// ErrConnectFailed is returned when a connection to a peer fails.
	ErrConnectFailed = errors.New("raft: connection failed")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("raft: operation timeout")

	// ErrInvalidConfig is returned when configuration is invalid.
	ErrInvalidConfig = errors.New("raft: invalid configuration")
)
