package raft

// ElectionTimeout fires when a follower or candidate heard nothing for an
// election timeout.
type ElectionTimeout struct {
	Gen uint64
}

// SendHeartbeat fires every heartbeat interval on leaders.
type SendHeartbeat struct {
	Gen uint64
}

// IsolatedLeaderCheck fires every isolated-check interval on leaders.
type IsolatedLeaderCheck struct {
	Gen uint64
}

// Propose asks the leader to replicate a command. Done receives nil once the
// entry is applied locally, or an error. It must have room for one value.
type Propose struct {
	Command []byte
	Done    chan error
}

// TransferLeadership asks the leader to hand leadership to TargetID, or to
// any caught-up voting follower when TargetID is 0. Done must have room for
// one value.
type TransferLeadership struct {
	TargetID uint64
	Done     chan error
}

// CaptureSnapshotReply reports the outcome of persisting a captured snapshot.
type CaptureSnapshotReply struct {
	Snapshot *Snapshot
	Err      error

	// InstallFor is the follower the capture was started for, 0 for log
	// compaction.
	InstallFor uint64
	// ReplicatedToAllIndex is the behavior's replicatedToAllIndex at capture time.
	ReplicatedToAllIndex int64
}

