package raft

// Role identifies a participant's current behavior.
type Role uint8

const (
	RoleFollower Role = iota
	RoleCandidate
	RoleLeader
	RolePreLeader
	RoleIsolatedLeader
)

// String returns the string representation of a role.
func (r Role) String() string {
	switch r {
	case RoleFollower:
		return "follower"
	case RoleCandidate:
		return "candidate"
	case RoleLeader:
		return "leader"
	case RolePreLeader:
		return "pre-leader"
	case RoleIsolatedLeader:
		return "isolated-leader"
	default:
		return "unknown"
	}
}

// IsLeader reports whether the role replicates the log to followers.
func (r Role) IsLeader() bool {
	return r == RoleLeader || r == RolePreLeader || r == RoleIsolatedLeader
}

// TermInfo is the persistent election state. VotedFor is 0 when no vote has
// been cast in Term.
type TermInfo struct {
	Term     int64
	VotedFor uint64
}

// Status is a point-in-time view of a participant, safe to hand to other
// goroutines.
type Status struct {
	ID            uint64 `json:"id"`
	Role          string `json:"role"`
	Term          int64  `json:"term"`
	VotedFor      uint64 `json:"votedFor,omitempty"`
	LeaderID      uint64 `json:"leaderId,omitempty"`
	CommitIndex   int64  `json:"commitIndex"`
	LastApplied   int64  `json:"lastApplied"`
	LastIndex     int64  `json:"lastIndex"`
	LastTerm      int64  `json:"lastTerm"`
	SnapshotIndex int64  `json:"snapshotIndex"`
	SnapshotTerm  int64  `json:"snapshotTerm"`
	LogSize       int    `json:"logSize"`
}
