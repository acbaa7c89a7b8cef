package raft

// VotingState says whether a peer takes part in elections and commit counting.
type VotingState uint8

const (
	// Voting peers are solicited for votes and counted toward the commit majority.
	Voting VotingState = iota
	// NonVoting peers receive the log but are never counted.
	NonVoting
)

// String returns the string representation of the voting state.
func (v VotingState) String() string {
	if v == NonVoting {
		return "non-voting"
	}
	return "voting"
}

// PeerInfo describes another member of the cluster.
type PeerInfo struct {
	ID     uint64
	Addr   string // empty until learned
	Voting VotingState
}

// IsVoting reports whether the peer is a voting member.
func (p *PeerInfo) IsVoting() bool {
	return p.Voting == Voting
}

// majority returns how many votes out of voters are needed to win.
func majority(voters int) int {
	return voters/2 + 1
}
