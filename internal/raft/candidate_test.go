package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCandidateWinsWithMajority(t *testing.T) {
	m := newTestMember(t, testConfig(1, 2, 3, 4, 5), nil, nil)
	m.timeout()
	m.sender.take()

	m.handle(2, &RequestVoteReply{Term: 1, VoteGranted: true})
	require.Equal(t, RoleCandidate, m.role())
	m.handle(2, &RequestVoteReply{Term: 1, VoteGranted: true})
	require.Equal(t, RoleCandidate, m.role(), "a repeated vote counts once")
	m.handle(3, &RequestVoteReply{Term: 1, VoteGranted: false})
	require.Equal(t, RoleCandidate, m.role())

	m.handle(4, &RequestVoteReply{Term: 1, VoteGranted: true})
	require.Equal(t, RoleLeader, m.role())
	require.Equal(t, uint64(1), m.behavior.LeaderID())

	sent := m.sender.take()
	for _, peer := range []uint64{2, 3, 4, 5} {
		ae := lastSent[*AppendEntries](t, sent, peer)
		require.Equal(t, int64(1), ae.Term)
		require.Equal(t, int64(-1), ae.PrevLogIndex)
		require.Equal(t, int64(-1), ae.LeaderCommit, "commit is withheld from unknown followers")
	}
}

func TestCandidateIgnoresNonVotingVotes(t *testing.T) {
	cfg := testConfig(1, 2)
	cfg.Peers = append(cfg.Peers, &PeerInfo{ID: 3, Addr: "127.0.0.1:4443", Voting: NonVoting})
	m := newTestMember(t, cfg, nil, nil)
	m.timeout()

	sent := m.sender.take()
	require.Empty(t, sentTo[*RequestVote](sent, 3), "non-voting members are not asked")

	m.handle(3, &RequestVoteReply{Term: 1, VoteGranted: true})
	require.Equal(t, RoleCandidate, m.role())
	m.handle(9, &RequestVoteReply{Term: 1, VoteGranted: true})
	require.Equal(t, RoleCandidate, m.role(), "unknown members do not vote")
	m.handle(2, &RequestVoteReply{Term: 1, VoteGranted: true})
	require.Equal(t, RoleLeader, m.role())
}

func TestCandidateRestartsElectionOnTimeout(t *testing.T) {
	m := newTestMember(t, testConfig(1, 2, 3), nil, nil)
	m.timeout()
	m.timeout()

	require.Equal(t, RoleCandidate, m.role())
	require.Equal(t, TermInfo{Term: 2, VotedFor: 1}, m.ctx.TermInfo())
	rv := lastSent[*RequestVote](t, m.sender.take(), 2)
	require.Equal(t, int64(2), rv.Term)

	m.handle(2, &RequestVoteReply{Term: 1, VoteGranted: true})
	require.Equal(t, RoleCandidate, m.role(), "a vote from the previous term does not count")
}

func TestCandidateFollowsLeaderOfSameTerm(t *testing.T) {
	m := newTestMember(t, testConfig(1, 2, 3), nil, nil)
	m.timeout()
	m.sender.take()

	m.handle(2, &AppendEntries{
		Term:         1,
		LeaderID:     2,
		PrevLogIndex: -1,
		PrevLogTerm:  -1,
		Entries:      []*LogEntry{entry(0, 1, "a")},
		LeaderCommit: -1,
	})
	require.Equal(t, RoleFollower, m.role())
	require.Equal(t, uint64(2), m.behavior.LeaderID())

	reply := lastSent[*AppendEntriesReply](t, m.sender.take(), 2)
	require.True(t, reply.Success, "the follower handles the request that revealed the leader")
	require.Equal(t, int64(0), reply.LogLastIndex)
}

func TestCandidateRejectsStaleLeader(t *testing.T) {
	m := newTestMember(t, testConfig(1, 2, 3), seededStorage(t, TermInfo{Term: 4}), nil)
	m.timeout()
	m.sender.take()

	m.handle(2, &AppendEntries{Term: 3, LeaderID: 2, PrevLogIndex: -1, PrevLogTerm: -1, LeaderCommit: -1})
	require.Equal(t, RoleCandidate, m.role())
	reply := lastSent[*AppendEntriesReply](t, m.sender.take(), 2)
	require.False(t, reply.Success)
	require.Equal(t, int64(5), reply.Term)

	m.handle(2, &InstallSnapshot{Term: 3, LeaderID: 2, ChunkIndex: 1, TotalChunks: 1, LastChunkHash: InitialChunkHash})
	require.Equal(t, RoleCandidate, m.role())
	isr := lastSent[*InstallSnapshotReply](t, m.sender.take(), 2)
	require.False(t, isr.Success)
	require.Equal(t, int64(5), isr.Term)
}

func TestCandidateStepsDownForHigherTermVote(t *testing.T) {
	m := newTestMember(t, testConfig(1, 2, 3), nil, nil)
	m.timeout()
	m.sender.take()

	m.handle(3, &RequestVote{Term: 2, CandidateID: 3, LastLogIndex: -1, LastLogTerm: -1})
	require.Equal(t, RoleFollower, m.role())
	require.Equal(t, TermInfo{Term: 2, VotedFor: 3}, m.ctx.TermInfo())
	require.True(t, lastSent[*RequestVoteReply](t, m.sender.take(), 3).VoteGranted)
}

func TestCandidateStepsDownForHigherTermReply(t *testing.T) {
	m := newTestMember(t, testConfig(1, 2, 3), nil, nil)
	m.timeout()

	m.handle(2, &RequestVoteReply{Term: 7, VoteGranted: false})
	require.Equal(t, RoleFollower, m.role())
	require.Equal(t, TermInfo{Term: 7}, m.ctx.TermInfo())
	require.Equal(t, uint64(0), m.behavior.LeaderID())
}

func TestCandidateRejectsVoteRequestOfSameTerm(t *testing.T) {
	m := newTestMember(t, testConfig(1, 2, 3), nil, nil)
	m.timeout()
	m.sender.take()

	m.handle(2, &RequestVote{Term: 1, CandidateID: 2, LastLogIndex: -1, LastLogTerm: -1})
	require.Equal(t, RoleCandidate, m.role())
	require.False(t, lastSent[*RequestVoteReply](t, m.sender.take(), 2).VoteGranted)
}

func TestCandidateWithUnappliedEntriesBecomesPreLeader(t *testing.T) {
	storage := seededStorage(t, TermInfo{Term: 1}, entry(0, 1, "a"))
	m := newTestMember(t, testConfig(1, 2, 3), storage, nil)
	m.timeout()
	m.handle(2, &RequestVoteReply{Term: 2, VoteGranted: true})

	require.Equal(t, RolePreLeader, m.role())
	require.Equal(t, uint64(1), m.behavior.LeaderID())
	noop := m.log().Get(1)
	require.NotNil(t, noop)
	require.Equal(t, LogEntryNoop, noop.Type)
	require.Equal(t, int64(2), noop.Term)

	done := make(chan error, 1)
	m.handle(1, &TransferLeadership{TargetID: 2, Done: done})
	require.ErrorIs(t, requireDone(t, done), ErrNotLeader)
}
