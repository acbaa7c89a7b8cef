package raft

import (
	"time"
)

// FollowerLogInformation is the leader's record of one follower's replication
// progress.
type FollowerLogInformation struct {
	peer *PeerInfo

	nextIndex  int64
	matchIndex int64

	lastActivity  time.Time
	activeTimeout time.Duration
	heartbeat     time.Duration
	now           func() time.Time

	payloadVersion     int16
	needsLeaderAddress bool

	installSnapshotState *LeaderInstallSnapshotState
	slicedLogEntryIndex  int64

	lastReplicatedIndex int64
	lastReplicatedAt    time.Time
	sentCommitIndex     int64
}

func newFollowerLogInformation(peer *PeerInfo, commitIndex int64, cfg *Config, now func() time.Time) *FollowerLogInformation {
	return &FollowerLogInformation{
		peer:                peer,
		nextIndex:           commitIndex + 1,
		matchIndex:          -1,
		activeTimeout:       cfg.ElectionTimeout(),
		heartbeat:           cfg.HeartbeatInterval,
		now:                 now,
		slicedLogEntryIndex: -1,
		lastReplicatedIndex: -1,
		sentCommitIndex:     -1,
	}
}

// ID returns the follower's peer id.
func (f *FollowerLogInformation) ID() uint64 { return f.peer.ID }

// Peer returns the follower's peer description.
func (f *FollowerLogInformation) Peer() *PeerInfo { return f.peer }

// IsVoting reports whether the follower counts toward majorities.
func (f *FollowerLogInformation) IsVoting() bool { return f.peer.IsVoting() }

// NextIndex returns the index of the next entry to send.
func (f *FollowerLogInformation) NextIndex() int64 { return f.nextIndex }

// MatchIndex returns the highest index known to be replicated on the follower.
func (f *FollowerLogInformation) MatchIndex() int64 { return f.matchIndex }

// SetNextIndex sets nextIndex and reports whether it changed. Moving below a
// sliced entry abandons that slicing, since the follower rejected what came
// before it; the entry is sliced again once the logs match up to it.
func (f *FollowerLogInformation) SetNextIndex(index int64) bool {
	if f.slicedLogEntryIndex >= 0 && index < f.slicedLogEntryIndex {
		f.slicedLogEntryIndex = -1
	}
	if f.nextIndex == index {
		return false
	}
	f.nextIndex = index
	return true
}

// SetMatchIndex sets matchIndex and reports whether it changed. A match at or
// beyond a sliced entry finishes that slicing.
func (f *FollowerLogInformation) SetMatchIndex(index int64) bool {
	if f.slicedLogEntryIndex >= 0 && index >= f.slicedLogEntryIndex {
		f.slicedLogEntryIndex = -1
	}
	if f.matchIndex == index {
		return false
	}
	f.matchIndex = index
	return true
}

// DecrNextIndex backs nextIndex off after a rejected AppendEntries. When the
// follower's log ends before nextIndex it jumps straight to the follower's
// last index; nextIndex never drops to or below matchIndex.
func (f *FollowerLogInformation) DecrNextIndex(followerLastIndex int64) bool {
	if f.nextIndex < 0 {
		return false
	}
	next := f.nextIndex - 1
	if followerLastIndex >= 0 && f.nextIndex > followerLastIndex {
		next = followerLastIndex
	}
	if next <= f.matchIndex {
		next = f.matchIndex + 1
	}
	if next < 0 {
		next = 0
	}
	return f.SetNextIndex(next)
}

// MarkFollowerActive records a reply from the follower.
func (f *FollowerLogInformation) MarkFollowerActive() {
	f.lastActivity = f.now()
}

// MarkFollowerInActive forgets the follower's last activity.
func (f *FollowerLogInformation) MarkFollowerInActive() {
	f.lastActivity = time.Time{}
}

// IsFollowerActive reports whether the follower replied within the last
// election timeout.
func (f *FollowerLogInformation) IsFollowerActive() bool {
	if f.lastActivity.IsZero() {
		return false
	}
	return f.now().Sub(f.lastActivity) <= f.activeTimeout
}

// neverActive is the TimeSinceLastActivity of a follower that never replied.
const neverActive = time.Duration(1<<63 - 1)

// TimeSinceLastActivity returns how long ago the follower last replied.
func (f *FollowerLogInformation) TimeSinceLastActivity() time.Duration {
	if f.lastActivity.IsZero() {
		return neverActive
	}
	return f.now().Sub(f.lastActivity)
}

// OkToReplicate reports whether entries starting at nextIndex may be sent
// now. The same nextIndex is not resent within one heartbeat interval unless
// the commit index moved.
func (f *FollowerLogInformation) OkToReplicate(commitIndex int64) bool {
	now := f.now()
	if f.nextIndex == f.lastReplicatedIndex &&
		now.Sub(f.lastReplicatedAt) < f.heartbeat &&
		f.sentCommitIndex == commitIndex {
		return false
	}
	f.lastReplicatedIndex = f.nextIndex
	f.lastReplicatedAt = now
	return true
}

// HasStaleCommitIndex reports whether the follower was last told an older
// commit index.
func (f *FollowerLogInformation) HasStaleCommitIndex(commitIndex int64) bool {
	return f.sentCommitIndex != commitIndex
}

func (f *FollowerLogInformation) setSentCommitIndex(commitIndex int64) {
	f.sentCommitIndex = commitIndex
}

// PayloadVersion returns the payload version the follower reported.
func (f *FollowerLogInformation) PayloadVersion() int16 { return f.payloadVersion }

// SetPayloadVersion records the follower's payload version.
func (f *FollowerLogInformation) SetPayloadVersion(v int16) { f.payloadVersion = v }

// NeedsLeaderAddress reports whether the follower asked for our address.
func (f *FollowerLogInformation) NeedsLeaderAddress() bool { return f.needsLeaderAddress }

// SetNeedsLeaderAddress records whether the follower asked for our address.
func (f *FollowerLogInformation) SetNeedsLeaderAddress(v bool) { f.needsLeaderAddress = v }

// InstallSnapshotState returns the in-flight snapshot transfer, or nil.
func (f *FollowerLogInformation) InstallSnapshotState() *LeaderInstallSnapshotState {
	return f.installSnapshotState
}

// SetInstallSnapshotState starts tracking a snapshot transfer.
func (f *FollowerLogInformation) SetInstallSnapshotState(s *LeaderInstallSnapshotState) {
	f.installSnapshotState = s
}

// ClearInstallSnapshotState forgets the snapshot transfer.
func (f *FollowerLogInformation) ClearInstallSnapshotState() {
	f.installSnapshotState = nil
}

// SlicedLogEntryIndex returns the index of the entry being sliced, -1 if none.
func (f *FollowerLogInformation) SlicedLogEntryIndex() int64 { return f.slicedLogEntryIndex }

// SetSlicedLogEntryIndex records the entry handed to the slicer.
func (f *FollowerLogInformation) SetSlicedLogEntryIndex(index int64) {
	f.slicedLogEntryIndex = index
}

// IsLogEntrySlicingInProgress reports whether an oversized entry is in flight.
func (f *FollowerLogInformation) IsLogEntrySlicingInProgress() bool {
	return f.slicedLogEntryIndex >= 0
}
