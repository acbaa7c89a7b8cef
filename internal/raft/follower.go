package raft

import (
	"errors"
	"time"
)

// Follower accepts the log from the leader and starts an election when the
// leader goes quiet.
type Follower struct {
	behaviorBase

	leaderID        uint64
	electionTimer   timer
	snapshotTracker *SnapshotTracker
}

func newFollower(ctx *Context, leaderID uint64) *Follower {
	f := &Follower{
		behaviorBase:  newBehaviorBase(ctx, RoleFollower),
		leaderID:      leaderID,
		electionTimer: timer{ctx: ctx},
	}
	if len(ctx.Peers()) == 0 {
		// Nobody else can become leader.
		f.scheduleElection(0)
	} else {
		f.scheduleElection(ctx.electionDuration())
	}
	return f
}

func (f *Follower) Role() Role       { return RoleFollower }
func (f *Follower) LeaderID() uint64 { return f.leaderID }

func (f *Follower) Close() {
	f.electionTimer.stop()
	f.closeSnapshotTracker()
}

func (f *Follower) scheduleElection(d time.Duration) {
	f.electionTimer.schedule(d, func(gen uint64) Message { return &ElectionTimeout{Gen: gen} })
}

func (f *Follower) Handle(from uint64, msg Message) (Behavior, error) {
	if _, err := f.adoptHigherTerm(msg); err != nil {
		return f, err
	}

	switch m := msg.(type) {
	case *AppendEntries:
		return f, f.handleAppendEntries(from, m)
	case *InstallSnapshot:
		return f, f.handleInstallSnapshot(from, m)
	case *RequestVote:
		return f, f.handleRequestVote(from, m)
	case *ElectionTimeout:
		if !f.electionTimer.fired(m.Gen) {
			return f, nil
		}
		return f.electionTimedOut()
	case *TimeoutNow:
		if m.Term < f.ctx.CurrentTerm() {
			f.logger.Debug("ignoring TimeoutNow from an earlier term", "from", from, "term", m.Term)
			return f, nil
		}
		if !f.ctx.IsVoting() {
			f.logger.Debug("ignoring TimeoutNow, not a voting member")
			return f, nil
		}
		f.logger.Info("received TimeoutNow, starting election", "from", from)
		return newCandidate(f.ctx)
	case *CaptureSnapshotReply:
		return f, f.handleCaptureReply(m)
	default:
		failRequest(msg, ErrNotLeader)
		return f, nil
	}
}

func (f *Follower) electionTimedOut() (Behavior, error) {
	if !f.ctx.cfg.AutomaticElections || !f.ctx.IsVoting() {
		f.scheduleElection(f.ctx.electionDuration())
		return f, nil
	}
	f.logger.Info("election timeout, becoming candidate", "leader", f.leaderID, "term", f.ctx.CurrentTerm())
	return newCandidate(f.ctx)
}

func (f *Follower) handleAppendEntries(from uint64, ae *AppendEntries) error {
	if ae.Term < f.ctx.CurrentTerm() {
		f.logger.Debug("rejecting AppendEntries from stale term", "leader", ae.LeaderID, "term", ae.Term)
		f.replyAppendEntries(from, false, false)
		return nil
	}

	if f.snapshotTracker != nil && f.snapshotTracker.LeaderID() != ae.LeaderID {
		f.logger.Info("AppendEntries from a different leader, aborting snapshot install",
			"leader", ae.LeaderID, "snapshotLeader", f.snapshotTracker.LeaderID())
		f.closeSnapshotTracker()
	}
	f.leaderID = ae.LeaderID
	if ae.LeaderAddress != "" {
		f.ctx.setPeerAddress(ae.LeaderID, ae.LeaderAddress)
	}
	f.scheduleElection(f.ctx.electionDuration())

	if ok, force := f.prevEntryMatches(ae); !ok {
		f.replyAppendEntries(from, false, force)
		return nil
	}

	var toAppend []*LogEntry
	for i, e := range ae.Entries {
		if e.Index <= f.log.SnapshotIndex() {
			continue
		}
		existing := f.log.Get(e.Index)
		if existing != nil && existing.Term == e.Term {
			continue
		}
		if existing != nil {
			if e.Index <= f.log.CommitIndex() {
				f.logger.Warn("conflicting entry is already committed, requesting snapshot",
					"index", e.Index, "term", existing.Term, "leaderTerm", e.Term)
				f.replyAppendEntries(from, false, true)
				return nil
			}
			f.logger.Info("removing conflicting entries",
				"from", e.Index, "term", existing.Term, "leaderTerm", e.Term)
			if err := f.ctx.truncateLog(e.Index); err != nil {
				return err
			}
		}
		toAppend = ae.Entries[i:]
		break
	}
	if err := f.ctx.appendEntries(toAppend...); err != nil {
		return err
	}

	// Only entries this request vouched for may be committed.
	lastNew := ae.PrevLogIndex + int64(len(ae.Entries))
	if ae.LeaderCommit > f.log.CommitIndex() {
		commit := ae.LeaderCommit
		if lastNew < commit {
			commit = lastNew
		}
		f.log.SetCommitIndex(commit)
	}
	f.applyCommitted(nil)

	if ae.ReplicatedToAllIndex >= 0 {
		f.purgeInMemoryLog(ae.ReplicatedToAllIndex)
	}
	f.replyAppendEntries(from, true, false)
	return nil
}

// prevEntryMatches checks the entry preceding the new ones. A mismatch on a
// committed entry cannot be repaired by truncation, so forceInstall asks the
// leader for a snapshot.
func (f *Follower) prevEntryMatches(ae *AppendEntries) (ok bool, forceInstall bool) {
	prev := ae.PrevLogIndex
	if prev < 0 {
		return true, false
	}
	if prev > f.log.LastIndex() {
		f.logger.Debug("previous entry missing",
			"prevLogIndex", prev, "lastIndex", f.log.LastIndex())
		return false, false
	}
	if prev < f.log.SnapshotIndex() {
		return true, false
	}
	if term := f.log.EntryOrSnapshotTerm(prev); term != ae.PrevLogTerm {
		f.logger.Debug("previous entry term mismatch",
			"prevLogIndex", prev, "prevLogTerm", ae.PrevLogTerm, "term", term)
		return false, prev <= f.log.CommitIndex()
	}
	return true, false
}

func (f *Follower) replyAppendEntries(to uint64, success, forceInstall bool) {
	peer := f.ctx.Peer(to)
	f.ctx.Send(to, &AppendEntriesReply{
		Term:                 f.ctx.CurrentTerm(),
		Success:              success,
		LogLastIndex:         f.log.LastIndex(),
		LogLastTerm:          f.log.LastTerm(),
		PayloadVersion:       f.ctx.cfg.PayloadVersion,
		ForceInstallSnapshot: forceInstall,
		NeedsLeaderAddress:   peer != nil && peer.Addr == "",
	})
}

func (f *Follower) handleInstallSnapshot(from uint64, is *InstallSnapshot) error {
	if is.Term < f.ctx.CurrentTerm() {
		f.logger.Debug("rejecting InstallSnapshot from stale term", "leader", is.LeaderID, "term", is.Term)
		f.ctx.Send(from, &InstallSnapshotReply{Term: f.ctx.CurrentTerm(), ChunkIndex: is.ChunkIndex})
		return nil
	}
	f.leaderID = is.LeaderID
	f.scheduleElection(f.ctx.electionDuration())

	// The same snapshot is installed again when entries follow it, since the
	// leader sends it to replace a log that runs past its own.
	if f.snapshotTracker == nil && (is.LastIncludedIndex < f.log.SnapshotIndex() ||
		is.LastIncludedIndex == f.log.SnapshotIndex() && is.LastIncludedTerm == f.log.SnapshotTerm() &&
			f.log.LastIndex() == f.log.SnapshotIndex()) {
		f.logger.Debug("snapshot already installed", "lastIncludedIndex", is.LastIncludedIndex, "chunk", is.ChunkIndex)
		f.replyInstallSnapshot(from, is.ChunkIndex, true)
		return nil
	}
	if f.ctx.snapshots.isCapturing() {
		// The capture in flight would overwrite the installed snapshot.
		f.logger.Debug("deferring InstallSnapshot until capture completes", "chunk", is.ChunkIndex)
		f.replyInstallSnapshot(from, is.ChunkIndex, false)
		return nil
	}

	if f.snapshotTracker != nil && !f.snapshotTracker.Matches(is) {
		f.logger.Info("InstallSnapshot for a different snapshot, restarting", "leader", is.LeaderID,
			"lastIncludedIndex", is.LastIncludedIndex)
		f.closeSnapshotTracker()
	}
	if f.snapshotTracker != nil && is.ChunkIndex == f.snapshotTracker.LastChunkIndex() {
		f.logger.Debug("duplicate snapshot chunk", "chunk", is.ChunkIndex)
		f.replyInstallSnapshot(from, is.ChunkIndex, true)
		return nil
	}
	if f.snapshotTracker == nil {
		if is.ChunkIndex != FirstChunkIndex {
			f.logger.Info("InstallSnapshot chunk out of sequence", "chunk", is.ChunkIndex)
			f.replyInstallSnapshot(from, InvalidChunkIndex, false)
			return nil
		}
		f.snapshotTracker = NewSnapshotTracker(is,
			NewSpoolBuffer(f.ctx.cfg.SnapshotSpoolThreshold, f.ctx.cfg.TempDir))
	}

	last, err := f.snapshotTracker.AddChunk(is.ChunkIndex, is.Data, is.LastChunkHash)
	if err != nil {
		f.logger.Warn("invalid snapshot chunk", "chunk", is.ChunkIndex, "total", is.TotalChunks, "error", err)
		f.closeSnapshotTracker()
		if errors.Is(err, ErrInvalidChunk) {
			f.replyInstallSnapshot(from, InvalidChunkIndex, false)
			return nil
		}
		f.replyInstallSnapshot(from, is.ChunkIndex, false)
		return nil
	}
	if !last {
		f.replyInstallSnapshot(from, is.ChunkIndex, true)
		return nil
	}

	snap, err := f.snapshotTracker.Snapshot()
	f.closeSnapshotTracker()
	if err != nil {
		f.logger.Error("reading assembled snapshot failed", "error", err)
		f.replyInstallSnapshot(from, InvalidChunkIndex, false)
		return nil
	}
	if err := f.installSnapshot(snap); err != nil {
		return err
	}
	f.replyInstallSnapshot(from, is.ChunkIndex, true)
	return nil
}

// installSnapshot replaces the state machine and the log with snap. The
// snapshot is durable before the log forgets anything.
func (f *Follower) installSnapshot(snap *Snapshot) error {
	if err := f.ctx.storage.SaveSnapshot(snap); err != nil {
		return err
	}
	if err := f.ctx.storage.TruncateFrom(0); err != nil {
		return err
	}
	if err := f.ctx.sm.Restore(snap.Data); err != nil {
		return err
	}
	f.log.ResetToSnapshot(snap.LastIncludedIndex, snap.LastIncludedTerm)
	f.ctx.persistedSnapshotIndex = snap.LastIncludedIndex
	f.logger.Info("installed snapshot",
		"lastIncludedIndex", snap.LastIncludedIndex,
		"lastIncludedTerm", snap.LastIncludedTerm,
		"size", len(snap.Data))
	return nil
}

func (f *Follower) replyInstallSnapshot(to uint64, chunk int32, success bool) {
	f.ctx.Send(to, &InstallSnapshotReply{Term: f.ctx.CurrentTerm(), ChunkIndex: chunk, Success: success})
}

func (f *Follower) closeSnapshotTracker() {
	if f.snapshotTracker == nil {
		return
	}
	if err := f.snapshotTracker.Close(); err != nil {
		f.logger.Debug("closing snapshot tracker", "error", err)
	}
	f.snapshotTracker = nil
}
