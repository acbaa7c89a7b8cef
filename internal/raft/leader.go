package raft

import (
	"math"
	"time"

	"github.com/KilimcininKorOglu/concord/internal/slicing"
)

// leaderBase is the state shared by Leader, PreLeader and IsolatedLeader.
// When one of them hands over to another the same leaderBase moves along, so
// follower progress, pending proposals and timers survive the switch.
type leaderBase struct {
	behaviorBase
	self Behavior

	followers   map[uint64]*FollowerLogInformation
	followerIDs []uint64

	// trackers holds the Done channel of each pending proposal by log index.
	trackers map[int64]chan error

	// snapshotHolder is the captured snapshot being installed on followers.
	snapshotHolder *Snapshot

	transfer *leadershipTransfer

	minReplicationCount int
	heartbeatTimer      timer
	isolationTimer      timer
	closed              bool
}

func newLeaderBase(ctx *Context, role Role) *leaderBase {
	l := &leaderBase{
		behaviorBase:        newBehaviorBase(ctx, role),
		followers:           make(map[uint64]*FollowerLogInformation),
		trackers:            make(map[int64]chan error),
		minReplicationCount: majority(ctx.VotingPeerCount() + 1),
		heartbeatTimer:      timer{ctx: ctx},
		isolationTimer:      timer{ctx: ctx},
	}
	commit := ctx.log.CommitIndex()
	for _, p := range ctx.Peers() {
		l.followers[p.ID] = newFollowerLogInformation(p, commit, ctx.cfg, ctx.now)
		l.followerIDs = append(l.followerIDs, p.ID)
	}
	l.logger.Info("became leader",
		"term", ctx.CurrentTerm(),
		"commitIndex", commit,
		"lastIndex", ctx.log.LastIndex(),
		"minReplicationCount", l.minReplicationCount)
	return l
}

// assume makes self the behavior that owns the shared state.
func (l *leaderBase) assume(self Behavior) {
	l.self = self
	l.logger = l.ctx.logger.WithFields("role", self.Role().String())
}

// announce sends the first round of AppendEntries and starts the heartbeat.
func (l *leaderBase) announce() {
	l.sendAppendEntries(0, false)
	l.scheduleHeartbeat()
}

func (l *leaderBase) LeaderID() uint64 { return l.ctx.ID() }

// Follower returns the progress record of follower id, or nil.
func (l *leaderBase) Follower(id uint64) *FollowerLogInformation { return l.followers[id] }

func (l *leaderBase) close() {
	if l.closed {
		return
	}
	l.closed = true
	l.heartbeatTimer.stop()
	l.isolationTimer.stop()
	l.ctx.slicer.AbortAll()
	for index, done := range l.trackers {
		delete(l.trackers, index)
		done <- ErrLeadershipLost
	}
	if l.transfer != nil {
		l.finishTransfer(ErrLeadershipLost)
	}
}

func (l *leaderBase) scheduleHeartbeat() {
	l.heartbeatTimer.schedule(l.ctx.cfg.HeartbeatInterval, func(gen uint64) Message { return &SendHeartbeat{Gen: gen} })
}

func (l *leaderBase) scheduleIsolationCheck() {
	l.isolationTimer.schedule(l.ctx.cfg.IsolatedCheckInterval, func(gen uint64) Message { return &IsolatedLeaderCheck{Gen: gen} })
}

// handle processes the messages every leader role treats alike. It returns
// l.self unless the leader stepped down.
func (l *leaderBase) handle(from uint64, msg Message) (Behavior, error) {
	if l.ctx.slicer.HandleMessage(from, msg) {
		return l.self, nil
	}
	if t, ok := msg.(termed); ok && t.rpcTerm() > l.ctx.CurrentTerm() {
		return l.stepDown(from, msg)
	}

	switch m := msg.(type) {
	case *AppendEntriesReply:
		l.handleAppendEntriesReply(from, m)
	case *InstallSnapshotReply:
		l.handleInstallSnapshotReply(from, m)
	case *RequestVote:
		return l.self, l.handleRequestVote(from, m)
	case *AppendEntries:
		l.logger.Debug("rejecting AppendEntries from stale term", "leader", m.LeaderID, "term", m.Term)
		l.ctx.Send(from, &AppendEntriesReply{
			Term:           l.ctx.CurrentTerm(),
			LogLastIndex:   l.log.LastIndex(),
			LogLastTerm:    l.log.LastTerm(),
			PayloadVersion: l.ctx.cfg.PayloadVersion,
		})
	case *InstallSnapshot:
		l.ctx.Send(from, &InstallSnapshotReply{Term: l.ctx.CurrentTerm(), ChunkIndex: m.ChunkIndex})
	case *SendHeartbeat:
		if l.heartbeatTimer.fired(m.Gen) {
			l.sendHeartbeat()
		}
	case *Propose:
		return l.self, l.propose(m)
	case *CaptureSnapshotReply:
		return l.self, l.captureCompleted(m)
	case *RequestVoteReply, *TimeoutNow, *ElectionTimeout, *IsolatedLeaderCheck:
	default:
		failRequest(msg, ErrNotLeader)
	}
	return l.self, nil
}

// stepDown adopts the newer term carried by msg and hands over to a
// Follower, which then processes msg if it is a request.
func (l *leaderBase) stepDown(from uint64, msg Message) (Behavior, error) {
	if _, err := l.adoptHigherTerm(msg); err != nil {
		return l.self, err
	}
	l.logger.Info("saw higher term, stepping down", "term", l.ctx.CurrentTerm(), "from", from)
	l.self.Close()

	var leaderID uint64
	switch msg.(type) {
	case *AppendEntries, *InstallSnapshot:
		leaderID = from
	}
	f := newFollower(l.ctx, leaderID)
	switch msg.(type) {
	case *AppendEntries, *InstallSnapshot, *RequestVote:
		return f.Handle(from, msg)
	}
	return f, nil
}

func (l *leaderBase) propose(p *Propose) error {
	if l.transfer != nil {
		// New entries would keep the transfer target behind.
		p.Done <- ErrLeadershipTransferInProgress
		return nil
	}
	e := &LogEntry{
		Index:   l.log.LastIndex() + 1,
		Term:    l.ctx.CurrentTerm(),
		Type:    LogEntryCommand,
		Command: p.Command,
	}
	if err := l.ctx.appendEntries(e); err != nil {
		p.Done <- err
		return err
	}
	l.trackers[e.Index] = p.Done
	l.logger.Debug("appended command", "index", e.Index, "term", e.Term, "size", len(p.Command))

	l.possiblyUpdateCommitIndex()
	l.sendAppendEntries(0, false)
	return nil
}

// entryApplied answers the proposal that created e, if it is still waiting.
func (l *leaderBase) entryApplied(e *LogEntry, err error) {
	done, ok := l.trackers[e.Index]
	if !ok {
		return
	}
	delete(l.trackers, e.Index)
	done <- err
}

func (l *leaderBase) sendHeartbeat() {
	l.checkTransferTimeout()
	if len(l.followerIDs) > 0 {
		l.sendAppendEntries(l.ctx.cfg.HeartbeatInterval, true)
		l.ctx.slicer.CheckExpired()
	}
	l.scheduleHeartbeat()
}

func (l *leaderBase) handleAppendEntriesReply(from uint64, r *AppendEntriesReply) {
	info := l.followers[from]
	if info == nil {
		l.logger.Warn("AppendEntriesReply from unknown member", "from", from)
		return
	}
	if r.Term < l.ctx.CurrentTerm() {
		l.logger.Debug("ignoring AppendEntriesReply from an earlier term", "from", from, "term", r.Term)
		return
	}

	if d := info.TimeSinceLastActivity(); d > l.ctx.cfg.ElectionTimeout() && d != neverActive {
		l.logger.Warn("AppendEntriesReply arrived after the election timeout",
			"follower", from, "sinceLastActivity", d.String())
	}
	info.MarkFollowerActive()
	info.SetPayloadVersion(r.PayloadVersion)
	info.SetNeedsLeaderAddress(r.NeedsLeaderAddress)

	followerLastIndex := r.LogLastIndex
	updated := false
	switch {
	case followerLastIndex > l.log.LastIndex() && l.log.LastApplied() < l.log.LastIndex():
		// Our last entry is of this term and differs from the follower's
		// entry at that index, so replicating it truncates the extra entries.
		l.logger.Debug("follower log is ahead of ours, overwriting",
			"follower", from, "followerLastIndex", followerLastIndex, "lastIndex", l.log.LastIndex())
		if r.Success {
			updated = info.SetNextIndex(l.log.LastIndex())
		} else {
			updated = info.DecrNextIndex(followerLastIndex)
		}
	case followerLastIndex > l.log.LastIndex():
		// Every entry the follower may have committed is applied here, so
		// the follower's log can be replaced wholesale.
		l.logger.Info("follower log is ahead of ours, installing snapshot",
			"follower", from, "followerLastIndex", followerLastIndex, "lastIndex", l.log.LastIndex())
		info.SetMatchIndex(-1)
		info.SetNextIndex(-1)
		l.initiateCaptureSnapshot(info)
		updated = true
	case r.Success:
		if t := l.log.TermAt(followerLastIndex); followerLastIndex >= 0 && t >= 0 && t != r.LogLastTerm {
			l.logger.Info("follower's last entry conflicts with ours",
				"follower", from, "index", followerLastIndex, "followerTerm", r.LogLastTerm, "term", t)
			updated = info.SetNextIndex(followerLastIndex - 1)
		} else {
			updated = info.SetMatchIndex(followerLastIndex)
			updated = info.SetNextIndex(followerLastIndex+1) || updated
		}
	case r.ForceInstallSnapshot:
		l.logger.Info("follower requested a snapshot install", "follower", from, "followerLastIndex", followerLastIndex)
		info.SetMatchIndex(-1)
		info.SetNextIndex(-1)
		l.initiateCaptureSnapshot(info)
		updated = true
	default:
		t := l.log.EntryOrSnapshotTerm(followerLastIndex)
		if followerLastIndex < 0 || t >= 0 && t == r.LogLastTerm {
			// The follower's log is a prefix of ours.
			updated = info.SetMatchIndex(followerLastIndex)
			updated = info.SetNextIndex(followerLastIndex+1) || updated
		} else {
			updated = info.DecrNextIndex(followerLastIndex)
		}
		l.logger.Debug("AppendEntries rejected",
			"follower", from,
			"followerLastIndex", followerLastIndex,
			"followerLastTerm", r.LogLastTerm,
			"nextIndex", info.NextIndex())
	}

	l.possiblyUpdateCommitIndex()
	l.sendUpdatesToFollower(info, false, !updated)
	l.tryCompleteTransfer(from)
}

// possiblyUpdateCommitIndex advances the commit index to the highest entry
// of the current term stored on a majority of voters, applies what became
// committed and purges the in-memory log.
func (l *leaderBase) possiblyUpdateCommitIndex() {
	prev := l.log.CommitIndex()
	term := l.ctx.CurrentTerm()
	for n := prev + 1; n <= l.log.LastIndex(); n++ {
		replicas := 0
		if l.ctx.IsVoting() {
			replicas = 1
		}
		for _, id := range l.followerIDs {
			info := l.followers[id]
			if info.IsVoting() && info.MatchIndex() >= n {
				replicas++
			}
		}
		if replicas < l.minReplicationCount {
			break
		}
		// Entries of earlier terms are only committed along with a later one.
		if l.log.TermAt(n) == term {
			l.log.SetCommitIndex(n)
		}
	}
	if l.log.CommitIndex() != prev {
		l.logger.Debug("commit index advanced", "from", prev, "to", l.log.CommitIndex())
		l.applyCommitted(l.entryApplied)
	}
	l.purgeInMemoryLog(l.minReplicatedToAllIndex())
}

// minReplicatedToAllIndex returns the lowest matchIndex over all followers,
// or LastApplied when there are none.
func (l *leaderBase) minReplicatedToAllIndex() int64 {
	if len(l.followerIDs) == 0 {
		return l.log.LastApplied()
	}
	lowest := int64(math.MaxInt64)
	for _, info := range l.followers {
		if m := info.MatchIndex(); m < lowest {
			lowest = m
		}
	}
	return lowest
}

// sendAppendEntries updates every follower that is inactive or has not
// replied within interval.
func (l *leaderBase) sendAppendEntries(interval time.Duration, isHeartbeat bool) {
	for _, id := range l.followerIDs {
		info := l.followers[id]
		if !info.IsFollowerActive() || info.TimeSinceLastActivity() >= interval {
			l.sendUpdatesToFollower(info, true, isHeartbeat)
		}
	}
}

func (l *leaderBase) sendUpdatesToFollower(info *FollowerLogInformation, sendHeartbeat, isHeartbeat bool) {
	next := info.NextIndex()
	active := info.IsFollowerActive()
	commit := l.log.CommitIndex()

	var entries []*LogEntry
	send := false
	switch st := info.InstallSnapshotState(); {
	case st != nil:
		if active {
			if st.IsChunkTimedOut(l.chunkReplyTimeout(), l.ctx.now()) {
				l.logger.Info("snapshot chunk unanswered, resending",
					"follower", info.ID(), "chunk", st.ChunkIndex(), "total", st.TotalChunks())
				st.MarkChunkTimedOut()
				l.sendSnapshotChunk(info)
			} else if st.CanSendNextChunk() {
				l.sendSnapshotChunk(info)
			}
		} else if sendHeartbeat || info.HasStaleCommitIndex(commit) {
			send = true
		}
	case info.IsLogEntrySlicingInProgress():
		send = sendHeartbeat
	case active && l.log.IsPresent(next):
		if info.OkToReplicate(commit) {
			entries = l.entriesToSend(info)
			send = true
		}
	case active && !l.ctx.snapshots.isCapturing() && l.canInstallSnapshot(next):
		l.logger.Info("initiating snapshot install",
			"follower", info.ID(),
			"nextIndex", next,
			"snapshotIndex", l.log.SnapshotIndex(),
			"lastIndex", l.log.LastIndex())
		l.initiateCaptureSnapshot(info)
		send = true
	case sendHeartbeat || info.HasStaleCommitIndex(commit):
		send = true
	}

	if !isHeartbeat && len(entries) > 0 {
		l.logger.Debug("replicating entries",
			"follower", info.ID(), "from", entries[0].Index, "count", len(entries))
	}
	if send {
		l.sendAppendEntriesTo(info, entries)
	}
}

// canInstallSnapshot reports whether a follower needing next can only be
// brought up to date with a snapshot.
func (l *leaderBase) canInstallSnapshot(next int64) bool {
	return next == -1 || !l.log.IsPresent(next) && l.log.IsInSnapshot(next)
}

// entriesToSend returns the entries starting at the follower's nextIndex. A
// single entry larger than MaxMessageSliceSize is handed to the slicer
// instead and nothing is returned.
func (l *leaderBase) entriesToSend(info *FollowerLogInformation) []*LogEntry {
	maxSize := l.ctx.cfg.MaxMessageSliceSize
	entries := l.log.From(info.NextIndex(), l.ctx.cfg.MaxEntriesPerMessage, maxSize)
	if len(entries) != 1 || entries[0].Size() <= maxSize {
		return entries
	}

	e := entries[0]
	ae := l.appendEntriesFor(info, entries, l.log.CommitIndex())
	info.SetSlicedLogEntryIndex(e.Index)
	logger := l.logger
	id := l.ctx.slicer.Slice(slicing.SliceRequest{
		To:   info.ID(),
		Data: encodeAppendEntries(ae),
		OnFailure: func(err error) {
			logger.Warn("slicing AppendEntries failed", "follower", info.ID(), "index", e.Index, "error", err)
			info.SetSlicedLogEntryIndex(-1)
		},
	})
	l.logger.Debug("slicing oversized entry",
		"follower", info.ID(), "index", e.Index, "size", e.Size(), "id", id.String())
	return nil
}

func (l *leaderBase) appendEntriesFor(info *FollowerLogInformation, entries []*LogEntry, leaderCommit int64) *AppendEntries {
	prev := info.NextIndex() - 1
	ae := &AppendEntries{
		Term:                 l.ctx.CurrentTerm(),
		LeaderID:             l.ctx.ID(),
		PrevLogIndex:         l.log.EntryOrSnapshotIndex(prev),
		PrevLogTerm:          l.log.EntryOrSnapshotTerm(prev),
		Entries:              entries,
		LeaderCommit:         leaderCommit,
		ReplicatedToAllIndex: l.replicatedToAllIndex,
		PayloadVersion:       l.ctx.cfg.PayloadVersion,
	}
	if info.NeedsLeaderAddress() {
		ae.LeaderAddress = l.ctx.cfg.Addr
	}
	return ae
}

// sendAppendEntriesTo sends entries to the follower. The commit index is
// withheld from followers we know nothing about or that are receiving a
// snapshot or a sliced entry, so they cannot commit entries that conflict
// with ours.
func (l *leaderBase) sendAppendEntriesTo(info *FollowerLogInformation, entries []*LogEntry) {
	commit := l.log.CommitIndex()
	if info.InstallSnapshotState() != nil || info.IsLogEntrySlicingInProgress() || !info.IsFollowerActive() {
		commit = -1
	}
	ae := l.appendEntriesFor(info, entries, commit)
	info.setSentCommitIndex(commit)
	l.ctx.Send(info.ID(), ae)
}

func (l *leaderBase) chunkReplyTimeout() time.Duration {
	return 3 * l.ctx.cfg.ElectionTimeout()
}

// initiateCaptureSnapshot starts streaming the held snapshot to the
// follower, or captures one if none is held.
func (l *leaderBase) initiateCaptureSnapshot(info *FollowerLogInformation) {
	if l.snapshotHolder != nil {
		l.sendSnapshotChunk(info)
		return
	}
	if l.ctx.snapshots.capture(l.replicatedToAllIndex, info.ID()) {
		l.logger.Debug("capturing snapshot for follower", "follower", info.ID())
	}
}

// captureCompleted finishes a capture and, when it was taken for a
// follower, starts installing it everywhere it is needed.
func (l *leaderBase) captureCompleted(r *CaptureSnapshotReply) error {
	if err := l.handleCaptureReply(r); err != nil {
		return err
	}
	if r.InstallFor == 0 {
		return nil
	}
	l.snapshotHolder = r.Snapshot
	for _, id := range l.followerIDs {
		info := l.followers[id]
		if info.InstallSnapshotState() != nil || l.canInstallSnapshot(info.NextIndex()) {
			l.sendSnapshotChunk(info)
		}
	}
	return nil
}

func (l *leaderBase) sendSnapshotChunk(info *FollowerLogInformation) {
	st := info.InstallSnapshotState()
	if st == nil {
		if l.snapshotHolder == nil {
			return
		}
		st = NewLeaderInstallSnapshotState(l.snapshotHolder, l.ctx.cfg.SnapshotChunkSize)
		info.SetInstallSnapshotState(st)
	}
	if !st.CanSendNextChunk() {
		return
	}
	index, data, prevHash := st.NextChunk(l.ctx.now())
	snap := st.Snapshot()
	l.ctx.Send(info.ID(), &InstallSnapshot{
		Term:              l.ctx.CurrentTerm(),
		LeaderID:          l.ctx.ID(),
		LastIncludedIndex: snap.LastIncludedIndex,
		LastIncludedTerm:  snap.LastIncludedTerm,
		Data:              data,
		ChunkIndex:        index,
		TotalChunks:       st.TotalChunks(),
		LastChunkHash:     prevHash,
	})
	l.logger.Debug("sent snapshot chunk",
		"follower", info.ID(), "chunk", index, "total", st.TotalChunks(), "size", len(data))
}

func (l *leaderBase) handleInstallSnapshotReply(from uint64, r *InstallSnapshotReply) {
	info := l.followers[from]
	if info == nil {
		l.logger.Warn("InstallSnapshotReply from unknown member", "from", from)
		return
	}
	st := info.InstallSnapshotState()
	if st == nil || r.Term < l.ctx.CurrentTerm() {
		l.logger.Debug("ignoring InstallSnapshotReply, no install in progress", "from", from, "chunk", r.ChunkIndex)
		return
	}
	info.MarkFollowerActive()

	if r.ChunkIndex != st.ChunkIndex() {
		l.logger.Warn("InstallSnapshotReply for unexpected chunk",
			"follower", from, "chunk", r.ChunkIndex, "expected", st.ChunkIndex())
		if r.ChunkIndex == InvalidChunkIndex {
			st.Reset()
		}
		return
	}
	if !r.Success {
		l.logger.Warn("snapshot chunk failed, retrying", "follower", from, "chunk", r.ChunkIndex)
		st.MarkSendStatus(false)
		l.sendSnapshotChunk(info)
		return
	}
	if !st.IsLastChunk(r.ChunkIndex) {
		st.MarkSendStatus(true)
		l.sendSnapshotChunk(info)
		return
	}

	index := st.Snapshot().LastIncludedIndex
	info.SetMatchIndex(index)
	info.SetNextIndex(index + 1)
	info.ClearInstallSnapshotState()
	l.logger.Info("snapshot installed on follower",
		"follower", from, "matchIndex", index, "chunks", st.TotalChunks())

	if !l.anyFollowerInstalling() {
		l.snapshotHolder = nil
	}
	l.possiblyUpdateCommitIndex()
}

func (l *leaderBase) anyFollowerInstalling() bool {
	for _, info := range l.followers {
		if info.InstallSnapshotState() != nil {
			return true
		}
	}
	return false
}

// isLeaderIsolated reports whether fewer voting followers than needed for a
// majority have replied within the election timeout.
func (l *leaderBase) isLeaderIsolated() bool {
	if !l.ctx.cfg.AutomaticElections {
		return false
	}
	need := l.minReplicationCount - 1
	for _, id := range l.followerIDs {
		info := l.followers[id]
		if info.IsVoting() && info.IsFollowerActive() {
			need--
		}
	}
	return need > 0
}

// Leader is the fully operational leader.
type Leader struct {
	*leaderBase
	handedOff bool
}

// newLeader creates a Leader. shared carries over the state of a PreLeader
// or IsolatedLeader; when nil the leader starts from scratch.
func newLeader(ctx *Context, shared *leaderBase) *Leader {
	fresh := shared == nil
	if fresh {
		shared = newLeaderBase(ctx, RoleLeader)
	}
	l := &Leader{leaderBase: shared}
	shared.assume(l)
	l.scheduleIsolationCheck()
	if fresh {
		l.announce()
	}
	return l
}

func (l *Leader) Role() Role { return RoleLeader }

func (l *Leader) Close() {
	if !l.handedOff {
		l.close()
	}
}

func (l *Leader) Handle(from uint64, msg Message) (Behavior, error) {
	switch m := msg.(type) {
	case *IsolatedLeaderCheck:
		if !l.isolationTimer.fired(m.Gen) {
			return l, nil
		}
		l.scheduleIsolationCheck()
		if !l.isLeaderIsolated() {
			return l, nil
		}
		l.logger.Warn("lost contact with a voting majority", "term", l.ctx.CurrentTerm())
		l.handedOff = true
		return newIsolatedLeader(l.ctx, l.leaderBase), nil
	case *TransferLeadership:
		l.startTransfer(m)
		return l, nil
	}
	return l.handle(from, msg)
}
