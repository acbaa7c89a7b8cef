package raft

import (
	"github.com/KilimcininKorOglu/concord/internal/logging"
)

// Behavior is one role of a participant. Handle processes a single message
// and returns the behavior that handles the next one, which is the receiver
// itself when the role does not change. A non-nil error means persistent
// state could not be written; the participant must stop.
type Behavior interface {
	Role() Role
	// LeaderID returns the leader this participant currently follows, its own
	// id when leading, or 0 when unknown.
	LeaderID() uint64
	Handle(from uint64, msg Message) (Behavior, error)
	// Close releases timers and fails pending requests. It is called once,
	// when the behavior is replaced or the participant stops.
	Close()
}

// behaviorBase holds what every role needs.
type behaviorBase struct {
	ctx    *Context
	log    *ReplicatedLog
	logger logging.Logger

	// replicatedToAllIndex is the highest index known to be on every member;
	// the in-memory log may be purged up to it.
	replicatedToAllIndex int64
}

func newBehaviorBase(ctx *Context, role Role) behaviorBase {
	return behaviorBase{
		ctx:                  ctx,
		log:                  ctx.log,
		logger:               ctx.logger.WithFields("role", role.String()),
		replicatedToAllIndex: -1,
	}
}

// adoptHigherTerm persists the term carried by msg when it is newer than
// ours, clearing the vote. It reports whether the term changed.
func (b *behaviorBase) adoptHigherTerm(msg Message) (bool, error) {
	t, ok := msg.(termed)
	if !ok || t.rpcTerm() <= b.ctx.CurrentTerm() {
		return false, nil
	}
	b.logger.Info("term changed", "from", b.ctx.CurrentTerm(), "to", t.rpcTerm())
	if err := b.ctx.SetTermInfo(TermInfo{Term: t.rpcTerm()}); err != nil {
		return false, err
	}
	return true, nil
}

// isLogUpToDate reports whether a log ending at lastIndex/lastTerm is at
// least as up to date as ours.
func (b *behaviorBase) isLogUpToDate(lastIndex, lastTerm int64) bool {
	ourTerm := b.log.LastTerm()
	if lastTerm != ourTerm {
		return lastTerm > ourTerm
	}
	return lastIndex >= b.log.LastIndex()
}

// handleRequestVote grants the vote when the request's term is current, we
// have not voted for someone else and the candidate's log is up to date. The
// vote is persisted before the reply is sent.
func (b *behaviorBase) handleRequestVote(from uint64, rv *RequestVote) error {
	ti := b.ctx.TermInfo()
	grant := rv.Term >= ti.Term &&
		(ti.VotedFor == 0 || ti.VotedFor == rv.CandidateID) &&
		b.isLogUpToDate(rv.LastLogIndex, rv.LastLogTerm)

	if grant && (ti.Term != rv.Term || ti.VotedFor != rv.CandidateID) {
		if err := b.ctx.SetTermInfo(TermInfo{Term: rv.Term, VotedFor: rv.CandidateID}); err != nil {
			return err
		}
	}
	b.logger.Debug("vote requested",
		"candidate", rv.CandidateID,
		"term", rv.Term,
		"granted", grant)
	b.ctx.Send(from, &RequestVoteReply{Term: b.ctx.CurrentTerm(), VoteGranted: grant})
	return nil
}

// applyCommitted applies newly committed entries and starts a compaction
// capture when the log has grown past its limits.
func (b *behaviorBase) applyCommitted(applied func(*LogEntry, error)) {
	b.ctx.applyCommitted(applied)
	if b.ctx.snapshots.shouldCompact() {
		b.ctx.snapshots.capture(b.replicatedToAllIndex, 0)
	}
}

// purgeInMemoryLog drops entries up to index, bounded by LastApplied, from
// memory without capturing a snapshot. The journal keeps them.
func (b *behaviorBase) purgeInMemoryLog(index int64) {
	if b.ctx.snapshots.isCapturing() {
		return
	}
	if applied := b.log.LastApplied(); index > applied {
		index = applied
	}
	if !b.log.IsPresent(index) {
		return
	}
	b.log.SnapshotPreCommit(index, b.log.TermAt(index))
	b.replicatedToAllIndex = index
}

// handleCaptureReply finishes a snapshot capture started by any behavior.
func (b *behaviorBase) handleCaptureReply(r *CaptureSnapshotReply) error {
	return b.ctx.snapshots.persisted(r)
}

// failRequest answers local requests a behavior cannot serve.
func failRequest(msg Message, err error) bool {
	switch m := msg.(type) {
	case *Propose:
		m.Done <- err
		return true
	case *TransferLeadership:
		m.Done <- err
		return true
	}
	return false
}
