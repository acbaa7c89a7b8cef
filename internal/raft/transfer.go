package raft

import (
	"fmt"
	"time"
)

// leadershipTransfer is a TransferLeadership request the leader is working on.
type leadershipTransfer struct {
	target   uint64
	done     chan error
	deadline time.Time
}

// startTransfer begins handing leadership to req.TargetID, or to the first
// voting follower that catches up when no target is named.
func (l *leaderBase) startTransfer(req *TransferLeadership) {
	if l.transfer != nil {
		req.Done <- ErrLeadershipTransferInProgress
		return
	}
	if req.TargetID != 0 {
		if p := l.ctx.Peer(req.TargetID); p == nil || !p.IsVoting() {
			req.Done <- fmt.Errorf("%w: %d is not a voting member", ErrUnknownPeer, req.TargetID)
			return
		}
	} else if l.ctx.VotingPeerCount() == 0 {
		req.Done <- fmt.Errorf("%w: no voting member to transfer to", ErrUnknownPeer)
		return
	}

	l.transfer = &leadershipTransfer{
		target:   req.TargetID,
		done:     req.Done,
		deadline: l.ctx.now().Add(l.ctx.cfg.ElectionTimeout()),
	}
	l.logger.Info("starting leadership transfer",
		"target", req.TargetID,
		"lastApplied", l.log.LastApplied())

	l.sendAppendEntries(0, false)
	for _, id := range l.followerIDs {
		if l.tryCompleteTransfer(id) {
			return
		}
	}
}

// tryCompleteTransfer finishes the transfer in favor of followerID if it is
// an eligible voting follower that has every applied entry. It reports
// whether the transfer finished.
func (l *leaderBase) tryCompleteTransfer(followerID uint64) bool {
	t := l.transfer
	if t == nil || t.target != 0 && t.target != followerID {
		return false
	}
	info := l.followers[followerID]
	if info == nil || !info.IsVoting() || !info.IsFollowerActive() || info.MatchIndex() < l.log.LastApplied() {
		return false
	}

	l.logger.Info("follower caught up, handing over leadership",
		"follower", followerID,
		"matchIndex", info.MatchIndex())
	// Bring every follower's commit index up to date before leaving.
	l.sendAppendEntries(0, false)
	l.ctx.Send(followerID, &TimeoutNow{Term: l.ctx.CurrentTerm()})
	l.finishTransfer(nil)
	return true
}

func (l *leaderBase) checkTransferTimeout() {
	t := l.transfer
	if t == nil || !l.ctx.now().After(t.deadline) {
		return
	}
	l.logger.Warn("leadership transfer timed out, remaining leader",
		"target", t.target)
	l.finishTransfer(ErrLeadershipTransferTimeout)
}

func (l *leaderBase) finishTransfer(err error) {
	t := l.transfer
	l.transfer = nil
	t.done <- err
}
