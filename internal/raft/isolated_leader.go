package raft

// IsolatedLeader is a leader that cannot reach a voting majority. It keeps
// replicating so it notices when contact returns, but refuses new proposals
// since they could not be committed.
type IsolatedLeader struct {
	*leaderBase
	handedOff bool
}

func newIsolatedLeader(ctx *Context, shared *leaderBase) *IsolatedLeader {
	l := &IsolatedLeader{leaderBase: shared}
	shared.assume(l)
	if shared.transfer != nil {
		shared.finishTransfer(ErrLeaderIsolated)
	}
	return l
}

func (l *IsolatedLeader) Role() Role { return RoleIsolatedLeader }

func (l *IsolatedLeader) Close() {
	if !l.handedOff {
		l.close()
	}
}

func (l *IsolatedLeader) Handle(from uint64, msg Message) (Behavior, error) {
	switch m := msg.(type) {
	case *IsolatedLeaderCheck:
		if !l.isolationTimer.fired(m.Gen) {
			return l, nil
		}
		l.scheduleIsolationCheck()
		return l.checkRecovered()
	case *Propose, *TransferLeadership:
		failRequest(msg, ErrLeaderIsolated)
		return l, nil
	}

	next, err := l.handle(from, msg)
	if err != nil || next != Behavior(l) {
		return next, err
	}
	if _, ok := msg.(*AppendEntriesReply); ok {
		return l.checkRecovered()
	}
	return l, nil
}

func (l *IsolatedLeader) checkRecovered() (Behavior, error) {
	if l.isLeaderIsolated() {
		return l, nil
	}
	l.logger.Info("regained contact with a voting majority", "term", l.ctx.CurrentTerm())
	l.handedOff = true
	return newLeader(l.ctx, l.leaderBase), nil
}
