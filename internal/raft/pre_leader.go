package raft

// PreLeader is a newly elected leader whose log holds entries of earlier
// terms that it has not applied. It appends a no-op of its own term, whose
// commitment commits everything before it, and becomes Leader once the whole
// log is applied.
type PreLeader struct {
	*leaderBase
	handedOff bool
}

func newPreLeader(ctx *Context) (Behavior, error) {
	p := &PreLeader{leaderBase: newLeaderBase(ctx, RolePreLeader)}
	p.assume(p)

	noop := &LogEntry{
		Index: ctx.log.LastIndex() + 1,
		Term:  ctx.CurrentTerm(),
		Type:  LogEntryNoop,
	}
	if err := ctx.appendEntries(noop); err != nil {
		p.Close()
		return p, err
	}
	p.logger.Info("appended no-op entry",
		"index", noop.Index,
		"term", noop.Term,
		"lastApplied", ctx.log.LastApplied())

	p.announce()
	p.possiblyUpdateCommitIndex()
	return p.settle()
}

func (p *PreLeader) Role() Role { return RolePreLeader }

func (p *PreLeader) Close() {
	if !p.handedOff {
		p.close()
	}
}

func (p *PreLeader) Handle(from uint64, msg Message) (Behavior, error) {
	if _, ok := msg.(*TransferLeadership); ok {
		failRequest(msg, ErrNotLeader)
		return p, nil
	}
	next, err := p.handle(from, msg)
	if err != nil || next != Behavior(p) {
		return next, err
	}
	return p.settle()
}

// settle hands over to Leader once every entry is applied.
func (p *PreLeader) settle() (Behavior, error) {
	if p.log.LastApplied() < p.log.LastIndex() {
		return p, nil
	}
	p.logger.Info("applied entries of earlier terms, becoming leader",
		"term", p.ctx.CurrentTerm(), "lastApplied", p.log.LastApplied())
	p.handedOff = true
	return newLeader(p.ctx, p.leaderBase), nil
}
