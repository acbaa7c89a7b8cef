package raft

// Candidate campaigns for leadership in a new term.
type Candidate struct {
	behaviorBase

	votes         map[uint64]bool
	votesRequired int
	electionTimer timer
}

// newCandidate starts an election: it increments the term, votes for itself
// and asks every voting peer for a vote. Without voting peers it wins at once
// and returns the resulting leader.
func newCandidate(ctx *Context) (Behavior, error) {
	c := &Candidate{
		behaviorBase:  newBehaviorBase(ctx, RoleCandidate),
		votes:         make(map[uint64]bool),
		votesRequired: majority(ctx.VotingPeerCount() + 1),
		electionTimer: timer{ctx: ctx},
	}
	if err := c.startNewTerm(); err != nil {
		return c, err
	}
	if len(c.votes) >= c.votesRequired {
		c.Close()
		return c.becomeLeader()
	}
	return c, nil
}

func (c *Candidate) Role() Role       { return RoleCandidate }
func (c *Candidate) LeaderID() uint64 { return 0 }

func (c *Candidate) Close() {
	c.electionTimer.stop()
}

func (c *Candidate) startNewTerm() error {
	term := c.ctx.CurrentTerm() + 1
	if err := c.ctx.SetTermInfo(TermInfo{Term: term, VotedFor: c.ctx.ID()}); err != nil {
		return err
	}
	c.votes = map[uint64]bool{c.ctx.ID(): true}
	c.logger.Info("starting election", "term", term, "votesRequired", c.votesRequired)

	rv := &RequestVote{
		Term:         term,
		CandidateID:  c.ctx.ID(),
		LastLogIndex: c.log.LastIndex(),
		LastLogTerm:  c.log.LastTerm(),
	}
	for _, p := range c.ctx.Peers() {
		if p.IsVoting() {
			c.ctx.Send(p.ID, rv)
		}
	}
	c.electionTimer.schedule(c.ctx.electionDuration(), func(gen uint64) Message { return &ElectionTimeout{Gen: gen} })
	return nil
}

func (c *Candidate) Handle(from uint64, msg Message) (Behavior, error) {
	switch m := msg.(type) {
	case *AppendEntries, *InstallSnapshot:
		// A leader exists for a term at least as new as ours.
		if msg.(termed).rpcTerm() >= c.ctx.CurrentTerm() {
			if _, err := c.adoptHigherTerm(msg); err != nil {
				return c, err
			}
			c.logger.Info("found leader, becoming follower", "term", msg.(termed).rpcTerm(), "from", from)
			return c.toFollower(from, from, msg)
		}
		if ae, ok := m.(*AppendEntries); ok {
			c.ctx.Send(from, &AppendEntriesReply{
				Term:           c.ctx.CurrentTerm(),
				LogLastIndex:   c.log.LastIndex(),
				LogLastTerm:    c.log.LastTerm(),
				PayloadVersion: c.ctx.cfg.PayloadVersion,
			})
			c.logger.Debug("rejecting AppendEntries from stale term", "leader", ae.LeaderID, "term", ae.Term)
		} else {
			c.ctx.Send(from, &InstallSnapshotReply{Term: c.ctx.CurrentTerm(), ChunkIndex: m.(*InstallSnapshot).ChunkIndex})
		}
		return c, nil
	}

	changed, err := c.adoptHigherTerm(msg)
	if err != nil {
		return c, err
	}
	if changed {
		c.logger.Info("saw higher term, becoming follower", "term", c.ctx.CurrentTerm(), "from", from)
		if _, ok := msg.(*RequestVote); ok {
			return c.toFollower(from, 0, msg)
		}
		return c.toFollower(from, 0, nil)
	}

	switch m := msg.(type) {
	case *RequestVote:
		return c, c.handleRequestVote(from, m)
	case *RequestVoteReply:
		return c.handleVote(from, m)
	case *ElectionTimeout:
		if !c.electionTimer.fired(m.Gen) {
			return c, nil
		}
		c.logger.Info("election timed out", "term", c.ctx.CurrentTerm(), "votes", len(c.votes))
		if err := c.startNewTerm(); err != nil {
			return c, err
		}
		return c, nil
	case *CaptureSnapshotReply:
		return c, c.handleCaptureReply(m)
	default:
		failRequest(msg, ErrNotLeader)
		return c, nil
	}
}

func (c *Candidate) handleVote(from uint64, reply *RequestVoteReply) (Behavior, error) {
	if !reply.VoteGranted || reply.Term != c.ctx.CurrentTerm() {
		return c, nil
	}
	peer := c.ctx.Peer(from)
	if peer == nil || !peer.IsVoting() {
		return c, nil
	}
	c.votes[from] = true
	c.logger.Debug("vote received", "from", from, "votes", len(c.votes), "votesRequired", c.votesRequired)
	if len(c.votes) < c.votesRequired {
		return c, nil
	}
	c.Close()
	return c.becomeLeader()
}

// becomeLeader returns a Leader when the whole log is applied, otherwise a
// PreLeader that first commits an entry of the new term.
func (c *Candidate) becomeLeader() (Behavior, error) {
	c.logger.Info("won election", "term", c.ctx.CurrentTerm(), "votes", len(c.votes))
	if c.log.LastApplied() == c.log.LastIndex() {
		return newLeader(c.ctx, nil), nil
	}
	return newPreLeader(c.ctx)
}

// toFollower switches to Follower and, when msg is set, lets the follower
// handle it.
func (c *Candidate) toFollower(from, leaderID uint64, msg Message) (Behavior, error) {
	c.Close()
	f := newFollower(c.ctx, leaderID)
	if msg == nil {
		return f, nil
	}
	return f.Handle(from, msg)
}
