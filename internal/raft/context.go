package raft

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/KilimcininKorOglu/concord/internal/logging"
	"github.com/KilimcininKorOglu/concord/internal/slicing"
)

// StateMachine is the replicated application. Apply is called once per
// committed command entry, in index order. Snapshot must return a consistent
// image of everything applied so far.
type StateMachine interface {
	Apply(entry *LogEntry) error
	Snapshot() ([]byte, error)
	Restore(data []byte) error
}

// Sender delivers messages to other members. It must not block.
type Sender interface {
	Send(to uint64, msg Message)
}

// PeerAddressUpdater is implemented by senders that route by address and
// want to hear about addresses learned at runtime.
type PeerAddressUpdater interface {
	SetPeerAddress(id uint64, addr string)
}

// ContextOptions are the collaborators of a Context.
type ContextOptions struct {
	Storage      Storage
	StateMachine StateMachine
	Sender       Sender
	Scheduler    Scheduler
	Logger       logging.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// Rand randomizes election timeouts.
	Rand *rand.Rand
	// Execute runs background work; it defaults to starting a goroutine.
	Execute func(func())
	// Post enqueues a message for this participant's own dispatch loop.
	Post func(Message)
}

// Context is the state shared by every behavior of one participant. It is
// owned by the dispatch goroutine and must not be touched from elsewhere.
type Context struct {
	cfg       *Config
	log       *ReplicatedLog
	termInfo  TermInfo
	peers     []*PeerInfo
	peerByID  map[uint64]*PeerInfo
	storage   Storage
	sm        StateMachine
	sender    Sender
	scheduler Scheduler
	slicer    *slicing.Slicer
	logger    logging.Logger
	now       func() time.Time
	rand      *rand.Rand
	execute   func(func())
	post      func(Message)
	snapshots *snapshotManager

	timerGen uint64

	// persistedSnapshotIndex is the index covered by the snapshot in storage;
	// the journal holds the entries after it.
	persistedSnapshotIndex int64
}

// NewContext creates a Context. Call Recover before handing it to a behavior.
func NewContext(cfg *Config, opts ContextOptions) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Storage == nil || opts.StateMachine == nil || opts.Sender == nil || opts.Scheduler == nil || opts.Post == nil {
		return nil, fmt.Errorf("%w: missing collaborator", ErrInvalidConfig)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano() + int64(cfg.ID)))
	}
	if opts.Execute == nil {
		opts.Execute = func(f func()) { go f() }
	}

	c := &Context{
		cfg:                    cfg,
		log:                    NewReplicatedLog(),
		peerByID:               make(map[uint64]*PeerInfo),
		storage:                opts.Storage,
		sm:                     opts.StateMachine,
		sender:                 opts.Sender,
		scheduler:              opts.Scheduler,
		logger:                 opts.Logger.WithFields("member", cfg.ID),
		now:                    opts.Now,
		rand:                   opts.Rand,
		execute:                opts.Execute,
		post:                   opts.Post,
		persistedSnapshotIndex: -1,
	}
	for _, p := range cfg.Peers {
		cp := *p
		c.peers = append(c.peers, &cp)
		c.peerByID[cp.ID] = &cp
	}
	sort.Slice(c.peers, func(i, j int) bool { return c.peers[i].ID < c.peers[j].ID })

	c.slicer = slicing.NewSlicer(func(to uint64, msg interface{}) {
		c.sender.Send(to, msg)
	}, slicing.Options{
		SliceSize: cfg.MaxMessageSliceSize,
		Expiry:    3 * cfg.ElectionTimeout(),
		Now:       c.now,
		Logger:    c.logger.Named("slicer"),
	})
	c.snapshots = &snapshotManager{ctx: c}
	return c, nil
}

// Recover loads the snapshot, term info and journal from storage.
func (c *Context) Recover() error {
	snap, err := c.storage.LoadSnapshot()
	switch {
	case err == nil:
		if err := c.sm.Restore(snap.Data); err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
		c.log.ResetToSnapshot(snap.LastIncludedIndex, snap.LastIncludedTerm)
		c.persistedSnapshotIndex = snap.LastIncludedIndex
	case !errors.Is(err, ErrSnapshotNotFound):
		return fmt.Errorf("load snapshot: %w", err)
	}

	ti, err := c.storage.LoadTermInfo()
	if err != nil {
		return fmt.Errorf("load term info: %w", err)
	}
	c.termInfo = ti

	entries, err := c.storage.LoadEntries()
	if err != nil {
		return fmt.Errorf("load journal: %w", err)
	}
	for _, e := range entries {
		if e.Index <= c.log.SnapshotIndex() {
			continue
		}
		if err := c.log.Append(e); err != nil {
			c.logger.Warn("journal does not continue the log, ignoring the rest", "index", e.Index, "error", err)
			break
		}
	}
	c.logger.Info("recovered state",
		"term", ti.Term,
		"snapshotIndex", c.log.SnapshotIndex(),
		"lastIndex", c.log.LastIndex())
	return nil
}

// ID returns this participant's id.
func (c *Context) ID() uint64 { return c.cfg.ID }

// Config returns the configuration.
func (c *Context) Config() *Config { return c.cfg }

// Log returns the replicated log.
func (c *Context) Log() *ReplicatedLog { return c.log }

// Logger returns the participant's logger.
func (c *Context) Logger() logging.Logger { return c.logger }

// TermInfo returns the current term and vote.
func (c *Context) TermInfo() TermInfo { return c.termInfo }

// CurrentTerm returns the current term.
func (c *Context) CurrentTerm() int64 { return c.termInfo.Term }

// Peers returns the other members ordered by id.
func (c *Context) Peers() []*PeerInfo { return c.peers }

// Peer returns the member with id, or nil.
func (c *Context) Peer(id uint64) *PeerInfo { return c.peerByID[id] }

// IsVoting reports whether this participant is a voting member.
func (c *Context) IsVoting() bool { return c.cfg.Voting == Voting }

// VotingPeerCount returns the number of voting peers, excluding self.
func (c *Context) VotingPeerCount() int {
	n := 0
	for _, p := range c.peers {
		if p.IsVoting() {
			n++
		}
	}
	return n
}

// SetTermInfo persists ti and then makes it current.
func (c *Context) SetTermInfo(ti TermInfo) error {
	if err := c.storage.SaveTermInfo(ti); err != nil {
		return fmt.Errorf("persist term info: %w", err)
	}
	c.termInfo = ti
	return nil
}

// appendEntries persists entries and then adds them to the log.
func (c *Context) appendEntries(entries ...*LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := c.storage.AppendEntries(entries); err != nil {
		return fmt.Errorf("persist entries: %w", err)
	}
	for _, e := range entries {
		if err := c.log.Append(e); err != nil {
			return err
		}
	}
	return nil
}

// truncateLog removes index and everything after it, on disk first.
func (c *Context) truncateLog(index int64) error {
	if err := c.storage.TruncateFrom(index); err != nil {
		return fmt.Errorf("truncate journal: %w", err)
	}
	return c.log.TruncateFrom(index)
}

// journalSize returns the number of entries persisted after the snapshot.
func (c *Context) journalSize() int64 {
	return c.log.LastIndex() - c.persistedSnapshotIndex
}

// applyCommitted applies every committed but unapplied entry in order and
// calls applied for each of them, no-ops included. An entry the state
// machine rejects still counts as applied; the error goes to applied.
func (c *Context) applyCommitted(applied func(*LogEntry, error)) {
	for c.log.LastApplied() < c.log.CommitIndex() {
		index := c.log.LastApplied() + 1
		e := c.log.Get(index)
		if e == nil {
			c.logger.Error("committed entry missing from the log", "index", index)
			return
		}
		var err error
		if e.Type == LogEntryCommand {
			if err = c.sm.Apply(e); err != nil {
				c.logger.Warn("state machine rejected entry", "index", e.Index, "term", e.Term, "error", err)
			}
		}
		c.log.SetLastApplied(index)
		if applied != nil {
			applied(e, err)
		}
	}
}

// Send hands msg to the sender.
func (c *Context) Send(to uint64, msg Message) {
	c.sender.Send(to, msg)
}

// nextTimerGen returns a generation number never used before.
func (c *Context) nextTimerGen() uint64 {
	c.timerGen++
	return c.timerGen
}

// electionDuration returns the election timeout plus a random variance.
func (c *Context) electionDuration() time.Duration {
	d := c.cfg.ElectionTimeout()
	if v := c.cfg.ElectionTimeVariance; v > 0 {
		d += time.Duration(c.rand.Int63n(int64(v)))
	}
	return d
}

// setPeerAddress records an address learned at runtime.
func (c *Context) setPeerAddress(id uint64, addr string) {
	p := c.peerByID[id]
	if p == nil || p.Addr == addr {
		return
	}
	p.Addr = addr
	if u, ok := c.sender.(PeerAddressUpdater); ok {
		u.SetPeerAddress(id, addr)
	}
	c.logger.Info("learned peer address", "peer", id, "addr", addr)
}

// status builds a Status for behavior b.
func (c *Context) status(b Behavior) Status {
	return Status{
		ID:            c.cfg.ID,
		Role:          b.Role().String(),
		Term:          c.termInfo.Term,
		VotedFor:      c.termInfo.VotedFor,
		LeaderID:      b.LeaderID(),
		CommitIndex:   c.log.CommitIndex(),
		LastApplied:   c.log.LastApplied(),
		LastIndex:     c.log.LastIndex(),
		LastTerm:      c.log.LastTerm(),
		SnapshotIndex: c.log.SnapshotIndex(),
		SnapshotTerm:  c.log.SnapshotTerm(),
		LogSize:       c.log.Size(),
	}
}
