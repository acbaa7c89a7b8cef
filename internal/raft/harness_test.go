package raft

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errRejectedCommand = errors.New("rejected command")

// recordingStateMachine keeps the applied commands in order. Commands equal
// to reject are refused.
type recordingStateMachine struct {
	mu      sync.Mutex
	applied []string
	reject  string
}

func (sm *recordingStateMachine) Apply(e *LogEntry) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.reject != "" && string(e.Command) == sm.reject {
		return errRejectedCommand
	}
	sm.applied = append(sm.applied, string(e.Command))
	return nil
}

func (sm *recordingStateMachine) Snapshot() ([]byte, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return json.Marshal(sm.applied)
}

func (sm *recordingStateMachine) Restore(data []byte) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	var applied []string
	if len(data) > 0 {
		if err := json.Unmarshal(data, &applied); err != nil {
			return err
		}
	}
	sm.applied = applied
	return nil
}

func (sm *recordingStateMachine) Applied() []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return append([]string(nil), sm.applied...)
}

type sentMessage struct {
	to  uint64
	msg Message
}

// recordingSender collects outgoing messages instead of delivering them.
type recordingSender struct {
	sent  []sentMessage
	addrs map[uint64]string
}

func (s *recordingSender) Send(to uint64, msg Message) {
	s.sent = append(s.sent, sentMessage{to: to, msg: msg})
}

func (s *recordingSender) SetPeerAddress(id uint64, addr string) {
	if s.addrs == nil {
		s.addrs = make(map[uint64]string)
	}
	s.addrs[id] = addr
}

// take returns and forgets everything sent so far.
func (s *recordingSender) take() []sentMessage {
	out := s.sent
	s.sent = nil
	return out
}

// sentTo returns the messages of type T sent to member to.
func sentTo[T any](sent []sentMessage, to uint64) []T {
	var out []T
	for _, s := range sent {
		if m, ok := s.msg.(T); ok && s.to == to {
			out = append(out, m)
		}
	}
	return out
}

// lastSent returns the last message of type T sent to member to.
func lastSent[T any](t *testing.T, sent []sentMessage, to uint64) T {
	t.Helper()
	msgs := sentTo[T](sent, to)
	require.NotEmpty(t, msgs, "nothing of type %T sent to %d", *new(T), to)
	return msgs[len(msgs)-1]
}

type scheduledMessage struct {
	delay time.Duration
	msg   Message
	done  bool
}

// manualScheduler holds timer firings until a test delivers them.
type manualScheduler struct {
	pending []*scheduledMessage
}

func (s *manualScheduler) Schedule(d time.Duration, msg Message) func() {
	if len(s.pending) > 64 {
		live := s.pending[:0]
		for _, p := range s.pending {
			if !p.done {
				live = append(live, p)
			}
		}
		s.pending = live
	}
	sm := &scheduledMessage{delay: d, msg: msg}
	s.pending = append(s.pending, sm)
	return func() { sm.done = true }
}

// take consumes the most recently scheduled live firing matching match.
func (s *manualScheduler) take(match func(Message) bool) (*scheduledMessage, bool) {
	for i := len(s.pending) - 1; i >= 0; i-- {
		p := s.pending[i]
		if !p.done && match(p.msg) {
			p.done = true
			return p, true
		}
	}
	return nil, false
}

func isElectionTimeout(msg Message) bool {
	_, ok := msg.(*ElectionTimeout)
	return ok
}

func isSendHeartbeat(msg Message) bool {
	_, ok := msg.(*SendHeartbeat)
	return ok
}

func isIsolatedLeaderCheck(msg Message) bool {
	_, ok := msg.(*IsolatedLeaderCheck)
	return ok
}

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// testConfig returns a deterministic configuration: a one second election
// timeout without variance.
func testConfig(id uint64, peers ...uint64) *Config {
	cfg := DefaultConfig()
	cfg.ID = id
	cfg.Addr = fmt.Sprintf("127.0.0.1:%d", 4440+id)
	cfg.ElectionTimeVariance = 0
	for _, p := range peers {
		cfg.Peers = append(cfg.Peers, &PeerInfo{
			ID:     p,
			Addr:   fmt.Sprintf("127.0.0.1:%d", 4440+p),
			Voting: Voting,
		})
	}
	return cfg
}

// testMember drives the behaviors of one participant synchronously: timers
// fire only when asked, captures persist inline and outgoing messages are
// recorded.
type testMember struct {
	t        *testing.T
	id       uint64
	cfg      *Config
	ctx      *Context
	storage  *MemoryStorage
	sm       *recordingStateMachine
	sender   *recordingSender
	sched    *manualScheduler
	clock    *fakeClock
	posted   []Message
	behavior Behavior
}

func newTestMember(t *testing.T, cfg *Config, storage *MemoryStorage, clock *fakeClock) *testMember {
	t.Helper()
	if storage == nil {
		storage = NewMemoryStorage()
	}
	if clock == nil {
		clock = newFakeClock()
	}
	m := &testMember{
		t:       t,
		id:      cfg.ID,
		cfg:     cfg,
		storage: storage,
		sm:      &recordingStateMachine{},
		sender:  &recordingSender{},
		sched:   &manualScheduler{},
		clock:   clock,
	}
	ctx, err := NewContext(cfg, ContextOptions{
		Storage:      storage,
		StateMachine: m.sm,
		Sender:       m.sender,
		Scheduler:    m.sched,
		Now:          clock.now,
		Execute:      func(f func()) { f() },
		Post:         func(msg Message) { m.posted = append(m.posted, msg) },
	})
	require.NoError(t, err)
	require.NoError(t, ctx.Recover())
	m.ctx = ctx
	m.behavior = newFollower(ctx, 0)
	return m
}

// handle delivers msg and then everything the member posted to itself.
func (m *testMember) handle(from uint64, msg Message) {
	m.t.Helper()
	m.step(from, msg)
	for len(m.posted) > 0 {
		next := m.posted[0]
		m.posted = m.posted[1:]
		m.step(m.id, next)
	}
}

func (m *testMember) step(from uint64, msg Message) {
	m.t.Helper()
	prev := m.behavior
	next, err := prev.Handle(from, msg)
	require.NoError(m.t, err)
	if next != prev {
		prev.Close()
		m.behavior = next
	}
}

// fire delivers the pending timer matching match, if there is one.
func (m *testMember) fire(match func(Message) bool) bool {
	m.t.Helper()
	p, ok := m.sched.take(match)
	if ok {
		m.handle(m.id, p.msg)
	}
	return ok
}

func (m *testMember) timeout() {
	m.t.Helper()
	require.True(m.t, m.fire(isElectionTimeout), "no election timer pending")
}

// elect makes m campaign and win with the votes of voters.
func (m *testMember) elect(voters ...uint64) {
	m.t.Helper()
	m.timeout()
	term := m.ctx.CurrentTerm()
	for _, v := range voters {
		m.handle(v, &RequestVoteReply{Term: term, VoteGranted: true})
	}
	require.True(m.t, m.behavior.Role().IsLeader(), "member %d did not win", m.id)
	m.sender.take()
}

// ack replies to the leader on behalf of follower from.
func (m *testMember) ack(from uint64, lastIndex, lastTerm int64) {
	m.t.Helper()
	m.handle(from, &AppendEntriesReply{
		Term:           m.ctx.CurrentTerm(),
		Success:        true,
		LogLastIndex:   lastIndex,
		LogLastTerm:    lastTerm,
		PayloadVersion: 1,
	})
}

func (m *testMember) propose(cmd string) chan error {
	m.t.Helper()
	done := make(chan error, 1)
	m.handle(m.id, &Propose{Command: []byte(cmd), Done: done})
	return done
}

func (m *testMember) role() Role { return m.behavior.Role() }

func (m *testMember) log() *ReplicatedLog { return m.ctx.log }

// requireDone returns the result of a completed request.
func requireDone(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	default:
		t.Fatal("request still pending")
		return nil
	}
}

func requirePending(t *testing.T, done chan error) {
	t.Helper()
	select {
	case err := <-done:
		t.Fatalf("request completed early: %v", err)
	default:
	}
}

func entry(index, term int64, cmd string) *LogEntry {
	return &LogEntry{Index: index, Term: term, Type: LogEntryCommand, Command: []byte(cmd)}
}

// seededStorage returns storage holding ti and entries.
func seededStorage(t *testing.T, ti TermInfo, entries ...*LogEntry) *MemoryStorage {
	t.Helper()
	s := NewMemoryStorage()
	require.NoError(t, s.SaveTermInfo(ti))
	require.NoError(t, s.AppendEntries(entries))
	return s
}
