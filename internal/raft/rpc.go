package raft

import (
	"encoding/binary"

	"github.com/KilimcininKorOglu/concord/internal/slicing"
	"github.com/google/uuid"
)

// Wire message types.
const (
	RPCRequestVote uint8 = iota + 1
	RPCRequestVoteReply
	RPCAppendEntries
	RPCAppendEntriesReply
	RPCInstallSnapshot
	RPCInstallSnapshotReply
	RPCTimeoutNow
	RPCMessageSlice
	RPCMessageSliceReply
)

// Message is anything a Behavior can be handed: wire messages, timer firings
// and local requests.
type Message interface{}

// termed is implemented by the wire messages that carry a term.
type termed interface {
	rpcTerm() int64
}

// RequestVote is sent by candidates to gather votes.
type RequestVote struct {
	Term         int64
	CandidateID  uint64
	LastLogIndex int64
	LastLogTerm  int64
}

// RequestVoteReply is the response to RequestVote.
type RequestVoteReply struct {
	Term        int64
	VoteGranted bool
}

// AppendEntries replicates entries; with no entries it is a heartbeat.
// PrevLogIndex/PrevLogTerm are -1 when replication starts at the beginning
// of the log. LeaderCommit is -1 when the leader withholds its commit index.
type AppendEntries struct {
	Term                 int64
	LeaderID             uint64
	PrevLogIndex         int64
	PrevLogTerm          int64
	Entries              []*LogEntry
	LeaderCommit         int64
	ReplicatedToAllIndex int64
	PayloadVersion       int16
	LeaderAddress        string // set only for followers that asked for it
}

// AppendEntriesReply reports the outcome of AppendEntries along with the
// follower's last log index and term.
type AppendEntriesReply struct {
	Term                 int64
	Success              bool
	LogLastIndex         int64
	LogLastTerm          int64
	PayloadVersion       int16
	ForceInstallSnapshot bool
	NeedsLeaderAddress   bool
}

// InstallSnapshot carries one chunk of a snapshot. ChunkIndex is 1-based and
// LastChunkHash is the hash of the previous chunk, or InitialChunkHash for
// the first one.
type InstallSnapshot struct {
	Term              int64
	LeaderID          uint64
	LastIncludedIndex int64
	LastIncludedTerm  int64
	Data              []byte
	ChunkIndex        int32
	TotalChunks       int32
	LastChunkHash     uint32
}

// InstallSnapshotReply acknowledges a chunk. ChunkIndex is InvalidChunkIndex
// when the follower wants the transfer restarted.
type InstallSnapshotReply struct {
	Term       int64
	ChunkIndex int32
	Success    bool
}

// TimeoutNow tells a follower to start an election immediately.
type TimeoutNow struct {
	Term int64
}

func (m *RequestVote) rpcTerm() int64          { return m.Term }
func (m *RequestVoteReply) rpcTerm() int64     { return m.Term }
func (m *AppendEntries) rpcTerm() int64        { return m.Term }
func (m *AppendEntriesReply) rpcTerm() int64   { return m.Term }
func (m *InstallSnapshot) rpcTerm() int64      { return m.Term }
func (m *InstallSnapshotReply) rpcTerm() int64 { return m.Term }

// EncodeMessage serializes msg for the transport. Every frame starts with
// the sender id: [from:8][body].
func EncodeMessage(from uint64, msg Message) (uint8, []byte, error) {
	e := &encoder{}
	e.u64(from)
	var t uint8
	switch m := msg.(type) {
	case *RequestVote:
		t = RPCRequestVote
		e.i64(m.Term)
		e.u64(m.CandidateID)
		e.i64(m.LastLogIndex)
		e.i64(m.LastLogTerm)
	case *RequestVoteReply:
		t = RPCRequestVoteReply
		e.i64(m.Term)
		e.bool(m.VoteGranted)
	case *AppendEntries:
		t = RPCAppendEntries
		e.appendEntries(m)
	case *AppendEntriesReply:
		t = RPCAppendEntriesReply
		e.i64(m.Term)
		e.bool(m.Success)
		e.i64(m.LogLastIndex)
		e.i64(m.LogLastTerm)
		e.u16(uint16(m.PayloadVersion))
		e.bool(m.ForceInstallSnapshot)
		e.bool(m.NeedsLeaderAddress)
	case *InstallSnapshot:
		t = RPCInstallSnapshot
		e.i64(m.Term)
		e.u64(m.LeaderID)
		e.i64(m.LastIncludedIndex)
		e.i64(m.LastIncludedTerm)
		e.u32(uint32(m.ChunkIndex))
		e.u32(uint32(m.TotalChunks))
		e.u32(m.LastChunkHash)
		e.bytes(m.Data)
	case *InstallSnapshotReply:
		t = RPCInstallSnapshotReply
		e.i64(m.Term)
		e.u32(uint32(m.ChunkIndex))
		e.bool(m.Success)
	case *TimeoutNow:
		t = RPCTimeoutNow
		e.i64(m.Term)
	case *slicing.MessageSlice:
		t = RPCMessageSlice
		e.raw(m.ID[:])
		e.u32(uint32(m.SliceIndex))
		e.u32(uint32(m.TotalSlices))
		e.u32(m.LastSliceHash)
		e.bytes(m.Data)
	case *slicing.MessageSliceReply:
		t = RPCMessageSliceReply
		e.raw(m.ID[:])
		e.u32(uint32(m.SliceIndex))
		e.bool(m.Success)
	default:
		return 0, nil, ErrUnknownMessage
	}
	return t, e.buf, nil
}

// DecodeMessage parses a frame produced by EncodeMessage.
func DecodeMessage(msgType uint8, data []byte) (uint64, Message, error) {
	d := &decoder{data: data}
	from := d.u64()
	var msg Message
	switch msgType {
	case RPCRequestVote:
		msg = &RequestVote{
			Term:         d.i64(),
			CandidateID:  d.u64(),
			LastLogIndex: d.i64(),
			LastLogTerm:  d.i64(),
		}
	case RPCRequestVoteReply:
		msg = &RequestVoteReply{Term: d.i64(), VoteGranted: d.bool()}
	case RPCAppendEntries:
		msg = d.appendEntries()
	case RPCAppendEntriesReply:
		msg = &AppendEntriesReply{
			Term:                 d.i64(),
			Success:              d.bool(),
			LogLastIndex:         d.i64(),
			LogLastTerm:          d.i64(),
			PayloadVersion:       int16(d.u16()),
			ForceInstallSnapshot: d.bool(),
			NeedsLeaderAddress:   d.bool(),
		}
	case RPCInstallSnapshot:
		msg = &InstallSnapshot{
			Term:              d.i64(),
			LeaderID:          d.u64(),
			LastIncludedIndex: d.i64(),
			LastIncludedTerm:  d.i64(),
			ChunkIndex:        int32(d.u32()),
			TotalChunks:       int32(d.u32()),
			LastChunkHash:     d.u32(),
			Data:              d.bytes(),
		}
	case RPCInstallSnapshotReply:
		msg = &InstallSnapshotReply{Term: d.i64(), ChunkIndex: int32(d.u32()), Success: d.bool()}
	case RPCTimeoutNow:
		msg = &TimeoutNow{Term: d.i64()}
	case RPCMessageSlice:
		msg = &slicing.MessageSlice{
			ID:            d.uuid(),
			SliceIndex:    int(int32(d.u32())),
			TotalSlices:   int(int32(d.u32())),
			LastSliceHash: d.u32(),
			Data:          d.bytes(),
		}
	case RPCMessageSliceReply:
		msg = &slicing.MessageSliceReply{
			ID:         d.uuid(),
			SliceIndex: int(int32(d.u32())),
			Success:    d.bool(),
		}
	default:
		return 0, nil, ErrUnknownMessage
	}
	if d.err != nil {
		return 0, nil, d.err
	}
	return from, msg, nil
}

// encodeAppendEntries serializes AppendEntries without the frame header, for
// the slicer.
func encodeAppendEntries(m *AppendEntries) []byte {
	e := &encoder{}
	e.appendEntries(m)
	return e.buf
}

func decodeAppendEntries(data []byte) (*AppendEntries, error) {
	d := &decoder{data: data}
	m := d.appendEntries()
	if d.err != nil {
		return nil, d.err
	}
	return m, nil
}

type encoder struct {
	buf []byte
}

func (e *encoder) u16(v uint16) { e.buf = binary.LittleEndian.AppendUint16(e.buf, v) }
func (e *encoder) u32(v uint32) { e.buf = binary.LittleEndian.AppendUint32(e.buf, v) }
func (e *encoder) u64(v uint64) { e.buf = binary.LittleEndian.AppendUint64(e.buf, v) }
func (e *encoder) i64(v int64)  { e.u64(uint64(v)) }
func (e *encoder) raw(b []byte) { e.buf = append(e.buf, b...) }

func (e *encoder) bool(v bool) {
	if v {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
}

func (e *encoder) bytes(b []byte) {
	e.u32(uint32(len(b)))
	e.raw(b)
}

func (e *encoder) appendEntries(m *AppendEntries) {
	e.i64(m.Term)
	e.u64(m.LeaderID)
	e.i64(m.PrevLogIndex)
	e.i64(m.PrevLogTerm)
	e.i64(m.LeaderCommit)
	e.i64(m.ReplicatedToAllIndex)
	e.u16(uint16(m.PayloadVersion))
	e.bytes([]byte(m.LeaderAddress))
	e.u32(uint32(len(m.Entries)))
	for _, entry := range m.Entries {
		start := len(e.buf)
		e.buf = append(e.buf, make([]byte, entry.Size())...)
		entry.serializeTo(e.buf[start:])
	}
}

// decoder reads fields in order and remembers the first error; reads after
// an error return zero values.
type decoder struct {
	data []byte
	off  int
	err  error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.data)-d.off < n {
		d.err = ErrLogCorrupted
		return nil
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u16() uint16 {
	if b := d.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (d *decoder) u32() uint32 {
	if b := d.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) u64() uint64 {
	if b := d.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (d *decoder) i64() int64 { return int64(d.u64()) }

func (d *decoder) bool() bool {
	if b := d.take(1); b != nil {
		return b[0] == 1
	}
	return false
}

func (d *decoder) bytes() []byte {
	n := d.u32()
	b := d.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (d *decoder) uuid() uuid.UUID {
	var id uuid.UUID
	if b := d.take(len(id)); b != nil {
		copy(id[:], b)
	}
	return id
}

func (d *decoder) appendEntries() *AppendEntries {
	m := &AppendEntries{
		Term:                 d.i64(),
		LeaderID:             d.u64(),
		PrevLogIndex:         d.i64(),
		PrevLogTerm:          d.i64(),
		LeaderCommit:         d.i64(),
		ReplicatedToAllIndex: d.i64(),
		PayloadVersion:       int16(d.u16()),
		LeaderAddress:        string(d.bytes()),
	}
	n := d.u32()
	if d.err != nil {
		return m
	}
	for i := uint32(0); i < n; i++ {
		entry, used, err := readLogEntry(d.data[d.off:])
		if err != nil {
			d.err = err
			return m
		}
		d.off += used
		m.Entries = append(m.Entries, entry)
	}
	return m
}
