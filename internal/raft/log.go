package raft

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Log entry types.
const (
	LogEntryCommand uint8 = iota // opaque state machine command
	LogEntryNoop                 // appended by a new leader, never applied
)

// LogEntry represents a single entry in the Raft log.
type LogEntry struct {
	Index   int64 // 0-based position in the log
	Term    int64 // term in which the leader created the entry
	Type    uint8
	Command []byte
}

const logEntryHeaderSize = 8 + 8 + 1 + 4

// Size returns the number of bytes the entry occupies when serialized.
func (e *LogEntry) Size() int {
	return logEntryHeaderSize + len(e.Command)
}

// Serialize encodes the log entry to bytes.
// Format: [Index:8][Term:8][Type:1][CommandLen:4][Command:N]
func (e *LogEntry) Serialize() []byte {
	buf := make([]byte, e.Size())
	e.serializeTo(buf)
	return buf
}

func (e *LogEntry) serializeTo(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(e.Index))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(e.Term))
	buf[16] = e.Type
	binary.LittleEndian.PutUint32(buf[17:21], uint32(len(e.Command)))
	copy(buf[21:], e.Command)
}

// DeserializeLogEntry decodes a log entry from bytes.
func DeserializeLogEntry(data []byte) (*LogEntry, error) {
	e, _, err := readLogEntry(data)
	return e, err
}

// readLogEntry decodes one entry and reports how many bytes it consumed.
func readLogEntry(data []byte) (*LogEntry, int, error) {
	if len(data) < logEntryHeaderSize {
		return nil, 0, ErrLogCorrupted
	}

	cmdLen := int(binary.LittleEndian.Uint32(data[17:21]))
	if len(data) < logEntryHeaderSize+cmdLen {
		return nil, 0, ErrLogCorrupted
	}

	cmd := make([]byte, cmdLen)
	copy(cmd, data[logEntryHeaderSize:logEntryHeaderSize+cmdLen])

	return &LogEntry{
		Index:   int64(binary.LittleEndian.Uint64(data[0:8])),
		Term:    int64(binary.LittleEndian.Uint64(data[8:16])),
		Type:    data[16],
		Command: cmd,
	}, logEntryHeaderSize + cmdLen, nil
}

// ReplicatedLog is the in-memory view of a participant's log: the entries
// after the snapshot boundary plus the commit and apply positions.
//
// Index -1 means "none": an empty log has LastIndex -1, and a participant that
// has committed or applied nothing has CommitIndex and LastApplied -1.
// ReplicatedLog performs no I/O.
type ReplicatedLog struct {
	entries       []*LogEntry
	snapshotIndex int64
	snapshotTerm  int64
	commitIndex   int64
	lastApplied   int64
	dataSize      int64
}

// NewReplicatedLog creates an empty log.
func NewReplicatedLog() *ReplicatedLog {
	return &ReplicatedLog{
		snapshotIndex: -1,
		snapshotTerm:  -1,
		commitIndex:   -1,
		lastApplied:   -1,
	}
}

// SnapshotIndex returns the index of the last entry covered by the snapshot.
func (l *ReplicatedLog) SnapshotIndex() int64 { return l.snapshotIndex }

// SnapshotTerm returns the term of the last entry covered by the snapshot.
func (l *ReplicatedLog) SnapshotTerm() int64 { return l.snapshotTerm }

// CommitIndex returns the highest index known to be committed.
func (l *ReplicatedLog) CommitIndex() int64 { return l.commitIndex }

// LastApplied returns the highest index applied to the state machine.
func (l *ReplicatedLog) LastApplied() int64 { return l.lastApplied }

// Size returns the number of entries held in memory.
func (l *ReplicatedLog) Size() int { return len(l.entries) }

// DataSize returns the serialized size of the in-memory entries.
func (l *ReplicatedLog) DataSize() int64 { return l.dataSize }

// SetCommitIndex advances the commit index. Lower values are ignored and the
// index is capped at LastIndex.
func (l *ReplicatedLog) SetCommitIndex(index int64) {
	if last := l.LastIndex(); index > last {
		index = last
	}
	if index > l.commitIndex {
		l.commitIndex = index
	}
}

// SetLastApplied records the last applied index. It never exceeds the commit index.
func (l *ReplicatedLog) SetLastApplied(index int64) {
	if index > l.commitIndex {
		index = l.commitIndex
	}
	if index > l.lastApplied {
		l.lastApplied = index
	}
}

// LastIndex returns the index of the last entry, or the snapshot index when
// no entries are held.
func (l *ReplicatedLog) LastIndex() int64 {
	if n := len(l.entries); n > 0 {
		return l.entries[n-1].Index
	}
	return l.snapshotIndex
}

// LastTerm returns the term of the last entry, or the snapshot term.
func (l *ReplicatedLog) LastTerm() int64 {
	if n := len(l.entries); n > 0 {
		return l.entries[n-1].Term
	}
	return l.snapshotTerm
}

func (l *ReplicatedLog) offset(index int64) int {
	return int(index - l.snapshotIndex - 1)
}

// Get returns the entry at index, or nil if it is not held in memory.
func (l *ReplicatedLog) Get(index int64) *LogEntry {
	if !l.IsPresent(index) {
		return nil
	}
	return l.entries[l.offset(index)]
}

// IsPresent reports whether the entry at index is held in memory.
func (l *ReplicatedLog) IsPresent(index int64) bool {
	if index <= l.snapshotIndex || index < 0 {
		return false
	}
	return l.offset(index) < len(l.entries)
}

// IsInSnapshot reports whether index is covered by the snapshot.
func (l *ReplicatedLog) IsInSnapshot(index int64) bool {
	return index >= 0 && index <= l.snapshotIndex
}

// TermAt returns the term of the entry at index, -1 if the entry is not held.
func (l *ReplicatedLog) TermAt(index int64) int64 {
	if e := l.Get(index); e != nil {
		return e.Term
	}
	return -1
}

// EntryOrSnapshotTerm returns the term at index, consulting the snapshot
// boundary when the entry has been compacted away. It returns -1 when the
// term is unknown.
func (l *ReplicatedLog) EntryOrSnapshotTerm(index int64) int64 {
	if index == l.snapshotIndex {
		return l.snapshotTerm
	}
	return l.TermAt(index)
}

// EntryOrSnapshotIndex returns index if it is held or is the snapshot
// boundary, -1 otherwise.
func (l *ReplicatedLog) EntryOrSnapshotIndex(index int64) int64 {
	if index == l.snapshotIndex || l.IsPresent(index) {
		return index
	}
	return -1
}

// Append adds an entry at LastIndex+1.
func (l *ReplicatedLog) Append(e *LogEntry) error {
	if want := l.LastIndex() + 1; e.Index != want {
		return fmt.Errorf("%w: append index %d, expected %d", ErrLogIndexOutOfRange, e.Index, want)
	}
	if e.Term < l.LastTerm() {
		return fmt.Errorf("%w: append term %d below last term %d", ErrLogIndexOutOfRange, e.Term, l.LastTerm())
	}
	l.entries = append(l.entries, e)
	l.dataSize += int64(e.Size())
	return nil
}

// From returns consecutive entries starting at index, at most maxEntries of
// them and no more than maxDataSize bytes, except that the first entry is
// always returned even when it alone exceeds maxDataSize.
func (l *ReplicatedLog) From(index int64, maxEntries int, maxDataSize int) []*LogEntry {
	if !l.IsPresent(index) || maxEntries <= 0 {
		return nil
	}
	start := l.offset(index)
	var out []*LogEntry
	size := 0
	for i := start; i < len(l.entries) && len(out) < maxEntries; i++ {
		sz := l.entries[i].Size()
		if len(out) > 0 && size+sz > maxDataSize {
			break
		}
		out = append(out, l.entries[i])
		size += sz
	}
	return out
}

// TruncateFrom removes the entry at index and everything after it.
// Committed entries cannot be removed.
func (l *ReplicatedLog) TruncateFrom(index int64) error {
	if index <= l.commitIndex {
		return fmt.Errorf("%w: index %d, commit index %d", ErrTruncateCommitted, index, l.commitIndex)
	}
	if !l.IsPresent(index) {
		return nil
	}
	off := l.offset(index)
	for _, e := range l.entries[off:] {
		l.dataSize -= int64(e.Size())
	}
	for i := off; i < len(l.entries); i++ {
		l.entries[i] = nil
	}
	l.entries = l.entries[:off]
	return nil
}

// SnapshotPreCommit drops in-memory entries up to and including index and
// moves the snapshot boundary there. Indexes beyond LastApplied are ignored.
func (l *ReplicatedLog) SnapshotPreCommit(index, term int64) {
	if index <= l.snapshotIndex || index > l.lastApplied {
		return
	}
	n := l.offset(index) + 1
	if n > len(l.entries) {
		n = len(l.entries)
	}
	for _, e := range l.entries[:n] {
		l.dataSize -= int64(e.Size())
	}
	remaining := make([]*LogEntry, len(l.entries)-n)
	copy(remaining, l.entries[n:])
	l.entries = remaining
	l.snapshotIndex = index
	l.snapshotTerm = term
}

// ResetToSnapshot discards every entry and places the log directly after a
// snapshot covering index/term, which is also committed and applied.
func (l *ReplicatedLog) ResetToSnapshot(index, term int64) {
	l.entries = nil
	l.dataSize = 0
	l.snapshotIndex = index
	l.snapshotTerm = term
	l.commitIndex = index
	l.lastApplied = index
}

func writeString(w io.Writer, s string) error {
	return writeBytes(w, []byte(s))
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	return string(b), err
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, ErrLogCorrupted
	}
	if int64(n) > int64(r.Len()) {
		return nil, ErrLogCorrupted
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, ErrLogCorrupted
	}
	return b, nil
}
