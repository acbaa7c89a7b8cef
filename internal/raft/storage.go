package raft

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Storage persists everything a participant must remember across restarts.
// Every method returns only after the data is durable.
type Storage interface {
	LoadTermInfo() (TermInfo, error)
	SaveTermInfo(TermInfo) error

	// AppendEntries adds entries to the end of the journal.
	AppendEntries(entries []*LogEntry) error
	// TruncateFrom removes the journal entry at index and everything after it.
	TruncateFrom(index int64) error
	// LoadEntries returns the journal in index order.
	LoadEntries() ([]*LogEntry, error)
	// Compact drops journal entries up to and including index.
	Compact(index int64) error

	SaveSnapshot(*Snapshot) error
	// LoadSnapshot returns ErrSnapshotNotFound when none was saved.
	LoadSnapshot() (*Snapshot, error)

	Close() error
}

// MemoryStorage is a Storage that keeps everything in memory.
type MemoryStorage struct {
	mu       sync.Mutex
	termInfo TermInfo
	entries  []*LogEntry
	snapshot *Snapshot
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) LoadTermInfo() (TermInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.termInfo, nil
}

func (s *MemoryStorage) SaveTermInfo(ti TermInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.termInfo = ti
	return nil
}

func (s *MemoryStorage) AppendEntries(entries []*LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *MemoryStorage) TruncateFrom(index int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.Index >= index {
			s.entries = s.entries[:i]
			break
		}
	}
	return nil
}

func (s *MemoryStorage) LoadEntries() ([]*LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*LogEntry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

func (s *MemoryStorage) Compact(index int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for n < len(s.entries) && s.entries[n].Index <= index {
		n++
	}
	s.entries = append([]*LogEntry(nil), s.entries[n:]...)
	return nil
}

func (s *MemoryStorage) SaveSnapshot(snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *snap
	cp.Data = append([]byte(nil), snap.Data...)
	s.snapshot = &cp
	return nil
}

func (s *MemoryStorage) LoadSnapshot() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return nil, ErrSnapshotNotFound
	}
	cp := *s.snapshot
	return &cp, nil
}

func (s *MemoryStorage) Close() error { return nil }

// FileStorage is a Storage backed by a data directory:
//
//	term.dat      [term:8][votedFor:8]
//	journal.dat   records of [len:4][crc32:4][entry]
//	snapshots/    SnapshotStore
type FileStorage struct {
	dir       string
	snapshots *SnapshotStore

	mu      sync.Mutex
	journal *os.File
	// offsets[i] is the file offset of the i-th journal record; size is the
	// offset one past the last record.
	offsets    []int64
	firstIndex int64
	size       int64
}

const journalRecordHeader = 8

// NewFileStorage opens or creates a FileStorage in dir. A torn record at the
// end of the journal is cut off.
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	snapshots, err := NewSnapshotStore(filepath.Join(dir, "snapshots"))
	if err != nil {
		return nil, err
	}
	s := &FileStorage{dir: dir, snapshots: snapshots, firstIndex: -1}
	if err := s.openJournal(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStorage) journalPath() string { return filepath.Join(s.dir, "journal.dat") }

func (s *FileStorage) openJournal() error {
	f, err := os.OpenFile(s.journalPath(), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	entries, offsets, end, err := scanJournal(f)
	if err != nil {
		f.Close()
		return err
	}
	if err := f.Truncate(end); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Seek(end, io.SeekStart); err != nil {
		f.Close()
		return err
	}
	s.journal = f
	s.offsets = offsets
	s.size = end
	s.firstIndex = -1
	if len(entries) > 0 {
		s.firstIndex = entries[0].Index
	}
	return nil
}

// scanJournal reads records until the end of the file or the first damaged
// record and returns the entries, their offsets and the end of the valid data.
func scanJournal(f *os.File) ([]*LogEntry, []int64, int64, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, nil, 0, err
	}
	r := bufio.NewReader(f)
	var (
		entries []*LogEntry
		offsets []int64
		pos     int64
	)
	header := make([]byte, journalRecordHeader)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			break
		}
		n := binary.LittleEndian.Uint32(header[0:4])
		sum := binary.LittleEndian.Uint32(header[4:8])
		body := make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			break
		}
		if crc32.ChecksumIEEE(body) != sum {
			break
		}
		e, err := DeserializeLogEntry(body)
		if err != nil {
			break
		}
		if len(entries) > 0 && e.Index != entries[len(entries)-1].Index+1 {
			break
		}
		entries = append(entries, e)
		offsets = append(offsets, pos)
		pos += journalRecordHeader + int64(n)
	}
	return entries, offsets, pos, nil
}

func (s *FileStorage) LoadTermInfo() (TermInfo, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "term.dat"))
	if err != nil {
		if os.IsNotExist(err) {
			return TermInfo{}, nil
		}
		return TermInfo{}, err
	}
	if len(data) < 16 {
		return TermInfo{}, fmt.Errorf("%w: short term file", ErrLogCorrupted)
	}
	return TermInfo{
		Term:     int64(binary.LittleEndian.Uint64(data[0:8])),
		VotedFor: binary.LittleEndian.Uint64(data[8:16]),
	}, nil
}

func (s *FileStorage) SaveTermInfo(ti TermInfo) error {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint64(data[0:8], uint64(ti.Term))
	binary.LittleEndian.PutUint64(data[8:16], ti.VotedFor)
	return writeFileSync(filepath.Join(s.dir, "term.dat"), data)
}

func (s *FileStorage) AppendEntries(entries []*LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf []byte
	offsets := make([]int64, 0, len(entries))
	pos := s.size
	for _, e := range entries {
		body := e.Serialize()
		var header [journalRecordHeader]byte
		binary.LittleEndian.PutUint32(header[0:4], uint32(len(body)))
		binary.LittleEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(body))
		buf = append(buf, header[:]...)
		buf = append(buf, body...)
		offsets = append(offsets, pos)
		pos += journalRecordHeader + int64(len(body))
	}
	if _, err := s.journal.WriteAt(buf, s.size); err != nil {
		return err
	}
	if err := s.journal.Sync(); err != nil {
		return err
	}
	if len(s.offsets) == 0 {
		s.firstIndex = entries[0].Index
	}
	s.offsets = append(s.offsets, offsets...)
	s.size = pos
	return nil
}

func (s *FileStorage) TruncateFrom(index int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.offsets) == 0 || index > s.firstIndex+int64(len(s.offsets))-1 {
		return nil
	}
	i := index - s.firstIndex
	if i < 0 {
		i = 0
	}
	end := s.offsets[i]
	if err := s.journal.Truncate(end); err != nil {
		return err
	}
	if err := s.journal.Sync(); err != nil {
		return err
	}
	s.offsets = s.offsets[:i]
	s.size = end
	if len(s.offsets) == 0 {
		s.firstIndex = -1
	}
	return nil
}

func (s *FileStorage) LoadEntries() ([]*LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, _, _, err := scanJournal(s.journal)
	return entries, err
}

// Compact rewrites the journal without entries up to and including index.
func (s *FileStorage) Compact(index int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.offsets) == 0 || index < s.firstIndex {
		return nil
	}
	keepFrom := index - s.firstIndex + 1
	var tail []byte
	if keepFrom < int64(len(s.offsets)) {
		start := s.offsets[keepFrom]
		tail = make([]byte, s.size-start)
		if _, err := s.journal.ReadAt(tail, start); err != nil {
			return fmt.Errorf("compact journal: %w", err)
		}
	}
	if err := writeFileSync(s.journalPath(), tail); err != nil {
		return fmt.Errorf("compact journal: %w", err)
	}
	s.journal.Close()
	return s.openJournal()
}

func (s *FileStorage) SaveSnapshot(snap *Snapshot) error {
	return s.snapshots.Save(snap)
}

func (s *FileStorage) LoadSnapshot() (*Snapshot, error) {
	return s.snapshots.Load()
}

func (s *FileStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}
