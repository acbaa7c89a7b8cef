package raft

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Snapshot represents a point-in-time image of the state machine covering
// every entry up to and including LastIncludedIndex.
type Snapshot struct {
	LastIncludedIndex int64
	LastIncludedTerm  int64
	Data              []byte
}

// SnapshotMeta contains snapshot metadata without the data.
type SnapshotMeta struct {
	LastIncludedIndex int64
	LastIncludedTerm  int64
	Size              int64
}

const snapshotHeaderSize = 8 + 8 + 8 + 4

// SnapshotStore keeps the latest snapshot in a directory.
//
// Each snapshot file starts with [index:8][term:8][dataLen:8][crc32:4].
// snapshot.meta names the current file; older files are removed once a newer
// one is durable.
type SnapshotStore struct {
	dir string
	mu  sync.RWMutex
}

// NewSnapshotStore creates a new snapshot store.
func NewSnapshotStore(dir string) (*SnapshotStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &SnapshotStore{dir: dir}, nil
}

func (s *SnapshotStore) snapshotFilename(index, term int64) string {
	return filepath.Join(s.dir, "snapshot-"+strconv.FormatInt(index, 10)+"-"+strconv.FormatInt(term, 10)+".snap")
}

func (s *SnapshotStore) metaFilename() string {
	return filepath.Join(s.dir, "snapshot.meta")
}

// Save writes a snapshot and makes it the current one.
func (s *SnapshotStore) Save(snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filename := s.snapshotFilename(snap.LastIncludedIndex, snap.LastIncludedTerm)
	header := make([]byte, snapshotHeaderSize)
	binary.LittleEndian.PutUint64(header[0:8], uint64(snap.LastIncludedIndex))
	binary.LittleEndian.PutUint64(header[8:16], uint64(snap.LastIncludedTerm))
	binary.LittleEndian.PutUint64(header[16:24], uint64(len(snap.Data)))
	binary.LittleEndian.PutUint32(header[24:28], crc32.ChecksumIEEE(snap.Data))

	if err := writeFileSync(filename, header, snap.Data); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	meta := make([]byte, 24)
	binary.LittleEndian.PutUint64(meta[0:8], uint64(snap.LastIncludedIndex))
	binary.LittleEndian.PutUint64(meta[8:16], uint64(snap.LastIncludedTerm))
	binary.LittleEndian.PutUint64(meta[16:24], uint64(len(snap.Data)))
	if err := writeFileSync(s.metaFilename(), meta); err != nil {
		return fmt.Errorf("save snapshot meta: %w", err)
	}

	s.removeOlder(filepath.Base(filename))
	return nil
}

// removeOlder deletes every snapshot file except keep.
func (s *SnapshotStore) removeOlder(keep string) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if name == keep || !strings.HasPrefix(name, "snapshot-") || !strings.HasSuffix(name, ".snap") {
			continue
		}
		_ = os.Remove(filepath.Join(s.dir, name))
	}
}

// Load returns the current snapshot, or ErrSnapshotNotFound.
func (s *SnapshotStore) Load() (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, err := s.loadMeta()
	if err != nil {
		return nil, err
	}
	return s.loadFromFile(s.snapshotFilename(meta.LastIncludedIndex, meta.LastIncludedTerm))
}

// GetMeta returns the metadata of the current snapshot.
func (s *SnapshotStore) GetMeta() (*SnapshotMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadMeta()
}

func (s *SnapshotStore) loadMeta() (*SnapshotMeta, error) {
	data, err := os.ReadFile(s.metaFilename())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}
	if len(data) < 24 {
		return nil, fmt.Errorf("%w: short snapshot meta", ErrLogCorrupted)
	}
	return &SnapshotMeta{
		LastIncludedIndex: int64(binary.LittleEndian.Uint64(data[0:8])),
		LastIncludedTerm:  int64(binary.LittleEndian.Uint64(data[8:16])),
		Size:              int64(binary.LittleEndian.Uint64(data[16:24])),
	}, nil
}

func (s *SnapshotStore) loadFromFile(filename string) (*Snapshot, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header := make([]byte, snapshotHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("%w: snapshot header: %v", ErrLogCorrupted, err)
	}

	snap := &Snapshot{
		LastIncludedIndex: int64(binary.LittleEndian.Uint64(header[0:8])),
		LastIncludedTerm:  int64(binary.LittleEndian.Uint64(header[8:16])),
	}
	dataLen := binary.LittleEndian.Uint64(header[16:24])
	snap.Data = make([]byte, dataLen)
	if _, err := io.ReadFull(f, snap.Data); err != nil {
		return nil, fmt.Errorf("%w: snapshot data: %v", ErrLogCorrupted, err)
	}
	if crc32.ChecksumIEEE(snap.Data) != binary.LittleEndian.Uint32(header[24:28]) {
		return nil, fmt.Errorf("%w: snapshot checksum mismatch", ErrLogCorrupted)
	}
	return snap, nil
}

// writeFileSync writes parts to a temporary file, syncs it and renames it
// over path.
func writeFileSync(path string, parts ...[]byte) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	for _, p := range parts {
		if _, err := f.Write(p); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
