package raft

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func storageImplementations(t *testing.T) map[string]func() Storage {
	return map[string]func() Storage{
		"memory": func() Storage { return NewMemoryStorage() },
		"file": func() Storage {
			s, err := NewFileStorage(t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func indexesOf(entries []*LogEntry) []int64 {
	out := make([]int64, len(entries))
	for i, e := range entries {
		out[i] = e.Index
	}
	return out
}

func TestStorage(t *testing.T) {
	for name, open := range storageImplementations(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("term info", func(t *testing.T) {
				s := open()
				ti, err := s.LoadTermInfo()
				require.NoError(t, err)
				require.Equal(t, TermInfo{}, ti)

				require.NoError(t, s.SaveTermInfo(TermInfo{Term: 4, VotedFor: 2}))
				ti, err = s.LoadTermInfo()
				require.NoError(t, err)
				require.Equal(t, TermInfo{Term: 4, VotedFor: 2}, ti)
			})

			t.Run("append and truncate", func(t *testing.T) {
				s := open()
				require.NoError(t, s.AppendEntries([]*LogEntry{entry(0, 1, "a"), entry(1, 1, "b")}))
				require.NoError(t, s.AppendEntries([]*LogEntry{entry(2, 2, "c")}))

				entries, err := s.LoadEntries()
				require.NoError(t, err)
				require.Equal(t, []int64{0, 1, 2}, indexesOf(entries))
				require.Equal(t, []byte("c"), entries[2].Command)

				require.NoError(t, s.TruncateFrom(1))
				require.NoError(t, s.AppendEntries([]*LogEntry{entry(1, 3, "d")}))
				entries, err = s.LoadEntries()
				require.NoError(t, err)
				require.Equal(t, []int64{0, 1}, indexesOf(entries))
				require.Equal(t, int64(3), entries[1].Term)

				require.NoError(t, s.TruncateFrom(7), "beyond the end is a no-op")
				require.NoError(t, s.TruncateFrom(0))
				entries, err = s.LoadEntries()
				require.NoError(t, err)
				require.Empty(t, entries)
			})

			t.Run("compact", func(t *testing.T) {
				s := open()
				require.NoError(t, s.AppendEntries([]*LogEntry{entry(0, 1, "a"), entry(1, 1, "b"), entry(2, 1, "c")}))
				require.NoError(t, s.Compact(1))
				entries, err := s.LoadEntries()
				require.NoError(t, err)
				require.Equal(t, []int64{2}, indexesOf(entries))

				require.NoError(t, s.AppendEntries([]*LogEntry{entry(3, 1, "d")}))
				require.NoError(t, s.Compact(5))
				entries, err = s.LoadEntries()
				require.NoError(t, err)
				require.Empty(t, entries)

				require.NoError(t, s.AppendEntries([]*LogEntry{entry(6, 2, "e")}))
				entries, err = s.LoadEntries()
				require.NoError(t, err)
				require.Equal(t, []int64{6}, indexesOf(entries))
			})

			t.Run("snapshot", func(t *testing.T) {
				s := open()
				_, err := s.LoadSnapshot()
				require.ErrorIs(t, err, ErrSnapshotNotFound)

				data := []byte("image")
				require.NoError(t, s.SaveSnapshot(&Snapshot{LastIncludedIndex: 3, LastIncludedTerm: 1, Data: data}))
				data[0] = 'X'

				snap, err := s.LoadSnapshot()
				require.NoError(t, err)
				require.Equal(t, &Snapshot{LastIncludedIndex: 3, LastIncludedTerm: 1, Data: []byte("image")}, snap)
			})
		})
	}
}

func TestFileStorageReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStorage(dir)
	require.NoError(t, err)
	require.NoError(t, s.SaveTermInfo(TermInfo{Term: 2, VotedFor: 1}))
	require.NoError(t, s.AppendEntries([]*LogEntry{entry(0, 1, "a"), entry(1, 2, "b"), entry(2, 2, "c")}))
	require.NoError(t, s.Compact(0))
	require.NoError(t, s.SaveSnapshot(&Snapshot{LastIncludedIndex: 0, LastIncludedTerm: 1, Data: []byte("snap")}))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	s, err = NewFileStorage(dir)
	require.NoError(t, err)
	defer s.Close()

	ti, err := s.LoadTermInfo()
	require.NoError(t, err)
	require.Equal(t, TermInfo{Term: 2, VotedFor: 1}, ti)

	entries, err := s.LoadEntries()
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, indexesOf(entries))

	snap, err := s.LoadSnapshot()
	require.NoError(t, err)
	require.Equal(t, []byte("snap"), snap.Data)
}

func TestFileStorageCutsTornRecord(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStorage(dir)
	require.NoError(t, err)
	require.NoError(t, s.AppendEntries([]*LogEntry{entry(0, 1, "a"), entry(1, 1, "b")}))
	require.NoError(t, s.Close())

	f, err := os.OpenFile(filepath.Join(dir, "journal.dat"), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{40, 0, 0, 0, 1, 2, 3, 4, 5})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s, err = NewFileStorage(dir)
	require.NoError(t, err)
	defer s.Close()

	entries, err := s.LoadEntries()
	require.NoError(t, err)
	require.Equal(t, []int64{0, 1}, indexesOf(entries))

	require.NoError(t, s.AppendEntries([]*LogEntry{entry(2, 1, "c")}))
	entries, err = s.LoadEntries()
	require.NoError(t, err)
	require.Equal(t, []int64{0, 1, 2}, indexesOf(entries))
}

func TestFileStorageRejectsShortTermFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStorage(dir)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "term.dat"), []byte{1, 2, 3}, 0644))
	_, err = s.LoadTermInfo()
	require.ErrorIs(t, err, ErrLogCorrupted)
}
