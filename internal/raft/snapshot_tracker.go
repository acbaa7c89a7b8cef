package raft

import (
	"fmt"
)

// SnapshotTracker assembles a snapshot on the follower side. Chunks must
// arrive strictly in order starting at 1, each naming the hash of the chunk
// before it. The final chunk seals the tracker.
type SnapshotTracker struct {
	leaderID          uint64
	lastIncludedIndex int64
	lastIncludedTerm  int64
	totalChunks       int32

	lastChunkIndex int32
	lastChunkHash  uint32
	sealed         bool
	sink           *SpoolBuffer
}

// NewSnapshotTracker starts tracking a snapshot announced by the first
// InstallSnapshot of a transfer.
func NewSnapshotTracker(first *InstallSnapshot, sink *SpoolBuffer) *SnapshotTracker {
	return &SnapshotTracker{
		leaderID:          first.LeaderID,
		lastIncludedIndex: first.LastIncludedIndex,
		lastIncludedTerm:  first.LastIncludedTerm,
		totalChunks:       first.TotalChunks,
		lastChunkHash:     InitialChunkHash,
		sink:              sink,
	}
}

// LeaderID returns the leader sending the snapshot.
func (t *SnapshotTracker) LeaderID() uint64 { return t.leaderID }

// LastChunkIndex returns the index of the last accepted chunk.
func (t *SnapshotTracker) LastChunkIndex() int32 { return t.lastChunkIndex }

// Matches reports whether is belongs to the transfer being tracked.
func (t *SnapshotTracker) Matches(is *InstallSnapshot) bool {
	return is.LeaderID == t.leaderID &&
		is.LastIncludedIndex == t.lastIncludedIndex &&
		is.LastIncludedTerm == t.lastIncludedTerm &&
		is.TotalChunks == t.totalChunks
}

// AddChunk accepts the next chunk and reports whether it was the last one.
func (t *SnapshotTracker) AddChunk(chunkIndex int32, chunk []byte, lastChunkHash uint32) (bool, error) {
	if t.sealed {
		return false, fmt.Errorf("%w: chunk %d after the snapshot was complete", ErrInvalidChunk, chunkIndex)
	}
	if chunkIndex != t.lastChunkIndex+1 || chunkIndex > t.totalChunks {
		return false, fmt.Errorf("%w: expected chunk %d of %d, got %d",
			ErrInvalidChunk, t.lastChunkIndex+1, t.totalChunks, chunkIndex)
	}
	if lastChunkHash != t.lastChunkHash {
		return false, fmt.Errorf("%w: chunk %d previous hash %08x, expected %08x",
			ErrInvalidChunk, chunkIndex, lastChunkHash, t.lastChunkHash)
	}
	if _, err := t.sink.Write(chunk); err != nil {
		return false, fmt.Errorf("spool snapshot chunk: %w", err)
	}
	t.lastChunkIndex = chunkIndex
	t.lastChunkHash = chunkHash(chunk)
	if chunkIndex == t.totalChunks {
		t.sealed = true
	}
	return t.sealed, nil
}

// Snapshot returns the assembled snapshot once the last chunk has arrived.
func (t *SnapshotTracker) Snapshot() (*Snapshot, error) {
	if !t.sealed {
		return nil, fmt.Errorf("%w: %d of %d chunks", ErrSnapshotIncomplete, t.lastChunkIndex, t.totalChunks)
	}
	data, err := t.sink.Bytes()
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		LastIncludedIndex: t.lastIncludedIndex,
		LastIncludedTerm:  t.lastIncludedTerm,
		Data:              data,
	}, nil
}

// Close releases the spooled data.
func (t *SnapshotTracker) Close() error {
	return t.sink.Close()
}
