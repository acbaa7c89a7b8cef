package raft

import (
	"hash/crc32"
	"time"
)

const (
	// InitialChunkHash is carried as the previous-chunk hash of chunk 1.
	InitialChunkHash uint32 = ^uint32(0)

	// FirstChunkIndex is the index of the first chunk of a snapshot.
	FirstChunkIndex int32 = 1

	// InvalidChunkIndex in an InstallSnapshotReply asks the leader to
	// restart the transfer from the first chunk.
	InvalidChunkIndex int32 = -1
)

// chunkHash returns the hash used to chain snapshot chunks.
func chunkHash(chunk []byte) uint32 {
	return crc32.ChecksumIEEE(chunk)
}

// LeaderInstallSnapshotState tracks one snapshot transfer to one follower.
// A chunk is sent only after the previous one was acknowledged.
type LeaderInstallSnapshotState struct {
	snapshot    *Snapshot
	chunkSize   int
	totalChunks int32

	// chunkIndex is the chunk in flight or last acknowledged; 0 before the
	// first send.
	chunkIndex    int32
	awaitingReply bool
	resend        bool
	// prevHash is the hash of the last acknowledged chunk.
	prevHash    uint32
	chunkSentAt time.Time
}

// NewLeaderInstallSnapshotState prepares to stream snap in chunks of at most
// chunkSize bytes. An empty snapshot is sent as one empty chunk.
func NewLeaderInstallSnapshotState(snap *Snapshot, chunkSize int) *LeaderInstallSnapshotState {
	total := int32(1)
	if n := len(snap.Data); n > 0 {
		total = int32((n + chunkSize - 1) / chunkSize)
	}
	return &LeaderInstallSnapshotState{
		snapshot:    snap,
		chunkSize:   chunkSize,
		totalChunks: total,
		prevHash:    InitialChunkHash,
	}
}

// Snapshot returns the snapshot being sent.
func (s *LeaderInstallSnapshotState) Snapshot() *Snapshot { return s.snapshot }

// TotalChunks returns the number of chunks in the snapshot.
func (s *LeaderInstallSnapshotState) TotalChunks() int32 { return s.totalChunks }

// ChunkIndex returns the chunk in flight or last acknowledged.
func (s *LeaderInstallSnapshotState) ChunkIndex() int32 { return s.chunkIndex }

// CanSendNextChunk reports whether no chunk is awaiting a reply and chunks remain.
func (s *LeaderInstallSnapshotState) CanSendNextChunk() bool {
	if s.awaitingReply {
		return false
	}
	return s.resend || s.chunkIndex < s.totalChunks
}

// IsLastChunk reports whether index is the final chunk.
func (s *LeaderInstallSnapshotState) IsLastChunk(index int32) bool {
	return index == s.totalChunks
}

// NextChunk returns the chunk to send now: the same chunk again after a
// failure, otherwise the one after the last acknowledged.
func (s *LeaderInstallSnapshotState) NextChunk(now time.Time) (index int32, data []byte, prevHash uint32) {
	if !s.resend {
		s.chunkIndex++
	}
	s.resend = false
	s.awaitingReply = true
	s.chunkSentAt = now
	return s.chunkIndex, s.chunk(s.chunkIndex), s.prevHash
}

func (s *LeaderInstallSnapshotState) chunk(index int32) []byte {
	start := int64(index-1) * int64(s.chunkSize)
	data := s.snapshot.Data
	if start >= int64(len(data)) {
		return nil
	}
	end := start + int64(s.chunkSize)
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[start:end]
}

// MarkSendStatus records the reply for the chunk in flight.
func (s *LeaderInstallSnapshotState) MarkSendStatus(success bool) {
	s.awaitingReply = false
	if success {
		s.prevHash = chunkHash(s.chunk(s.chunkIndex))
		s.resend = false
		return
	}
	s.resend = true
}

// IsChunkTimedOut reports whether the chunk in flight went unanswered for
// longer than timeout.
func (s *LeaderInstallSnapshotState) IsChunkTimedOut(timeout time.Duration, now time.Time) bool {
	return s.awaitingReply && now.Sub(s.chunkSentAt) > timeout
}

// MarkChunkTimedOut arranges for the chunk in flight to be sent again.
func (s *LeaderInstallSnapshotState) MarkChunkTimedOut() {
	s.awaitingReply = false
	s.resend = true
}

// Reset restarts the transfer from the first chunk.
func (s *LeaderInstallSnapshotState) Reset() {
	s.chunkIndex = 0
	s.awaitingReply = false
	s.resend = false
	s.prevHash = InitialChunkHash
}
