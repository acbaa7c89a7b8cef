package raft

import (
	"encoding/binary"
	"testing"

	"github.com/KilimcininKorOglu/concord/internal/slicing"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestEncodeMessagePrefixesSender(t *testing.T) {
	msgType, data, err := EncodeMessage(7, &TimeoutNow{Term: 3})
	require.NoError(t, err)
	require.Equal(t, RPCTimeoutNow, msgType)
	require.Len(t, data, 16)
	require.Equal(t, uint64(7), binary.LittleEndian.Uint64(data[0:8]))
	require.Equal(t, uint64(3), binary.LittleEndian.Uint64(data[8:16]))
}

func TestMessageCodec(t *testing.T) {
	id := uuid.New()
	msgs := []Message{
		&RequestVote{Term: 4, CandidateID: 2, LastLogIndex: 17, LastLogTerm: 3},
		&RequestVoteReply{Term: 4, VoteGranted: true},
		&AppendEntries{
			Term:                 5,
			LeaderID:             1,
			PrevLogIndex:         -1,
			PrevLogTerm:          -1,
			Entries:              []*LogEntry{entry(0, 5, "a"), {Index: 1, Term: 5, Type: LogEntryNoop, Command: []byte{}}},
			LeaderCommit:         -1,
			ReplicatedToAllIndex: -1,
			PayloadVersion:       1,
			LeaderAddress:        "10.0.0.1:4445",
		},
		&AppendEntriesReply{Term: 5, LogLastIndex: 9, LogLastTerm: 4, PayloadVersion: 1, ForceInstallSnapshot: true, NeedsLeaderAddress: true},
		&InstallSnapshot{
			Term:              6,
			LeaderID:          1,
			LastIncludedIndex: 100,
			LastIncludedTerm:  5,
			Data:              []byte("chunk"),
			ChunkIndex:        2,
			TotalChunks:       3,
			LastChunkHash:     0xdeadbeef,
		},
		&InstallSnapshotReply{Term: 6, ChunkIndex: InvalidChunkIndex},
		&TimeoutNow{Term: 6},
		&slicing.MessageSlice{ID: id, SliceIndex: 1, TotalSlices: 4, Data: []byte("part"), LastSliceHash: slicing.InitialSliceHash},
		&slicing.MessageSliceReply{ID: id, SliceIndex: slicing.InvalidSliceIndex},
	}
	for _, msg := range msgs {
		msgType, data, err := EncodeMessage(9, msg)
		require.NoError(t, err, "%T", msg)

		from, got, err := DecodeMessage(msgType, data)
		require.NoError(t, err, "%T", msg)
		require.Equal(t, uint64(9), from)
		require.Equal(t, msg, got)
	}
}

func TestDecodeMessageTruncated(t *testing.T) {
	msgType, data, err := EncodeMessage(1, &AppendEntries{
		Term:         2,
		LeaderID:     1,
		PrevLogIndex: 3,
		PrevLogTerm:  1,
		Entries:      []*LogEntry{entry(4, 2, "x"), entry(5, 2, "yy")},
		LeaderCommit: 3,
	})
	require.NoError(t, err)
	for n := 0; n < len(data); n++ {
		_, _, err := DecodeMessage(msgType, data[:n])
		require.ErrorIs(t, err, ErrLogCorrupted, "length %d", n)
	}
}

func TestUnknownMessage(t *testing.T) {
	_, _, err := EncodeMessage(1, "hello")
	require.ErrorIs(t, err, ErrUnknownMessage)

	_, _, err = DecodeMessage(0xff, make([]byte, 8))
	require.ErrorIs(t, err, ErrUnknownMessage)
}

func TestAppendEntriesPayloadForSlicer(t *testing.T) {
	ae := &AppendEntries{
		Term:                 3,
		LeaderID:             2,
		PrevLogIndex:         10,
		PrevLogTerm:          3,
		Entries:              []*LogEntry{entry(11, 3, "big")},
		LeaderCommit:         -1,
		ReplicatedToAllIndex: 4,
		PayloadVersion:       1,
	}
	got, err := decodeAppendEntries(encodeAppendEntries(ae))
	require.NoError(t, err)
	require.Equal(t, ae, got)
}
