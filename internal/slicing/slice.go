package slicing

import (
	"errors"
	"hash/crc32"

	"github.com/google/uuid"
)

// ErrExpired is reported when a transfer made no progress in time.
var ErrExpired = errors.New("slicing: transfer expired")

const (
	// InitialSliceHash is carried by the first slice of a transfer.
	InitialSliceHash uint32 = ^uint32(0)

	// InvalidSliceIndex in a reply asks the sender to restart the transfer.
	InvalidSliceIndex = -1
)

// MessageSlice is one piece of a sliced payload. SliceIndex is 1-based.
type MessageSlice struct {
	ID            uuid.UUID
	SliceIndex    int
	TotalSlices   int
	Data          []byte
	LastSliceHash uint32
}

// MessageSliceReply acknowledges or rejects a slice.
type MessageSliceReply struct {
	ID         uuid.UUID
	SliceIndex int
	Success    bool
}

// SendFunc delivers a slice message to a member.
type SendFunc func(to uint64, msg interface{})

// Hash returns the checksum used to chain slices.
func Hash(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

func sliceCount(size, sliceSize int) int {
	if size == 0 {
		return 1
	}
	return (size + sliceSize - 1) / sliceSize
}

func sliceAt(data []byte, index, sliceSize int) []byte {
	start := (index - 1) * sliceSize
	if start >= len(data) {
		return nil
	}
	end := start + sliceSize
	if end > len(data) {
		end = len(data)
	}
	return data[start:end]
}
