package raft

import (
	"fmt"
	"time"
)

// Config holds the parameters of one participant.
type Config struct {
	ID    uint64      // this participant's id, never 0
	Addr  string      // address advertised to followers that ask for it
	Peers []*PeerInfo // every other member of the cluster

	// Voting is this participant's own voting state.
	Voting VotingState

	HeartbeatInterval time.Duration
	// ElectionTimeoutFactor multiplies HeartbeatInterval into the election timeout.
	ElectionTimeoutFactor int
	// ElectionTimeVariance is the upper bound of the random extra delay added
	// to each election timeout.
	ElectionTimeVariance  time.Duration
	IsolatedCheckInterval time.Duration

	// SnapshotBatchCount is the journal size, in entries, that triggers a capture.
	SnapshotBatchCount int
	// SnapshotDataThreshold is the in-memory log size, in bytes, that triggers
	// a capture. Zero disables the check.
	SnapshotDataThreshold int64
	SnapshotChunkSize     int
	// MaxMessageSliceSize bounds the entries carried by one AppendEntries; a
	// single larger entry is sliced.
	MaxMessageSliceSize int
	// MaxEntriesPerMessage bounds the entry count of one AppendEntries.
	MaxEntriesPerMessage int
	// SnapshotSpoolThreshold is how many bytes of an incoming snapshot are
	// buffered in memory before spilling to a temporary file under TempDir.
	SnapshotSpoolThreshold int
	TempDir                string

	// AutomaticElections lets followers start elections on timeout. When it
	// is off only TimeoutNow starts an election.
	AutomaticElections bool

	PayloadVersion int16
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	return &Config{
		Voting:                 Voting,
		HeartbeatInterval:      100 * time.Millisecond,
		ElectionTimeoutFactor:  10,
		ElectionTimeVariance:   100 * time.Millisecond,
		IsolatedCheckInterval:  1 * time.Second,
		SnapshotBatchCount:     20000,
		SnapshotChunkSize:      480 * 1024,
		MaxMessageSliceSize:    480 * 1024,
		MaxEntriesPerMessage:   1000,
		SnapshotSpoolThreshold: 4 * 1024 * 1024,
		AutomaticElections:     true,
		PayloadVersion:         1,
	}
}

// ElectionTimeout returns the base election timeout.
func (c *Config) ElectionTimeout() time.Duration {
	return c.HeartbeatInterval * time.Duration(c.ElectionTimeoutFactor)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ID == 0 {
		return fmt.Errorf("%w: id must not be 0", ErrInvalidConfig)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat interval must be positive", ErrInvalidConfig)
	}
	if c.ElectionTimeoutFactor < 2 {
		return fmt.Errorf("%w: election timeout factor must be at least 2", ErrInvalidConfig)
	}
	if c.ElectionTimeVariance < 0 {
		return fmt.Errorf("%w: election time variance must not be negative", ErrInvalidConfig)
	}
	if c.IsolatedCheckInterval <= 0 {
		return fmt.Errorf("%w: isolated leader check interval must be positive", ErrInvalidConfig)
	}
	if c.SnapshotBatchCount <= 0 {
		return fmt.Errorf("%w: snapshot batch count must be positive", ErrInvalidConfig)
	}
	if c.SnapshotDataThreshold < 0 {
		return fmt.Errorf("%w: snapshot data threshold must not be negative", ErrInvalidConfig)
	}
	if c.SnapshotChunkSize <= 0 {
		return fmt.Errorf("%w: snapshot chunk size must be positive", ErrInvalidConfig)
	}
	if c.MaxMessageSliceSize <= 0 {
		return fmt.Errorf("%w: max message slice size must be positive", ErrInvalidConfig)
	}
	if c.MaxEntriesPerMessage <= 0 {
		return fmt.Errorf("%w: max entries per message must be positive", ErrInvalidConfig)
	}
	seen := map[uint64]bool{c.ID: true}
	for _, p := range c.Peers {
		if p == nil || p.ID == 0 {
			return fmt.Errorf("%w: peer id must not be 0", ErrInvalidConfig)
		}
		if seen[p.ID] {
			return fmt.Errorf("%w: duplicate member id %d", ErrInvalidConfig, p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}
