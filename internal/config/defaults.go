package config

import "time"

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			RaftAddr: ":4445",
		},
		Raft: RaftConfig{
			HeartbeatInterval:      100 * time.Millisecond,
			ElectionTimeoutFactor:  10,
			ElectionTimeVariance:   100 * time.Millisecond,
			IsolatedCheckInterval:  time.Second,
			SnapshotBatchCount:     20000,
			SnapshotDataThreshold:  "0",
			SnapshotChunkSize:      "480KB",
			MaxMessageSliceSize:    "480KB",
			MaxEntriesPerMessage:   1000,
			SnapshotSpoolThreshold: "4MB",
			AutomaticElections:     true,
			SendTimeout:            5 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: "/var/lib/concord",
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			RateLimit:    0,
		},
	}
}
