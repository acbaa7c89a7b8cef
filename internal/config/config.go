// Package config provides configuration parsing and validation for concord.
package config

import "time"

// Config holds the complete server configuration.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Cluster ClusterConfig `yaml:"cluster"`
	Raft    RaftConfig    `yaml:"raft"`
	Storage StorageConfig `yaml:"storage"`
	Logging LogConfig     `yaml:"logging"`
	HTTP    HTTPConfig    `yaml:"http"`
}

// NodeConfig identifies this member.
type NodeConfig struct {
	ID        uint64 `yaml:"id"`
	RaftAddr  string `yaml:"raftAddr"`
	NonVoting bool   `yaml:"nonVoting"`
}

// ClusterConfig lists the other members of the cluster.
type ClusterConfig struct {
	Peers []PeerConfig `yaml:"peers"`
}

// PeerConfig describes one other member. Addr may be left empty; the
// member then learns it from the leader.
type PeerConfig struct {
	ID        uint64 `yaml:"id"`
	Addr      string `yaml:"addr"`
	NonVoting bool   `yaml:"nonVoting"`
}

// RaftConfig holds consensus timings and thresholds. Sizes accept a
// B/KB/MB/GB suffix.
type RaftConfig struct {
	HeartbeatInterval      time.Duration `yaml:"heartbeatInterval"`
	ElectionTimeoutFactor  int           `yaml:"electionTimeoutFactor"`
	ElectionTimeVariance   time.Duration `yaml:"electionTimeVariance"`
	IsolatedCheckInterval  time.Duration `yaml:"isolatedCheckInterval"`
	SnapshotBatchCount     int           `yaml:"snapshotBatchCount"`
	SnapshotDataThreshold  string        `yaml:"snapshotDataThreshold"`
	SnapshotChunkSize      string        `yaml:"snapshotChunkSize"`
	MaxMessageSliceSize    string        `yaml:"maxMessageSliceSize"`
	MaxEntriesPerMessage   int           `yaml:"maxEntriesPerMessage"`
	SnapshotSpoolThreshold string        `yaml:"snapshotSpoolThreshold"`
	AutomaticElections     bool          `yaml:"automaticElections"`
	SendTimeout            time.Duration `yaml:"sendTimeout"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	DataDir string `yaml:"dataDir"`
	TempDir string `yaml:"tempDir"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// HTTPConfig holds the client API configuration. An empty Address disables
// the API.
type HTTPConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	RateLimit    int           `yaml:"rateLimit"`
}
