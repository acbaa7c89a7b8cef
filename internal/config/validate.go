package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateConfig validates the configuration and returns a list of validation errors.
// An empty slice indicates the configuration is valid.
func ValidateConfig(config *Config) []error {
	var errs []error

	errs = append(errs, validateNodeConfig(&config.Node)...)
	errs = append(errs, validateClusterConfig(config.Node.ID, &config.Cluster)...)
	errs = append(errs, validateRaftConfig(&config.Raft)...)
	errs = append(errs, validateStorageConfig(&config.Storage)...)
	errs = append(errs, validateLogConfig(&config.Logging)...)
	errs = append(errs, validateHTTPConfig(&config.HTTP)...)

	return errs
}

func validateNodeConfig(config *NodeConfig) []error {
	var errs []error

	if config.ID == 0 {
		errs = append(errs, ValidationError{
			Field:   "node.id",
			Message: "must be greater than 0",
		})
	}

	if config.RaftAddr == "" {
		errs = append(errs, ValidationError{
			Field:   "node.raftAddr",
			Message: "raft address is required",
		})
	} else if err := validateAddress(config.RaftAddr); err != nil {
		errs = append(errs, ValidationError{
			Field:   "node.raftAddr",
			Message: err.Error(),
		})
	}

	return errs
}

func validateClusterConfig(self uint64, config *ClusterConfig) []error {
	var errs []error

	seen := make(map[uint64]bool)
	for i, p := range config.Peers {
		field := fmt.Sprintf("cluster.peers[%d]", i)
		switch {
		case p.ID == 0:
			errs = append(errs, ValidationError{
				Field:   field + ".id",
				Message: "must be greater than 0",
			})
		case p.ID == self:
			errs = append(errs, ValidationError{
				Field:   field + ".id",
				Message: fmt.Sprintf("peer %d is this node", p.ID),
			})
		case seen[p.ID]:
			errs = append(errs, ValidationError{
				Field:   field + ".id",
				Message: fmt.Sprintf("duplicate peer id %d", p.ID),
			})
		}
		seen[p.ID] = true

		if p.Addr != "" {
			if err := validateAddress(p.Addr); err != nil {
				errs = append(errs, ValidationError{
					Field:   field + ".addr",
					Message: err.Error(),
				})
			}
		}
	}

	return errs
}

func validateRaftConfig(config *RaftConfig) []error {
	var errs []error

	if config.HeartbeatInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "raft.heartbeatInterval",
			Message: "must be positive",
		})
	}
	if config.ElectionTimeoutFactor < 2 {
		errs = append(errs, ValidationError{
			Field:   "raft.electionTimeoutFactor",
			Message: "must be at least 2",
		})
	}
	if config.ElectionTimeVariance < 0 {
		errs = append(errs, ValidationError{
			Field:   "raft.electionTimeVariance",
			Message: "must be non-negative",
		})
	}
	if config.IsolatedCheckInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "raft.isolatedCheckInterval",
			Message: "must be positive",
		})
	}
	if config.SnapshotBatchCount <= 0 {
		errs = append(errs, ValidationError{
			Field:   "raft.snapshotBatchCount",
			Message: "must be positive",
		})
	}
	if config.MaxEntriesPerMessage <= 0 {
		errs = append(errs, ValidationError{
			Field:   "raft.maxEntriesPerMessage",
			Message: "must be positive",
		})
	}
	if config.SendTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "raft.sendTimeout",
			Message: "must be non-negative",
		})
	}

	sizes := []struct {
		field    string
		value    string
		positive bool
	}{
		{"raft.snapshotDataThreshold", config.SnapshotDataThreshold, false},
		{"raft.snapshotChunkSize", config.SnapshotChunkSize, true},
		{"raft.maxMessageSliceSize", config.MaxMessageSliceSize, true},
		{"raft.snapshotSpoolThreshold", config.SnapshotSpoolThreshold, false},
	}
	for _, s := range sizes {
		n, err := ParseSize(s.value)
		if err != nil {
			errs = append(errs, ValidationError{Field: s.field, Message: err.Error()})
			continue
		}
		if n < 0 || (s.positive && n == 0) {
			msg := "must be non-negative"
			if s.positive {
				msg = "must be positive"
			}
			errs = append(errs, ValidationError{Field: s.field, Message: msg})
		}
	}

	return errs
}

func validateStorageConfig(config *StorageConfig) []error {
	var errs []error

	if config.DataDir == "" {
		errs = append(errs, ValidationError{
			Field:   "storage.dataDir",
			Message: "data directory is required",
		})
	} else if !filepath.IsAbs(config.DataDir) {
		errs = append(errs, ValidationError{
			Field:   "storage.dataDir",
			Message: "must be an absolute path",
		})
	}

	if config.TempDir != "" && !filepath.IsAbs(config.TempDir) {
		errs = append(errs, ValidationError{
			Field:   "storage.tempDir",
			Message: "must be an absolute path",
		})
	}

	return errs
}

func validateLogConfig(config *LogConfig) []error {
	var errs []error

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if config.Level != "" && !validLevels[strings.ToLower(config.Level)] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be debug, info, warn, or error",
		})
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if config.Format != "" && !validFormats[strings.ToLower(config.Format)] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be text or json",
		})
	}

	if config.Output != "" && config.Output != "stdout" && config.Output != "stderr" {
		dir := filepath.Dir(config.Output)
		if !filepath.IsAbs(config.Output) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: "must be stdout, stderr, or an absolute file path",
			})
		} else if _, err := os.Stat(dir); os.IsNotExist(err) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: fmt.Sprintf("directory %s does not exist", dir),
			})
		}
	}

	return errs
}

func validateHTTPConfig(config *HTTPConfig) []error {
	var errs []error

	if config.Address != "" {
		if err := validateAddress(config.Address); err != nil {
			errs = append(errs, ValidationError{
				Field:   "http.address",
				Message: err.Error(),
			})
		}
	}
	if config.ReadTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "http.readTimeout",
			Message: "must be non-negative",
		})
	}
	if config.WriteTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "http.writeTimeout",
			Message: "must be non-negative",
		})
	}
	if config.RateLimit < 0 {
		errs = append(errs, ValidationError{
			Field:   "http.rateLimit",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateAddress(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format: %v", err)
	}
	if port == "" {
		return fmt.Errorf("port is required")
	}
	return nil
}

// ParseSize parses a byte size such as "512", "64KB" or "4MB". An empty
// string is zero.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, nil
	}

	// Longest suffixes first so "KB" is not read as "B".
	suffixes := []struct {
		suffix string
		mult   int64
	}{
		{"TB", 1 << 40},
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}

	num, mult := s, int64(1)
	for _, sf := range suffixes {
		if strings.HasSuffix(s, sf.suffix) {
			num, mult = strings.TrimSpace(strings.TrimSuffix(s, sf.suffix)), sf.mult
			break
		}
	}

	var n int64
	var rest string
	if c, _ := fmt.Sscanf(num, "%d%s", &n, &rest); c != 1 {
		return 0, fmt.Errorf("invalid size format: %s", s)
	}
	return n * mult, nil
}
