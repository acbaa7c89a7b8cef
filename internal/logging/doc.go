// Package logging provides structured logging for concord.
//
// # Overview
//
// Loggers accept a message plus alternating key/value pairs:
//
//	logger.Info("became leader", "term", 4, "member", 1)
//
// Output is either text or JSON:
//
//	logger := logging.New(logging.Config{
//	    Level:  "debug",
//	    Format: "json",
//	    Output: "/var/log/concord/concord.log",
//	})
//
// Child loggers carry fields for every entry they write. Named sets the
// "component" field, WithFields adds arbitrary pairs and WithRequestID tags
// entries written while serving one client request:
//
//	raftLog := logger.Named("raft").WithFields("member", id)
//
// Fields are written in the order they were added, base fields first.
//
// For tests, use a no-op logger:
//
//	logger := logging.NewNop()
package logging
