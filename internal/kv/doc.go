// Package kv is a replicated key/value store built on the raft package.
//
// Store is the state machine: an in-memory map changed only by Put and
// Delete commands taken from the committed log. ClusterBackend wires a Store
// to a raft node, file storage and a TCP transport from a config.Config.
//
// Writes return once they are applied on the node that accepted them, which
// must be the leader. Reads are served from local state and may lag the
// leader on followers.
package kv
