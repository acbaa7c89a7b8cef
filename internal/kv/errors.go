package kv

import "errors"

// KV errors.
var (
	// ErrKeyNotFound is returned when a key has no value.
	ErrKeyNotFound = errors.New("kv: key not found")

	// ErrInvalidKey is returned for empty or oversized keys.
	ErrInvalidKey = errors.New("kv: invalid key")

	// ErrCorruptCommand is returned when a replicated command cannot be decoded.
	ErrCorruptCommand = errors.New("kv: corrupt command")

	// ErrUnknownCommand is returned for a command type this version does not know.
	ErrUnknownCommand = errors.New("kv: unknown command")

	// ErrCorruptSnapshot is returned when a snapshot image cannot be decoded.
	ErrCorruptSnapshot = errors.New("kv: corrupt snapshot")
)
