package kv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/KilimcininKorOglu/concord/internal/raft"
)

// Store is an in-memory map replicated through the raft log. It implements
// raft.StateMachine; reads are served from local state.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Apply applies one committed log entry.
func (s *Store) Apply(entry *raft.LogEntry) error {
	cmd, err := DeserializeCommand(entry.Command)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd.Type {
	case CmdPut:
		s.data[cmd.Key] = cmd.Value
	case CmdDelete:
		delete(s.data, cmd.Key)
	default:
		return fmt.Errorf("%w: type %d at index %d", ErrUnknownCommand, cmd.Type, entry.Index)
	}
	return nil
}

// Get returns the value of key.
func (s *Store) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Keys returns every key in ascending order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Len returns the number of keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Snapshot encodes the whole map, keys in ascending order.
// Format: [Count:4] then Count times [KeyLen:2][Key][ValueLen:4][Value]
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(keys))); err != nil {
		return nil, err
	}
	for _, k := range keys {
		if err := writeString(&buf, k); err != nil {
			return nil, err
		}
		if err := writeBytes(&buf, s.data[k]); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Restore replaces the store's contents with a snapshot image. An empty
// image restores an empty store.
func (s *Store) Restore(data []byte) error {
	restored := make(map[string][]byte)

	if len(data) > 0 {
		r := bytes.NewReader(data)

		var count uint32
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return ErrCorruptSnapshot
		}
		for i := uint32(0); i < count; i++ {
			k, err := readString(r)
			if err != nil {
				return ErrCorruptSnapshot
			}
			v, err := readBytes(r)
			if err != nil {
				return ErrCorruptSnapshot
			}
			restored[k] = v
		}
		if r.Len() != 0 {
			return ErrCorruptSnapshot
		}
	}

	s.mu.Lock()
	s.data = restored
	s.mu.Unlock()
	return nil
}
