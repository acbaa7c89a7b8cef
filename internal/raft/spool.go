package raft

import (
	"bytes"
	"io"
	"os"
)

// SpoolBuffer collects bytes in memory until threshold is reached and then
// moves them to a temporary file in dir.
type SpoolBuffer struct {
	threshold int
	dir       string
	mem       bytes.Buffer
	file      *os.File
	size      int64
}

// NewSpoolBuffer creates a SpoolBuffer. An empty dir means os.TempDir().
func NewSpoolBuffer(threshold int, dir string) *SpoolBuffer {
	return &SpoolBuffer{threshold: threshold, dir: dir}
}

// Write appends p.
func (s *SpoolBuffer) Write(p []byte) (int, error) {
	if s.file == nil && s.mem.Len()+len(p) > s.threshold {
		f, err := os.CreateTemp(s.dir, "snapshot-*.spool")
		if err != nil {
			return 0, err
		}
		if _, err := f.Write(s.mem.Bytes()); err != nil {
			f.Close()
			os.Remove(f.Name())
			return 0, err
		}
		s.mem.Reset()
		s.file = f
	}
	var (
		n   int
		err error
	)
	if s.file != nil {
		n, err = s.file.Write(p)
	} else {
		n, err = s.mem.Write(p)
	}
	s.size += int64(n)
	return n, err
}

// Size returns the number of bytes written.
func (s *SpoolBuffer) Size() int64 { return s.size }

// Spilled reports whether the data moved to a file.
func (s *SpoolBuffer) Spilled() bool { return s.file != nil }

// Bytes returns everything written so far.
func (s *SpoolBuffer) Bytes() ([]byte, error) {
	if s.file == nil {
		return append([]byte(nil), s.mem.Bytes()...), nil
	}
	out := make([]byte, s.size)
	if _, err := s.file.ReadAt(out, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return out, nil
}

// Close releases the buffer and removes any temporary file.
func (s *SpoolBuffer) Close() error {
	s.mem.Reset()
	if s.file == nil {
		return nil
	}
	name := s.file.Name()
	err := s.file.Close()
	s.file = nil
	if rmErr := os.Remove(name); err == nil {
		err = rmErr
	}
	return err
}
