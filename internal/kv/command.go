package kv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Command types.
const (
	CmdPut    uint8 = iota + 1 // Set a key
	CmdDelete                  // Remove a key
)

// MaxKeyLength is the longest key a command can carry.
const MaxKeyLength = 1<<16 - 1

// Command is one replicated mutation of the store.
type Command struct {
	Type  uint8
	Key   string
	Value []byte
}

// NewPutCommand creates a command that sets key to value.
func NewPutCommand(key string, value []byte) *Command {
	return &Command{Type: CmdPut, Key: key, Value: value}
}

// NewDeleteCommand creates a command that removes key.
func NewDeleteCommand(key string) *Command {
	return &Command{Type: CmdDelete, Key: key}
}

// Serialize encodes the command.
// Format: [Type:1][KeyLen:2][Key:N][ValueLen:4][Value:M]
func (c *Command) Serialize() ([]byte, error) {
	if err := validateKey(c.Key); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(1 + 2 + len(c.Key) + 4 + len(c.Value))

	buf.WriteByte(c.Type)
	if err := writeString(&buf, c.Key); err != nil {
		return nil, err
	}
	if err := writeBytes(&buf, c.Value); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// DeserializeCommand decodes a command written by Serialize.
func DeserializeCommand(data []byte) (*Command, error) {
	if len(data) < 1 {
		return nil, ErrCorruptCommand
	}

	r := bytes.NewReader(data)
	cmdType, _ := r.ReadByte()

	key, err := readString(r)
	if err != nil {
		return nil, ErrCorruptCommand
	}
	value, err := readBytes(r)
	if err != nil {
		return nil, ErrCorruptCommand
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptCommand, r.Len())
	}

	return &Command{Type: cmdType, Key: key, Value: value}, nil
}

func validateKey(key string) error {
	if key == "" || len(key) > MaxKeyLength {
		return ErrInvalidKey
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if err := binary.Write(buf, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := buf.WriteString(s)
	return err
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeBytes(buf *bytes.Buffer, b []byte) error {
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := buf.Write(b)
	return err
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if int64(n) > int64(r.Len()) {
		return nil, io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
