package kv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommandSerialize(t *testing.T) {
	data, err := NewPutCommand("alpha", []byte("one")).Serialize()
	require.NoError(t, err)
	require.Equal(t, []byte{
		CmdPut,
		5, 0, 'a', 'l', 'p', 'h', 'a',
		3, 0, 0, 0, 'o', 'n', 'e',
	}, data)

	cmd, err := DeserializeCommand(data)
	require.NoError(t, err)
	require.Equal(t, CmdPut, cmd.Type)
	require.Equal(t, "alpha", cmd.Key)
	require.Equal(t, []byte("one"), cmd.Value)
}

func TestCommandDeleteHasNoValue(t *testing.T) {
	data, err := NewDeleteCommand("k").Serialize()
	require.NoError(t, err)

	cmd, err := DeserializeCommand(data)
	require.NoError(t, err)
	require.Equal(t, CmdDelete, cmd.Type)
	require.Equal(t, "k", cmd.Key)
	require.Empty(t, cmd.Value)
}

func TestCommandInvalidKey(t *testing.T) {
	_, err := NewPutCommand("", []byte("v")).Serialize()
	require.ErrorIs(t, err, ErrInvalidKey)

	long := make([]byte, MaxKeyLength+1)
	for i := range long {
		long[i] = 'k'
	}
	_, err = NewPutCommand(string(long), nil).Serialize()
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestDeserializeCommandCorrupt(t *testing.T) {
	good, err := NewPutCommand("key", []byte("value")).Serialize()
	require.NoError(t, err)

	tests := map[string][]byte{
		"empty":          nil,
		"type only":      good[:1],
		"short key":      good[:4],
		"missing value":  good[:6],
		"short value":    good[:len(good)-1],
		"trailing bytes": append(append([]byte{}, good...), 0),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DeserializeCommand(data)
			require.ErrorIs(t, err, ErrCorruptCommand)
		})
	}
}
