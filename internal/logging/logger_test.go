package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLogger(buf *bytes.Buffer, level Level, format Format) *logger {
	l := NewWithWriter(buf, level, format).(*logger)
	l.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return l
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"WARNING", LevelWarn},
		{"error", LevelError},
		{"unknown", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
		{Level(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.expected {
			t.Errorf("Level.String() = %q, want %q", got, tt.expected)
		}
	}
}

func TestParseFormat(t *testing.T) {
	require.Equal(t, FormatJSON, ParseFormat("json"))
	require.Equal(t, FormatJSON, ParseFormat("JSON"))
	require.Equal(t, FormatText, ParseFormat("text"))
	require.Equal(t, FormatText, ParseFormat(""))
}

func TestLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, LevelDebug, FormatJSON)

	l.Info("test message", "key1", "value1", "key2", 42, "err", errors.New("boom"))

	entry := decode(t, &buf)
	require.Equal(t, "info", entry["level"])
	require.Equal(t, "test message", entry["msg"])
	require.Equal(t, "value1", entry["key1"])
	require.Equal(t, float64(42), entry["key2"])
	require.Equal(t, "boom", entry["err"])
	require.Equal(t, "2024-05-01T12:00:00Z", entry["ts"])
}

func TestLoggerTextKeepsFieldOrder(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, LevelDebug, FormatText)

	l.Named("raft").WithFields("member", 1).Info("became leader", "term", 3)

	require.Equal(t,
		"2024-05-01T12:00:00Z [info] became leader component=raft member=1 term=3\n",
		buf.String())
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, LevelWarn, FormatText)

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")

	output := buf.String()
	if strings.Contains(output, "debug message") || strings.Contains(output, "info message") {
		t.Errorf("messages below warn should be filtered, got: %s", output)
	}
	if !strings.Contains(output, "warn message") || !strings.Contains(output, "error message") {
		t.Errorf("warn and error messages should be present, got: %s", output)
	}
}

func TestLoggerWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, LevelDebug, FormatJSON)

	l.WithRequestID("req-123").Info("test message")

	require.Equal(t, "req-123", decode(t, &buf)["request_id"])
}

func TestLoggerChildOverridesField(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, LevelDebug, FormatText)

	l.WithFields("role", "follower").WithFields("role", "leader").Info("x")

	require.Contains(t, buf.String(), "role=leader")
	require.NotContains(t, buf.String(), "role=follower")
}

func TestLoggerCloneIsolation(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, LevelDebug, FormatJSON)

	child := l.WithFields("child_field", "value")

	l.Info("parent message")
	_, ok := decode(t, &buf)["child_field"]
	require.False(t, ok, "parent logger should not have child's fields")

	buf.Reset()
	child.Info("child message")
	require.Equal(t, "value", decode(t, &buf)["child_field"])
}

func TestNewLogger(t *testing.T) {
	require.NotNil(t, New(Config{Level: "debug", Format: "json", Output: "stdout"}))
	require.NotNil(t, NewDefault())
}

func TestNopLogger(t *testing.T) {
	l := NewNop()
	l.Debug("test")
	l.Info("test")
	l.Warn("test")
	l.Error("test")
	require.NotNil(t, l.Named("x"))
	require.NotNil(t, l.WithRequestID("req-123"))
	require.NotNil(t, l.WithFields("key", "value"))
}
