package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents the logging level.
type Level int

const (
	// LevelDebug is the most verbose level.
	LevelDebug Level = iota
	// LevelInfo is for informational messages.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages.
	LevelError
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel parses a string into a Level. Unknown values map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Format represents the log output format.
type Format int

const (
	// FormatText outputs logs in human-readable text format.
	FormatText Format = iota
	// FormatJSON outputs logs in JSON format.
	FormatJSON
)

// ParseFormat parses a string into a Format.
func ParseFormat(s string) Format {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON
	default:
		return FormatText
	}
}

// Logger is the interface for structured logging.
type Logger interface {
	// Debug logs a debug message with optional key-value pairs.
	Debug(msg string, keysAndValues ...interface{})
	// Info logs an info message with optional key-value pairs.
	Info(msg string, keysAndValues ...interface{})
	// Warn logs a warning message with optional key-value pairs.
	Warn(msg string, keysAndValues ...interface{})
	// Error logs an error message with optional key-value pairs.
	Error(msg string, keysAndValues ...interface{})
	// Named returns a child logger tagged with a component name.
	Named(component string) Logger
	// WithRequestID returns a child logger tagged with a request ID.
	WithRequestID(requestID string) Logger
	// WithFields returns a child logger carrying the given fields.
	WithFields(keysAndValues ...interface{}) Logger
}

type field struct {
	key   string
	value interface{}
}

// sink is shared by a logger and all of its children so writes stay serialized.
type sink struct {
	mu  sync.Mutex
	out io.Writer
}

type logger struct {
	level  Level
	format Format
	sink   *sink
	fields []field
	now    func() time.Time
}

// Config holds the logger configuration.
type Config struct {
	Level  string
	Format string
	Output string
}

// New creates a new Logger with the given configuration.
func New(cfg Config) Logger {
	var output io.Writer
	switch cfg.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			output = os.Stdout
		} else {
			output = f
		}
	}

	return NewWithWriter(output, ParseLevel(cfg.Level), ParseFormat(cfg.Format))
}

// NewWithWriter creates a Logger writing to w.
func NewWithWriter(w io.Writer, level Level, format Format) Logger {
	return &logger{
		level:  level,
		format: format,
		sink:   &sink{out: w},
		now:    time.Now,
	}
}

// NewDefault creates a new Logger with default settings.
func NewDefault() Logger {
	return NewWithWriter(os.Stdout, LevelInfo, FormatText)
}

// NewNop creates a no-op logger that discards all output.
func NewNop() Logger {
	return nopLogger{}
}

func (l *logger) Debug(msg string, keysAndValues ...interface{}) {
	l.log(LevelDebug, msg, keysAndValues)
}

func (l *logger) Info(msg string, keysAndValues ...interface{}) {
	l.log(LevelInfo, msg, keysAndValues)
}

func (l *logger) Warn(msg string, keysAndValues ...interface{}) {
	l.log(LevelWarn, msg, keysAndValues)
}

func (l *logger) Error(msg string, keysAndValues ...interface{}) {
	l.log(LevelError, msg, keysAndValues)
}

func (l *logger) Named(component string) Logger {
	return l.with([]field{{key: "component", value: component}})
}

func (l *logger) WithRequestID(requestID string) Logger {
	return l.with([]field{{key: "request_id", value: requestID}})
}

func (l *logger) WithFields(keysAndValues ...interface{}) Logger {
	return l.with(pairs(keysAndValues))
}

// with returns a child logger. A key that is already present is overwritten
// in place so its position in the output does not move.
func (l *logger) with(extra []field) *logger {
	fields := make([]field, len(l.fields), len(l.fields)+len(extra))
	copy(fields, l.fields)
outer:
	for _, f := range extra {
		for i := range fields {
			if fields[i].key == f.key {
				fields[i].value = f.value
				continue outer
			}
		}
		fields = append(fields, f)
	}
	return &logger{
		level:  l.level,
		format: l.format,
		sink:   l.sink,
		fields: fields,
		now:    l.now,
	}
}

func pairs(keysAndValues []interface{}) []field {
	out := make([]field, 0, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		out = append(out, field{key: key, value: keysAndValues[i+1]})
	}
	return out
}

func (l *logger) log(level Level, msg string, keysAndValues []interface{}) {
	if level < l.level {
		return
	}

	ts := l.now().UTC().Format(time.RFC3339Nano)
	all := append(append([]field(nil), l.fields...), pairs(keysAndValues)...)

	var line string
	if l.format == FormatJSON {
		line = formatJSON(ts, level, msg, all)
	} else {
		line = formatText(ts, level, msg, all)
	}

	l.sink.mu.Lock()
	fmt.Fprintln(l.sink.out, line)
	l.sink.mu.Unlock()
}

func formatJSON(ts string, level Level, msg string, fields []field) string {
	entry := make(map[string]interface{}, len(fields)+3)
	for _, f := range fields {
		if err, ok := f.value.(error); ok {
			entry[f.key] = err.Error()
			continue
		}
		entry[f.key] = f.value
	}
	entry["ts"] = ts
	entry["level"] = level.String()
	entry["msg"] = msg

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Sprintf(`{"ts":%q,"level":"error","msg":"failed to marshal log entry"}`, ts)
	}
	return string(data)
}

func formatText(ts string, level Level, msg string, fields []field) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", ts, level, msg)
	for _, f := range fields {
		fmt.Fprintf(&b, " %s=%v", f.key, f.value)
	}
	return b.String()
}

type nopLogger struct{}

func (nopLogger) Debug(_ string, _ ...interface{})     {}
func (nopLogger) Info(_ string, _ ...interface{})      {}
func (nopLogger) Warn(_ string, _ ...interface{})      {}
func (nopLogger) Error(_ string, _ ...interface{})     {}
func (n nopLogger) Named(_ string) Logger              { return n }
func (n nopLogger) WithRequestID(_ string) Logger      { return n }
func (n nopLogger) WithFields(_ ...interface{}) Logger { return n }
