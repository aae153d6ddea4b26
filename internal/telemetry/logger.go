package telemetry

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
)

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	default:
		return "error"
	}
}

// ParseLevel maps the logging.level config value onto a Level, defaulting to
// info for anything unrecognised.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Broadcaster is the slice of the WebSocket hub the logger needs.
type Broadcaster interface {
	BroadcastJSON(v any)
}

// Logger is handed to every component at construction. There is no package
// level logger.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	// With returns a logger that tags lines with the given component.
	With(component string) Logger
}

type stdLogger struct {
	out       *log.Logger
	hub       Broadcaster
	component string
	min       Level
}

// NewLogger writes every line at or above min to out and, when hub is
// non-nil, mirrors it to WebSocket clients as a LogLine event.
func NewLogger(out *log.Logger, hub Broadcaster, min Level) Logger {
	if out == nil {
		out = log.New(io.Discard, "", 0)
	}
	return &stdLogger{out: out, hub: hub, min: min}
}

// Discard drops everything.
func Discard() Logger {
	return &stdLogger{out: log.New(io.Discard, "", 0), min: LevelError + 1}
}

func (l *stdLogger) With(component string) Logger {
	cp := *l
	cp.component = component
	return &cp
}

func (l *stdLogger) Debugf(format string, args ...any) { l.emit(LevelDebug, format, args) }
func (l *stdLogger) Infof(format string, args ...any)  { l.emit(LevelInfo, format, args) }
func (l *stdLogger) Warnf(format string, args ...any)  { l.emit(LevelWarn, format, args) }
func (l *stdLogger) Errorf(format string, args ...any) { l.emit(LevelError, format, args) }

func (l *stdLogger) emit(level Level, format string, args []any) {
	if level < l.min {
		return
	}
	msg := fmt.Sprintf(format, args...)

	if l.component != "" {
		l.out.Printf("%-5s %s: %s", strings.ToUpper(level.String()), l.component, msg)
	} else {
		l.out.Printf("%-5s %s", strings.ToUpper(level.String()), msg)
	}

	if l.hub != nil {
		l.hub.BroadcastJSON(LogLine{
			Event:   NewEvent(EventLog, l.component),
			Level:   level.String(),
			Message: msg,
		})
	}
}

// Entry is one line captured by a Memory logger.
type Entry struct {
	Level     Level
	Component string
	Message   string
}

// Memory keeps every line in memory. Tests use it to assert on warnings.
type Memory struct {
	store     *memStore
	component string
}

type memStore struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemory returns an empty in-memory logger.
func NewMemory() *Memory {
	return &Memory{store: &memStore{}}
}

func (m *Memory) With(component string) Logger {
	return &Memory{store: m.store, component: component}
}

func (m *Memory) Debugf(format string, args ...any) { m.add(LevelDebug, format, args) }
func (m *Memory) Infof(format string, args ...any)  { m.add(LevelInfo, format, args) }
func (m *Memory) Warnf(format string, args ...any)  { m.add(LevelWarn, format, args) }
func (m *Memory) Errorf(format string, args ...any) { m.add(LevelError, format, args) }

func (m *Memory) add(level Level, format string, args []any) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	m.store.entries = append(m.store.entries, Entry{
		Level:     level,
		Component: m.component,
		Message:   fmt.Sprintf(format, args...),
	})
}

// Entries returns a snapshot of everything logged through m or any logger
// derived from it with With.
func (m *Memory) Entries() []Entry {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	out := make([]Entry, len(m.store.entries))
	copy(out, m.store.entries)
	return out
}

// Count returns how many captured entries are at the given level.
func (m *Memory) Count(level Level) int {
	n := 0
	for _, e := range m.Entries() {
		if e.Level == level {
			n++
		}
	}
	return n
}
