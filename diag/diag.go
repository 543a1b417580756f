// Package diag is the engine's ambient logging: a leveled ring buffer
// plus an io.Writer sink, deliberately minimal — no external structured-
// logging framework. Grounded on the teacher's own ad hoc logging shape
// (vm.ExecutionContext.debugLog, a plain []string of formatted records
// the CLI prints straight to stdout/stderr): same shape here, generalized
// to a bounded ring buffer with levels so a long-running host embedding
// doesn't grow the log unboundedly, and timestamped with
// github.com/ncruces/go-strftime rather than hand-rolled time formatting.
package diag

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ncruces/go-strftime"
)

// Level orders log records from most to least severe verbosity (most to
// least filtered-out by a Logger's configured threshold).
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "???"
	}
}

// Record is one ring-buffer entry: a timestamp, level, and the formatted
// message.
type Record struct {
	Time    time.Time
	Level   Level
	Message string
}

// Logger is a bounded ring buffer of Records with an optional live sink:
// every record appended past the threshold also gets written to Sink
// immediately (when non-nil), the same "debugLog slice plus straight-to-
// stdout" duality the teacher's CLI exercises informally.
type Logger struct {
	mu        sync.Mutex
	level     Level
	capacity  int
	records   []Record
	next      int
	wrapped   bool
	Sink      io.Writer
}

// New constructs a Logger that keeps at most capacity records and only
// records messages at level or more severe than threshold.
func New(threshold Level, capacity int) *Logger {
	if capacity <= 0 {
		capacity = 256
	}
	return &Logger{
		level:    threshold,
		capacity: capacity,
		records:  make([]Record, capacity),
	}
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if level > l.level {
		return
	}
	rec := Record{Time: time.Now(), Level: level, Message: fmt.Sprintf(format, args...)}

	l.mu.Lock()
	l.records[l.next] = rec
	l.next = (l.next + 1) % l.capacity
	if l.next == 0 {
		l.wrapped = true
	}
	sink := l.Sink
	l.mu.Unlock()

	if sink != nil {
		ts := strftime.Format("%Y-%m-%dT%H:%M:%S", rec.Time)
		fmt.Fprintf(sink, "%s [%s] %s\n", ts, rec.Level, rec.Message)
	}
}

func (l *Logger) Errorf(format string, args ...interface{}) { l.log(LevelError, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log(LevelWarn, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log(LevelInfo, format, args...) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.log(LevelDebug, format, args...) }

// Records returns the buffered records in chronological order (oldest
// first), unwrapping the ring at its write cursor.
func (l *Logger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.wrapped {
		out := make([]Record, l.next)
		copy(out, l.records[:l.next])
		return out
	}
	out := make([]Record, l.capacity)
	copy(out, l.records[l.next:])
	copy(out[l.capacity-l.next:], l.records[:l.next])
	return out
}
