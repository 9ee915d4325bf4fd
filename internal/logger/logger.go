// Package logger provides a thread-safe, levelled logger backed by the
// standard library's log package.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Level represents a logging verbosity level.
type Level int

const (
	// LevelDebug emits all messages.
	LevelDebug Level = iota
	// LevelInfo emits INFO and ERROR messages.
	LevelInfo
	// LevelError emits only ERROR messages.
	LevelError
)

// Logger is a structured, levelled logger. Every component in casperedge
// (worker, dispatcher, storage backend, filter runtime) holds a Logger
// obtained via Sub so log lines carry a component prefix without each
// caller formatting it by hand.
//
// Thread-safety: log.Logger (from the standard library) serialises writes to
// the underlying io.Writer with its own mutex. The Logger wrapper adds a
// second mutex only for the level field so that SetLevel may be called
// concurrently with logging methods.
type Logger struct {
	out      io.Writer
	name     string
	infoLog  *log.Logger
	errorLog *log.Logger
	debugLog *log.Logger
	mu       sync.RWMutex
	level    Level
}

// New creates a Logger that writes to stderr at the given minimum level.
// log.Ldate|log.Ltime|log.Lmicroseconds gives microsecond-resolution
// timestamps which are sufficient for diagnosing latency problems in a
// high-concurrency edge proxy.
func New(level Level) *Logger {
	return newWithWriter(os.Stderr, "", level)
}

func newWithWriter(w io.Writer, name string, level Level) *Logger {
	flags := log.Ldate | log.Ltime | log.Lmicroseconds
	prefix := "INFO  "
	errPrefix := "ERROR "
	dbgPrefix := "DEBUG "
	if name != "" {
		prefix = "INFO  [" + name + "] "
		errPrefix = "ERROR [" + name + "] "
		dbgPrefix = "DEBUG [" + name + "] "
	}
	return &Logger{
		out:      w,
		name:     name,
		infoLog:  log.New(w, prefix, flags),
		errorLog: log.New(w, errPrefix, flags),
		debugLog: log.New(w, dbgPrefix, flags),
		level:    level,
	}
}

// Sub returns a child Logger that shares the same output, starts at the
// parent's current level, and prefixes every line with name, e.g.
// logger.Sub("worker[2]"). Later SetLevel calls on either logger do not
// affect the other.
func (l *Logger) Sub(name string) *Logger {
	l.mu.RLock()
	lvl := l.level
	l.mu.RUnlock()
	full := name
	if l.name != "" {
		full = l.name + "." + name
	}
	return newWithWriter(l.out, full, lvl)
}

// Writer exposes the underlying io.Writer so other subsystems (e.g. the
// script `log` module) can route through the same destination without
// re-implementing level filtering.
func (l *Logger) Writer() io.Writer { return l.out }

// SetLevel changes the minimum log level at runtime. Safe for concurrent use.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

// Info logs a message at INFO level.
func (l *Logger) Info(msg string) {
	l.mu.RLock()
	lvl := l.level
	l.mu.RUnlock()
	if lvl <= LevelInfo {
		l.infoLog.Output(2, msg) //nolint:errcheck
	}
}

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

// Error logs a message at ERROR level.
func (l *Logger) Error(msg string) {
	l.mu.RLock()
	lvl := l.level
	l.mu.RUnlock()
	if lvl <= LevelError {
		l.errorLog.Output(2, msg) //nolint:errcheck
	}
}

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

// Debug logs a message at DEBUG level.
func (l *Logger) Debug(msg string) {
	l.mu.RLock()
	lvl := l.level
	l.mu.RUnlock()
	if lvl <= LevelDebug {
		l.debugLog.Output(2, msg) //nolint:errcheck
	}
}

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}
