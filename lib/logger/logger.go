// Package logger provides a minimal leveled, timestamped logger in the
// style used across the backup and restore pipelines.
package logger

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Level is a logging verbosity threshold.
type Level int

// Levels, from most to least verbose.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel parses a level name as accepted by -log-level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q; want debug, info, warn or error", s)
	}
}

var (
	mu      sync.Mutex
	minimum = LevelInfo
)

// SetLevel sets the minimum level that gets emitted.
func SetLevel(l Level) {
	mu.Lock()
	minimum = l
	mu.Unlock()
}

func enabled(l Level) bool {
	mu.Lock()
	defer mu.Unlock()
	return l >= minimum
}

func logf(l Level, prefix, format string, args ...any) {
	if !enabled(l) {
		return
	}
	ts := time.Now().Format("2006-01-02T15:04:05.000Z0700")
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "%s\t%s\t%s\n", ts, prefix, msg)
}

// Debugf logs at debug level.
func Debugf(format string, args ...any) { logf(LevelDebug, "DEBUG", format, args...) }

// Infof logs at info level.
func Infof(format string, args ...any) { logf(LevelInfo, "INFO", format, args...) }

// Warnf logs at warn level.
func Warnf(format string, args ...any) { logf(LevelWarn, "WARN", format, args...) }

// Errorf logs at error level.
func Errorf(format string, args ...any) { logf(LevelError, "ERROR", format, args...) }

// Fatalf logs at error level and exits the process with status 1.
//
// Use for operational failures (bad input, failed copy, failed rename).
func Fatalf(format string, args ...any) {
	logf(LevelError, "FATAL", format, args...)
	os.Exit(1)
}

// Panicf logs at error level and panics.
//
// Use only for invariant violations that indicate a bug in this program,
// never for operational failures a user could hit.
func Panicf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	logf(LevelError, "PANIC", "%s", msg)
	panic(msg)
}
