// Package log provides structured, category-tagged logging for vimpilot.
// Logging is off until Init is called (the CLI does so for --debug or when a
// log path is configured); every entry is also published to a broker so the
// CLI can stream entries to stderr while a scenario runs.
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/zjrosen/vimpilot/internal/pubsub"
)

// Level represents log severity.
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
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a config value ("debug", "info", "warn", "error") to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelDebug, fmt.Errorf("unknown log level %q", s)
	}
}

// Category groups related log messages.
type Category string

const (
	CatBinary  Category = "binary"  // Binary resolution and capability probes
	CatServer  Category = "server"  // Editor server process lifecycle
	CatRemote  Category = "remote"  // --remote-send / --remote-expr calls
	CatKeys    Category = "keys"    // Key encoding
	CatDriver  Category = "driver"  // Modal dispatch
	CatConfig  Category = "config"  // Configuration loading/saving
	CatScript  Category = "script"  // Scenario scripts
	CatWatcher Category = "watcher" // File watcher events
	CatCache   Category = "cache"   // Probe cache
	CatTrace   Category = "trace"   // Tracing setup
)

// Logger provides structured logging.
type Logger struct {
	mu       sync.Mutex
	file     *os.File
	writer   io.Writer
	enabled  bool
	minLevel Level
	broker   *pubsub.Broker[string]
}

var (
	defaultLogger *Logger
	loggerMu      sync.Mutex
)

// Init opens path for appending and installs it as the global log sink.
// Returns a cleanup function that closes the file.
func Init(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // G304: path is the user's debug log path
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	l := newLogger(f)
	l.file = f
	install(l)
	return func() {
		_ = f.Close()
	}, nil
}

// InitWriter installs w as the global log sink. Used by tests and by the CLI
// when no log file is configured.
func InitWriter(w io.Writer) func() {
	install(newLogger(w))
	return func() {
		install(nil)
	}
}

func newLogger(w io.Writer) *Logger {
	return &Logger{
		writer:   w,
		enabled:  true,
		minLevel: LevelDebug,
		broker:   pubsub.NewBroker[string](),
	}
}

func install(l *Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if defaultLogger != nil && defaultLogger.broker != nil {
		defaultLogger.broker.Close()
	}
	defaultLogger = l
}

func current() *Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	return defaultLogger
}

// SetEnabled toggles logging on/off.
func SetEnabled(enabled bool) {
	if l := current(); l != nil {
		l.mu.Lock()
		l.enabled = enabled
		l.mu.Unlock()
	}
}

// SetMinLevel sets the minimum log level.
func SetMinLevel(level Level) {
	if l := current(); l != nil {
		l.mu.Lock()
		l.minLevel = level
		l.mu.Unlock()
	}
}

// Debug logs at debug level.
func Debug(cat Category, msg string, fields ...any) {
	log(LevelDebug, cat, msg, fields...)
}

// Info logs at info level.
func Info(cat Category, msg string, fields ...any) {
	log(LevelInfo, cat, msg, fields...)
}

// Warn logs at warning level.
func Warn(cat Category, msg string, fields ...any) {
	log(LevelWarn, cat, msg, fields...)
}

// Error logs at error level.
func Error(cat Category, msg string, fields ...any) {
	log(LevelError, cat, msg, fields...)
}

// ErrorErr logs an error with the error value.
func ErrorErr(cat Category, msg string, err error, fields ...any) {
	if err != nil {
		fields = append(fields, "error", err.Error())
	} else {
		fields = append(fields, "error", "<nil>")
	}
	log(LevelError, cat, msg, fields...)
}

func log(level Level, cat Category, msg string, fields ...any) {
	l := current()
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled || level < l.minLevel {
		return
	}

	// Format: 2026-10-19T10:45:00 [DEBUG] [remote] message key=value key2=value2
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] [%s] %s", time.Now().Format("2006-01-02T15:04:05"), level, cat, msg)
	for i := 0; i+1 < len(fields); i += 2 {
		fmt.Fprintf(&b, " %v=%v", fields[i], fields[i+1])
	}
	if len(fields)%2 != 0 {
		fmt.Fprintf(&b, " %v=<missing>", fields[len(fields)-1])
	}
	b.WriteByte('\n')
	entry := b.String()

	if l.writer != nil {
		_, _ = io.WriteString(l.writer, entry)
	}
	if l.broker != nil {
		l.broker.Publish(pubsub.LogEvent, entry)
	}
}

// Subscribe returns a channel of formatted log entries, or nil when logging
// has not been initialised. The channel closes when ctx is cancelled.
func Subscribe(ctx context.Context) <-chan pubsub.Event[string] {
	l := current()
	if l == nil || l.broker == nil {
		return nil
	}
	return l.broker.Subscribe(ctx)
}
