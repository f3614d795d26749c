package utils

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
)

func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case CRITICAL:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// slog has no trace or critical level; they sit one step outside debug/error.
const (
	slogTrace    = slog.LevelDebug - 4
	slogCritical = slog.LevelError + 4
)

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case TRACE:
		return slogTrace
	case DEBUG:
		return slog.LevelDebug
	case INFO:
		return slog.LevelInfo
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	default:
		return slogCritical
	}
}

// ParseLevel maps a command-line level name to a LogLevel, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch s {
	case "trace":
		return TRACE
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "critical":
		return CRITICAL
	default:
		return INFO
	}
}

// Logger is a levelled printf-style logger writing through a tint slog handler.
type Logger struct {
	level *slog.LevelVar
	sl    *slog.Logger
	out   *logFile
}

// logFile is the file behind a logger and every logger derived from it.
type logFile struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileLogger(filePath string, minLevel LogLevel, alsoStdout bool) (*Logger, error) {
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	var w io.Writer = f
	if alsoStdout {
		w = io.MultiWriter(f, os.Stdout)
	}
	l := NewLogger(w, minLevel)
	l.out = &logFile{f: f}
	return l, nil
}

// NewLogger writes uncoloured tint lines to w.
func NewLogger(w io.Writer, minLevel LogLevel) *Logger {
	lv := new(slog.LevelVar)
	lv.Set(minLevel.slogLevel())
	h := tint.NewHandler(w, &tint.Options{
		Level:       lv,
		TimeFormat:  time.RFC3339Nano,
		NoColor:     true,
		ReplaceAttr: replaceLevel,
	})
	return &Logger{level: lv, sl: slog.New(h)}
}

// NopLogger discards everything.
func NopLogger() *Logger {
	return NewLogger(io.Discard, CRITICAL+1)
}

func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) != 0 {
		return a
	}
	lvl, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	switch {
	case lvl <= slogTrace:
		return slog.String(a.Key, "TRC")
	case lvl >= slogCritical:
		return slog.String(a.Key, "CRT")
	}
	return a
}

// Close closes the log file. Loggers made by With share it, so closing any
// of them closes it for all; later calls are no-ops.
func (l *Logger) Close() error {
	if l.out == nil {
		return nil
	}
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	if l.out.f == nil {
		return nil
	}
	err := l.out.f.Close()
	l.out.f = nil
	return err
}

func (l *Logger) SetMinLevel(level LogLevel) {
	l.level.Set(level.slogLevel())
}

// With returns a logger that adds the given key/value pairs to every line.
// It shares the level and the file of l.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{level: l.level, sl: l.sl.With(args...), out: l.out}
}

// Enabled reports whether a message at level would be written.
func (l *Logger) Enabled(level LogLevel) bool {
	return l.sl.Enabled(context.Background(), level.slogLevel())
}

func (l *Logger) log(level LogLevel, msg string, args ...any) {
	lv := level.slogLevel()
	ctx := context.Background()
	if !l.sl.Enabled(ctx, lv) {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	l.sl.Log(ctx, lv, msg)
}

func (l *Logger) Trace(msg string, args ...any)    { l.log(TRACE, msg, args...) }
func (l *Logger) Debug(msg string, args ...any)    { l.log(DEBUG, msg, args...) }
func (l *Logger) Info(msg string, args ...any)     { l.log(INFO, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)     { l.log(WARN, msg, args...) }
func (l *Logger) Error(msg string, args ...any)    { l.log(ERROR, msg, args...) }
func (l *Logger) Critical(msg string, args ...any) { l.log(CRITICAL, msg, args...) }
