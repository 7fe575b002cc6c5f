package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	mu       sync.RWMutex
	logger   *slog.Logger
	levelVar = new(slog.LevelVar)
	initOnce sync.Once
)

// initLogger installs the default text handler on stderr.
func initLogger() {
	initOnce.Do(func() {
		levelVar.Set(slog.LevelInfo)
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	})
}

// ParseLevel maps a config string ("debug", "info", "warn", "error") to a
// Level. Unknown values fall back to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func SetLevel(l Level) {
	initLogger()
	levelVar.Set(toSlog(l))
}

// SetOutput redirects all log output to w. Tests use it to capture lines.
func SetOutput(w io.Writer) {
	initLogger()
	mu.Lock()
	defer mu.Unlock()
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: levelVar}))
}

func Debug(msg string, kv ...any) {
	logWithLevel(LevelDebug, msg, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(LevelInfo, msg, kv...)
}

func Warn(msg string, kv ...any) {
	logWithLevel(LevelWarn, msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	logWithLevel(LevelError, msg, extended...)
}

func logWithLevel(level Level, msg string, kv ...any) {
	initLogger()
	mu.RLock()
	l := logger
	mu.RUnlock()

	// An odd trailing value is dropped rather than rendered as !BADKEY.
	if len(kv)%2 == 1 {
		kv = kv[:len(kv)-1]
	}
	l.Log(context.Background(), toSlog(level), msg, kv...)
}

func toSlog(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
