package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	mu     sync.Mutex
	output io.Writer = os.Stderr
	logger *slog.Logger
)

// Setup initializes the global logger. Output always goes to stderr (or the
// writer installed with SetOutput); stdout belongs to the handshake line.
// Defaults are INFO and JSON; invalid values fall back to them.
func Setup(level, format string) {
	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		logger = newLogger(output, level, format)
		slog.SetDefault(logger)
	})
}

// SetOutput replaces the destination writer and rebuilds the logger.
// Used by tests and by callers that want logs somewhere other than stderr.
func SetOutput(w io.Writer, level, format string) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	logger = newLogger(w, level, format)
	once.Do(func() {})
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name to a slog level. Unknown names map to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG", "TRACE":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	mu.Lock()
	l := logger
	mu.Unlock()
	if l == nil {
		Setup("INFO", "json")
		mu.Lock()
		l = logger
		mu.Unlock()
	}
	return l
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithPlugin returns a logger with the plugin field set.
func WithPlugin(name string) *slog.Logger {
	return Get().With(slog.String("plugin", name))
}

// WithSession returns a logger with the session_id field set.
func WithSession(id string) *slog.Logger {
	return Get().With(slog.String("session_id", id))
}

// Info logs at INFO level.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Debug logs at DEBUG level.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Warn logs at WARN level.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs at ERROR level.
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}
