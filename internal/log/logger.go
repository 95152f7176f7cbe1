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
	logger *slog.Logger
)

// Setup initializes the global logger writing JSON to stderr.
// Unknown levels fall back to INFO.
func Setup(level string) {
	SetupWriter(os.Stderr, level, "json")
}

// SetupWriter initializes the global logger with an explicit writer and format
// ("json" or "text"). Only the first call takes effect.
func SetupWriter(w io.Writer, level, format string) {
	once.Do(func() {
		opts := &slog.HandlerOptions{
			Level: parseLevel(level),
		}
		var handler slog.Handler
		if strings.EqualFold(format, "text") {
			handler = slog.NewTextHandler(w, opts)
		} else {
			handler = slog.NewJSONHandler(w, opts)
		}
		logger = slog.New(handler)
		slog.SetDefault(logger)
	})
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
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
	if logger == nil {
		Setup("INFO")
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithBuild returns a logger carrying the id of one dispatch.
func WithBuild(l *slog.Logger, id string) *slog.Logger {
	if l == nil {
		l = Get()
	}
	return l.With(slog.String("build_id", id))
}

// WithUnit returns a logger carrying the source and object of one translation unit.
func WithUnit(l *slog.Logger, source, object string) *slog.Logger {
	if l == nil {
		l = Get()
	}
	return l.With(slog.String("source", source), slog.String("object", object))
}
