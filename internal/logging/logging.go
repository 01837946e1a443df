package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config controls the process-wide slog setup.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string
	// Format is one of text, json.
	Format string
}

// ConfigFromEnv reads LOG_LEVEL and LOG_FORMAT with safe defaults.
func ConfigFromEnv() Config {
	return Config{
		Level:  envOrDefault("LOG_LEVEL", "info"),
		Format: envOrDefault("LOG_FORMAT", "text"),
	}
}

var (
	mu            sync.Mutex
	defaultLogger *slog.Logger
)

// Init installs the process default logger. Safe to call once at startup;
// components created before Init fall back to a lazily built default.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	defaultLogger = slog.New(handler).With(slog.String("service", "aiy"))
	slog.SetDefault(defaultLogger)
}

// Default returns the installed logger, initializing from env if needed.
func Default() *slog.Logger {
	mu.Lock()
	installed := defaultLogger
	mu.Unlock()
	if installed != nil {
		return installed
	}
	Init(ConfigFromEnv())
	return Default()
}

// NewModuleLogger returns a logger scoped to one module/component pair.
func NewModuleLogger(module, component string) *slog.Logger {
	return Default().With(
		slog.String("module", module),
		slog.String("component", component),
	)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
