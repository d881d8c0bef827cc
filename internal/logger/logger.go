// Package logger builds the process-wide structured logger. Both binaries
// log JSON to stdout; the level comes from config and debug additionally
// records source locations.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/settleline-recon-engine/internal/config"
)

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// NewLogger creates the configured slog.Logger
func NewLogger(cfg *config.Config) *slog.Logger {
	level := parseLevel(cfg.Logging.Level)

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	})

	log := slog.New(handler).With("app", cfg.Application.Name)
	log.Info("logger initialized", "level", level)

	return log
}
