package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settleline-recon-engine/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"  info  ", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), "input %q", tt.in)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		enabled slog.Level
	}{
		{"debug enables debug", "debug", slog.LevelDebug},
		{"info enables info", "info", slog.LevelInfo},
		{"error only enables error", "error", slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				Application: config.ApplicationConfig{Name: "settleline-test"},
				Logging:     config.LoggingConfig{Level: tt.level},
			}

			log := NewLogger(cfg)

			require.NotNil(t, log)
			assert.True(t, log.Enabled(context.Background(), tt.enabled))
		})
	}

	t.Run("error level suppresses info", func(t *testing.T) {
		cfg := &config.Config{Logging: config.LoggingConfig{Level: "error"}}

		log := NewLogger(cfg)

		assert.False(t, log.Enabled(context.Background(), slog.LevelInfo))
	})
}
