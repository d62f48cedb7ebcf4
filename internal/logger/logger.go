package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/RadiSaiyed/Shamell-sub002/internal/config"
)

// NewLogger creates and configures a new slog.Logger. Production gets JSON
// output; everything else gets the text handler for readability.
func NewLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if cfg.Application.Env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler).With("app", cfg.Application.Name)

	logger.Info("logger initialized", "level", level)

	return logger
}
