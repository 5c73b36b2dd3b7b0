package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns the process logger. LOG_FORMAT=json switches to JSON lines
// and LOG_LEVEL picks the minimum level; unknown levels fall back to info.
func NewLogger(cfg *Config) *slog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true, Level: slog.LevelInfo}
	env := ""
	format := ""
	if cfg != nil {
		env = cfg.AppEnv
		format = strings.ToLower(cfg.LogFormat)
		var level slog.Level
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err == nil {
			opts.Level = level
		}
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(handler).With(slog.String("service", "ledger"))
	if env != "" {
		logger = logger.With(slog.String("env", env))
	}
	return logger
}
