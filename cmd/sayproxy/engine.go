package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sayproxy/sayproxy/internal/config"
	"github.com/sayproxy/sayproxy/pkg/sayproxy"
)

var (
	flagVoice           string
	flagFormat          string
	flagRate            float64
	flagPitch           float64
	flagStream          bool
	flagOutput          string
	flagDefaultProvider string
	flagLogLevel        string
)

func newLogger(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(level)})
	return slog.New(handler)
}

func parseLevel(value string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildEngine loads configuration from the environment, applies any
// CLI-flag overrides relevant to the invoked subcommand, and assembles a
// ready-to-use Engine.
func buildEngine() (*sayproxy.Engine, *slog.Logger, error) {
	cfg, err := config.Loader{}.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	if flagDefaultProvider != "" {
		cfg.DefaultProvider = flagDefaultProvider
	}
	if flagFormat != "" {
		cfg.DefaultFormat = flagFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger := newLogger(flagLogLevel)
	engine, err := sayproxy.New(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return engine, logger, nil
}
