// Package logging configures the process-wide slog logger shared by the
// binaries.
package logging

import (
	"fmt"
	"log/slog"
	"os"

	"go.uber.org/automaxprocs/maxprocs"
)

// Setup installs a JSON logger on stdout as the slog default and sizes
// GOMAXPROCS to the container quota. Debug adds source locations.
func Setup(program string, debug bool) (*slog.Logger, error) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			AddSource: debug,
			Level:     level,
		}),
	)
	slog.SetDefault(logger)
	logger.Info("starting", "program", program)

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, v ...any) {
		logger.Info(fmt.Sprintf(format, v...))
	})); err != nil {
		return nil, fmt.Errorf("set GOMAXPROCS: %w", err)
	}
	return logger, nil
}
