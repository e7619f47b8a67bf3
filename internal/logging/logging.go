// Package logging initializes the process-wide structured logger: tinted
// console output plus an append-only log file under the tool-private
// directory.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lmittmann/tint"
)

// Init creates a slog.Logger writing to stderr and, when dataDir is
// non-empty, to <dataDir>/log.txt. The returned file is nil when no
// dataDir was given; callers own closing it. The logger is also installed
// as the slog default.
func Init(dataDir, level string) (*slog.Logger, *os.File, error) {
	var writer io.Writer = os.Stderr
	var file *os.File

	if dataDir != "" {
		logPath := filepath.Join(dataDir, "log.txt")
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		var err error
		file, err = os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		writer = io.MultiWriter(os.Stderr, file)
	}

	handler := tint.NewHandler(writer, &tint.Options{
		Level: parseLevel(level),
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, file, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
