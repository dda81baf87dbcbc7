// Package logger configures the process-wide slog logger.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup builds a text logger at logLevel writing to stdout, stderr or
// appending to logFile, and installs it as the slog default.
func Setup(logLevel string, logFile string) (*slog.Logger, error) {
	var logWriter io.Writer = os.Stdout
	handlerOptions := &slog.HandlerOptions{Level: getLogLevel(logLevel)}

	if logFile == "stderr" {
		logWriter = os.Stderr
	}
	if logFile != "" && logFile != "stdout" && logFile != "stderr" {
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) // #nosec G304 G302 -- operator-chosen log file.
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		logWriter = f
	} else {
		// Process supervisors add their own timestamps on stdout.
		handlerOptions.ReplaceAttr = func(_ []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return attr
		}
	}

	logger := slog.New(slog.NewTextHandler(logWriter, handlerOptions))
	slog.SetDefault(logger)
	return logger, nil
}

func getLogLevel(logLevel string) slog.Level {
	var level slog.Level
	switch strings.ToLower(logLevel) {
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
	return level
}
