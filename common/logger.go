package common

import (
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// NewLogger creates a structured logger writing to stderr with timestamps and the given prefix.
// An unrecognised level falls back to info.
//
// Parameters:
//   - prefix: the prefix printed before every message (e.g. "renderer")
//   - level: the minimum level to emit ("debug", "info", "warn", "error", "fatal")
//
// Returns:
//   - *log.Logger: the configured logger
func NewLogger(prefix, level string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportCaller:    false,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          prefix,
	})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}
