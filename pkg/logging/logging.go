package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// New returns a leveled key/value logger writing to w.
func New(w io.Writer, level string) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return log.NewWithOptions(w, log.Options{
		Level:           lvl,
		Prefix:          "resonance",
		ReportTimestamp: true,
	}), nil
}

// Stderr is New(os.Stderr, level), falling back to info on a bad level.
func Stderr(level string) *log.Logger {
	logger, err := New(os.Stderr, level)
	if err != nil {
		logger, _ = New(os.Stderr, "info")
		logger.Warn("unknown log level, using info", "level", level)
	}
	return logger
}

// Discard drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard)
}
