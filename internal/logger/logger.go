// Package logger owns the process-wide hclog logger. Components receive a
// Named child through their constructors; wiring code uses the package
// level helpers.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/loopforge/internal/config"
)

const rootName = "loopforge"

var (
	mu   sync.RWMutex
	root hclog.Logger = hclog.New(&hclog.LoggerOptions{
		Name:  rootName,
		Level: hclog.Info,
	})
	closer io.Closer
)

// Init replaces the root logger according to cfg. Output is "stdout",
// "stderr" or a file path opened for append.
func Init(cfg config.LoggingConfig) (hclog.Logger, error) {
	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		return nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}

	var out io.Writer
	var fileCloser io.Closer
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
		fileCloser = f
	}

	l := hclog.New(&hclog.LoggerOptions{
		Name:            rootName,
		Level:           level,
		Output:          out,
		JSONFormat:      strings.EqualFold(cfg.Format, "json"),
		IncludeLocation: level <= hclog.Debug,
	})

	mu.Lock()
	if closer != nil {
		closer.Close()
	}
	root = l
	closer = fileCloser
	mu.Unlock()

	return l, nil
}

// SetLevel adjusts the root level at runtime, used on config reload.
func SetLevel(level string) {
	if lvl := hclog.LevelFromString(level); lvl != hclog.NoLevel {
		Get().SetLevel(lvl)
	}
}

// Get returns the root logger.
func Get() hclog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// Named returns a sub-logger of the root logger.
func Named(name string) hclog.Logger {
	return Get().Named(name)
}

// Info logs informational messages with key/value pairs
func Info(msg string, args ...interface{}) {
	Get().Info(msg, args...)
}

// Warn logs warning messages
func Warn(msg string, args ...interface{}) {
	Get().Warn(msg, args...)
}

// Error logs error messages
func Error(msg string, args ...interface{}) {
	Get().Error(msg, args...)
}

// Debug logs debug messages
func Debug(msg string, args ...interface{}) {
	Get().Debug(msg, args...)
}
