// Package logging builds the logrus loggers used by taskpool components.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	envLogLevel  = "TASKPOOL_LOG_LEVEL"
	envLogFormat = "TASKPOOL_LOG_FORMAT"
)

// Config selects the level and encoding of a logger.
type Config struct {
	Level  logrus.Level
	Format string // "json" or "text"
	Output io.Writer
}

// Load reads logging configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		Level:  logrus.InfoLevel,
		Format: "text",
		Output: os.Stderr,
	}

	if v := os.Getenv(envLogLevel); v != "" {
		cfg.Level = ParseLevel(v)
	}
	if v := os.Getenv(envLogFormat); v != "" {
		cfg.Format = strings.ToLower(v)
	}

	return cfg
}

// ParseLevel maps a level name onto logrus, falling back to info.
func ParseLevel(s string) logrus.Level {
	level, err := logrus.ParseLevel(strings.TrimSpace(s))
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// New creates a logger from cfg.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(cfg.Level)
	if cfg.Output != nil {
		logger.SetOutput(cfg.Output)
	}
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// Discard returns a logger that drops everything, for tests and quiet
// embedding. Components left without a Logger use logrus.StandardLogger().
func Discard() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.PanicLevel)
	return logger
}
