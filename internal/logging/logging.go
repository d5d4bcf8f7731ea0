// Package logging configures the global zerolog logger.
//
// Output is stdout, stderr, or a size-rotated file. Format is JSON or a
// human-readable console layout. Request IDs travel in the context so
// handlers can tag their log lines.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls the global logger.
type Config struct {
	// Level is one of: trace | debug | info | warn | error (default info).
	Level string `yaml:"level"`

	// Format is json | console (default json).
	Format string `yaml:"format"`

	// Output is stdout | stderr | file (default stdout).
	Output string `yaml:"output"`

	// File is used when Output == "file".
	File FileConfig `yaml:"file"`
}

// FileConfig configures rotation for file output.
type FileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Validate checks level, format and output.
func (c Config) Validate() error {
	if c.Level != "" {
		if _, err := zerolog.ParseLevel(c.Level); err != nil {
			return fmt.Errorf("log.level %q: %w", c.Level, err)
		}
	}
	switch c.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("log.format %q unknown: want json|console", c.Format)
	}
	switch c.Output {
	case "", "stdout", "stderr":
	case "file":
		if c.File.Path == "" {
			return fmt.Errorf("log.file.path is required when log.output is file")
		}
	default:
		return fmt.Errorf("log.output %q unknown: want stdout|stderr|file", c.Output)
	}
	return nil
}

// New builds a logger from cfg. The returned closer releases the log file,
// if any.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	if err := cfg.Validate(); err != nil {
		return zerolog.Nop(), nil, err
	}

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		level, _ = zerolog.ParseLevel(cfg.Level)
	}

	var (
		writer io.Writer
		closer io.Closer = nopCloser{}
	)
	switch cfg.Output {
	case "stderr":
		writer = os.Stderr
	case "file":
		if err := os.MkdirAll(filepath.Dir(cfg.File.Path), 0o755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("log: create directory: %w", err)
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    orDefault(cfg.File.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.File.MaxBackups, 5),
			MaxAge:     orDefault(cfg.File.MaxAgeDays, 30),
			Compress:   cfg.File.Compress,
		}
		writer, closer = lj, lj
	default:
		writer = os.Stdout
	}

	if cfg.Format == "console" {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: "15:04:05"}
	}

	zl := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	return zl, closer, nil
}

// Setup installs a logger built from cfg as the global logger.
func Setup(cfg Config) (io.Closer, error) {
	zerolog.TimeFieldFormat = time.RFC3339
	zl, closer, err := New(cfg)
	if err != nil {
		return nil, err
	}
	log.Logger = zl
	return closer, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type contextKey string

const requestIDKey contextKey = "request_id"

// WithRequestID returns a context carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request ID stored in ctx, or "".
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
