// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the global logger instance. It discards output until Init is
// called.
var Logger = zerolog.Nop()

// Options configures the global logger.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json or console
	File   string // optional rotating log file

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Init initializes the global logger. It returns a closer for the log file,
// which is a no-op when no file is configured.
func Init(opts Options) io.Closer {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var stdout io.Writer = os.Stdout
	if opts.Format == "console" {
		stdout = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	var closer io.Closer = nopCloser{}
	output := stdout
	if opts.File != "" {
		file := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		output = zerolog.MultiLevelWriter(stdout, file)
		closer = file
	}

	Logger = zerolog.New(output).
		With().
		Timestamp().
		Logger()

	Logger.Info().
		Str("level", level.String()).
		Str("file", opts.File).
		Msg("logger initialized")

	return closer
}

// WithComponent returns a logger with a component field.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithRequestID returns a logger with a request ID field.
func WithRequestID(requestID string) zerolog.Logger {
	return Logger.With().Str("request_id", requestID).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
