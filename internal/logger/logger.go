// Package logger provides structured logging for the storage engine.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with engine-specific convenience contexts.
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// NewLogger creates a new structured logger.
func NewLogger(cfg Config) *Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(output).
		With().
		Timestamp().
		Str("service", "lsmtree").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// GetZerolog returns the underlying zerolog logger.
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

// Info logs an info message.
func (l *Logger) Info(msg string) *zerolog.Event {
	return l.zlog.Info().Str("msg", msg)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) *zerolog.Event {
	return l.zlog.Debug().Str("msg", msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) *zerolog.Event {
	return l.zlog.Warn().Str("msg", msg)
}

// Error logs an error message.
func (l *Logger) Error(msg string) *zerolog.Event {
	return l.zlog.Error().Str("msg", msg)
}

// WithFields returns a logger with additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// DbLogger returns a logger scoped to public pkg/lsmdb operations.
func (l *Logger) DbLogger(operation string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "lsmdb").
			Str("operation", operation).
			Logger(),
	}
}

// WorkerLogger returns a logger scoped to internal/worker operations.
func (l *Logger) WorkerLogger(operation string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "worker").
			Str("operation", operation).
			Logger(),
	}
}

// LogDbOperation logs a public API call with structured fields.
func (l *Logger) LogDbOperation(operation string, duration time.Duration, err error) {
	event := l.zlog.Debug().
		Str("component", "lsmdb").
		Str("operation", operation).
		Dur("duration_ms", duration)

	if err != nil {
		event = l.zlog.Error().
			Str("component", "lsmdb").
			Str("operation", operation).
			Dur("duration_ms", duration).
			Err(err)
	}
	event.Msg("lsmdb operation completed")
}

// LogFlush logs a completed FLUSH work step.
func (l *Logger) LogFlush(pagesWritten uint64, duration time.Duration, err error) {
	event := l.zlog.Info().
		Str("component", "worker").
		Str("step", "flush").
		Uint64("pages_written", pagesWritten).
		Dur("duration_ms", duration)
	if err != nil {
		event = l.zlog.Error().
			Str("component", "worker").
			Str("step", "flush").
			Err(err)
	}
	event.Msg("flush completed")
}

// LogMerge logs a completed MERGE work step.
func (l *Logger) LogMerge(levelAge uint32, pagesWritten uint64, complete bool, duration time.Duration, err error) {
	event := l.zlog.Info().
		Str("component", "worker").
		Str("step", "merge").
		Uint32("level_age", levelAge).
		Uint64("pages_written", pagesWritten).
		Bool("complete", complete).
		Dur("duration_ms", duration)
	if err != nil {
		event = l.zlog.Error().
			Str("component", "worker").
			Str("step", "merge").
			Uint32("level_age", levelAge).
			Err(err)
	}
	event.Msg("merge step completed")
}

// LogCheckpoint logs a completed CHECKPOINT work step.
func (l *Logger) LogCheckpoint(checkpointID uint64, slot int, duration time.Duration, err error) {
	event := l.zlog.Info().
		Str("component", "worker").
		Str("step", "checkpoint").
		Uint64("checkpoint_id", checkpointID).
		Int("slot", slot).
		Dur("duration_ms", duration)
	if err != nil {
		event = l.zlog.Error().
			Str("component", "worker").
			Str("step", "checkpoint").
			Err(err)
	}
	event.Msg("checkpoint completed")
}

// LogRecovery logs the outcome of opening an existing database file.
func (l *Logger) LogRecovery(checkpointID uint64, logBytesReplayed uint64, duration time.Duration, err error) {
	event := l.zlog.Info().
		Str("component", "lsmdb").
		Str("step", "recovery").
		Uint64("checkpoint_id", checkpointID).
		Uint64("log_bytes_replayed", logBytesReplayed).
		Dur("duration_ms", duration)
	if err != nil {
		event = l.zlog.Error().
			Str("component", "lsmdb").
			Str("step", "recovery").
			Err(err)
	}
	event.Msg("recovery completed")
}

// Global logger instance.
var globalLogger *Logger

// InitGlobalLogger initializes the global logger.
func InitGlobalLogger(cfg Config) {
	globalLogger = NewLogger(cfg)
	log.Logger = *globalLogger.GetZerolog()
}

// GetGlobalLogger returns the global logger instance.
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		InitGlobalLogger(Config{
			Level:  "info",
			Pretty: true,
		})
	}
	return globalLogger
}
