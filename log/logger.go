/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package log provides a thin structured logging facade on top of the logf library.
package log

import (
	"fmt"
	"io"
	"os"

	"github.com/ssgreg/logf"
	"github.com/ssgreg/logftext"
)

// Field holds data of a specific logging field.
type Field = logf.Field

// CloseFunc flushes buffered log entries and releases logging resources.
type CloseFunc logf.ChannelWriterCloseFunc

// LogFunc allows logging a message with a bound level.
// nolint: revive
type LogFunc = logf.LogFunc

// Error returns a new Field with the given error. Key is 'error'.
var Error = logf.Error

// String returns a new Field with the given key and string.
var String = logf.String

// Int returns a new Field with the given key and int.
var Int = logf.Int

// Int64 returns a new Field with the given key and int64.
var Int64 = logf.Int64

// Bool returns a new Field with the given key and bool.
var Bool = logf.Bool

// Duration returns a new Field with the given key and time.Duration.
var Duration = logf.Duration

// Any returns a new Field with the given key and a value of any type.
var Any = logf.Any

// Level defines logging level.
type Level int

// Logging levels.
const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// Format defines the output format of the logger.
type Format string

// Supported logging formats.
const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// FieldLogger is an interface for loggers that write logs in a structured format.
type FieldLogger interface {
	With(...Field) FieldLogger

	Debug(string, ...Field)
	Info(string, ...Field)
	Warn(string, ...Field)
	Error(string, ...Field)

	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warnf(string, ...interface{})
	Errorf(string, ...interface{})

	AtLevel(Level, func(LogFunc))
}

// Opts contains optional parameters for the logger construction.
type Opts struct {
	// Level is a minimal logging level. LevelInfo is used by default.
	Level Level

	// Format is an output format. FormatJSON is used by default.
	Format Format

	// Output is a writer for log entries. os.Stdout is used by default.
	Output io.Writer
}

// NewLogger returns a new logger that writes entries asynchronously via a channel writer.
// The returned CloseFunc must be called before the process exits to flush buffered entries.
func NewLogger(opts Opts) (FieldLogger, CloseFunc) {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	channel, closeFunc := logf.NewChannelWriter(logf.ChannelWriterConfig{
		Appender:          makeAppender(opts),
		EnableSyncOnError: true,
	})
	return &LogfAdapter{logf.NewLogger(convertLevelToLogfLevel(opts.Level), channel)}, CloseFunc(closeFunc)
}

// NewDisabledLogger returns a new logger that logs nothing.
func NewDisabledLogger() FieldLogger {
	return &LogfAdapter{logf.NewDisabledLogger()}
}

// LogfAdapter adapts logf.Logger to FieldLogger interface.
type LogfAdapter struct {
	Logger *logf.Logger
}

// With returns a new logger with the given additional fields.
func (l *LogfAdapter) With(fs ...Field) FieldLogger {
	return &LogfAdapter{l.Logger.With(fs...)}
}

// Debug logs message at "debug" level.
func (l *LogfAdapter) Debug(s string, fields ...Field) {
	l.Logger.Debug(s, fields...)
}

// Info logs message at "info" level.
func (l *LogfAdapter) Info(s string, fields ...Field) {
	l.Logger.Info(s, fields...)
}

// Warn logs message at "warn" level.
func (l *LogfAdapter) Warn(s string, fields ...Field) {
	l.Logger.Warn(s, fields...)
}

// Error logs message at "error" level.
func (l *LogfAdapter) Error(s string, fields ...Field) {
	l.Logger.Error(s, fields...)
}

// Debugf logs a formatted message at "debug" level.
func (l *LogfAdapter) Debugf(format string, args ...interface{}) {
	l.logStringAtLevel(LevelDebug, format, args...)
}

// Infof logs a formatted message at "info" level.
func (l *LogfAdapter) Infof(format string, args ...interface{}) {
	l.logStringAtLevel(LevelInfo, format, args...)
}

// Warnf logs a formatted message at "warn" level.
func (l *LogfAdapter) Warnf(format string, args ...interface{}) {
	l.logStringAtLevel(LevelWarn, format, args...)
}

// Errorf logs a formatted message at "error" level.
func (l *LogfAdapter) Errorf(format string, args ...interface{}) {
	l.logStringAtLevel(LevelError, format, args...)
}

// AtLevel calls the given fn if logging a message at the specified level
// is enabled, passing a LogFunc with the bound level.
func (l *LogfAdapter) AtLevel(level Level, fn func(logFunc LogFunc)) {
	l.Logger.AtLevel(convertLevelToLogfLevel(level), fn)
}

func (l *LogfAdapter) logStringAtLevel(level Level, format string, args ...interface{}) {
	l.AtLevel(level, func(writer LogFunc) {
		writer(fmt.Sprintf(format, args...))
	})
}

func convertLevelToLogfLevel(value Level) logf.Level {
	switch value {
	case LevelError:
		return logf.LevelError
	case LevelWarn:
		return logf.LevelWarn
	case LevelInfo:
		return logf.LevelInfo
	case LevelDebug:
		return logf.LevelDebug
	}
	return logf.LevelInfo
}

func makeAppender(opts Opts) logf.Appender {
	if opts.Format == FormatText {
		return logftext.NewAppender(opts.Output, logftext.EncoderConfig{
			EncodeTime: logf.RFC3339NanoTimeEncoder,
		})
	}
	return logf.NewWriteAppender(opts.Output, logf.NewJSONEncoder(logf.JSONEncoderConfig{
		EncodeTime:   logf.RFC3339NanoTimeEncoder,
		FieldKeyTime: "time",
	}))
}
