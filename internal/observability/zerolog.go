package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LogConfig holds logger configuration.
type LogConfig struct {
	// Level is the minimum log level to output.
	Level zerolog.Level
	// Output is where logs are written. Defaults to os.Stderr.
	Output io.Writer
	// Pretty enables human-readable console output.
	Pretty bool
	// TimeFormat specifies the time format. Defaults to RFC3339.
	TimeFormat string
}

// DefaultLogConfig returns the default logger configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      zerolog.InfoLevel,
		Output:     os.Stderr,
		Pretty:     false,
		TimeFormat: time.RFC3339,
	}
}

// ParseLevel parses a log level string (case-insensitive).
// Unknown values resolve to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ZerologLogger adapts a zerolog.Logger to the Logger interface.
type ZerologLogger struct {
	zl zerolog.Logger
}

// NewZerologLogger builds a Logger backed by zerolog.
func NewZerologLogger(cfg LogConfig) *ZerologLogger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}

	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        cfg.Output,
			TimeFormat: cfg.TimeFormat,
		}
	}

	zl := zerolog.New(output).
		Level(cfg.Level).
		With().
		Timestamp().
		Logger()
	return &ZerologLogger{zl: zl}
}

// With returns a child logger carrying the given fields on every entry.
func (l *ZerologLogger) With(fields ...Field) *ZerologLogger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return &ZerologLogger{zl: ctx.Logger()}
}

// Debug logs at debug level.
func (l *ZerologLogger) Debug(msg string, fields ...Field) {
	apply(l.zl.Debug(), fields).Msg(msg)
}

// Info logs at info level.
func (l *ZerologLogger) Info(msg string, fields ...Field) {
	apply(l.zl.Info(), fields).Msg(msg)
}

// Error logs at error level.
func (l *ZerologLogger) Error(msg string, fields ...Field) {
	apply(l.zl.Error(), fields).Msg(msg)
}

func apply(evt *zerolog.Event, fields []Field) *zerolog.Event {
	if evt == nil {
		return nil
	}
	for _, f := range fields {
		switch v := f.Value.(type) {
		case error:
			evt = evt.AnErr(f.Key, v)
		case string:
			evt = evt.Str(f.Key, v)
		case int:
			evt = evt.Int(f.Key, v)
		case bool:
			evt = evt.Bool(f.Key, v)
		case time.Duration:
			evt = evt.Dur(f.Key, v)
		default:
			evt = evt.Interface(f.Key, v)
		}
	}
	return evt
}
