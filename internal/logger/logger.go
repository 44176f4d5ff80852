// Package logger wraps zerolog behind a small, stable API used by the
// database adapters and the model layer.
package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with the subset of features Meridian needs.
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	TimeFormat string // rfc3339, unix, unixms
	Output     io.Writer
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     "json",
		TimeFormat: "rfc3339",
		Output:     os.Stdout,
	}
}

// New creates a Logger from the given config. A nil config uses defaults.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.TimeFieldFormat = timeFormat(cfg.TimeFormat)

	var zlog zerolog.Logger
	if cfg.Format == "console" {
		// Human-readable console output for development.
		output := zerolog.ConsoleWriter{
			Out:        cfg.Output,
			TimeFormat: time.RFC3339,
		}
		zlog = zerolog.New(output).With().Timestamp().Logger()
	} else {
		// Structured JSON for production.
		zlog = zerolog.New(cfg.Output).With().Timestamp().Logger()
	}

	return &Logger{zlog: zlog}
}

// Nop returns a logger that discards everything. Useful as a default
// inside adapters when the caller does not provide one.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// WithContext stores the logger in ctx for retrieval by FromContext.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return l.zlog.WithContext(ctx)
}

// FromContext retrieves the logger from ctx, falling back to a default.
func FromContext(ctx context.Context) *Logger {
	zlog := zerolog.Ctx(ctx)
	if zlog.GetLevel() == zerolog.Disabled {
		return New(nil)
	}
	return &Logger{zlog: *zlog}
}

// With starts a child-logger field chain.
func (l *Logger) With() *Context {
	return &Context{ctx: l.zlog.With()}
}

// Context wraps zerolog.Context for field chaining.
type Context struct {
	ctx zerolog.Context
}

func (c *Context) Str(key, val string) *Context {
	c.ctx = c.ctx.Str(key, val)
	return c
}

func (c *Context) Int(key string, val int) *Context {
	c.ctx = c.ctx.Int(key, val)
	return c
}

func (c *Context) Bool(key string, val bool) *Context {
	c.ctx = c.ctx.Bool(key, val)
	return c
}

func (c *Context) Dur(key string, val time.Duration) *Context {
	c.ctx = c.ctx.Dur(key, val)
	return c
}

func (c *Context) Err(err error) *Context {
	c.ctx = c.ctx.Err(err)
	return c
}

func (c *Context) Any(key string, val any) *Context {
	c.ctx = c.ctx.Interface(key, val)
	return c
}

func (c *Context) Logger() *Logger {
	return &Logger{zlog: c.ctx.Logger()}
}

func (l *Logger) Debug(msg string)                       { l.zlog.Debug().Msg(msg) }
func (l *Logger) Debugf(format string, args ...any)      { l.zlog.Debug().Msgf(format, args...) }
func (l *Logger) Info(msg string)                        { l.zlog.Info().Msg(msg) }
func (l *Logger) Infof(format string, args ...any)       { l.zlog.Info().Msgf(format, args...) }
func (l *Logger) Warn(msg string)                        { l.zlog.Warn().Msg(msg) }
func (l *Logger) Warnf(format string, args ...any)       { l.zlog.Warn().Msgf(format, args...) }
func (l *Logger) Error(msg string)                       { l.zlog.Error().Msg(msg) }
func (l *Logger) Errorf(format string, args ...any)      { l.zlog.Error().Msgf(format, args...) }

// WarnWith logs a warning with structured fields.
func (l *Logger) WarnWith(msg string, fields map[string]any) {
	event := l.zlog.Warn()
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// ErrorWith logs an error with structured fields.
func (l *Logger) ErrorWith(msg string, err error, fields map[string]any) {
	event := l.zlog.Error().Err(err)
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func timeFormat(format string) string {
	switch format {
	case "unix":
		return zerolog.TimeFormatUnix
	case "unixms":
		return zerolog.TimeFormatUnixMs
	default:
		return time.RFC3339
	}
}
