// Package logger wraps zap with the field helpers used across the services.
package logger

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is a structured log field.
type Field = zap.Field

// Logger is a thin wrapper over *zap.Logger.
type Logger struct {
	*zap.Logger
}

// New builds a logger for the given level (debug, info, warn, error) and
// encoding (json or console).
func New(level, encoding string) (*Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	if encoding == "" {
		encoding = "json"
	}
	if encoding != "json" && encoding != "console" {
		return nil, fmt.Errorf("invalid log encoding %q", encoding)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = encoding
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.DisableStacktrace = lvl > zapcore.DebugLevel

	zl, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return &Logger{Logger: zl}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// With returns a child logger carrying the given fields.
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

// Named returns a child logger with a name segment appended.
func (l *Logger) Named(name string) *Logger {
	return &Logger{Logger: l.Logger.Named(name)}
}

func StringField(key, value string) Field {
	return zap.String(key, value)
}

func IntField(key string, value int) Field {
	return zap.Int(key, value)
}

func Float64Field(key string, value float64) Field {
	return zap.Float64(key, value)
}

func BoolField(key string, value bool) Field {
	return zap.Bool(key, value)
}

func DurationField(key string, value time.Duration) Field {
	return zap.Duration(key, value)
}

func ErrorField(err error) Field {
	return zap.Error(err)
}
