// Package log provides structured logging with pipe context.
//
// The Logger is a thin wrapper over a non-sugared zap.Logger. Every entry
// carries the identity of the pipe that produced it, so log streams from
// hosts running many pipes remain attributable.
package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides structured logging with pipe context.
// Entries of a logger from NewLogger include the pipe_id field bound at
// construction.
type Logger struct {
	zap *zap.Logger
}

// NewLogger creates a new logger bound to a pipe identity.
// Output defaults to os.Stderr.
func NewLogger(pipeID string) *Logger {
	return newLoggerWithWriter(pipeID, os.Stderr)
}

// Nop returns a logger that discards every entry. The pipe treats a nil
// *Logger the same way; Nop exists for call sites that want a non-nil
// logger unconditionally.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// WithOutput returns a new logger with a different output writer. The new
// logger replaces the whole core, so its entries do not carry the pipe_id
// field bound at construction.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	core := newCore(w)
	return &Logger{zap: l.zap.WithOptions(zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }))}
}

func newCore(w io.Writer) zapcore.Core {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
	return zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		zapcore.DebugLevel,
	)
}

// newLoggerWithWriter creates a logger writing to the specified writer.
func newLoggerWithWriter(pipeID string, w io.Writer) *Logger {
	zapLogger := zap.New(newCore(w)).With(zap.String("pipe_id", pipeID))
	return &Logger{zap: zapLogger}
}

// Debug logs a debug message. Nil-receiver safe.
func (l *Logger) Debug(message string, fields map[string]any) {
	if l == nil {
		return
	}
	l.zap.Debug(message, zap.Any("fields", fields))
}

// Info logs an info message. Nil-receiver safe.
func (l *Logger) Info(message string, fields map[string]any) {
	if l == nil {
		return
	}
	l.zap.Info(message, zap.Any("fields", fields))
}

// Warn logs a warning message. Nil-receiver safe.
func (l *Logger) Warn(message string, fields map[string]any) {
	if l == nil {
		return
	}
	l.zap.Warn(message, zap.Any("fields", fields))
}

// Error logs an error message. Nil-receiver safe.
func (l *Logger) Error(message string, fields map[string]any) {
	if l == nil {
		return
	}
	l.zap.Error(message, zap.Any("fields", fields))
}
