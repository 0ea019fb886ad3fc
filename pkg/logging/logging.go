// Package logging provides structured logging for convoflow.
package logging

import (
	"log/slog"
	"os"
)

// Logger provides structured logging
type Logger interface {
	// Debug logs a debug message
	Debug(msg string, fields ...Field)

	// Info logs an info message
	Info(msg string, fields ...Field)

	// Warn logs a warning message
	Warn(msg string, fields ...Field)

	// Error logs an error message
	Error(msg string, fields ...Field)

	// WithFields returns a new logger with the given fields
	WithFields(fields ...Field) Logger

	// LogTurn records a conversation turn event
	LogTurn(flowID string, sessionID string, event string, data map[string]interface{})

	// LogNode records a node execution event within a turn
	LogNode(flowID string, sessionID string, nodeID string, event string, data map[string]interface{})
}

// Field represents a key-value pair in a log entry
type Field struct {
	// Key is the field name
	Key string

	// Value is the field value
	Value interface{}
}

// F is a shorthand constructor for a Field
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// slogLogger implements Logger on top of log/slog
type slogLogger struct {
	logger *slog.Logger
}

// NewLogger creates a JSON logger writing to stdout at the given level
// ("debug", "info", "warn", "error").
func NewLogger(level string) Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return &slogLogger{logger: slog.New(handler)}
}

// NewNopLogger creates a logger that discards everything. Useful in tests.
func NewNopLogger() Logger {
	handler := slog.NewJSONHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return &slogLogger{logger: slog.New(handler)}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func (l *slogLogger) Debug(msg string, fields ...Field) {
	l.logger.Debug(msg, attrs(fields)...)
}

func (l *slogLogger) Info(msg string, fields ...Field) {
	l.logger.Info(msg, attrs(fields)...)
}

func (l *slogLogger) Warn(msg string, fields ...Field) {
	l.logger.Warn(msg, attrs(fields)...)
}

func (l *slogLogger) Error(msg string, fields ...Field) {
	l.logger.Error(msg, attrs(fields)...)
}

func (l *slogLogger) WithFields(fields ...Field) Logger {
	return &slogLogger{logger: l.logger.With(attrs(fields)...)}
}

func (l *slogLogger) LogTurn(flowID string, sessionID string, event string, data map[string]interface{}) {
	l.logger.Info("turn",
		slog.String("flow_id", flowID),
		slog.String("session_id", sessionID),
		slog.String("event", event),
		slog.Any("data", data),
	)
}

func (l *slogLogger) LogNode(flowID string, sessionID string, nodeID string, event string, data map[string]interface{}) {
	l.logger.Debug("node",
		slog.String("flow_id", flowID),
		slog.String("session_id", sessionID),
		slog.String("node_id", nodeID),
		slog.String("event", event),
		slog.Any("data", data),
	)
}

func attrs(fields []Field) []interface{} {
	out := make([]interface{}, 0, len(fields))
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}
