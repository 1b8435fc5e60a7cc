// Package logging provides structured logging with trace ID propagation for
// the runtime's arbiters, bus, and supervisor.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried through arbiter calls.
type ContextKey string

const (
	// TraceIDKey is the context key for the ambient trace id (audit log §4.D
	// attaches this id when present).
	TraceIDKey ContextKey = "trace_id"
	// ArbiterKey is the context key for the originating arbiter name.
	ArbiterKey ContextKey = "arbiter"
	// GoalKey is the context key for a goal id, when the log line concerns one.
	GoalKey ContextKey = "goal_id"
)

// Logger wraps logrus.Logger with runtime-specific field helpers.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a new Logger instance for the named service/arbiter.
func New(service, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, service: service}
}

// NewFromEnv constructs a logger using LOG_LEVEL and LOG_FORMAT environment
// variables, defaulting to "info" and "json" when unset.
func NewFromEnv(service string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(service, level, format)
}

// WithContext creates a log entry carrying trace id, arbiter, and goal
// fields pulled from ctx when present.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)
	if traceID := ctx.Value(TraceIDKey); traceID != nil {
		entry = entry.WithField("trace_id", traceID)
	}
	if arbiter := ctx.Value(ArbiterKey); arbiter != nil {
		entry = entry.WithField("arbiter", arbiter)
	}
	if goalID := ctx.Value(GoalKey); goalID != nil {
		entry = entry.WithField("goal_id", goalID)
	}
	return entry
}

// WithFields creates a log entry with custom fields plus the service name.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["service"] = l.service
	return l.Logger.WithFields(fields)
}

// WithError creates a log entry carrying an error field.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{"service": l.service, "error": err.Error()})
}

// SetOutput redirects the underlying logger's output (tests use this to
// capture lines instead of writing to stdout).
func (l *Logger) SetOutput(output io.Writer) {
	l.Logger.SetOutput(output)
}

// NewTraceID mints a fresh trace id for a message or arbiter operation.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID attaches a trace id to ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace id from ctx, if any.
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// WithArbiter attaches the originating arbiter name to ctx.
func WithArbiter(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ArbiterKey, name)
}

// LogGoalTransition logs a goal state-machine transition.
func (l *Logger) LogGoalTransition(ctx context.Context, goalID, from, to string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"goal_id": goalID,
		"from":    from,
		"to":      to,
	}).Info("goal transition")
}

// LogArbiterEvent logs a lifecycle event for an arbiter (initialize, clone,
// shutdown, degraded, recovered).
func (l *Logger) LogArbiterEvent(ctx context.Context, arbiter, event string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["arbiter"] = arbiter
	fields["event"] = event
	l.WithContext(ctx).WithFields(fields).Info("arbiter event")
}

// Global logger instance, initialized once at bootstrap.
var defaultLogger *Logger

// InitDefault initializes the process-wide default logger.
func InitDefault(service, level, format string) {
	defaultLogger = New(service, level, format)
}

// Default returns the process-wide logger, lazily falling back to a basic
// one if InitDefault was never called.
func Default() *Logger {
	if defaultLogger == nil {
		defaultLogger = New("cogrt", "info", "json")
	}
	return defaultLogger
}

// FormatDuration renders a duration in milliseconds for structured fields.
func FormatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1e6)
}
