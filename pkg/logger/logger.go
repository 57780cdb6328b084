// Package logger wraps a process-wide logrus logger with field helpers.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Fields is the set of structured fields attached to a log entry.
type Fields = logrus.Fields

var (
	logger *logrus.Logger
	output io.Writer = os.Stdout
	mu     sync.Mutex
)

// InitLogger initializes the global logger for CLI operations
func InitLogger(logLevel string, noColor bool) {
	mu.Lock()
	defer mu.Unlock()

	l := logrus.New()
	l.SetOutput(output)

	level, err := logrus.ParseLevel(strings.ToLower(logLevel))
	if err != nil {
		level = logrus.InfoLevel // fallback to info level
	}
	l.SetLevel(level)

	if noColor {
		l.SetFormatter(&logrus.TextFormatter{
			DisableColors:    true,
			DisableTimestamp: true,
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			ForceColors:   true,
			FullTimestamp: false,
		})
	}
	logger = l
}

// SetOutput redirects log output. The logger is re-created on the next InitLogger call.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stdout
	}
	output = w
	if logger != nil {
		logger.SetOutput(w)
	}
}

// GetLogger returns the configured logger instance
func GetLogger() *logrus.Logger {
	mu.Lock()
	l := logger
	mu.Unlock()
	if l == nil {
		InitLogger("info", true)
		mu.Lock()
		l = logger
		mu.Unlock()
	}
	return l
}

// With returns an entry carrying the merged fields, for components that log repeatedly
// with the same context.
func With(fields ...Fields) *logrus.Entry {
	return GetLogger().WithFields(mergeFields(fields...))
}

// Info logs an info message
func Info(msg string, fields ...Fields) {
	With(fields...).Info(msg)
}

// Debug logs a debug message (only shown when debug level is enabled)
func Debug(msg string, fields ...Fields) {
	With(fields...).Debug(msg)
}

// Warn logs a warning message
func Warn(msg string, fields ...Fields) {
	With(fields...).Warn(msg)
}

// Error logs an error message
func Error(msg string, fields ...Fields) {
	With(fields...).Error(msg)
}

// Success logs a success message as info with success indicator
func Success(msg string, fields ...Fields) {
	merged := mergeFields(fields...)
	merged["status"] = "success"
	GetLogger().WithFields(merged).Info(msg)
}

func mergeFields(fields ...Fields) Fields {
	result := make(Fields)
	for _, field := range fields {
		for k, v := range field {
			result[k] = v
		}
	}
	return result
}
