// Package logging provides structured logging for finboard.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Fields holds structured context attached to a log entry.
type Fields map[string]interface{}

// Logger wraps logrus with the small surface the rest of the code uses.
type Logger struct {
	l *logrus.Logger
}

var (
	global *Logger
	once   sync.Once
)

// Init initializes the global logger. Safe to call multiple times; only the
// first call takes effect.
func Init(out io.Writer, level string) {
	once.Do(func() {
		global = newLogger(out, level)
	})
}

// Get returns the global logger instance.
func Get() *Logger {
	if global == nil {
		Init(os.Stdout, "info")
	}
	return global
}

func newLogger(out io.Writer, level string) *Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.JSONFormatter{})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	return &Logger{l: l}
}

// New creates a standalone logger, mainly for tests.
func New(out io.Writer, level string) *Logger {
	return newLogger(out, level)
}

// Debug logs a debug message.
func (lg *Logger) Debug(message string, fields Fields) {
	lg.l.WithFields(logrus.Fields(fields)).Debug(message)
}

// Info logs an info message.
func (lg *Logger) Info(message string, fields Fields) {
	lg.l.WithFields(logrus.Fields(fields)).Info(message)
}

// Warn logs a warning message.
func (lg *Logger) Warn(message string, fields Fields) {
	lg.l.WithFields(logrus.Fields(fields)).Warn(message)
}

// Error logs an error message.
func (lg *Logger) Error(message string, err error, fields Fields) {
	entry := lg.l.WithFields(logrus.Fields(fields))
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(message)
}

// Convenience functions using the global logger.

func Debug(message string, fields Fields) {
	Get().Debug(message, fields)
}

func Info(message string, fields Fields) {
	Get().Info(message, fields)
}

func Warn(message string, fields Fields) {
	Get().Warn(message, fields)
}

func Error(message string, err error, fields Fields) {
	Get().Error(message, err, fields)
}
