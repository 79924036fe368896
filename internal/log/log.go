// Package log builds the logrus loggers shared by every component.
package log

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Noop is a logger that discards everything.
var Noop logrus.FieldLogger = newNoop()

func newNoop() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}

// New returns the application logger. Text output with full timestamps, JSON
// when json is set.
func New(out io.Writer, debug, json bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	if json {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if debug {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

// For tags logger with the component name, falling back to Noop.
func For(logger logrus.FieldLogger, svc string) logrus.FieldLogger {
	if logger == nil {
		logger = Noop
	}
	return logger.WithField("svc", svc)
}
