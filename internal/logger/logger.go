// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package logger

import (
	"context"
	"fmt"
	"io"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/juju/imagereaper/core/logger"
)

// loggoLogger is a loggo.Logger for the logger.Logger interface.
type loggoLogger struct {
	logger loggo.Logger
}

// WrapLoggo wraps a loggo.Logger as a logger.Logger.
func WrapLoggo(l loggo.Logger) logger.Logger {
	return loggoLogger{logger: l}
}

// GetLogger returns the logger with the given name from the default loggo
// context.
func GetLogger(name string) logger.Logger {
	return WrapLoggo(loggo.GetLogger(name))
}

// Criticalf logs a message at the critical level.
func (c loggoLogger) Criticalf(_ context.Context, msg string, args ...any) {
	c.logger.Criticalf(msg, args...)
}

// Errorf logs a message at the error level.
func (c loggoLogger) Errorf(_ context.Context, msg string, args ...any) {
	c.logger.Errorf(msg, args...)
}

// Warningf logs a message at the warning level.
func (c loggoLogger) Warningf(_ context.Context, msg string, args ...any) {
	c.logger.Warningf(msg, args...)
}

// Infof logs a message at the info level.
func (c loggoLogger) Infof(_ context.Context, msg string, args ...any) {
	c.logger.Infof(msg, args...)
}

// Debugf logs a message at the debug level.
func (c loggoLogger) Debugf(_ context.Context, msg string, args ...any) {
	c.logger.Debugf(msg, args...)
}

// Tracef logs a message at the trace level.
func (c loggoLogger) Tracef(_ context.Context, msg string, args ...any) {
	c.logger.Tracef(msg, args...)
}

// IsLevelEnabled returns true if the given level is enabled for the logger.
func (c loggoLogger) IsLevelEnabled(level logger.Level) bool {
	return c.logger.IsLevelEnabled(loggo.Level(level))
}

// Child returns a new logger with the given name.
func (c loggoLogger) Child(name string) logger.Logger {
	return loggoLogger{logger: c.logger.Child(name)}
}

// ConfigureDefault points the default loggo writer at w, using the
// timestamped, leveled line format, and applies the logging config spec.
// An empty spec leaves the default levels untouched.
func ConfigureDefault(w io.Writer, spec string) error {
	if _, err := loggo.ReplaceDefaultWriter(loggo.NewSimpleWriter(w, formatEntry)); err != nil {
		return errors.Annotate(err, "replacing default log writer")
	}
	if spec == "" {
		return nil
	}
	if err := loggo.ConfigureLoggers(spec); err != nil {
		return errors.Annotatef(err, "parsing logging config %q", spec)
	}
	return nil
}

// formatEntry renders a log entry as
//
//	2006-01-02 15:04:05 INFO module message
func formatEntry(entry loggo.Entry) string {
	ts := entry.Timestamp.UTC().Format("2006-01-02 15:04:05")
	return fmt.Sprintf("%s %s %s %s", ts, entry.Level, entry.Module, entry.Message)
}
