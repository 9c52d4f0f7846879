/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package log

import "fmt"

// ComponentLogger prefixes every message with "[<component>] " and adds the "component" field,
// so entries of several queues or stores sharing one logger can be told apart.
type ComponentLogger struct {
	delegate FieldLogger
	prefix   string
}

// NewComponentLogger returns a logger scoped to the named component.
// A nil delegate yields a disabled logger.
func NewComponentLogger(delegate FieldLogger, component string) FieldLogger {
	if delegate == nil {
		delegate = NewDisabledLogger()
	}
	return &ComponentLogger{delegate.With(String("component", component)), "[" + component + "] "}
}

// With returns a new logger with the given additional fields.
func (l *ComponentLogger) With(fs ...Field) FieldLogger {
	return &ComponentLogger{l.delegate.With(fs...), l.prefix}
}

// Debug logs a message at "debug" level.
func (l *ComponentLogger) Debug(text string, fs ...Field) { l.delegate.Debug(l.prefix+text, fs...) }

// Info logs a message at "info" level.
func (l *ComponentLogger) Info(text string, fs ...Field) { l.delegate.Info(l.prefix+text, fs...) }

// Warn logs a message at "warn" level.
func (l *ComponentLogger) Warn(text string, fs ...Field) { l.delegate.Warn(l.prefix+text, fs...) }

// Error logs a message at "error" level.
func (l *ComponentLogger) Error(text string, fs ...Field) { l.delegate.Error(l.prefix+text, fs...) }

// Debugf logs a formatted message at "debug" level.
func (l *ComponentLogger) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}

// Infof logs a formatted message at "info" level.
func (l *ComponentLogger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

// Warnf logs a formatted message at "warn" level.
func (l *ComponentLogger) Warnf(format string, args ...interface{}) {
	l.Warn(fmt.Sprintf(format, args...))
}

// Errorf logs a formatted message at "error" level.
func (l *ComponentLogger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

// AtLevel calls the given fn if logging a message at the specified level is enabled.
func (l *ComponentLogger) AtLevel(level Level, fn func(logFunc LogFunc)) {
	l.delegate.AtLevel(level, func(logFunc LogFunc) {
		fn(func(msg string, fs ...Field) {
			logFunc(l.prefix+msg, fs...)
		})
	})
}

// WithLevel returns a new logger with additional level check.
func (l *ComponentLogger) WithLevel(level Level) FieldLogger {
	return &ComponentLogger{l.delegate.WithLevel(level), l.prefix}
}
