// Package logger provides the hook surface the core uses to report debug,
// informational, and error events. The core never picks a logging backend
// for itself; callers supply one.
package logger

import "log"

// DebugLogger is implemented by anything that wants to receive log events
// from the core. Components are handed one by reference, never a concrete
// type, so a caller can swap verbosity at will.
type DebugLogger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// NullLogger discards everything. It is the default so that, per package
// policy, nothing is printed unless a caller opts in.
type NullLogger struct{}

func (l *NullLogger) Debugf(format string, args ...interface{}) {}
func (l *NullLogger) Infof(format string, args ...interface{})  {}
func (l *NullLogger) Errorf(format string, args ...interface{}) {}

// StdLogger writes every event to the standard library logger, prefixed by
// level. Useful for a foreground/verbose run.
type StdLogger struct{}

func (l *StdLogger) Debugf(format string, args ...interface{}) {
	log.Printf("[DEBUG] "+format, args...)
}
func (l *StdLogger) Infof(format string, args ...interface{}) {
	log.Printf("[INFO] "+format, args...)
}
func (l *StdLogger) Errorf(format string, args ...interface{}) {
	log.Printf("[ERROR] "+format, args...)
}
