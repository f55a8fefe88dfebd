// Package monitoring holds the process-wide diagnostic logger.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...any) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		Logf = func(string, ...any) {}
		return
	}
	Logf = f
}

// Logger writes through Logf with a bracketed tag in front of every line.
// It satisfies loggers that want Printf and Verbose, such as migrate.Logger.
type Logger struct {
	tag     string
	verbose bool
}

// Tagged returns a Logger that prefixes lines with "[tag] ".
func Tagged(tag string) Logger {
	return Logger{tag: tag}
}

// WithVerbose returns a copy of l reporting v from Verbose.
func (l Logger) WithVerbose(v bool) Logger {
	l.verbose = v
	return l
}

// Printf logs one line through Logf.
func (l Logger) Printf(format string, v ...any) {
	Logf("["+l.tag+"] "+format, v...)
}

// Verbose reports whether chatty output was requested.
func (l Logger) Verbose() bool { return l.verbose }
