// Package monitoring holds the diagnostic logger used for per-frame and per-track
// messages, which are far noisier than the lifecycle logs written with the standard
// logger.
package monitoring

import (
	"log"
	"os"
)

// Logf is the package-level diagnostic logger. It is muted until SetVerbose or
// SetLogger installs a destination.
var Logf func(format string, v ...interface{}) = func(string, ...interface{}) {}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetVerbose routes Logf to stderr with a [track] prefix, or mutes it.
func SetVerbose(on bool) {
	if !on {
		SetLogger(nil)
		return
	}
	SetLogger(log.New(os.Stderr, "[track] ", log.LstdFlags|log.Lmicroseconds).Printf)
}
