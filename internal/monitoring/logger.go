// Package monitoring holds the diagnostic logger shared by the store,
// ingest, analysis and notification packages.
package monitoring

import (
	"log"
	"sync/atomic"
)

type logFunc func(format string, v ...interface{})

var current atomic.Pointer[logFunc]

func init() {
	f := logFunc(log.Printf)
	current.Store(&f)
}

// Logf writes a diagnostic message through the current logger. It defaults
// to log.Printf and is safe to call while another goroutine swaps the
// logger.
func Logf(format string, v ...interface{}) {
	(*current.Load())(format, v...)
}

// SetLogger replaces the logger and returns a function that restores the
// previous one. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) (restore func()) {
	next := logFunc(f)
	if f == nil {
		next = func(string, ...interface{}) {}
	}
	prev := current.Swap(&next)
	return func() { current.Store(prev) }
}
