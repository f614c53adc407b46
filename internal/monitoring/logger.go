package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// Read from the writer and detector goroutines.
var debugEnabled atomic.Bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebug enables or disables Debugf output. Debug logging is on when the
// process runs in dev mode (device plugged into a monitor) and off otherwise.
func SetDebug(enabled bool) {
	debugEnabled.Store(enabled)
}

// Debugf logs through Logf only when debug logging is enabled. Used for
// chatty per-edge and per-tick diagnostics that would swamp the log file in
// normal operation.
func Debugf(format string, v ...interface{}) {
	if debugEnabled.Load() {
		Logf("DEBUG "+format, v...)
	}
}
