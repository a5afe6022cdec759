// Package logging provides the leveled logging helpers used throughout
// bitpeer: thin wrappers over the standard library's log package, in the
// style the retrieved pack's tracker implementations already use.
package logging

import "log"

// Info logs an informational message.
func Info(format string, v ...any) {
	log.Printf("[INFO] "+format, v...)
}

// Warn logs a recoverable problem: a dropped datagram, a failed announce,
// a malformed request.
func Warn(format string, v ...any) {
	log.Printf("[WARN] "+format, v...)
}

// Error logs a failure serious enough that the caller is giving up on the
// current operation, but not fatal to the process.
func Error(format string, v ...any) {
	log.Printf("[ERROR] "+format, v...)
}
