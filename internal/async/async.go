package async

import (
	"log"
	"runtime/debug"
)

// Go runs fn on a new goroutine and makes sure a panic inside it is
// written to the logger (with stack trace) before crashing. The terminal
// UI owns stdout/stderr while running, so an unlogged panic message is
// simply lost.
func Go(logger *log.Logger, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Printf("PANIC in goroutine: %v\nStack trace:\n%s", r, debug.Stack())
				// Re-panic after logging so the failure stays fatal
				panic(r)
			}
		}()
		fn()
	}()
}
