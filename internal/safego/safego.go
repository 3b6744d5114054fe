package safego

import (
	"log"
	"runtime/debug"
)

// Go runs fn on a new goroutine, logging any panic with a stack trace before
// re-raising it. Once stderr is redirected to the rotating log file a bare
// goroutine panic would otherwise vanish without a trace.
func Go(logger *log.Logger, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Printf("PANIC: %v\n%s", r, debug.Stack())
				panic(r)
			}
		}()
		fn()
	}()
}
