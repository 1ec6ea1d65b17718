// Package broadcast fans the latest readings out to push-channel viewers.
//
// A single actor goroutine owns the viewer set and the tick; it reads the
// store on each tick and queues one event per channel to every viewer.
// Per-connection writer goroutines own all socket writes, so a slow viewer
// is evicted instead of stalling the others.
package broadcast
