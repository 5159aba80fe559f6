// Package progress carries job lifecycle events from the scheduler to
// pluggable sinks. Emit never blocks the caller: events are buffered, batched
// on a background goroutine, and dropped under backpressure.
package progress
