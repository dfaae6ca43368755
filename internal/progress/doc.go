// Package progress carries harvest milestones from the orchestrator to
// pluggable sinks. Emit never blocks; a background goroutine drains events
// in bursts and hands each burst to every sink.
package progress
