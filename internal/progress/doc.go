// Package progress carries per-job harvest events from workers to sinks. A Hub
// batches events on a background goroutine so emitters never block.
package progress
