// Package progress carries pipeline events from the collector, fetcher and
// runner to pluggable sinks. Emitting never blocks; a background goroutine
// batches events and fans them out.
package progress
