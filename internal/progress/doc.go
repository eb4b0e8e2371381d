// Package progress defines the events a pipeline run emits while it resolves
// metadata, and a non-blocking hub that batches them on a background
// goroutine before fanning them out to pluggable sinks such as structured
// logs or Prometheus collectors.
package progress
