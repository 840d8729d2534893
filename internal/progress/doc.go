// Package progress carries run milestones from the pipeline to observers. The
// Hub accepts events without ever blocking the emitter, batches them on a
// background goroutine and fans each batch out to sinks (structured logs,
// Prometheus, live SSE subscribers).
package progress
