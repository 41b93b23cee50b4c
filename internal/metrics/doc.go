// Package metrics collects gateway traffic statistics from a buffered event
// channel. Producers never block: events are dropped when the buffer is
// full. A single goroutine folds events into per-service counters served as
// JSON and, when an exporter is attached, mirrors them into Prometheus series.
package metrics
