// Package sinks implements progress consumers: structured logging, Prometheus
// run metrics, and a broadcaster that feeds live subscribers of a single run.
package sinks
