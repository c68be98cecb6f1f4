// Package sinks contains progress sink implementations: structured logs and
// Prometheus counters.
package sinks
