// Package progress provides the run events, the non-blocking hub and the
// emitter interface the pipeline uses to report progress. Events are batched
// on a background goroutine and fanned out to pluggable sinks such as the
// zap log sink or Prometheus counters.
package progress
