// Package api hosts the HTTP server, middleware, and REST handlers for
// operators. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to start a scouting run in the background.
//   - GET /v1/runs, /v1/runs/{run_id} and /v1/runs/{run_id}/insights to
//     follow runs and read their reports.
package api
