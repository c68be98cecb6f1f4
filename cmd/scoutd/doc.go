// Package main hosts the scout HTTP service entrypoint. It is the serve
// subcommand of the scout CLI packaged as its own binary for containers.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics and run endpoints. POST /v1/runs validates the body,
//     records a queued run in the RunStore and starts the pipeline in the background; GET endpoints return the run
//     record (or the summary.json of a CLI run) and the insights report.
//   - Pipeline: internal/pipeline discovers listings per category through the search API (errgroup, bounded), makes
//     URL ownership exclusive across categories, then cuts detail and review chunks and runs them through a
//     fixed-limit task runner. Each chunk is one remote actor invocation whose dataset is written as chunk-NNN.json,
//     or chunk-NNN.error.txt on failure.
//   - Review gate: a single preflight actor call decides whether the reviews actor is usable. Entitlement errors
//     disable the review stage for the rest of the run; transient errors do not.
//   - Persistence & fanout: artifacts go to the configured BlobStore (memory/local/GCS). A compact Pub/Sub
//     notification is published per chunk when a topic is configured. Progress events are batched by the progress
//     Hub and sent to the zap log sink and the Prometheus sink.
//   - Configuration & plumbing: Viper populates config from env/files (prefix GUMGENIE, plus APIFY_TOKEN and
//     SERPAPI_KEY); zap provides structured logging; Prometheus metrics are exported via /metrics.
//
// Operational notes:
//   - The process listens on server.port, or PORT when set.
//   - On SIGTERM the server reports not-ready, rejects new runs, waits for in-flight runs up to --drain-timeout and
//     then shuts down the listener.
//   - Run records live in memory; a restarted service still serves CLI-style runs from their summary.json.
package main
