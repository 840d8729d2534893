// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to start a discovery run, GET /v1/runs/{run_id} for its
//     snapshot, POST /v1/runs/{run_id}/cancel to stop it.
//   - GET /v1/runs/{run_id}/events streams progress as server-sent events.
//   - GET /v1/repositories and /v1/stats read the repository store.
package api
