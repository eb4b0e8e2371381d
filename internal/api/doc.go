// Package api hosts the ops HTTP server. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/jobs/{job_id}/status for the stored lifecycle of a run.
//   - GET /v1/cache/stats for the size of the shared metadata cache.
package api
