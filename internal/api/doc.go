// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/ledger/stats and /v1/threads/{key} for ledger inspection.
//   - POST /v1/runs to trigger a pipeline run; GET /v1/runs/latest for its status.
package api
