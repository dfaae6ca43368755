// Package api hosts the read-only HTTP server over stored notices:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/notices, /v1/classes and /v1/runs for querying.
package api
