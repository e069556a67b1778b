// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/sources and /v1/sources/{source} for collection state.
//   - POST /v1/sources/{source}/unblock and /proxy/reset for operator
//     intervention.
//   - POST /v1/collect for ad-hoc collection of a single URL.
package api
