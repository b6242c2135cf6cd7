// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs and /v1/jobs/standard for site submission.
//   - GET /v1/jobs/{id} and /v1/jobs/{id}/result for status and the folded
//     company snapshot.
//   - POST /v1/jobs/{id}/cancel to stop a queued or running job.
package api
