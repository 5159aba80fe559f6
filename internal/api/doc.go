// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - POST /v1/lookups and GET /v1/lookups/{key} to trigger a lookup.
//   - GET /v1/jobs/{job_id} to poll a job.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
