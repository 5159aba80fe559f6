// Package main hosts the scrapequeue service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes trigger, poll, health, and metrics endpoints. Request keys are
//     normalized at the boundary; invalid keys never create a job.
//   - Scheduler: jobs wait in an in-memory FIFO and are admitted while fewer than scheduler.concurrency executions
//     are running. Each execution runs under scheduler.execution_timeout; a slot is released on every path,
//     including panics and timeouts.
//   - Browser pool: one headless Chrome is launched lazily via chromedp and shared by all executions. Concurrent first
//     callers share a single launch; a failed launch is retried by the next admission.
//   - Executor: fills the upstream form, waits for a result or not-found marker, and parses tables with goquery.
//     "Not found" is a successful, cacheable result.
//   - Retention: a garbage collector sweeps job records older than jobs.ttl and cache entries older than cache.ttl.
//   - Fanout: lifecycle events are batched by the progress hub and sent to the log, the blob archive
//     (memory/local/GCS), the Postgres outcome table, and Pub/Sub, each only when configured.
//
// Operational notes:
//   - Nothing is persisted for recovery. A restart loses queued and running jobs.
//   - SIGTERM stops the HTTP server, then drains running executions bounded by server.shutdown_timeout.
//
// Quick checklist:
//   - Configure env vars: SCRAPEQ_EXECUTOR_TARGET_URL and the executor selectors, SCRAPEQ_SCHEDULER_CONCURRENCY,
//     SCRAPEQ_SCHEDULER_EXECUTION_TIMEOUT, SCRAPEQ_JOBS_TTL, SCRAPEQ_CACHE_TTL, and optionally storage, db, and pubsub.
//   - Run locally: go run ./cmd/scrapequeue serve --config config.yaml
//   - One-off: go run ./cmd/scrapequeue lookup 12345678901 --config config.yaml
package main
