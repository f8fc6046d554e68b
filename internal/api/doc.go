// Package api hosts the status listener started by the crawl command.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the pipeline report.
//   - GET /v1/crawl-stats for the per-day, per-domain counters.
package api
