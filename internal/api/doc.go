// Package api hosts the HTTP server for single-swimmer lookups. Routes:
//   - GET /healthz for liveness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/swimmers/{id} and POST /v1/swimmers to fetch one swimmer.
//   - GET /v1/teams for checkpointed crawl progress.
package api
