// Package api hosts the operator HTTP surface. Notable routes:
//   - GET /healthz and /readyz for health checks; readyz pings the store.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to start a full, continue or retry run, and
//     POST /v1/runs/{run_id}/stop to stop one.
//   - GET /v1/runs/latest and /v1/runs/{run_id} for run state.
//   - GET /v1/journals/{journal_id} and /v1/issn/{issn} for merged records.
//   - GET /v1/stats for per-source fetch status counts.
package api
