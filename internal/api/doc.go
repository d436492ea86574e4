// Package api hosts the optional HTTP status server for a batch run. Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the run id, per-device progress, the next batch id, and the stop state.
package api
