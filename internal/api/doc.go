// Package api hosts the ops HTTP server that runs alongside self-service
// mode. Routes:
//   - GET /healthz reports the age of the last heartbeat.
//   - GET /readyz for process probes.
//   - GET /metrics for Prometheus scraping.
package api
