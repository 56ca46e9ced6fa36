// Package api serves the gateway's local status endpoints over HTTP.
//
// This package provides:
//   - /healthz: liveness of the MQTT, radio daemon, InfluxDB and database links
//   - /metrics: Prometheus exposition of the gateway counters
//   - /api/v1/status: JSON snapshot of the gateway loop and radio daemon
//   - /api/v1/radio: radio daemon counters
//   - /api/v1/nodes: last known state of every node, when the registry is enabled
//
// The server is read-only. Nothing here can publish on the bus or key the
// radio, so it is safe to expose on a management interface.
//
// Every request gets an X-Request-ID (a client-supplied one is kept) and a
// structured access log line.
package api
