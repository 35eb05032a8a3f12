// Package api serves the operational HTTP endpoints of long-running
// commands: liveness, readiness against the work queue, Prometheus
// metrics, and a JSON view of the queue backlog.
package api
