// Package daemon coordinates the long-running inkwell process.
//
// BuildRuntime wires the catalog, work queue, state machines, orchestrator,
// pricing engine, and api.Service into one object graph. The daemon takes a
// flock-based lock so only one instance processes the queue, then starts
// the workflow lanes, the pricing scheduler, and the HTTP API that exposes
// every api.Service operation plus /api/status and, when enabled, metrics.
//
// Rejections are written as api.Error bodies with the status from api.Code.
package daemon
