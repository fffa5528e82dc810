// Package workqueue stores dispatched work units in named queues.
//
// A unit carries its own attempt counter, next-eligible time, and lease so
// retry exhaustion and stuck workers are visible in storage rather than
// hidden in broker configuration. Two backends implement Queue: SQLite for
// single-host deployments and Redis for shared worker fleets. Both honour a
// dedupe key so at most one live unit exists per (operation, entity).
package workqueue
