// Package main hosts the inkwell CLI.
//
// Commands talk to the running daemon over its HTTP API when one is alive and
// otherwise open the catalog and work queue directly, so book and chapter
// operations work with or without the daemon. Work units enqueued from the
// CLI are picked up the next time the daemon runs.
package main
