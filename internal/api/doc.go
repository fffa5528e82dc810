// Package api is the produced interface shared by the CLI and the daemon's
// HTTP server. Every operation returns the resulting state as a transport
// DTO or a typed rejection that Code and ErrorFrom map onto stable error
// codes.
//
// # Key Types
//
// Service: book, chapter, quality, progress, and pricing operations over the
// catalog and the state machines.
//
// Book, Chapter, Progress, Pricing: transport views of catalog rows.
//
// Error: the {code, message, details} rejection body.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Enums are exposed as lowercase strings and
// timestamps as RFC3339 with milliseconds, matching the daemon status payload.
package api
