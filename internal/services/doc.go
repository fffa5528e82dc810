// Package services defines shared error and context utilities consumed by the
// lifecycle machines, the orchestrator, and external provider integrations.
//
// Key responsibilities:
//   - Context helpers that stamp book/chapter IDs, work unit IDs, queue names,
//     and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures as
//     retryable or terminal.
//   - Typed domain errors (invalid transition, quality gate, provider failure,
//     concurrency conflict) that callers match with errors.Is and errors.As.
//
// Use these helpers when wiring new handlers so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
