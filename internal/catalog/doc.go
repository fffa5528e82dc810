// Package catalog persists books, chapters, pricing strategies, review
// snapshots, and consistency reports in SQLite.
//
// Every status change goes through a read-validate-write transaction that
// re-reads the row, checks the allowed source states, applies the caller's
// guard and effect, and commits with a conditional UPDATE on status and
// version. A row that changed underneath the caller produces a
// services.ConcurrencyConflictError and is left untouched. The schema also
// enforces the chapter review invariants and the append-only price history
// with CHECK constraints and triggers, so direct SQL cannot break them either.
//
// The lifecycle package owns which transitions exist; this package only knows
// how to commit one atomically.
package catalog
