// Package lifecycle implements the book and chapter state machines as
// explicit transition tables.
//
// Each book event names its allowed source states, its target, an optional
// guard, and an optional effect. Machine.Fire runs the whole
// read-validate-write inside one catalog transaction so two callers racing
// from the same source cannot both succeed. Chapter operations follow the
// same pattern through Chapters, and generation claims carry a token so a
// redelivered work unit can resume its own claim without stealing another's.
package lifecycle
