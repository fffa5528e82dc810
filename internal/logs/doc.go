// Package logs tails the daemon's JSON log file for `inkwell logs`.
//
// Tail reads with bounded memory, accepts a negative offset for "last N
// lines", and in follow mode waits for new lines until the context ends.
package logs
