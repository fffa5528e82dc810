// Package logging builds the slog loggers shared by the CLI and daemon.
//
// Console output uses a one-line format prefixed with the book and chapter a
// record concerns; the daemon additionally appends JSON records to
// inkwell.log. WithContext copies book, chapter, work unit and queue
// identifiers from a context onto a logger.
package logging
