// Package progress projects book and chapter state into the percentages
// and counts shown to operators. Everything here is read-only except
// ResyncWordCount, which rewrites the denormalized book word count on demand.
package progress
