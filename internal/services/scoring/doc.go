// Package scoring rates chapter and manuscript text for AI likelihood and
// plagiarism. Both scores are percentages in [0, 100].
//
// NewConfiguredScorer returns the HTTP scorer when [scoring] is enabled and
// an Unavailable scorer otherwise, so the quality handlers can always call a
// Scorer and let missing scores surface as gate failures.
package scoring
