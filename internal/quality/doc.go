// Package quality evaluates the export gate: AI-detection and plagiarism
// scores must fall below configured bounds and every required preflight
// checklist item must be confirmed before a book may become export ready.
//
// Evaluate is pure. The lifecycle package calls it inside the
// approve_for_export transaction so no caller can reach export_ready
// without passing the same checks.
package quality
