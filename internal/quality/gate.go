package quality

import (
	"fmt"
	"strings"

	"inkwell/internal/catalog"
	"inkwell/internal/config"
	"inkwell/internal/services"
)

// Failure codes reported by Evaluate.
const (
	CodeAIScoreMissing         = "ai_score_missing"
	CodePlagiarismScoreMissing = "plagiarism_score_missing"
	CodeAIScoreTooHigh         = "ai_score_too_high"
	CodePlagiarismScoreTooHigh = "plagiarism_score_too_high"
	CodeChecklistIncomplete    = "checklist_incomplete"
)

// Thresholds are the exclusive upper bounds and checklist the gate enforces.
type Thresholds struct {
	MaxAIScore         float64
	MaxPlagiarismScore float64
	RequiredChecklist  []string
}

// ThresholdsFromConfig copies the [quality] section.
func ThresholdsFromConfig(cfg config.Quality) Thresholds {
	return Thresholds{
		MaxAIScore:         cfg.MaxAIScore,
		MaxPlagiarismScore: cfg.MaxPlagiarismScore,
		RequiredChecklist:  append([]string(nil), cfg.RequiredChecklist...),
	}
}

// Input is everything the gate looks at.
type Input struct {
	AIScore         *float64
	PlagiarismScore *float64
	Checklist       catalog.Checklist
}

// InputFromBook extracts gate input from a stored book.
func InputFromBook(book *catalog.Book) Input {
	if book == nil {
		return Input{}
	}
	return Input{
		AIScore:         book.AIDetectionScore,
		PlagiarismScore: book.PlagiarismScore,
		Checklist:       book.Checklist,
	}
}

// Result is the gate decision with every unmet condition.
type Result struct {
	Passed   bool
	Failures []services.GateFailure
}

// Err returns a *services.QualityGateError for a failed result, nil otherwise.
func (r Result) Err(bookID int64) error {
	if r.Passed {
		return nil
	}
	return &services.QualityGateError{BookID: bookID, Failures: append([]services.GateFailure(nil), r.Failures...)}
}

// Evaluate checks the scores and checklist against th. A missing score is an
// unmet condition rather than a pass.
func Evaluate(in Input, th Thresholds) Result {
	var failures []services.GateFailure

	switch {
	case in.AIScore == nil:
		failures = append(failures, services.GateFailure{
			Code:    CodeAIScoreMissing,
			Message: "AI-detection score has not been recorded",
		})
	case *in.AIScore >= th.MaxAIScore:
		failures = append(failures, services.GateFailure{
			Code:    CodeAIScoreTooHigh,
			Message: fmt.Sprintf("AI-detection score %.1f must be below %.1f", *in.AIScore, th.MaxAIScore),
		})
	}

	switch {
	case in.PlagiarismScore == nil:
		failures = append(failures, services.GateFailure{
			Code:    CodePlagiarismScoreMissing,
			Message: "plagiarism score has not been recorded",
		})
	case *in.PlagiarismScore >= th.MaxPlagiarismScore:
		failures = append(failures, services.GateFailure{
			Code:    CodePlagiarismScoreTooHigh,
			Message: fmt.Sprintf("plagiarism score %.1f must be below %.1f", *in.PlagiarismScore, th.MaxPlagiarismScore),
		})
	}

	if missing := in.Checklist.Missing(th.RequiredChecklist); len(missing) > 0 {
		failures = append(failures, services.GateFailure{
			Code:    CodeChecklistIncomplete,
			Message: "checklist incomplete: " + strings.Join(missing, ", "),
		})
	}

	return Result{Passed: len(failures) == 0, Failures: failures}
}

// ScoreWarnings reports chapter-level scores that would fail the book gate.
// Chapter scores are advisory and never block a transition.
func ScoreWarnings(aiScore, plagiarismScore float64, th Thresholds) []string {
	var warnings []string
	if aiScore > th.MaxAIScore {
		warnings = append(warnings, fmt.Sprintf("high AI-detection score %.1f%%", aiScore))
	}
	if plagiarismScore > th.MaxPlagiarismScore {
		warnings = append(warnings, fmt.Sprintf("high plagiarism score %.1f%%", plagiarismScore))
	}
	return warnings
}
