package quality_test

import (
	"errors"
	"slices"
	"testing"

	"inkwell/internal/catalog"
	"inkwell/internal/config"
	"inkwell/internal/quality"
	"inkwell/internal/services"
)

func defaultThresholds() quality.Thresholds {
	return quality.ThresholdsFromConfig(config.Default().Quality)
}

func completeChecklist(th quality.Thresholds) catalog.Checklist {
	c := catalog.Checklist{}
	for _, item := range th.RequiredChecklist {
		c[item] = true
	}
	return c
}

func score(v float64) *float64 { return &v }

func TestEvaluatePasses(t *testing.T) {
	th := defaultThresholds()
	res := quality.Evaluate(quality.Input{
		AIScore:         score(10),
		PlagiarismScore: score(1),
		Checklist:       completeChecklist(th),
	}, th)
	if !res.Passed || len(res.Failures) != 0 {
		t.Fatalf("expected pass, got %+v", res)
	}
	if err := res.Err(1); err != nil {
		t.Fatalf("expected nil error for passing result, got %v", err)
	}
}

func TestEvaluateFailureCodes(t *testing.T) {
	th := defaultThresholds()
	full := completeChecklist(th)

	tests := []struct {
		name  string
		input quality.Input
		want  []string
	}{
		{
			name:  "ai too high",
			input: quality.Input{AIScore: score(25), PlagiarismScore: score(1), Checklist: full},
			want:  []string{quality.CodeAIScoreTooHigh},
		},
		{
			name:  "bounds are exclusive",
			input: quality.Input{AIScore: score(20), PlagiarismScore: score(3), Checklist: full},
			want:  []string{quality.CodeAIScoreTooHigh, quality.CodePlagiarismScoreTooHigh},
		},
		{
			name:  "missing scores",
			input: quality.Input{Checklist: full},
			want:  []string{quality.CodeAIScoreMissing, quality.CodePlagiarismScoreMissing},
		},
		{
			name:  "checklist incomplete",
			input: quality.Input{AIScore: score(0), PlagiarismScore: score(0), Checklist: catalog.Checklist{"ai_disclosure": true}},
			want:  []string{quality.CodeChecklistIncomplete},
		},
		{
			name:  "everything wrong",
			input: quality.Input{AIScore: score(99), Checklist: nil},
			want:  []string{quality.CodeAIScoreTooHigh, quality.CodePlagiarismScoreMissing, quality.CodeChecklistIncomplete},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := quality.Evaluate(tt.input, th)
			if res.Passed {
				t.Fatal("expected gate to fail")
			}
			var gate *services.QualityGateError
			if err := res.Err(7); !errors.As(err, &gate) {
				t.Fatalf("expected QualityGateError, got %v", err)
			}
			if !slices.Equal(gate.Codes(), tt.want) {
				t.Fatalf("codes = %v, want %v", gate.Codes(), tt.want)
			}
			if !errors.Is(gate, services.ErrQualityGateFailed) {
				t.Fatal("expected error to match ErrQualityGateFailed")
			}
		})
	}
}

func TestScoreWarnings(t *testing.T) {
	th := defaultThresholds()
	if w := quality.ScoreWarnings(20, 3, th); len(w) != 0 {
		t.Fatalf("expected no warnings at the bounds, got %v", w)
	}
	if w := quality.ScoreWarnings(21, 3.5, th); len(w) != 2 {
		t.Fatalf("expected two warnings, got %v", w)
	}
}
