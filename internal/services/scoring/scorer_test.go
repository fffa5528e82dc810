package scoring_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"inkwell/internal/config"
	"inkwell/internal/services"
	"inkwell/internal/services/scoring"
)

func TestHTTPScorerPostsText(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("unexpected authorization %q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["text"] != "chapter text" {
			t.Fatalf("unexpected text %q", body["text"])
		}
		score := 12.5
		if r.URL.Path == "/plagiarism" {
			score = 1.25
		}
		_ = json.NewEncoder(w).Encode(map[string]float64{"score": score})
	}))
	defer server.Close()

	scorer := scoring.NewHTTPScorer(server.URL+"/", "secret", server.Client())
	ai, err := scorer.ScoreAILikelihood(context.Background(), "chapter text")
	if err != nil || ai != 12.5 {
		t.Fatalf("ai score = %v, %v", ai, err)
	}
	plag, err := scorer.ScorePlagiarism(context.Background(), "chapter text")
	if err != nil || plag != 1.25 {
		t.Fatalf("plagiarism score = %v, %v", plag, err)
	}
	if len(paths) != 2 || paths[0] != "/ai-detection" || paths[1] != "/plagiarism" {
		t.Fatalf("unexpected paths %v", paths)
	}
}

func TestHTTPScorerClassifiesFailures(t *testing.T) {
	status := http.StatusServiceUnavailable
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("busy"))
	}))
	defer server.Close()
	scorer := scoring.NewHTTPScorer(server.URL, "", server.Client())

	_, err := scorer.ScoreAILikelihood(context.Background(), "text")
	if !services.Retryable(err) {
		t.Fatalf("expected transient error for 503, got %v", err)
	}

	status = http.StatusUnauthorized
	_, err = scorer.ScoreAILikelihood(context.Background(), "text")
	var perr *services.ProviderError
	if !errors.As(err, &perr) || perr.Transient {
		t.Fatalf("expected permanent provider error for 401, got %v", err)
	}
}

func TestHTTPScorerRejectsOutOfRangeScore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"score": 140}`))
	}))
	defer server.Close()
	scorer := scoring.NewHTTPScorer(server.URL, "", server.Client())
	if _, err := scorer.ScorePlagiarism(context.Background(), "text"); !errors.Is(err, services.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestNewConfiguredScorerDisabled(t *testing.T) {
	scorer := scoring.NewConfiguredScorer(config.Scoring{Enabled: false, URL: "http://example"})
	_, err := scorer.ScoreAILikelihood(context.Background(), "text")
	if !errors.Is(err, scoring.ErrUnavailable) || !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected unavailable configuration error, got %v", err)
	}
	if services.Retryable(err) {
		t.Fatal("unavailable scorer must not be retried")
	}
}

func TestStaticScorer(t *testing.T) {
	s := scoring.Static{AI: 10, Plagiarism: 2}
	ai, _ := s.ScoreAILikelihood(context.Background(), "")
	plag, _ := s.ScorePlagiarism(context.Background(), "")
	if ai != 10 || plag != 2 {
		t.Fatalf("unexpected static scores %v %v", ai, plag)
	}
}
