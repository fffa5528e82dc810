package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"inkwell/internal/config"
	"inkwell/internal/services"
)

const providerName = "scoring"

// Scorer rates text.
type Scorer interface {
	ScoreAILikelihood(ctx context.Context, text string) (float64, error)
	ScorePlagiarism(ctx context.Context, text string) (float64, error)
}

// HTTPDoer describes the HTTP client used by the scorer.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPScorer posts text to a scoring service. The service exposes
// POST {base}/ai-detection and POST {base}/plagiarism, each accepting
// {"text": "..."} and answering {"score": 12.5}.
type HTTPScorer struct {
	baseURL string
	apiKey  string
	client  HTTPDoer
}

// NewConfiguredScorer builds the scorer described by cfg.
func NewConfiguredScorer(cfg config.Scoring) Scorer {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if !cfg.Enabled || baseURL == "" {
		return Unavailable{}
	}
	timeout := 60 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return NewHTTPScorer(baseURL, cfg.APIKey, &http.Client{Timeout: timeout})
}

// NewHTTPScorer constructs an HTTP-backed scorer.
func NewHTTPScorer(baseURL, apiKey string, client HTTPDoer) *HTTPScorer {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPScorer{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		client:  client,
	}
}

func (s *HTTPScorer) ScoreAILikelihood(ctx context.Context, text string) (float64, error) {
	return s.score(ctx, "ai-detection", text)
}

func (s *HTTPScorer) ScorePlagiarism(ctx context.Context, text string) (float64, error) {
	return s.score(ctx, "plagiarism", text)
}

type scoreRequest struct {
	Text string `json:"text"`
}

type scoreResponse struct {
	Score *float64 `json:"score"`
}

func (s *HTTPScorer) score(ctx context.Context, endpoint, text string) (float64, error) {
	if strings.TrimSpace(text) == "" {
		return 0, services.Wrap(services.ErrValidation, "scoring", endpoint, "text is empty", nil)
	}
	body, err := json.Marshal(scoreRequest{Text: text})
	if err != nil {
		return 0, fmt.Errorf("encode score request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, err
		}
		var netErr net.Error
		return 0, &services.ProviderError{
			Provider:  providerName,
			Operation: endpoint,
			Transient: errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr),
			Err:       err,
		}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return 0, &services.ProviderError{Provider: providerName, Operation: endpoint, Transient: true, Err: err}
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		status := resp.StatusCode
		return 0, &services.ProviderError{
			Provider:  providerName,
			Operation: endpoint,
			Transient: status == http.StatusTooManyRequests || status >= 500,
			Err:       fmt.Errorf("status %d: %s", status, strings.TrimSpace(string(payload))),
		}
	}

	var decoded scoreResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return 0, &services.ProviderError{Provider: providerName, Operation: endpoint, Err: fmt.Errorf("decode response: %w", err)}
	}
	if decoded.Score == nil {
		return 0, &services.ProviderError{Provider: providerName, Operation: endpoint, Err: errors.New("response has no score")}
	}
	score := *decoded.Score
	if score < 0 || score > 100 {
		return 0, &services.ProviderError{Provider: providerName, Operation: endpoint, Err: fmt.Errorf("score %.2f out of range", score)}
	}
	return score, nil
}

// Static returns fixed scores. It backs dry runs and tests.
type Static struct {
	AI         float64
	Plagiarism float64
}

func (s Static) ScoreAILikelihood(ctx context.Context, _ string) (float64, error) {
	return s.AI, ctx.Err()
}

func (s Static) ScorePlagiarism(ctx context.Context, _ string) (float64, error) {
	return s.Plagiarism, ctx.Err()
}

// ErrUnavailable is returned by Unavailable for every call.
var ErrUnavailable = errors.New("scoring service not configured")

// Unavailable is the scorer used when [scoring] is disabled.
type Unavailable struct{}

func (Unavailable) ScoreAILikelihood(context.Context, string) (float64, error) {
	return 0, services.Wrap(services.ErrConfiguration, "scoring", "ai-detection", "", ErrUnavailable)
}

func (Unavailable) ScorePlagiarism(context.Context, string) (float64, error) {
	return 0, services.Wrap(services.ErrConfiguration, "scoring", "plagiarism", "", ErrUnavailable)
}
