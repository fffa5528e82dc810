package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"inkwell/internal/config"
	"inkwell/internal/services"
)

const (
	providerName       = "llm"
	defaultHTTPTimeout = 120 * time.Second
	defaultMaxTokens   = 4096
)

// Request describes one completion.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Generation is the normalized completion result.
type Generation struct {
	Text      string
	Model     string
	TokensIn  int64
	TokensOut int64
	CostUSD   float64
}

// TokensUsed returns prompt plus completion tokens.
func (g Generation) TokensUsed() int64 { return g.TokensIn + g.TokensOut }

// TextGenerator produces text from a prompt.
type TextGenerator interface {
	Generate(ctx context.Context, req Request) (Generation, error)
}

// Generator wraps the OpenAI chat completions API.
type Generator struct {
	client     openai.Client
	model      string
	inputCost  float64
	outputCost float64
	maxTokens  int
}

// Option customizes the generator.
type Option func(*generatorOptions)

type generatorOptions struct {
	httpClient *http.Client
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *generatorOptions) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// NewGenerator constructs a generator from the llm config section.
func NewGenerator(cfg config.LLM, opts ...Option) (*Generator, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, "llm", "init", "api key is required", nil)
	}
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	o := generatorOptions{httpClient: &http.Client{Timeout: timeout}}
	for _, opt := range opts {
		opt(&o)
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(o.httpClient),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(base))
	}

	maxTokens := cfg.ChapterMaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Generator{
		client:     openai.NewClient(clientOpts...),
		model:      strings.TrimSpace(cfg.Model),
		inputCost:  cfg.InputCostPer1K,
		outputCost: cfg.OutputCostPer1K,
		maxTokens:  maxTokens,
	}, nil
}

// Model returns the configured model name.
func (g *Generator) Model() string { return g.model }

// Generate performs a single chat completion.
func (g *Generator) Generate(ctx context.Context, req Request) (Generation, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return Generation{}, services.Wrap(services.ErrValidation, "llm", "generate", "prompt is required", nil)
	}
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(g.model),
		Messages:    messages,
		MaxTokens:   openai.Int(int64(maxTokens)),
		Temperature: openai.Float(req.Temperature),
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Generation{}, classifyError(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return Generation{}, &services.ProviderError{
			Provider: providerName, Operation: "generate", Transient: true,
			Err: errors.New("response contained no choices"),
		}
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		reason := resp.Choices[0].FinishReason
		return Generation{}, &services.ProviderError{
			Provider: providerName, Operation: "generate", Transient: reason != "content_filter",
			Err: fmt.Errorf("empty completion (finish_reason=%s)", reason),
		}
	}

	model := resp.Model
	if model == "" {
		model = g.model
	}
	gen := Generation{
		Text:      text,
		Model:     model,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
	}
	gen.CostUSD = g.cost(gen.TokensIn, gen.TokensOut)
	return gen, nil
}

func (g *Generator) cost(in, out int64) float64 {
	raw := float64(in)/1000*g.inputCost + float64(out)/1000*g.outputCost
	return math.Round(raw*1e6) / 1e6
}

func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		transient := status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500
		msg := strings.TrimSpace(apiErr.Message)
		if msg == "" {
			msg = http.StatusText(status)
		}
		return &services.ProviderError{
			Provider:  providerName,
			Operation: "generate",
			Transient: transient,
			Err:       fmt.Errorf("status %d: %s", status, msg),
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	transient := errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr)
	return &services.ProviderError{
		Provider:  providerName,
		Operation: "generate",
		Transient: transient,
		Err:       err,
	}
}

// Disabled is the generator used when no API key is configured. Every call
// fails with a configuration error so chapter units park instead of retrying.
type Disabled struct{}

// Generate implements TextGenerator.
func (Disabled) Generate(context.Context, Request) (Generation, error) {
	return Generation{}, services.Wrap(services.ErrConfiguration, "llm", "generate", "llm.api_key is not configured", nil)
}

// NewConfiguredGenerator returns a live generator, or Disabled when the
// config carries no API key.
func NewConfiguredGenerator(cfg config.LLM, opts ...Option) (TextGenerator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return Disabled{}, nil
	}
	return NewGenerator(cfg, opts...)
}
