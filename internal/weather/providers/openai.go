package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/i474232898/raincheck/internal/weather"
)

const (
	defaultOpenAIModel     = openai.GPT3Dot5Turbo
	defaultSummaryMaxToken = 350
)

var errEmptyCompletion = errors.New("completion returned no choices")

// OpenAIConfig configures the summarizer.
type OpenAIConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	// BaseURL overrides the API endpoint; empty means the public API.
	BaseURL string
}

// OpenAISummarizer implements weather.Summarizer with a chat completion.
type OpenAISummarizer struct {
	name      string
	client    *openai.Client
	model     string
	maxTokens int
	clock     clockwork.Clock
	httpCfg   HTTPClientConfig
	circuit   *gobreaker.CircuitBreaker
}

func NewOpenAISummarizer(httpCfg HTTPClientConfig, cfg OpenAIConfig, clock clockwork.Clock) (*OpenAISummarizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: %w", errNotConfigured)
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultSummaryMaxToken
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if httpCfg.Client != nil {
		clientCfg.HTTPClient = httpCfg.Client
	}

	return &OpenAISummarizer{
		name:      "openai",
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		clock:     clock,
		httpCfg:   httpCfg,
		circuit:   newCircuitBreaker("openai"),
	}, nil
}

func (s *OpenAISummarizer) Name() string {
	return s.name
}

func (s *OpenAISummarizer) Summarize(ctx context.Context, periods []weather.ForecastPeriod, w weather.TimeWindow) (string, error) {
	prompt, err := buildSummaryPrompt(periods, w, s.clock.Now())
	if err != nil {
		return "", err
	}

	req := openai.ChatCompletionRequest{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	result, err := s.circuit.Execute(func() (interface{}, error) {
		return s.client.CreateChatCompletion(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			observe(s.httpCfg.Metrics, s.name, "circuit_open")
			return "", fmt.Errorf("%w: %v", errCircuitOpen, err)
		}
		observe(s.httpCfg.Metrics, s.name, "error")
		return "", err
	}
	observe(s.httpCfg.Metrics, s.name, "ok")

	resp, ok := result.(openai.ChatCompletionResponse)
	if !ok {
		return "", fmt.Errorf("unexpected result type from circuit breaker")
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyCompletion
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func buildSummaryPrompt(periods []weather.ForecastPeriod, w weather.TimeWindow, now time.Time) (string, error) {
	periodsJSON, err := json.Marshal(periods)
	if err != nil {
		return "", fmt.Errorf("encode forecast periods: %w", err)
	}
	windowJSON, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("encode event time: %w", err)
	}

	var b strings.Builder
	b.WriteString("The current time is ")
	b.WriteString(now.Format(time.RFC3339))
	b.WriteString(". Pay attention to the startTime with respect to the current time. ")
	b.WriteString("Summarize the weather forecast in casual language addressing the reader as \"you\", in under 350 characters.\n")
	b.WriteString("Event time: ")
	b.Write(windowJSON)
	b.WriteString("\nForecast periods: ")
	b.Write(periodsJSON)
	return b.String(), nil
}
