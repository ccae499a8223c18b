package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wrenchworks/dealercomm/internal/adapter/ai/tokencount"
	"github.com/wrenchworks/dealercomm/internal/adapter/observability"
	"github.com/wrenchworks/dealercomm/internal/config"
	"github.com/wrenchworks/dealercomm/internal/domain"
)

// Message content is conversational prose, not long documents; the original
// generation settings carry over unchanged.
const (
	chatTemperature = 0.7
	chatMaxTokens   = 1000
)

// Client implements domain.LLMClient against an OpenAI-compatible chat
// completions endpoint (DeepSeek by default). Transient failures are retried
// with exponential backoff; 4xx responses other than 429 are permanent. A
// circuit breaker sits around the retry loop so a dead upstream fails fast
// and the generator drops to its deterministic bodies instead of stalling
// every job on the full backoff window.
type Client struct {
	cfg     config.Config
	hc      *http.Client
	counter *tokencount.Counter
	breaker *observability.CircuitBreaker
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		cfg: cfg,
		hc: &http.Client{
			Timeout:   60 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		counter: tokencount.NewCounter(),
		breaker: observability.NewCircuitBreaker("llm", 5, 30*time.Second),
	}
}

// Configured reports whether an API key is present. An unconfigured client
// still constructs; the generator routes around it.
func (c *Client) Configured() bool { return c.cfg.LLMAPIKey != "" }

func (c *Client) ChatCompletion(ctx domain.Context, systemPrompt, userPrompt string) (string, error) {
	if c.cfg.LLMAPIKey == "" {
		return "", fmt.Errorf("op=ai.chat: %w: LLM_API_KEY not set", domain.ErrMissingCredentials)
	}

	payload := map[string]any{
		"model":       c.cfg.LLMModel,
		"temperature": chatTemperature,
		"max_tokens":  chatMaxTokens,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("op=ai.chat: %w", err)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	endpoint := strings.TrimRight(c.cfg.LLMBaseURL, "/") + "/v1/chat/completions"
	op := func() error {
		start := time.Now()
		// A fresh request per attempt; retries must not reuse a drained body.
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("op=ai.chat: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.LLMAPIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.hc.Do(req)
		if err != nil {
			observability.ObserveLLM("error", time.Since(start))
			return fmt.Errorf("op=ai.chat: %w: %v", domain.ErrTransport, err)
		}
		defer func() { _ = resp.Body.Close() }()
		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			observability.ObserveLLM("error", time.Since(start))
			return fmt.Errorf("op=ai.chat: read response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			observability.ObserveLLM("error", time.Since(start))
			slog.Warn("llm rate limited", slog.String("model", c.cfg.LLMModel))
			return fmt.Errorf("op=ai.chat: %w: status 429", domain.ErrRateLimited)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			observability.ObserveLLM("error", time.Since(start))
			slog.Warn("llm request rejected",
				slog.Int("status", resp.StatusCode),
				slog.String("model", c.cfg.LLMModel),
				slog.String("body", bodySnippet(respBody)))
			return backoff.Permanent(fmt.Errorf("op=ai.chat: %w: status %d", domain.ErrProviderRejected, resp.StatusCode))
		case resp.StatusCode >= 500:
			observability.ObserveLLM("error", time.Since(start))
			return fmt.Errorf("op=ai.chat: %w: status %d", domain.ErrTransport, resp.StatusCode)
		}

		if err := json.Unmarshal(respBody, &out); err != nil {
			observability.ObserveLLM("error", time.Since(start))
			return backoff.Permanent(fmt.Errorf("op=ai.chat: decode response: %w", err))
		}
		if len(out.Choices) == 0 {
			observability.ObserveLLM("error", time.Since(start))
			return backoff.Permanent(fmt.Errorf("op=ai.chat: response has no choices"))
		}
		observability.ObserveLLM("ok", time.Since(start))
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	maxElapsed, initial, maxInterval, multiplier := c.cfg.LLMBackoff()
	expo.MaxElapsedTime = maxElapsed
	expo.InitialInterval = initial
	expo.MaxInterval = maxInterval
	expo.Multiplier = multiplier
	err = c.breaker.Call(func() error {
		return backoff.Retry(op, backoff.WithContext(expo, ctx))
	})
	if err != nil {
		return "", err
	}

	content := cleanBody(out.Choices[0].Message.Content)
	usage := c.counter.CalculateUsage(systemPrompt, userPrompt, content, c.cfg.LLMModel)
	observability.AddLLMTokens(usage.PromptTokens, usage.CompletionTokens)
	slog.Debug("chat completion",
		slog.String("model", c.cfg.LLMModel),
		slog.Int("prompt_tokens", usage.PromptTokens),
		slog.Int("completion_tokens", usage.CompletionTokens))
	return content, nil
}

func bodySnippet(b []byte) string {
	const max = 512
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
