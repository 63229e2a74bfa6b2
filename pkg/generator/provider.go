package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"mercator-hq/parley/pkg/negotiation"
	"mercator-hq/parley/pkg/policy"
)

// ProviderConfig configures an OpenAI-compatible backend.
type ProviderConfig struct {
	// Name identifies the backend in errors and logs.
	Name string

	// BaseURL is the API root, e.g. "https://api.openai.com/v1".
	BaseURL string

	APIKey string
	Model  string

	// SystemPrompt overrides DefaultSystemPrompt.
	SystemPrompt string

	Temperature float64
	MaxTokens   int

	// Timeout bounds a single HTTP request.
	// Default: 60s
	Timeout time.Duration

	// MaxRetries is the number of retries on 429, 5xx and network errors.
	// Default: 3
	MaxRetries int

	// RetryBackoff is the first backoff delay; it doubles per retry.
	// Default: 1s
	RetryBackoff time.Duration

	// RateLimit is the sustained request rate per second (0 disables).
	RateLimit float64

	// Burst is the limiter burst size.
	// Default: 1
	Burst int

	// Transport overrides the pooled HTTP transport, e.g. to inject trace
	// headers.
	Transport http.RoundTripper
}

// ApplyDefaults fills unset fields.
func (c *ProviderConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "openai"
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
}

// Provider generates artifacts through a chat completions endpoint.
// It is safe for concurrent use; the HTTP pool and rate limiter are shared.
type Provider struct {
	config  ProviderConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewProvider creates a Provider.
func NewProvider(config ProviderConfig) (*Provider, error) {
	config.ApplyDefaults()
	if config.Model == "" {
		return nil, errors.New("provider model is required")
	}

	transport := config.Transport
	if transport == nil {
		transport = &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		}
	}

	p := &Provider{
		config: config,
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		logger: slog.Default().With("component", "generator.provider", "provider", config.Name),
	}
	if config.RateLimit > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst)
	}
	return p, nil
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	User        string    `json:"user,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int     `json:"index"`
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

// Generate implements negotiation.Generator.
func (p *Provider) Generate(ctx context.Context, req negotiation.Request, feedback []policy.Violation) (string, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}
	}

	body, err := json.Marshal(chatRequest{
		Model:       p.config.Model,
		Messages:    BuildMessages(p.config.SystemPrompt, req.Text, feedback),
		Temperature: p.config.Temperature,
		MaxTokens:   p.config.MaxTokens,
		User:        req.ID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	raw, err := p.do(ctx, body)
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", &ParseError{Provider: p.config.Name, RawResponse: string(raw), Cause: err}
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", &ParseError{Provider: p.config.Name, RawResponse: string(raw), Cause: errors.New("response has no content")}
	}

	return ExtractCode(resp.Choices[0].Message.Content), nil
}

// do posts body to the completions endpoint, retrying transient failures
// with exponential backoff.
func (p *Provider) do(ctx context.Context, body []byte) ([]byte, error) {
	url := strings.TrimRight(p.config.BaseURL, "/") + "/chat/completions"

	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := p.config.RetryBackoff << (attempt - 1)
			var rl *RateLimitError
			if errors.As(lastErr, &rl) && rl.RetryAfter > backoff {
				backoff = rl.RetryAfter
			}
			p.logger.Debug("retrying request", "attempt", attempt, "backoff", backoff, "error", lastErr)

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if p.config.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &TimeoutError{Provider: p.config.Name, Timeout: p.config.Timeout, Cause: ctx.Err()}
			}
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				lastErr = &TimeoutError{Provider: p.config.Name, Timeout: p.config.Timeout, Cause: err}
			} else {
				lastErr = &ProviderError{Provider: p.config.Name, Message: "request failed", Cause: err}
			}
			p.logger.Warn("request failed, will retry", "attempt", attempt+1, "error", err)
			continue
		}

		payload, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if readErr != nil {
				return nil, &ParseError{Provider: p.config.Name, Cause: fmt.Errorf("failed to read response: %w", readErr)}
			}
			return payload, nil

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, &AuthError{Provider: p.config.Name, Message: string(payload)}

		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = &RateLimitError{
				Provider:   p.config.Name,
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
				Message:    string(payload),
			}

		case resp.StatusCode >= 500:
			lastErr = &ProviderError{Provider: p.config.Name, StatusCode: resp.StatusCode, Message: string(payload)}

		default:
			return nil, &ProviderError{Provider: p.config.Name, StatusCode: resp.StatusCode, Message: string(payload)}
		}

		p.logger.Warn("request returned error status, will retry", "status", resp.StatusCode, "attempt", attempt+1)
	}

	return nil, lastErr
}

// parseRetryAfter parses a Retry-After header in seconds or HTTP-date form.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		return time.Until(t)
	}
	return 0
}
