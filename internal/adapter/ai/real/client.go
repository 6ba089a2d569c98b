// Package real implements the upstream generation port against
// OpenAI-compatible chat-completion APIs (OpenRouter, Groq, and friends).
package real

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"log/slog"

	"github.com/fairyhunter13/ai-doc-summarizer/internal/adapter/ai"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/domain"
)

// Client calls OpenAI-compatible chat completion endpoints. Providers map to
// base URLs; requests carry the candidate's credential. The client is safe
// for concurrent use from any worker task.
type Client struct {
	hc       *http.Client
	baseURLs map[string]string // provider name -> base URL
	minDelay time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter // provider name -> throttle
}

// New constructs a Client. baseURLs keys are provider names as registered;
// minDelay spaces calls per provider to stay under burst detection.
func New(baseURLs map[string]string, timeout, minDelay time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		hc: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURLs: baseURLs,
		minDelay: minDelay,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (c *Client) limiter(provider string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[provider]
	if !ok {
		if c.minDelay <= 0 {
			l = rate.NewLimiter(rate.Inf, 1)
		} else {
			l = rate.NewLimiter(rate.Every(c.minDelay), 1)
		}
		c.limiters[provider] = l
	}
	return l
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate performs one chat completion. Errors are *domain.KindError; the
// status-to-kind mapping lives in the ai package. Pure transport errors are
// retried briefly before being reported as transient.
func (c *Client) Generate(ctx context.Context, req domain.GenerateRequest) (string, error) {
	base, ok := c.baseURLs[req.ProviderName]
	if !ok || base == "" {
		return "", domain.NewKindError(domain.KindOther, fmt.Sprintf("no base URL for provider %q", req.ProviderName))
	}
	if req.Credential == "" {
		return "", domain.NewKindError(domain.KindAuth, "missing credential")
	}
	if err := c.limiter(req.ProviderName).Wait(ctx); err != nil {
		return "", domain.NewKindError(domain.KindTransient, err.Error())
	}

	body, err := json.Marshal(chatRequest{
		Model:       req.ModelName,
		Temperature: 0.2,
		MaxTokens:   req.MaxTokens,
		Messages: []chatMessage{
			{Role: "user", Content: req.Prompt},
		},
	})
	if err != nil {
		return "", domain.NewKindError(domain.KindOther, err.Error())
	}

	var resp *http.Response
	op := func() error {
		// Recreate the request each attempt to avoid reusing consumed bodies.
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		r.Header.Set("Authorization", "Bearer "+req.Credential)
		r.Header.Set("Content-Type", "application/json")
		resp, err = c.hc.Do(r)
		return err
	}
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxElapsedTime = 5 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(expo, ctx)); err != nil {
		slog.Warn("upstream transport failure",
			slog.String("provider", req.ProviderName),
			slog.String("model", req.ModelName),
			slog.Any("error", err))
		return "", domain.NewKindError(ai.ClassifyTransport(err), err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", domain.NewKindError(domain.KindTransient, err.Error())
	}

	var out chatResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		kind := ai.ClassifyStatus(resp.StatusCode, msg)
		return "", domain.NewKindError(kind, fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(msg, 300)))
	}

	if len(out.Choices) == 0 {
		return "", domain.NewKindError(domain.KindEmpty, "no choices in response")
	}
	return out.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
