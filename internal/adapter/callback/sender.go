// Package callback delivers summarization results to the configured
// producer endpoint, authenticated with a timestamped HMAC header.
package callback

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/ai-doc-summarizer/internal/domain"
)

// AuthHeader is the callback authentication header name.
const AuthHeader = "x-internal-auth"

// Sender posts results to the callback URL.
type Sender struct {
	URL    string
	Secret string
	HC     *http.Client
	Now    func() time.Time
}

// New constructs a Sender. The secret must already have passed
// config.Validate; an empty secret here is a programming error.
func New(url, secret string, timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sender{
		URL:    url,
		Secret: secret,
		HC:     &http.Client{Timeout: timeout},
		Now:    time.Now,
	}
}

type payload struct {
	FileID   string   `json:"fileId"`
	Summary  string   `json:"summary"`
	Metadata metadata `json:"metadata"`
}

type metadata struct {
	ContentBlocks    int     `json:"contentBlocks"`
	TotalWords       int     `json:"totalWords"`
	MainContentWords int     `json:"mainContentWords"`
	ProcessingTimeMs float64 `json:"processingTimeMs"`
	ProcessedAt      string  `json:"processedAt"`
}

// Sign computes the auth header value for a body at the given timestamp:
// <ms>.<hex hmac-sha256(secret, ms + "." + body)>.
func Sign(secret string, tsMillis int64, body []byte) string {
	ts := strconv.FormatInt(tsMillis, 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return ts + "." + hex.EncodeToString(mac.Sum(nil))
}

// Notify posts the result. Non-2xx responses and transport failures are
// retried briefly; a final failure surfaces to the worker as retryable.
func (s *Sender) Notify(ctx context.Context, res domain.CallbackResult) error {
	body, err := json.Marshal(payload{
		FileID:  res.FileID,
		Summary: res.Summary,
		Metadata: metadata{
			ContentBlocks:    res.ContentBlocks,
			TotalWords:       res.TotalWords,
			MainContentWords: res.MainContentWords,
			ProcessingTimeMs: res.ProcessingTimeMs,
			ProcessedAt:      res.ProcessedAt.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("op=callback.marshal: %w", err)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(AuthHeader, Sign(s.Secret, s.Now().UnixMilli(), body))
		resp, err := s.HC.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("callback status %d", resp.StatusCode)
		}
		return nil
	}
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxElapsedTime = 10 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(expo, ctx)); err != nil {
		return fmt.Errorf("op=callback.notify: %w", err)
	}
	return nil
}
