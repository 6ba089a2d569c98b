// Package stub provides a deterministic AI client for dev and tests.
package stub

import (
	"context"
	"fmt"
	"strings"

	"github.com/fairyhunter13/ai-doc-summarizer/internal/domain"
)

// Client returns a deterministic summary derived from the prompt. Optional
// fault injection lets tests script failures per model.
type Client struct {
	// Faults maps model names to errors returned instead of a summary.
	Faults map[string]error
}

// New constructs a stub client.
func New() *Client { return &Client{Faults: map[string]error{}} }

// Generate returns a short deterministic summary.
func (c *Client) Generate(_ context.Context, req domain.GenerateRequest) (string, error) {
	if err, ok := c.Faults[req.ModelName]; ok {
		return "", err
	}
	words := strings.Fields(req.Prompt)
	n := 24
	if len(words) < n {
		n = len(words)
	}
	return fmt.Sprintf("[stub %s] %s", req.ModelName, strings.Join(words[len(words)-n:], " ")), nil
}
