// Package tokencount estimates token counts and summary budgets for LLM
// calls using tiktoken, with a chars/4 fallback when an encoding cannot be
// loaded.
package tokencount

import (
	"log/slog"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Budgeter provides thread-safe token estimation.
type Budgeter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewBudgeter creates a Budgeter. Encoding load is deferred to first use.
func NewBudgeter() *Budgeter { return &Budgeter{} }

func (b *Budgeter) encoding() *tiktoken.Tiktoken {
	b.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("tiktoken encoding unavailable, using chars/4 estimate", slog.Any("error", err))
			return
		}
		b.enc = enc
	})
	return b.enc
}

// CountTokens estimates the token count of text. cl100k_base is a reasonable
// approximation for every model family this service routes to.
func (b *Budgeter) CountTokens(text string) int {
	if enc := b.encoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return len(text) / 4
}

// SummaryBudget returns the max_tokens to request for summarizing content,
// capped at ceiling. Short inputs get proportionally smaller budgets so a
// terse document cannot yield a summary longer than itself.
func (b *Budgeter) SummaryBudget(content string, ceiling int) int {
	if ceiling <= 0 {
		ceiling = 1024
	}
	inputTokens := b.CountTokens(content)
	budget := inputTokens / 2
	if budget < 128 {
		budget = 128
	}
	if budget > ceiling {
		budget = ceiling
	}
	return budget
}
