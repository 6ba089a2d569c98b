package tokencount_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/ai-doc-summarizer/internal/adapter/ai/tokencount"
)

func TestSummaryBudget_Clamps(t *testing.T) {
	b := tokencount.NewBudgeter()

	// Tiny inputs get the floor.
	assert.Equal(t, 128, b.SummaryBudget("a few words", 1024))

	// Huge inputs hit the ceiling.
	huge := strings.Repeat("lorem ipsum dolor sit amet ", 2000)
	assert.Equal(t, 1024, b.SummaryBudget(huge, 1024))

	// A non-positive ceiling falls back to the default.
	assert.Equal(t, 1024, b.SummaryBudget(huge, 0))
}

func TestSummaryBudget_Monotonic(t *testing.T) {
	b := tokencount.NewBudgeter()
	short := b.SummaryBudget(strings.Repeat("word ", 300), 4096)
	long := b.SummaryBudget(strings.Repeat("word ", 3000), 4096)
	assert.LessOrEqual(t, short, long)
}

func TestCountTokens_Positive(t *testing.T) {
	b := tokencount.NewBudgeter()
	n := b.CountTokens("hello world, this is a reasonably sized sentence for counting")
	assert.Positive(t, n)
}
