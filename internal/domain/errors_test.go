package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/ai-doc-summarizer/internal/domain"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, domain.KindNone, domain.KindOf(nil))
	assert.Equal(t, domain.KindOther, domain.KindOf(errors.New("boom")))

	base := domain.NewKindError(domain.KindQuota, "limit reached")
	assert.Equal(t, domain.KindQuota, domain.KindOf(base))
	assert.Equal(t, domain.KindQuota, domain.KindOf(fmt.Errorf("wrapped: %w", base)))
}

func TestKindError_Message(t *testing.T) {
	assert.Equal(t, "quota: limit reached", domain.NewKindError(domain.KindQuota, "limit reached").Error())
	assert.Equal(t, "empty", domain.NewKindError(domain.KindEmpty, "").Error())
}

func TestFailKind_Retryable(t *testing.T) {
	retryable := []domain.FailKind{
		domain.KindNoCandidates,
		domain.KindAllCandidatesFailed,
		domain.KindCallbackFailed,
		domain.KindTransient,
	}
	for _, k := range retryable {
		assert.True(t, k.Retryable(), string(k))
	}
	fatal := []domain.FailKind{
		domain.KindInputInvalid,
		domain.KindNoExtractableContent,
		domain.KindQuota,
		domain.KindAuth,
		domain.KindEmpty,
		domain.KindOther,
	}
	for _, k := range fatal {
		assert.False(t, k.Retryable(), string(k))
	}
}
