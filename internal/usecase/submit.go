// Package usecase contains application business logic services.
package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fairyhunter13/ai-doc-summarizer/internal/domain"
)

// SubmitService accepts producer submissions into the durable queue.
type SubmitService struct {
	Jobs               domain.JobStore
	DefaultMaxAttempts int
}

// NewSubmitService constructs a SubmitService.
func NewSubmitService(jobs domain.JobStore, defaultMaxAttempts int) SubmitService {
	if defaultMaxAttempts <= 0 {
		defaultMaxAttempts = 3
	}
	return SubmitService{Jobs: jobs, DefaultMaxAttempts: defaultMaxAttempts}
}

// Submit validates inputs and enqueues (or deduplicates) the job.
func (s SubmitService) Submit(ctx context.Context, fileID string, payload json.RawMessage, priority, maxAttempts int) (domain.EnqueueReceipt, error) {
	if fileID == "" {
		return domain.EnqueueReceipt{}, fmt.Errorf("%w: file_id required", domain.ErrInvalidArgument)
	}
	if len(payload) == 0 {
		return domain.EnqueueReceipt{}, fmt.Errorf("%w: payload required", domain.ErrInvalidArgument)
	}
	if priority <= 0 {
		priority = 1
	}
	if maxAttempts <= 0 {
		maxAttempts = s.DefaultMaxAttempts
	}
	return s.Jobs.Enqueue(ctx, fileID, payload, priority, maxAttempts)
}
