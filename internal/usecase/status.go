package usecase

import (
	"context"

	"github.com/fairyhunter13/ai-doc-summarizer/internal/domain"
)

// StatusService serves job state and queue statistics to producers.
type StatusService struct {
	Jobs domain.JobStore
}

// NewStatusService constructs a StatusService.
func NewStatusService(jobs domain.JobStore) StatusService {
	return StatusService{Jobs: jobs}
}

// JobView is the producer-facing job projection; internal lock fields and
// the raw payload are not exposed.
type JobView struct {
	ID          string `json:"id"`
	FileID      string `json:"fileId"`
	State       string `json:"state"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"maxAttempts"`
	Error       string `json:"error,omitempty"`
	Result      string `json:"result,omitempty"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

// Get loads one job by id.
func (s StatusService) Get(ctx context.Context, id string) (JobView, error) {
	j, err := s.Jobs.GetJob(ctx, id)
	if err != nil {
		return JobView{}, err
	}
	v := JobView{
		ID:          j.ID,
		FileID:      j.FileID,
		State:       string(j.State),
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:   j.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if j.State == domain.JobSucceeded {
		v.Result = j.Result
	}
	return v, nil
}

// Stats returns per-state queue counts.
func (s StatusService) Stats(ctx context.Context) (domain.QueueStats, error) {
	return s.Jobs.QueueStats(ctx)
}
