// Package domain holds the core entities and ports of the summarization
// queue: jobs, providers, models, rate counters, provider backoffs, and the
// interfaces the adapters implement.
package domain

import (
	"context"
	"time"
)

// JobState enumerates the job lifecycle.
//
// queued -> processing -> (succeeded | failed | dead); failed jobs are
// re-enqueued by the worker until attempts run out, dead is terminal.
type JobState string

const (
	JobQueued     JobState = "queued"
	JobProcessing JobState = "processing"
	JobSucceeded  JobState = "succeeded"
	JobFailed     JobState = "failed"
	JobDead       JobState = "dead"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool { return s == JobSucceeded || s == JobDead }

// RatePeriod is the window granularity for model quotas.
type RatePeriod string

const (
	PeriodMinute RatePeriod = "minute"
	PeriodDay    RatePeriod = "day"
)

// Seconds returns the window length of the period.
func (p RatePeriod) Seconds() int64 {
	if p == PeriodDay {
		return 86400
	}
	return 60
}

// WindowStart floors t (UTC) to the period boundary.
func (p RatePeriod) WindowStart(t time.Time) time.Time {
	sec := p.Seconds()
	u := t.UTC().Unix()
	return time.Unix(u-(u%sec), 0).UTC()
}

// Provider is a third-party AI vendor account.
type Provider struct {
	ID         string
	Name       string
	Credential string
	Priority   int
	Enabled    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Model is a named model under a provider with its quota limits.
type Model struct {
	ID             string
	ProviderID     string
	ModelName      string
	PerMinuteLimit int
	PerDayLimit    int
	Enabled        bool
}

// Candidate is a model joined with its provider's routing fields, as
// surfaced by ListActiveModels.
type Candidate struct {
	Model
	ProviderName       string
	ProviderCredential string
	ProviderPriority   int
}

// Job is the durable unit of work, deduplicated on (DedupeKey, ContentHash).
type Job struct {
	ID          string
	FileID      string
	DedupeKey   string
	ContentHash string
	Payload     []byte
	Priority    int
	State       JobState
	Attempts    int
	MaxAttempts int
	Error       string
	Result      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LockedAt    *time.Time
	WorkerID    *string
}

// JobAttempt is one append-only audit row per upstream invocation (or
// pre-router failure).
type JobAttempt struct {
	ID         int64
	JobID      string
	AttemptNo  int
	ProviderID *string
	ModelID    *string
	StartedAt  time.Time
	FinishedAt *time.Time
	Success    bool
	Error      string
}

// RateCounter is the used quota of a model within one window.
type RateCounter struct {
	ModelID     string
	Period      RatePeriod
	WindowStart time.Time
	UsedCount   int
}

// ProviderBackoff gates a provider until the given instant.
type ProviderBackoff struct {
	ProviderID string
	Until      time.Time
	Reason     string
}

// Gated reports whether the backoff is still in effect at now.
func (b ProviderBackoff) Gated(now time.Time) bool { return b.Until.After(now) }

// EnqueueStatus is the outcome of an enqueue call.
type EnqueueStatus string

const (
	Enqueued         EnqueueStatus = "enqueued"
	AlreadyQueued    EnqueueStatus = "already_queued"
	AlreadyCompleted EnqueueStatus = "already_completed"
)

// EnqueueReceipt is returned to producers.
type EnqueueReceipt struct {
	JobID  string
	Status EnqueueStatus
	Result string // populated for AlreadyCompleted
}

// QueueStats is the per-state job count snapshot.
type QueueStats struct {
	Queued     int
	Processing int
	Succeeded  int
	Failed     int
	Dead       int
}

// UpsertOutcome distinguishes insert from update on registry upserts.
type UpsertOutcome string

const (
	UpsertInserted UpsertOutcome = "inserted"
	UpsertUpdated  UpsertOutcome = "updated"
)

// ConsumeResult is the outcome of a rate-counter check-and-increment.
type ConsumeResult struct {
	Allowed bool
	Used    int
	Limit   int
}

// JobStore persists jobs and attempts.
type JobStore interface {
	Enqueue(ctx context.Context, fileID string, payload []byte, priority, maxAttempts int) (EnqueueReceipt, error)
	ClaimNext(ctx context.Context, workerID string) (*Job, error)
	CompleteJob(ctx context.Context, jobID string, outcome JobState, result, errMsg string) error
	IncrementAttempt(ctx context.Context, jobID string, providerID, modelID *string, success bool, errMsg string) (int, error)
	RecoverStale(ctx context.Context, timeout time.Duration) (int, error)
	RequeueFailed(ctx context.Context) (requeued, deadened int, err error)
	GetJob(ctx context.Context, id string) (Job, error)
	ListAttempts(ctx context.Context, jobID string) ([]JobAttempt, error)
	QueueStats(ctx context.Context) (QueueStats, error)
}

// RegistryStore persists providers and models.
type RegistryStore interface {
	UpsertProvider(ctx context.Context, p Provider) (UpsertOutcome, error)
	UpsertModel(ctx context.Context, m Model) (UpsertOutcome, error)
	ListActiveModels(ctx context.Context, now time.Time) ([]Candidate, error)
	GetProvider(ctx context.Context, id string) (Provider, error)
}

// CounterStore persists rate counters.
type CounterStore interface {
	TryConsume(ctx context.Context, modelID string, period RatePeriod, now time.Time) (ConsumeResult, error)
	PruneCounters(ctx context.Context, now time.Time) (int, error)
}

// BackoffStore persists provider backoffs.
type BackoffStore interface {
	SetBackoff(ctx context.Context, providerID string, until time.Time, reason string) error
	ListGatedProviders(ctx context.Context, now time.Time) (map[string]ProviderBackoff, error)
}

// GenerateRequest is one upstream generation call.
type GenerateRequest struct {
	ProviderName string
	Credential   string
	ModelName    string
	Prompt       string
	MaxTokens    int
}

// AIClient is the upstream generation port. Errors carry a Kind (see
// errors.go); the adapter owns status-to-kind mapping.
type AIClient interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Extraction is the cleaned content pulled out of a job payload.
type Extraction struct {
	Text             string
	ContentBlocks    int
	TotalWords       int
	MainContentWords int
}

// Extractor turns a raw payload into summarizable text.
type Extractor interface {
	Extract(payload []byte) (Extraction, error)
}

// CallbackResult is what gets posted back to the producer on success.
type CallbackResult struct {
	FileID           string
	Summary          string
	ContentBlocks    int
	TotalWords       int
	MainContentWords int
	ProcessingTimeMs float64
	ProcessedAt      time.Time
}

// Notifier delivers results to the configured callback endpoint.
type Notifier interface {
	Notify(ctx context.Context, res CallbackResult) error
}
