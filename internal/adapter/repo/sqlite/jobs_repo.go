package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-doc-summarizer/internal/domain"
	"github.com/fairyhunter13/ai-doc-summarizer/pkg/jsonx"
)

// JobRepo persists and loads jobs and their attempt audit trail.
type JobRepo struct {
	DB  *sql.DB
	Now func() time.Time
}

// NewJobRepo constructs a JobRepo with the given handle.
func NewJobRepo(db *sql.DB) *JobRepo { return &JobRepo{DB: db, Now: time.Now} }

func (r *JobRepo) now() time.Time { return r.Now().UTC() }

const jobColumns = `id, file_id, dedupe_key, content_hash, payload, priority, state,
	attempts, max_attempts, error, result, created_at, updated_at, locked_at, worker_id`

func scanJob(row interface{ Scan(...any) error }) (domain.Job, error) {
	var j domain.Job
	err := row.Scan(&j.ID, &j.FileID, &j.DedupeKey, &j.ContentHash, &j.Payload, &j.Priority,
		&j.State, &j.Attempts, &j.MaxAttempts, &j.Error, &j.Result, &j.CreatedAt, &j.UpdatedAt,
		&j.LockedAt, &j.WorkerID)
	return j, err
}

// Enqueue inserts a job keyed by (file_id, content_hash) or reports an
// existing equivalent submission. A concurrent inserter losing the race on
// the partial unique index is resolved by re-reading.
func (r *JobRepo) Enqueue(ctx context.Context, fileID string, payload []byte, priority, maxAttempts int) (domain.EnqueueReceipt, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Enqueue")
	defer span.End()
	span.SetAttributes(attribute.String("job.file_id", fileID))

	if fileID == "" {
		return domain.EnqueueReceipt{}, fmt.Errorf("op=job.enqueue: %w: file_id required", domain.ErrInvalidArgument)
	}
	hash, err := jsonx.HashRaw(payload)
	if err != nil {
		return domain.EnqueueReceipt{}, fmt.Errorf("op=job.enqueue: %w: payload is not valid JSON", domain.ErrInvalidArgument)
	}
	if rc, ok, err := r.findExisting(ctx, fileID, hash); err != nil {
		return domain.EnqueueReceipt{}, err
	} else if ok {
		return rc, nil
	}

	id := uuid.New().String()
	now := r.now()
	const q = `INSERT INTO jobs (id, file_id, dedupe_key, content_hash, payload, priority, state,
		attempts, max_attempts, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,0,?,?,?)`
	_, err = r.DB.ExecContext(ctx, q, id, fileID, fileID, hash, payload, priority,
		domain.JobQueued, maxAttempts, now, now)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			// Lost the insert race; the winner's row is authoritative.
			if rc, ok, rerr := r.findExisting(ctx, fileID, hash); rerr == nil && ok {
				return rc, nil
			}
		}
		return domain.EnqueueReceipt{}, fmt.Errorf("op=job.enqueue: %w", err)
	}
	return domain.EnqueueReceipt{JobID: id, Status: domain.Enqueued}, nil
}

func (r *JobRepo) findExisting(ctx context.Context, fileID, hash string) (domain.EnqueueReceipt, bool, error) {
	const q = `SELECT id, state, result FROM jobs
		WHERE file_id = ? AND content_hash = ? AND state IN ('queued','processing','succeeded')
		ORDER BY created_at DESC LIMIT 1`
	var (
		id     string
		state  domain.JobState
		result string
	)
	err := r.DB.QueryRowContext(ctx, q, fileID, hash).Scan(&id, &state, &result)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.EnqueueReceipt{}, false, nil
	}
	if err != nil {
		return domain.EnqueueReceipt{}, false, fmt.Errorf("op=job.enqueue_lookup: %w", err)
	}
	if state == domain.JobSucceeded {
		return domain.EnqueueReceipt{JobID: id, Status: domain.AlreadyCompleted, Result: result}, true, nil
	}
	return domain.EnqueueReceipt{JobID: id, Status: domain.AlreadyQueued}, true, nil
}

// ClaimNext atomically transitions the highest-priority oldest queued job to
// processing for workerID. Returns nil when the queue is empty or the
// optimistic compare loses.
func (r *JobRepo) ClaimNext(ctx context.Context, workerID string) (*domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ClaimNext")
	defer span.End()

	const pick = `SELECT id FROM jobs WHERE state = 'queued'
		ORDER BY priority DESC, created_at ASC, id ASC LIMIT 1`
	var id string
	err := r.DB.QueryRowContext(ctx, pick).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("op=job.claim_pick: %w", err)
	}

	now := r.now()
	const claim = `UPDATE jobs SET state = 'processing', locked_at = ?, worker_id = ?, updated_at = ?
		WHERE id = ? AND state = 'queued'`
	res, err := r.DB.ExecContext(ctx, claim, now, workerID, now, id)
	if err != nil {
		return nil, fmt.Errorf("op=job.claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("op=job.claim: %w", err)
	}
	if n == 0 {
		// Another worker claimed it between pick and claim; caller retries.
		return nil, nil
	}
	j, err := r.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("job.id", id))
	return &j, nil
}

// CompleteJob finalizes a processing job, clearing the lock fields.
// Transitioning back to queued preserves attempts and max_attempts.
func (r *JobRepo) CompleteJob(ctx context.Context, jobID string, outcome domain.JobState, result, errMsg string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.CompleteJob")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID), attribute.String("job.outcome", string(outcome)))

	switch outcome {
	case domain.JobSucceeded, domain.JobQueued, domain.JobFailed, domain.JobDead:
	default:
		return fmt.Errorf("op=job.complete: %w: outcome %q", domain.ErrInvalidArgument, outcome)
	}
	const q = `UPDATE jobs SET state = ?, result = ?, error = ?, locked_at = NULL, worker_id = NULL, updated_at = ?
		WHERE id = ?`
	res, err := r.DB.ExecContext(ctx, q, outcome, result, errMsg, r.now(), jobID)
	if err != nil {
		return fmt.Errorf("op=job.complete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("op=job.complete: %w", domain.ErrNotFound)
	}
	return nil
}

// IncrementAttempt bumps the job's attempt counter and appends the audit row
// with the new number, in one transaction.
func (r *JobRepo) IncrementAttempt(ctx context.Context, jobID string, providerID, modelID *string, success bool, errMsg string) (int, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.IncrementAttempt")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID), attribute.Bool("attempt.success", success))

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("op=job.attempt: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := r.now()
	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET attempts = attempts + 1, updated_at = ? WHERE id = ?`, now, jobID); err != nil {
		return 0, fmt.Errorf("op=job.attempt: %w", err)
	}
	var attempts int
	if err := tx.QueryRowContext(ctx, `SELECT attempts FROM jobs WHERE id = ?`, jobID).Scan(&attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("op=job.attempt: %w", domain.ErrNotFound)
		}
		return 0, fmt.Errorf("op=job.attempt: %w", err)
	}
	const ins = `INSERT INTO job_attempts (job_id, attempt_no, provider_id, model_id, started_at, finished_at, success, error)
		VALUES (?,?,?,?,?,?,?,?)`
	if _, err := tx.ExecContext(ctx, ins, jobID, attempts, providerID, modelID, now, now, success, errMsg); err != nil {
		return 0, fmt.Errorf("op=job.attempt: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("op=job.attempt: %w", err)
	}
	return attempts, nil
}

// RecoverStale fails every processing job whose claim is older than timeout
// and clears its lock fields. Returns the number of recovered jobs.
func (r *JobRepo) RecoverStale(ctx context.Context, timeout time.Duration) (int, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.RecoverStale")
	defer span.End()

	cutoff := r.now().Add(-timeout)
	const q = `UPDATE jobs SET state = 'failed', error = 'timed out', locked_at = NULL, worker_id = NULL, updated_at = ?
		WHERE state = 'processing' AND locked_at < ?`
	res, err := r.DB.ExecContext(ctx, q, r.now(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=job.recover_stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("op=job.recover_stale: %w", err)
	}
	span.SetAttributes(attribute.Int64("jobs.recovered", n))
	return int(n), nil
}

// RequeueFailed re-enqueues failed jobs with attempts remaining and deadens
// the rest. Recovered-stale jobs flow back into the queue through here.
func (r *JobRepo) RequeueFailed(ctx context.Context) (requeued, deadened int, err error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.RequeueFailed")
	defer span.End()

	now := r.now()
	res, err := r.DB.ExecContext(ctx,
		`UPDATE jobs SET state = 'queued', updated_at = ? WHERE state = 'failed' AND attempts < max_attempts`, now)
	if err != nil {
		return 0, 0, fmt.Errorf("op=job.requeue_failed: %w", err)
	}
	rq, _ := res.RowsAffected()
	res, err = r.DB.ExecContext(ctx,
		`UPDATE jobs SET state = 'dead', updated_at = ? WHERE state = 'failed' AND attempts >= max_attempts`, now)
	if err != nil {
		return 0, 0, fmt.Errorf("op=job.requeue_failed: %w", err)
	}
	dd, _ := res.RowsAffected()
	span.SetAttributes(attribute.Int64("jobs.requeued", rq), attribute.Int64("jobs.deadened", dd))
	return int(rq), int(dd), nil
}

// GetJob loads a job by id.
func (r *JobRepo) GetJob(ctx context.Context, id string) (domain.Job, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=job.get: %w", err)
	}
	return j, nil
}

// ListAttempts returns the audit rows for a job ordered by attempt number.
func (r *JobRepo) ListAttempts(ctx context.Context, jobID string) ([]domain.JobAttempt, error) {
	const q = `SELECT id, job_id, attempt_no, provider_id, model_id, started_at, finished_at, success, error
		FROM job_attempts WHERE job_id = ? ORDER BY attempt_no ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, q, jobID)
	if err != nil {
		return nil, fmt.Errorf("op=job.list_attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.JobAttempt
	for rows.Next() {
		var a domain.JobAttempt
		if err := rows.Scan(&a.ID, &a.JobID, &a.AttemptNo, &a.ProviderID, &a.ModelID,
			&a.StartedAt, &a.FinishedAt, &a.Success, &a.Error); err != nil {
			return nil, fmt.Errorf("op=job.list_attempts: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.list_attempts: %w", err)
	}
	return out, nil
}

// QueueStats returns per-state job counts.
func (r *JobRepo) QueueStats(ctx context.Context) (domain.QueueStats, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return domain.QueueStats{}, fmt.Errorf("op=job.stats: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var st domain.QueueStats
	for rows.Next() {
		var (
			state domain.JobState
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return domain.QueueStats{}, fmt.Errorf("op=job.stats: %w", err)
		}
		switch state {
		case domain.JobQueued:
			st.Queued = n
		case domain.JobProcessing:
			st.Processing = n
		case domain.JobSucceeded:
			st.Succeeded = n
		case domain.JobFailed:
			st.Failed = n
		case domain.JobDead:
			st.Dead = n
		}
	}
	if err := rows.Err(); err != nil {
		return domain.QueueStats{}, fmt.Errorf("op=job.stats: %w", err)
	}
	return st, nil
}
