package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/ai-doc-summarizer/internal/domain"
)

// CleanupService handles data retention: terminal jobs past the retention
// window and stale rate-counter windows.
type CleanupService struct {
	DB            *sql.DB
	RetentionDays int
	Counters      *CounterRepo
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(db *sql.DB, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &CleanupService{DB: db, RetentionDays: retentionDays, Counters: NewCounterRepo(db)}
}

// CleanupOldData removes terminal jobs (and their attempt rows) older than
// the retention period, plus expired rate-counter windows.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.RetentionDays)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("op=cleanup.begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM job_attempts WHERE job_id IN (
			SELECT id FROM jobs WHERE state IN (?, ?) AND updated_at < ?
		)`, domain.JobSucceeded, domain.JobDead, cutoff)
	if err != nil {
		return fmt.Errorf("op=cleanup.attempts: %w", err)
	}
	deletedAttempts, _ := res.RowsAffected()

	res, err = tx.ExecContext(ctx,
		`DELETE FROM jobs WHERE state IN (?, ?) AND updated_at < ?`,
		domain.JobSucceeded, domain.JobDead, cutoff)
	if err != nil {
		return fmt.Errorf("op=cleanup.jobs: %w", err)
	}
	deletedJobs, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("op=cleanup.commit: %w", err)
	}

	prunedCounters, err := s.Counters.PruneCounters(ctx, time.Now())
	if err != nil {
		return err
	}

	slog.Info("data cleanup completed",
		slog.Int64("deleted_jobs", deletedJobs),
		slog.Int64("deleted_attempts", deletedAttempts),
		slog.Int("pruned_counters", prunedCounters),
		slog.Time("cutoff", cutoff),
	)
	return nil
}

// RunPeriodic starts a periodic cleanup loop.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}
	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}
