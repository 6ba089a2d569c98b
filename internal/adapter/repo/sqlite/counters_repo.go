package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-doc-summarizer/internal/domain"
)

// CounterRepo persists per-(model, window) rate counters. Check-and-increment
// runs in one transaction; a refusal rolls back with no state change, so no
// reader ever observes a counter above its limit.
type CounterRepo struct {
	DB *sql.DB
}

// NewCounterRepo constructs a CounterRepo with the given handle.
func NewCounterRepo(db *sql.DB) *CounterRepo { return &CounterRepo{DB: db} }

// TryConsume checks the model's limit for the period window containing now
// and increments the counter when under it.
func (r *CounterRepo) TryConsume(ctx context.Context, modelID string, period domain.RatePeriod, now time.Time) (domain.ConsumeResult, error) {
	tracer := otel.Tracer("repo.counters")
	ctx, span := tracer.Start(ctx, "counters.TryConsume")
	defer span.End()
	span.SetAttributes(attribute.String("model.id", modelID), attribute.String("rate.period", string(period)))

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ConsumeResult{}, fmt.Errorf("op=rate.consume: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	limitCol := "per_minute_limit"
	if period == domain.PeriodDay {
		limitCol = "per_day_limit"
	}
	var limit int
	err = tx.QueryRowContext(ctx, `SELECT `+limitCol+` FROM models WHERE id = ?`, modelID).Scan(&limit)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ConsumeResult{}, fmt.Errorf("op=rate.consume: model %q: %w", modelID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.ConsumeResult{}, fmt.Errorf("op=rate.consume: %w", err)
	}

	window := period.WindowStart(now)
	const ins = `INSERT INTO rate_counters (model_id, period, window_start, used_count)
		VALUES (?,?,?,0) ON CONFLICT(model_id, period, window_start) DO NOTHING`
	if _, err := tx.ExecContext(ctx, ins, modelID, period, window); err != nil {
		return domain.ConsumeResult{}, fmt.Errorf("op=rate.consume: %w", err)
	}
	var used int
	const sel = `SELECT used_count FROM rate_counters WHERE model_id = ? AND period = ? AND window_start = ?`
	if err := tx.QueryRowContext(ctx, sel, modelID, period, window).Scan(&used); err != nil {
		return domain.ConsumeResult{}, fmt.Errorf("op=rate.consume: %w", err)
	}
	if used >= limit {
		// Rollback via the deferred call; the insert of the zero row is
		// discarded along with it.
		span.SetAttributes(attribute.Bool("rate.allowed", false))
		return domain.ConsumeResult{Allowed: false, Used: used, Limit: limit}, nil
	}
	const upd = `UPDATE rate_counters SET used_count = used_count + 1
		WHERE model_id = ? AND period = ? AND window_start = ?`
	if _, err := tx.ExecContext(ctx, upd, modelID, period, window); err != nil {
		return domain.ConsumeResult{}, fmt.Errorf("op=rate.consume: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.ConsumeResult{}, fmt.Errorf("op=rate.consume: %w", err)
	}
	span.SetAttributes(attribute.Bool("rate.allowed", true), attribute.Int("rate.used", used+1))
	return domain.ConsumeResult{Allowed: true, Used: used + 1, Limit: limit}, nil
}

// PruneCounters deletes windows older than twice their period.
func (r *CounterRepo) PruneCounters(ctx context.Context, now time.Time) (int, error) {
	tracer := otel.Tracer("repo.counters")
	ctx, span := tracer.Start(ctx, "counters.Prune")
	defer span.End()

	total := 0
	for _, p := range []domain.RatePeriod{domain.PeriodMinute, domain.PeriodDay} {
		cutoff := now.UTC().Add(-2 * time.Duration(p.Seconds()) * time.Second)
		res, err := r.DB.ExecContext(ctx,
			`DELETE FROM rate_counters WHERE period = ? AND window_start < ?`, p, cutoff)
		if err != nil {
			return total, fmt.Errorf("op=rate.prune: %w", err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	span.SetAttributes(attribute.Int("rate.pruned", total))
	return total, nil
}
