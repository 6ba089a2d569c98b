package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-doc-summarizer/internal/domain"
)

// BackoffRepo persists provider-wide cool-downs.
type BackoffRepo struct {
	DB *sql.DB
}

// NewBackoffRepo constructs a BackoffRepo with the given handle.
func NewBackoffRepo(db *sql.DB) *BackoffRepo { return &BackoffRepo{DB: db} }

// SetBackoff records a cool-down for the provider; a newer backoff overwrites
// the prior one.
func (r *BackoffRepo) SetBackoff(ctx context.Context, providerID string, until time.Time, reason string) error {
	tracer := otel.Tracer("repo.backoffs")
	ctx, span := tracer.Start(ctx, "backoffs.Set")
	defer span.End()
	span.SetAttributes(attribute.String("provider.id", providerID), attribute.String("backoff.reason", reason))

	const q = `INSERT INTO provider_backoffs (provider_id, until, reason) VALUES (?,?,?)
		ON CONFLICT(provider_id) DO UPDATE SET until = excluded.until, reason = excluded.reason`
	if _, err := r.DB.ExecContext(ctx, q, providerID, until.UTC(), reason); err != nil {
		return fmt.Errorf("op=backoff.set: %w", err)
	}
	return nil
}

// ListGatedProviders returns providers whose backoff is still in effect.
func (r *BackoffRepo) ListGatedProviders(ctx context.Context, now time.Time) (map[string]domain.ProviderBackoff, error) {
	const q = `SELECT provider_id, until, reason FROM provider_backoffs WHERE until > ?`
	rows, err := r.DB.QueryContext(ctx, q, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("op=backoff.list_gated: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := map[string]domain.ProviderBackoff{}
	for rows.Next() {
		var b domain.ProviderBackoff
		if err := rows.Scan(&b.ProviderID, &b.Until, &b.Reason); err != nil {
			return nil, fmt.Errorf("op=backoff.list_gated: %w", err)
		}
		out[b.ProviderID] = b
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=backoff.list_gated: %w", err)
	}
	return out, nil
}
