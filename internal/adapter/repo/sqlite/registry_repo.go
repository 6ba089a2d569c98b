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

// RegistryRepo persists providers and models and serves the read-mostly
// candidate listing used by the router.
type RegistryRepo struct {
	DB  *sql.DB
	Now func() time.Time
}

// NewRegistryRepo constructs a RegistryRepo with the given handle.
func NewRegistryRepo(db *sql.DB) *RegistryRepo { return &RegistryRepo{DB: db, Now: time.Now} }

func (r *RegistryRepo) now() time.Time { return r.Now().UTC() }

// UpsertProvider inserts or updates a provider row.
func (r *RegistryRepo) UpsertProvider(ctx context.Context, p domain.Provider) (domain.UpsertOutcome, error) {
	tracer := otel.Tracer("repo.registry")
	ctx, span := tracer.Start(ctx, "registry.UpsertProvider")
	defer span.End()
	span.SetAttributes(attribute.String("provider.id", p.ID))

	if p.ID == "" || p.Priority < 1 {
		return "", fmt.Errorf("op=provider.upsert: %w: id and priority >= 1 required", domain.ErrInvalidArgument)
	}
	now := r.now()
	const q = `INSERT INTO providers (id, name, credential, priority, enabled, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, credential = excluded.credential,
			priority = excluded.priority, enabled = excluded.enabled,
			updated_at = excluded.updated_at`
	var exists bool
	if err := r.DB.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM providers WHERE id = ?)`, p.ID).Scan(&exists); err != nil {
		return "", fmt.Errorf("op=provider.upsert: %w", err)
	}
	if _, err := r.DB.ExecContext(ctx, q, p.ID, p.Name, p.Credential, p.Priority, p.Enabled, now, now); err != nil {
		return "", fmt.Errorf("op=provider.upsert: %w", err)
	}
	if exists {
		return domain.UpsertUpdated, nil
	}
	return domain.UpsertInserted, nil
}

// UpsertModel inserts or updates a model row. Fails with ErrNotFound when the
// provider is unknown.
func (r *RegistryRepo) UpsertModel(ctx context.Context, m domain.Model) (domain.UpsertOutcome, error) {
	tracer := otel.Tracer("repo.registry")
	ctx, span := tracer.Start(ctx, "registry.UpsertModel")
	defer span.End()
	span.SetAttributes(attribute.String("model.id", m.ID))

	if m.ID == "" || m.ModelName == "" || m.PerMinuteLimit < 1 || m.PerDayLimit < 1 {
		return "", fmt.Errorf("op=model.upsert: %w: id, name and limits >= 1 required", domain.ErrInvalidArgument)
	}
	var exists bool
	if err := r.DB.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM providers WHERE id = ?)`, m.ProviderID).Scan(&exists); err != nil {
		return "", fmt.Errorf("op=model.upsert: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("op=model.upsert: provider %q: %w", m.ProviderID, domain.ErrNotFound)
	}
	if err := r.DB.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM models WHERE id = ?)`, m.ID).Scan(&exists); err != nil {
		return "", fmt.Errorf("op=model.upsert: %w", err)
	}
	const q = `INSERT INTO models (id, provider_id, model_name, per_minute_limit, per_day_limit, enabled)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			provider_id = excluded.provider_id, model_name = excluded.model_name,
			per_minute_limit = excluded.per_minute_limit, per_day_limit = excluded.per_day_limit,
			enabled = excluded.enabled`
	if _, err := r.DB.ExecContext(ctx, q, m.ID, m.ProviderID, m.ModelName, m.PerMinuteLimit, m.PerDayLimit, m.Enabled); err != nil {
		return "", fmt.Errorf("op=model.upsert: %w", err)
	}
	if exists {
		return domain.UpsertUpdated, nil
	}
	return domain.UpsertInserted, nil
}

// ListActiveModels returns enabled models of enabled, non-gated providers,
// ordered by provider priority then model id.
func (r *RegistryRepo) ListActiveModels(ctx context.Context, now time.Time) ([]domain.Candidate, error) {
	tracer := otel.Tracer("repo.registry")
	ctx, span := tracer.Start(ctx, "registry.ListActiveModels")
	defer span.End()

	const q = `SELECT m.id, m.provider_id, m.model_name, m.per_minute_limit, m.per_day_limit, m.enabled,
			p.name, p.credential, p.priority
		FROM models m
		JOIN providers p ON p.id = m.provider_id
		WHERE m.enabled = 1 AND p.enabled = 1
			AND p.id NOT IN (SELECT provider_id FROM provider_backoffs WHERE until > ?)
		ORDER BY p.priority ASC, m.id ASC`
	rows, err := r.DB.QueryContext(ctx, q, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("op=registry.list_active: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Candidate
	for rows.Next() {
		var c domain.Candidate
		if err := rows.Scan(&c.ID, &c.ProviderID, &c.ModelName, &c.PerMinuteLimit, &c.PerDayLimit, &c.Enabled,
			&c.ProviderName, &c.ProviderCredential, &c.ProviderPriority); err != nil {
			return nil, fmt.Errorf("op=registry.list_active: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=registry.list_active: %w", err)
	}
	span.SetAttributes(attribute.Int("registry.candidates", len(out)))
	return out, nil
}

// GetProvider loads one provider by id.
func (r *RegistryRepo) GetProvider(ctx context.Context, id string) (domain.Provider, error) {
	const q = `SELECT id, name, credential, priority, enabled, created_at, updated_at FROM providers WHERE id = ?`
	var p domain.Provider
	err := r.DB.QueryRowContext(ctx, q, id).Scan(&p.ID, &p.Name, &p.Credential, &p.Priority, &p.Enabled, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Provider{}, fmt.Errorf("op=provider.get: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.Provider{}, fmt.Errorf("op=provider.get: %w", err)
	}
	return p, nil
}
