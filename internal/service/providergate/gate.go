// Package providergate maintains provider-wide cool-downs after upstream
// failures.
package providergate

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairyhunter13/ai-doc-summarizer/internal/domain"
)

// Policy maps upstream failure classes to cool-down durations. Classes absent
// from the table produce no backoff.
type Policy struct {
	Quota     time.Duration
	Auth      time.Duration
	Transient time.Duration
}

// DefaultPolicy matches the shipped defaults: 60m quota, 240m auth, 15m
// transient.
func DefaultPolicy() Policy {
	return Policy{Quota: 60 * time.Minute, Auth: 240 * time.Minute, Transient: 15 * time.Minute}
}

// Gate records and queries provider backoffs.
type Gate struct {
	Backoffs domain.BackoffStore
	Policy   Policy
	Now      func() time.Time
}

// New constructs a Gate over the backoff store.
func New(backoffs domain.BackoffStore, policy Policy) *Gate {
	return &Gate{Backoffs: backoffs, Policy: policy, Now: time.Now}
}

// CooldownFor returns the backoff duration for a failure kind, zero when the
// kind carries no provider-wide penalty.
func (g *Gate) CooldownFor(kind domain.FailKind) time.Duration {
	switch kind {
	case domain.KindQuota:
		return g.Policy.Quota
	case domain.KindAuth:
		return g.Policy.Auth
	case domain.KindTransient:
		return g.Policy.Transient
	default:
		return 0
	}
}

// RecordFailure applies the policy for kind to the provider. Returns true
// when a backoff was set.
func (g *Gate) RecordFailure(ctx context.Context, providerID string, kind domain.FailKind, reason string) (bool, error) {
	d := g.CooldownFor(kind)
	if d <= 0 {
		return false, nil
	}
	until := g.Now().UTC().Add(d)
	if err := g.Backoffs.SetBackoff(ctx, providerID, until, reason); err != nil {
		return false, err
	}
	slog.Warn("provider gated",
		slog.String("provider_id", providerID),
		slog.String("class", string(kind)),
		slog.Time("until", until))
	return true, nil
}

// Gated reports whether the provider is currently cooling down.
func (g *Gate) Gated(ctx context.Context, providerID string) (bool, error) {
	gated, err := g.Backoffs.ListGatedProviders(ctx, g.Now())
	if err != nil {
		return false, err
	}
	_, ok := gated[providerID]
	return ok, nil
}
