// Package router walks the active (provider, model) candidates for a job in
// priority order, consuming quota atomically before each upstream call and
// classifying upstream failures into provider backoffs.
package router

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-doc-summarizer/internal/adapter/observability"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/domain"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/service/providergate"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/service/ratelimiter"
)

// Router dispatches one job to the first viable candidate.
type Router struct {
	Registry domain.RegistryStore
	Jobs     domain.JobStore
	Limiter  *ratelimiter.Limiter
	Gate     *providergate.Gate
	AI       domain.AIClient
	Now      func() time.Time
}

// New constructs a Router.
func New(reg domain.RegistryStore, jobs domain.JobStore, lim *ratelimiter.Limiter, gate *providergate.Gate, ai domain.AIClient) *Router {
	return &Router{Registry: reg, Jobs: jobs, Limiter: lim, Gate: gate, AI: ai, Now: time.Now}
}

// Dispatch tries candidates in order until one produces a non-empty summary.
// Quota is consumed only when the upstream call is actually dispatched, and
// is not refunded on rejection: the counter models attempts against the
// provider in the window, not successes.
//
// Failure returns are *domain.KindError: NoCandidates when the snapshot is
// empty, InputInvalid when the upstream rejects the prompt (fatal to the
// job), AllCandidatesFailed when the list is exhausted.
func (r *Router) Dispatch(ctx context.Context, job *domain.Job, content string, maxTokens int) (string, error) {
	tracer := otel.Tracer("service.router")
	ctx, span := tracer.Start(ctx, "router.Dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", job.ID))

	candidates, err := r.Registry.ListActiveModels(ctx, r.Now())
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", domain.NewKindError(domain.KindNoCandidates, "no active models")
	}
	span.SetAttributes(attribute.Int("router.candidates", len(candidates)))

	prompt := BuildPrompt(content)
	var lastErr error
	for _, cand := range candidates {
		if skipped, err := r.consumeQuota(ctx, job, cand); err != nil {
			return "", err
		} else if skipped {
			continue
		}

		start := r.Now()
		text, genErr := r.AI.Generate(ctx, domain.GenerateRequest{
			ProviderName: cand.ProviderName,
			Credential:   cand.ProviderCredential,
			ModelName:    cand.ModelName,
			Prompt:       prompt,
			MaxTokens:    maxTokens,
		})
		observability.DispatchDuration.WithLabelValues(cand.ProviderName).Observe(time.Since(start).Seconds())

		providerID, modelID := cand.ProviderID, cand.ID
		if genErr == nil {
			text = strings.TrimSpace(text)
			if text != "" {
				if _, err := r.Jobs.IncrementAttempt(ctx, job.ID, &providerID, &modelID, true, ""); err != nil {
					return "", err
				}
				span.SetAttributes(attribute.String("router.model", cand.ID))
				return text, nil
			}
			// Empty completion: fatal to this candidate, not to the job.
			genErr = domain.NewKindError(domain.KindEmpty, "upstream returned empty text")
		}

		kind := domain.KindOf(genErr)
		observability.UpstreamErrorsTotal.WithLabelValues(cand.ProviderName, string(kind)).Inc()
		if _, err := r.Jobs.IncrementAttempt(ctx, job.ID, &providerID, &modelID, false, genErr.Error()); err != nil {
			return "", err
		}
		if _, err := r.Gate.RecordFailure(ctx, cand.ProviderID, kind, genErr.Error()); err != nil {
			return "", err
		}
		slog.Warn("candidate failed",
			slog.String("job_id", job.ID),
			slog.String("model_id", cand.ID),
			slog.String("class", string(kind)),
			slog.Any("error", genErr))

		if kind == domain.KindInputInvalid {
			return "", domain.NewKindError(domain.KindInputInvalid, genErr.Error())
		}
		lastErr = genErr
	}

	// lastErr is nil only when every candidate was skipped by its counters.
	msg := "all candidates rate limited"
	if lastErr != nil {
		msg = lastErr.Error()
	}
	return "", domain.NewKindError(domain.KindAllCandidatesFailed, msg)
}

// consumeQuota takes the minute then day token for the candidate; a refusal
// of either skips the candidate without touching the job.
func (r *Router) consumeQuota(ctx context.Context, job *domain.Job, cand domain.Candidate) (skipped bool, err error) {
	for _, period := range []domain.RatePeriod{domain.PeriodMinute, domain.PeriodDay} {
		res, err := r.Limiter.TryConsume(ctx, cand.ID, period)
		if err != nil {
			return false, err
		}
		if !res.Allowed {
			observability.RateLimitSkipsTotal.WithLabelValues(cand.ID, string(period)).Inc()
			slog.Debug("candidate rate limited",
				slog.String("job_id", job.ID),
				slog.String("model_id", cand.ID),
				slog.String("period", string(period)),
				slog.Int("used", res.Used),
				slog.Int("limit", res.Limit))
			return true, nil
		}
	}
	return false, nil
}
