package router_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-doc-summarizer/internal/adapter/ai/stub"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/adapter/repo/sqlite"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/domain"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/service/providergate"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/service/ratelimiter"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/service/router"
)

type fixture struct {
	db      *sql.DB
	jobs    *sqlite.JobRepo
	reg     *sqlite.RegistryRepo
	limiter *ratelimiter.Limiter
	gate    *providergate.Gate
	ai      *stub.Client
	rt      *router.Router
}

// newFixture wires a router over real repositories with two providers, one
// model each, and the stub client.
func newFixture(t *testing.T, perMinute int) *fixture {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reg := sqlite.NewRegistryRepo(db)
	ctx := context.Background()
	for i, p := range []string{"openrouter", "groq"} {
		_, err := reg.UpsertProvider(ctx, domain.Provider{
			ID: p, Name: p, Credential: "key-" + p, Priority: i + 1, Enabled: true,
		})
		require.NoError(t, err)
		_, err = reg.UpsertModel(ctx, domain.Model{
			ID: p + ":m1", ProviderID: p, ModelName: p + ":m1",
			PerMinuteLimit: perMinute, PerDayLimit: 1000, Enabled: true,
		})
		require.NoError(t, err)
	}

	f := &fixture{
		db:      db,
		jobs:    sqlite.NewJobRepo(db),
		reg:     reg,
		limiter: ratelimiter.New(sqlite.NewCounterRepo(db), nil),
		gate:    providergate.New(sqlite.NewBackoffRepo(db), providergate.DefaultPolicy()),
		ai:      stub.New(),
	}
	f.rt = router.New(f.reg, f.jobs, f.limiter, f.gate, f.ai)
	return f
}

func (f *fixture) claimJob(t *testing.T) *domain.Job {
	t.Helper()
	ctx := context.Background()
	_, err := f.jobs.Enqueue(ctx, "file-1", []byte(`{"content":"the quick brown fox"}`), 1, 3)
	require.NoError(t, err)
	j, err := f.jobs.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, j)
	return j
}

func TestDispatch_FirstCandidateSucceeds(t *testing.T) {
	f := newFixture(t, 10)
	job := f.claimJob(t)

	summary, err := f.rt.Dispatch(context.Background(), job, "the quick brown fox", 256)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(summary, "[stub openrouter:m1]"), summary)

	attempts, err := f.jobs.ListAttempts(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Success)
	require.NotNil(t, attempts[0].ModelID)
	assert.Equal(t, "openrouter:m1", *attempts[0].ModelID)
}

func TestDispatch_FailsOverToSecondProvider(t *testing.T) {
	f := newFixture(t, 10)
	f.ai.Faults["openrouter:m1"] = domain.NewKindError(domain.KindQuota, "status 429: rate limit")
	job := f.claimJob(t)
	ctx := context.Background()

	summary, err := f.rt.Dispatch(ctx, job, "the quick brown fox", 256)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(summary, "[stub groq:m1]"), summary)

	attempts, err := f.jobs.ListAttempts(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.False(t, attempts[0].Success)
	assert.True(t, attempts[1].Success)

	// The quota failure gates the first provider for subsequent dispatches.
	gated, err := f.gate.Gated(ctx, "openrouter")
	require.NoError(t, err)
	assert.True(t, gated)
	cands, err := f.reg.ListActiveModels(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "groq:m1", cands[0].ID)
}

func TestDispatch_RateLimitedCandidateSkippedSilently(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	// Burn the first provider's only minute token.
	res, err := f.limiter.TryConsume(ctx, "openrouter:m1", domain.PeriodMinute)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	job := f.claimJob(t)
	summary, err := f.rt.Dispatch(ctx, job, "the quick brown fox", 256)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(summary, "[stub groq:m1]"), summary)

	// The skip is not an attempt: no audit row for the skipped candidate.
	attempts, err := f.jobs.ListAttempts(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Success)
}

func TestDispatch_AllCandidatesRateLimited(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	for _, id := range []string{"openrouter:m1", "groq:m1"} {
		res, err := f.limiter.TryConsume(ctx, id, domain.PeriodMinute)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	job := f.claimJob(t)

	_, err := f.rt.Dispatch(ctx, job, "the quick brown fox", 256)
	require.Error(t, err)
	assert.Equal(t, domain.KindAllCandidatesFailed, domain.KindOf(err))
	assert.Contains(t, err.Error(), "rate limited")

	// Skips burn nothing: no attempt rows, no provider penalty.
	attempts, err := f.jobs.ListAttempts(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, attempts)
	gated, err := f.gate.Gated(ctx, "openrouter")
	require.NoError(t, err)
	assert.False(t, gated)
}

func TestDispatch_InputInvalidIsFatal(t *testing.T) {
	f := newFixture(t, 10)
	f.ai.Faults["openrouter:m1"] = domain.NewKindError(domain.KindInputInvalid, "status 400: malformed prompt")
	job := f.claimJob(t)

	_, err := f.rt.Dispatch(context.Background(), job, "the quick brown fox", 256)
	require.Error(t, err)
	assert.Equal(t, domain.KindInputInvalid, domain.KindOf(err))

	// The second candidate is never tried.
	attempts, err := f.jobs.ListAttempts(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
}

func TestDispatch_AllCandidatesFailed(t *testing.T) {
	f := newFixture(t, 10)
	f.ai.Faults["openrouter:m1"] = domain.NewKindError(domain.KindTransient, "status 503: unavailable")
	f.ai.Faults["groq:m1"] = domain.NewKindError(domain.KindTransient, "status 502: bad gateway")
	job := f.claimJob(t)

	_, err := f.rt.Dispatch(context.Background(), job, "the quick brown fox", 256)
	require.Error(t, err)
	assert.Equal(t, domain.KindAllCandidatesFailed, domain.KindOf(err))
	assert.Contains(t, err.Error(), "502")

	attempts, err := f.jobs.ListAttempts(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Len(t, attempts, 2)
}

func TestDispatch_NoCandidates(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	for _, p := range []string{"openrouter", "groq"} {
		_, err := f.reg.UpsertProvider(ctx, domain.Provider{
			ID: p, Name: p, Credential: "key-" + p, Priority: 1, Enabled: false,
		})
		require.NoError(t, err)
	}
	job := f.claimJob(t)

	_, err := f.rt.Dispatch(ctx, job, "the quick brown fox", 256)
	require.Error(t, err)
	assert.Equal(t, domain.KindNoCandidates, domain.KindOf(err))
}

// emptyAI returns a blank completion for one model and delegates otherwise.
type emptyAI struct {
	inner     domain.AIClient
	blankFor  string
	blankHits int
}

func (e *emptyAI) Generate(ctx context.Context, req domain.GenerateRequest) (string, error) {
	if req.ModelName == e.blankFor {
		e.blankHits++
		return "   ", nil
	}
	return e.inner.Generate(ctx, req)
}

func TestDispatch_EmptyCompletionFailsCandidateNotJob(t *testing.T) {
	f := newFixture(t, 10)
	f.rt.AI = &emptyAI{inner: f.ai, blankFor: "openrouter:m1"}
	job := f.claimJob(t)
	ctx := context.Background()

	summary, err := f.rt.Dispatch(ctx, job, "the quick brown fox", 256)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(summary, "[stub groq:m1]"), summary)

	attempts, err := f.jobs.ListAttempts(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.False(t, attempts[0].Success)
	assert.Contains(t, attempts[0].Error, "empty")

	// Empty completions carry no provider-wide penalty.
	gated, err := f.gate.Gated(ctx, "openrouter")
	require.NoError(t, err)
	assert.False(t, gated)
}
