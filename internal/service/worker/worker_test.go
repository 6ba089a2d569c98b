package worker_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-doc-summarizer/internal/adapter/ai/stub"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/adapter/callback"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/adapter/repo/sqlite"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/adapter/textextractor"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/domain"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/service/providergate"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/service/ratelimiter"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/service/router"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/service/worker"
)

const testSecret = "worker-test-secret"

// callbackRecorder verifies the HMAC auth header and captures delivered
// payloads.
type callbackRecorder struct {
	mu       sync.Mutex
	payloads []map[string]any
	badAuth  int
}

func (c *callbackRecorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		auth := r.Header.Get(callback.AuthHeader)
		dot := strings.IndexByte(auth, '.')
		valid := false
		if dot > 0 {
			var ts int64
			for _, ch := range auth[:dot] {
				ts = ts*10 + int64(ch-'0')
			}
			valid = callback.Sign(testSecret, ts, body) == auth
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if !valid {
			c.badAuth++
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var p map[string]any
		require.NoError(t, json.Unmarshal(body, &p))
		c.payloads = append(c.payloads, p)
		w.WriteHeader(http.StatusOK)
	}
}

func (c *callbackRecorder) delivered() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.payloads...)
}

type env struct {
	db   *sql.DB
	jobs *sqlite.JobRepo
	reg  *sqlite.RegistryRepo
	ai   *stub.Client
	rec  *callbackRecorder
	rt   *router.Router
	w    *worker.Worker
}

func newEnv(t *testing.T, providers []string) *env {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reg := sqlite.NewRegistryRepo(db)
	ctx := context.Background()
	for i, p := range providers {
		_, err := reg.UpsertProvider(ctx, domain.Provider{
			ID: p, Name: p, Credential: "key-" + p, Priority: i + 1, Enabled: true,
		})
		require.NoError(t, err)
		_, err = reg.UpsertModel(ctx, domain.Model{
			ID: p + ":m1", ProviderID: p, ModelName: p + ":m1",
			PerMinuteLimit: 100, PerDayLimit: 1000, Enabled: true,
		})
		require.NoError(t, err)
	}

	rec := &callbackRecorder{}
	srv := httptest.NewServer(rec.handler(t))
	t.Cleanup(srv.Close)

	jobs := sqlite.NewJobRepo(db)
	aicl := stub.New()
	rt := router.New(reg, jobs,
		ratelimiter.New(sqlite.NewCounterRepo(db), nil),
		providergate.New(sqlite.NewBackoffRepo(db), providergate.DefaultPolicy()),
		aicl)
	w := worker.New(jobs, reg, rt, textextractor.New(),
		callback.New(srv.URL, testSecret, 2*time.Second),
		tokencount.NewBudgeter(),
		worker.Options{
			Concurrency:  2,
			PollInterval: 10 * time.Millisecond,
			StaleTimeout: 10 * time.Minute,
			SweepEvery:   time.Hour,
			MaxTokens:    256,
		})

	return &env{db: db, jobs: jobs, reg: reg, ai: aicl, rec: rec, rt: rt, w: w}
}

// runUntil starts the worker and blocks until cond holds for the job or the
// deadline passes, then drains the worker.
func (e *env) runUntil(t *testing.T, jobID string, cond func(domain.Job) bool) domain.Job {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.w.Run(ctx)
	}()

	deadline := time.Now().Add(10 * time.Second)
	var j domain.Job
	for {
		var err error
		j, err = e.jobs.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		if cond(j) {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			<-done
			t.Fatalf("job %s did not reach expected state, last: %s (%s)", jobID, j.State, j.Error)
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	<-done
	return j
}

func TestWorker_ProcessesJobEndToEnd(t *testing.T) {
	e := newEnv(t, []string{"openrouter"})
	ctx := context.Background()

	payload := []byte(`{"title":"Release notes","content":"The service now retries failed deliveries with exponential backoff and surfaces clear errors."}`)
	rc, err := e.jobs.Enqueue(ctx, "file-e2e", payload, 1, 3)
	require.NoError(t, err)

	j := e.runUntil(t, rc.JobID, func(j domain.Job) bool { return j.State == domain.JobSucceeded })
	assert.NotEmpty(t, j.Result)
	assert.Equal(t, 1, j.Attempts)

	attempts, err := e.jobs.ListAttempts(ctx, rc.JobID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Success)

	delivered := e.rec.delivered()
	require.Len(t, delivered, 1)
	assert.Zero(t, e.rec.badAuth)
	assert.Equal(t, "file-e2e", delivered[0]["fileId"])
	assert.Equal(t, j.Result, delivered[0]["summary"])
	meta, ok := delivered[0]["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Positive(t, meta["totalWords"])
	assert.NotEmpty(t, meta["processedAt"])
}

func TestWorker_TransientFailuresExhaustToDead(t *testing.T) {
	e := newEnv(t, []string{"openrouter"})
	e.ai.Faults["openrouter:m1"] = domain.NewKindError(domain.KindTransient, "status 503: unavailable")
	ctx := context.Background()

	rc, err := e.jobs.Enqueue(ctx, "file-doomed", []byte(`{"content":"doomed content"}`), 1, 2)
	require.NoError(t, err)

	// Attempt 1 fails and gates the only provider; the retry then finds no
	// candidates, burning the final attempt.
	j := e.runUntil(t, rc.JobID, func(j domain.Job) bool { return j.State == domain.JobDead })
	assert.Equal(t, 2, j.Attempts)

	attempts, err := e.jobs.ListAttempts(ctx, rc.JobID)
	require.NoError(t, err)
	require.Len(t, attempts, j.Attempts)
	for _, a := range attempts {
		assert.False(t, a.Success)
	}
	assert.Empty(t, e.rec.delivered())
}

func TestWorker_NoExtractableContentGoesStraightToDead(t *testing.T) {
	e := newEnv(t, []string{"openrouter"})
	ctx := context.Background()

	rc, err := e.jobs.Enqueue(ctx, "file-empty", []byte(`{"content":""}`), 1, 3)
	require.NoError(t, err)

	j := e.runUntil(t, rc.JobID, func(j domain.Job) bool { return j.State == domain.JobDead })
	assert.Equal(t, 1, j.Attempts)
	assert.Contains(t, j.Error, "no_extractable_content")
	assert.Empty(t, e.rec.delivered())
}

func TestWorker_InputInvalidIsFatal(t *testing.T) {
	e := newEnv(t, []string{"openrouter"})
	e.ai.Faults["openrouter:m1"] = domain.NewKindError(domain.KindInputInvalid, "status 400: malformed prompt")
	ctx := context.Background()

	rc, err := e.jobs.Enqueue(ctx, "file-bad", []byte(`{"content":"valid text here"}`), 1, 3)
	require.NoError(t, err)

	j := e.runUntil(t, rc.JobID, func(j domain.Job) bool { return j.State == domain.JobDead })
	assert.Equal(t, 1, j.Attempts)
	assert.Empty(t, e.rec.delivered())
}

// blockingAI parks Generate until released; a cancelled context aborts it.
type blockingAI struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingAI) Generate(ctx context.Context, _ domain.GenerateRequest) (string, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return "finished after shutdown began", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestWorker_ShutdownWaitsForInFlightJob(t *testing.T) {
	e := newEnv(t, []string{"openrouter"})
	bl := &blockingAI{started: make(chan struct{}), release: make(chan struct{})}
	e.rt.AI = bl
	ctx := context.Background()

	rc, err := e.jobs.Enqueue(ctx, "file-drain", []byte(`{"content":"shutdown must not abort this"}`), 1, 3)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.w.Run(runCtx)
	}()

	select {
	case <-bl.started:
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("upstream call never started")
	}

	// Shutdown arrives while the call is in flight; the worker waits for it
	// instead of cancelling it.
	cancel()
	time.Sleep(50 * time.Millisecond)
	close(bl.release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not drain")
	}

	j, err := e.jobs.GetJob(ctx, rc.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobSucceeded, j.State)
	assert.Equal(t, 1, j.Attempts)
	require.Len(t, e.rec.delivered(), 1)
	assert.Zero(t, e.rec.badAuth)
}

func TestWorker_RateLimitedCyclePreservesAttempts(t *testing.T) {
	e := newEnv(t, []string{"openrouter"})
	ctx := context.Background()

	// One call per minute, already spent: every candidate gets skipped.
	_, err := e.reg.UpsertModel(ctx, domain.Model{
		ID: "openrouter:m1", ProviderID: "openrouter", ModelName: "openrouter:m1",
		PerMinuteLimit: 1, PerDayLimit: 1000, Enabled: true,
	})
	require.NoError(t, err)
	res, err := sqlite.NewCounterRepo(e.db).TryConsume(ctx, "openrouter:m1", domain.PeriodMinute, time.Now())
	require.NoError(t, err)
	require.True(t, res.Allowed)

	rc, err := e.jobs.Enqueue(ctx, "file-throttled", []byte(`{"content":"waits for the window"}`), 1, 3)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.w.Run(runCtx)
	}()
	time.Sleep(150 * time.Millisecond)
	cancel()
	<-done

	// The job cycles through deferred requeues without burning attempts or
	// dying before the window rolls over.
	j, err := e.jobs.GetJob(ctx, rc.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, j.State)
	assert.Equal(t, 0, j.Attempts)
	assert.Contains(t, j.Error, "rate limited")
	attempts, err := e.jobs.ListAttempts(ctx, rc.JobID)
	require.NoError(t, err)
	assert.Empty(t, attempts)
	assert.Empty(t, e.rec.delivered())
}

func TestNewWorkerID_Shape(t *testing.T) {
	id := worker.NewWorkerID()
	parts := strings.Split(id, "-")
	require.GreaterOrEqual(t, len(parts), 3)
	assert.Len(t, parts[len(parts)-1], 26) // ULID
	assert.NotEqual(t, id, worker.NewWorkerID())
}
