// Package worker drives the job lifecycle: claim, extract, route, report,
// ack. One Worker polls the durable queue and processes up to C jobs
// concurrently; on shutdown it stops claiming and drains in-flight tasks.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-doc-summarizer/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/adapter/observability"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/domain"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/service/router"
)

// Options tunes a Worker.
type Options struct {
	Concurrency  int
	PollInterval time.Duration
	StaleTimeout time.Duration
	SweepEvery   time.Duration
	MaxTokens    int
}

func (o *Options) fill() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.StaleTimeout <= 0 {
		o.StaleTimeout = 10 * time.Minute
	}
	if o.SweepEvery <= 0 {
		o.SweepEvery = 5 * time.Minute
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 1024
	}
}

// Worker owns a stable worker id and a bounded pool of job tasks.
type Worker struct {
	ID        string
	Jobs      domain.JobStore
	Registry  domain.RegistryStore
	Router    *router.Router
	Extractor domain.Extractor
	Notifier  domain.Notifier
	Budget    *tokencount.Budgeter
	Opts      Options

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewWorkerID derives a stable id of the form host-pid-ULID.
func NewWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), ulid.MustNew(ulid.Timestamp(time.Now()), entropy))
}

// New constructs a Worker.
func New(jobs domain.JobStore, reg domain.RegistryStore, rt *router.Router, ex domain.Extractor, nt domain.Notifier, budget *tokencount.Budgeter, opts Options) *Worker {
	opts.fill()
	return &Worker{
		ID:        NewWorkerID(),
		Jobs:      jobs,
		Registry:  reg,
		Router:    rt,
		Extractor: ex,
		Notifier:  nt,
		Budget:    budget,
		Opts:      opts,
		sem:       make(chan struct{}, opts.Concurrency),
	}
}

// Run polls for claims until ctx is cancelled, then waits for in-flight
// tasks to drain. Housekeeping (stale recovery, failed-job requeue) runs on
// its own ticker.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("worker starting",
		slog.String("worker_id", w.ID),
		slog.Int("concurrency", w.Opts.Concurrency),
		slog.Duration("poll_interval", w.Opts.PollInterval))

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		w.runSweeper(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker shutting down, draining", slog.String("worker_id", w.ID))
			w.wg.Wait()
			<-sweepDone
			slog.Info("worker stopped", slog.String("worker_id", w.ID))
			return
		case w.sem <- struct{}{}:
		}

		job, err := w.Jobs.ClaimNext(ctx, w.ID)
		if err != nil {
			<-w.sem
			slog.Error("claim failed", slog.Any("error", err))
			w.sleep(ctx)
			continue
		}
		if job == nil {
			<-w.sem
			w.sleep(ctx)
			continue
		}

		w.wg.Add(1)
		observability.JobsProcessing.Inc()
		go func(j *domain.Job) {
			defer func() {
				observability.JobsProcessing.Dec()
				<-w.sem
				w.wg.Done()
			}()
			// Cancellation gates new claims only; a claimed job runs to
			// completion, including its upstream call and store writes.
			w.process(context.WithoutCancel(ctx), j)
		}(job)
	}
}

func (w *Worker) sleep(ctx context.Context) {
	t := time.NewTimer(w.Opts.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// process runs one claimed job end to end. In-flight upstream calls are not
// cancelled on shutdown; the claim is acked before the task returns unless
// the store itself fails, in which case stale recovery re-queues it later.
func (w *Worker) process(ctx context.Context, job *domain.Job) {
	tracer := otel.Tracer("service.worker")
	ctx, span := tracer.Start(ctx, "worker.process")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", job.ID), attribute.String("worker.id", w.ID))

	start := time.Now()

	// Pre-flight: without any active model there is nothing to route to.
	candidates, err := w.Registry.ListActiveModels(ctx, time.Now())
	if err != nil {
		w.storeFailure(job, err)
		return
	}
	if len(candidates) == 0 {
		w.finishFailed(ctx, job, domain.NewKindError(domain.KindNoCandidates, "no active models"), true)
		return
	}

	ext, err := w.Extractor.Extract(job.Payload)
	if err != nil || ext.Text == "" {
		msg := "no extractable content"
		if err != nil {
			msg = err.Error()
		}
		w.finishFailed(ctx, job, domain.NewKindError(domain.KindNoExtractableContent, msg), true)
		return
	}

	maxTokens := w.Budget.SummaryBudget(ext.Text, w.Opts.MaxTokens)

	summary, err := w.Router.Dispatch(ctx, job, ext.Text, maxTokens)
	if err != nil {
		kind := domain.KindOf(err)
		if kind == domain.KindOther {
			// Unclassified errors out of the router are store errors; leave
			// the claim for stale recovery rather than mis-ack it.
			w.storeFailure(job, err)
			return
		}
		// Router already recorded per-candidate attempts except for the
		// empty-snapshot case.
		w.finishFailed(ctx, job, err, kind == domain.KindNoCandidates)
		return
	}

	res := domain.CallbackResult{
		FileID:           job.FileID,
		Summary:          summary,
		ContentBlocks:    ext.ContentBlocks,
		TotalWords:       ext.TotalWords,
		MainContentWords: ext.MainContentWords,
		ProcessingTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
		ProcessedAt:      time.Now().UTC(),
	}
	if err := w.Notifier.Notify(ctx, res); err != nil {
		observability.CallbacksTotal.WithLabelValues("failed").Inc()
		w.finishFailed(ctx, job, domain.NewKindError(domain.KindCallbackFailed, err.Error()), false)
		return
	}
	observability.CallbacksTotal.WithLabelValues("delivered").Inc()

	if err := w.Jobs.CompleteJob(ctx, job.ID, domain.JobSucceeded, summary, ""); err != nil {
		w.storeFailure(job, err)
		return
	}
	observability.JobsCompletedTotal.WithLabelValues(string(domain.JobSucceeded)).Inc()
	slog.Info("job succeeded",
		slog.String("job_id", job.ID),
		slog.String("file_id", job.FileID),
		slog.Duration("elapsed", time.Since(start)))
}

// finishFailed applies the retry policy: retryable kinds re-enqueue until
// attempts run out, non-retryable kinds go straight to dead. recordAttempt is
// set for pre-router failures, which the router did not count.
func (w *Worker) finishFailed(ctx context.Context, job *domain.Job, failure error, recordAttempt bool) {
	kind := domain.KindOf(failure)
	if recordAttempt {
		if _, err := w.Jobs.IncrementAttempt(ctx, job.ID, nil, nil, false, failure.Error()); err != nil {
			w.storeFailure(job, err)
			return
		}
	}
	current, err := w.Jobs.GetJob(ctx, job.ID)
	if err != nil {
		w.storeFailure(job, err)
		return
	}

	outcome := domain.JobDead
	if kind.Retryable() && current.Attempts < current.MaxAttempts {
		outcome = domain.JobQueued
	}
	if outcome == domain.JobQueued && current.Attempts == job.Attempts {
		// Nothing was dispatched this cycle (every candidate was rate-limit
		// skipped). Hold the claim for one poll interval so the requeue does
		// not spin until a window rolls over.
		w.sleep(ctx)
	}
	if err := w.Jobs.CompleteJob(ctx, job.ID, outcome, "", failure.Error()); err != nil {
		w.storeFailure(job, err)
		return
	}
	observability.JobsCompletedTotal.WithLabelValues(string(outcome)).Inc()
	slog.Warn("job failed",
		slog.String("job_id", job.ID),
		slog.String("class", string(kind)),
		slog.String("outcome", string(outcome)),
		slog.Int("attempts", current.Attempts),
		slog.Int("max_attempts", current.MaxAttempts))
}

// storeFailure logs a store-level error and leaves the job in processing;
// stale recovery will pick it up.
func (w *Worker) storeFailure(job *domain.Job, err error) {
	slog.Error("store operation failed, leaving job for stale recovery",
		slog.String("job_id", job.ID),
		slog.Any("error", err))
}
