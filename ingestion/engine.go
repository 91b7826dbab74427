// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/docflow/ai"
	"github.com/poiesic/docflow/core"
	"github.com/poiesic/docflow/partition"
	"github.com/poiesic/docflow/storage"
)

// Engine schedules ingestion jobs onto a bounded worker pool and drives
// each job's documents through the dual-store write sequence. Each job
// occupies one pool slot for its full lifetime; documents within a job run
// sequentially so the cancel flag can be honored between them.
type Engine struct {
	jobs     storage.JobStore
	docs     storage.DocumentStore
	vectors  storage.VectorStore
	embedder ai.Embedder
	resolver *partition.Resolver
	pool     *ants.Pool
	logger   *slog.Logger

	staleAfter      time.Duration
	documentTimeout time.Duration
	maxAttempts     int
	retryBaseDelay  time.Duration
}

// Option configures an Engine.
type Option func(*Engine) error

// WithPoolSize sets the number of jobs processed concurrently.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(e *Engine) error {
		if size < 1 {
			size = 1
		}

		if e.pool != nil {
			e.pool.Release()
		}

		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		e.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// WithStaleAfter sets the heartbeat age after which a processing job is
// treated as abandoned and becomes claimable again. Default is 5 minutes.
func WithStaleAfter(d time.Duration) Option {
	return func(e *Engine) error {
		if d > 0 {
			e.staleAfter = d
		}
		return nil
	}
}

// WithDocumentTimeout bounds each document's write sequence.
// Default is 2 minutes.
func WithDocumentTimeout(d time.Duration) Option {
	return func(e *Engine) error {
		if d > 0 {
			e.documentTimeout = d
		}
		return nil
	}
}

// WithEmbedRetry sets the attempt count and base backoff delay for
// embedding calls. Defaults are 3 attempts starting at 1 second.
func WithEmbedRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(e *Engine) error {
		if maxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		e.maxAttempts = maxAttempts
		if baseDelay > 0 {
			e.retryBaseDelay = baseDelay
		}
		return nil
	}
}

// NewEngine creates an ingestion engine over the three stores and the
// embedding service.
func NewEngine(
	jobs storage.JobStore,
	docs storage.DocumentStore,
	vectors storage.VectorStore,
	embedder ai.Embedder,
	opts ...Option,
) (*Engine, error) {
	if jobs == nil {
		return nil, ErrJobStoreRequired
	}
	if docs == nil {
		return nil, ErrDocumentStoreRequired
	}
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		jobs:            jobs,
		docs:            docs,
		vectors:         vectors,
		embedder:        embedder,
		resolver:        partition.NewResolver(docs, vectors),
		pool:            pool,
		logger:          slog.Default(),
		staleAfter:      5 * time.Minute,
		documentTimeout: 2 * time.Minute,
		maxAttempts:     3,
		retryBaseDelay:  time.Second,
	}

	for _, opt := range opts {
		if optErr := opt(e); optErr != nil {
			e.Release()
			return nil, optErr
		}
	}

	return e, nil
}

// CreateJob persists a new job with its document payloads and schedules it
// for processing. The returned job is in pending status; poll GetJob for
// progress.
func (e *Engine) CreateJob(ctx context.Context, botID string, documents []*core.Document) (*core.Job, error) {
	if botID == "" {
		return nil, core.ErrEmptyBotId
	}
	if len(documents) == 0 {
		return nil, ErrNoDocuments
	}
	for _, doc := range documents {
		if err := core.ValidateDocument(doc); err != nil {
			return nil, err
		}
	}

	job := &core.Job{
		Id:            uuid.NewString(),
		BotId:         botID,
		Status:        core.JobStatusPending,
		DocumentCount: len(documents),
	}
	if err := e.jobs.CreateJob(ctx, job, documents); err != nil {
		return nil, err
	}

	e.submit(job.Id)
	return job, nil
}

// JobView is the poller-facing snapshot of a job: its record, derived
// progress, and the results recorded so far in submission order.
type JobView struct {
	Job      *core.Job
	Progress core.Progress
	Results  []*core.DocumentResult
}

// GetJob returns the current view of a job. Safe to call at any time,
// including mid-processing; it reflects the latest durably recorded
// results.
func (e *Engine) GetJob(ctx context.Context, jobID string) (*JobView, error) {
	job, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	recorded, err := e.jobs.GetResults(ctx, jobID)
	if err != nil {
		return nil, err
	}

	results := make([]*core.DocumentResult, 0, len(recorded))
	for i := range job.DocumentCount {
		if result, ok := recorded[i]; ok {
			results = append(results, result)
		}
	}

	return &JobView{
		Job:      job,
		Progress: core.ProgressFromResults(results, job.DocumentCount),
		Results:  results,
	}, nil
}

// Cancel requests cancellation of a job. A pending job cancels
// immediately; a processing job finishes its in-flight document first.
func (e *Engine) Cancel(ctx context.Context, jobID string) (*core.Job, error) {
	return e.jobs.RequestCancel(ctx, jobID)
}

// DeleteDocument removes a document and its embeddings by content key.
// Vector rows go first so a partial failure leaves the relational row in
// place as the authority for a retry.
func (e *Engine) DeleteDocument(ctx context.Context, botID, contentKey string) error {
	mapping, err := e.resolver.Resolve(ctx, botID)
	if err != nil {
		return fmt.Errorf("failed to resolve partition: %w", err)
	}

	existing, err := e.docs.FindExisting(ctx, botID, []string{contentKey})
	if err != nil {
		return fmt.Errorf("failed to look up document: %w", err)
	}
	docID, ok := existing[contentKey]
	if !ok {
		return fmt.Errorf("document %s: %w", contentKey, storage.ErrNotFound)
	}

	if err := e.vectors.DeleteByDocument(ctx, mapping.PartitionName, docID); err != nil {
		return fmt.Errorf("failed to delete embeddings: %w", err)
	}
	if err := e.docs.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	e.logger.Info("document deleted", "botId", botID, "contentKey", contentKey, "docId", docID)
	return nil
}

// Recover re-submits every job a previous process left in a non-terminal
// state. Call once at startup. The active-job scan is retried rather than
// trusted on first failure, since an empty answer here silently strands
// jobs.
func (e *Engine) Recover(ctx context.Context) error {
	var active []*core.Job
	err := RetryWithBackoff(ctx, func() error {
		var listErr error
		active, listErr = e.jobs.ListActive(ctx)
		return listErr
	}, e.maxAttempts, e.retryBaseDelay)
	if err != nil {
		return fmt.Errorf("scanning active jobs: %w", err)
	}

	for _, job := range active {
		e.logger.Info("recovering job", "jobId", job.Id, "status", job.Status.String())
		e.submit(job.Id)
	}
	return nil
}

// submit schedules a job run on the pool. Submission errors mean the pool
// is released or overloaded; the job stays claimable and the next recovery
// scan picks it up.
func (e *Engine) submit(jobID string) {
	err := e.pool.Submit(func() {
		e.runJob(context.Background(), jobID)
	})
	if err != nil {
		e.logger.Error("error scheduling job", "jobId", jobID, "err", err)
	}
}

// runJob claims and processes one job end to end on a pool worker.
func (e *Engine) runJob(ctx context.Context, jobID string) {
	job, err := e.jobs.ClaimJob(ctx, jobID, e.staleAfter)
	if err != nil {
		if errors.Is(err, storage.ErrNotClaimable) {
			e.requeueHeldJob(ctx, jobID)
		} else {
			e.logger.Error("error claiming job", "jobId", jobID, "err", err)
		}
		return
	}

	if err := e.processJob(ctx, job); err != nil {
		e.failJob(ctx, jobID, err)
	}
}

// Minimum wait before retrying a claim held by a fresh heartbeat.
const requeueFloor = 50 * time.Millisecond

// requeueHeldJob schedules another claim attempt for a non-terminal job
// whose current holder's heartbeat is still fresh. If the holder is a
// worker in this process, the retry finds the job terminal and stops; if
// it died with a crashed process, its claim goes stale and the retry takes
// the job over instead of stranding it until the record expires.
func (e *Engine) requeueHeldJob(ctx context.Context, jobID string) {
	job, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			e.logger.Error("error re-reading unclaimable job", "jobId", jobID, "err", err)
		}
		return
	}
	if job.Status.Terminal() {
		e.logger.Debug("job already terminal, skipping", "jobId", jobID)
		return
	}

	delay := e.staleAfter - time.Since(job.UpdatedAt)
	if delay < requeueFloor {
		delay = requeueFloor
	}
	e.logger.Debug("job held by a fresh claim, retrying", "jobId", jobID, "delay", delay)
	time.AfterFunc(delay, func() {
		e.submit(jobID)
	})
}

// processJob drives a claimed job's documents. The returned error is
// always a job-scoped fault; per-document failures are absorbed into
// result rows and never surface here.
func (e *Engine) processJob(ctx context.Context, job *core.Job) error {
	mapping, err := e.resolver.Ensure(ctx, job.BotId)
	if err != nil {
		return fmt.Errorf("ensuring partition: %w", err)
	}

	documents, err := e.jobs.GetDocuments(ctx, job.Id)
	if err != nil {
		return fmt.Errorf("reading document payloads: %w", err)
	}

	// Slots already resolved by a previous run are skipped, which is what
	// makes re-submission after a crash resume instead of restart.
	resolved, err := e.jobs.GetResults(ctx, job.Id)
	if err != nil {
		return fmt.Errorf("reading recorded results: %w", err)
	}

	committed, err := e.findCommitted(ctx, job.BotId, documents, resolved)
	if err != nil {
		return fmt.Errorf("checking for duplicates: %w", err)
	}

	cancelled := job.CancelRequested
	seen := make(map[string]bool, len(documents))
	for i, doc := range documents {
		if _, done := resolved[i]; done {
			seen[doc.ContentKey] = true
			continue
		}

		if !cancelled {
			current, err := e.jobs.GetJob(ctx, job.Id)
			if err != nil {
				return fmt.Errorf("reading job: %w", err)
			}
			cancelled = current.CancelRequested
		}

		var result *core.DocumentResult
		switch {
		case cancelled:
			result = cancelledResult(doc)
		case seen[doc.ContentKey]:
			// Repeated content key within the batch: first occurrence wins.
			result = duplicateResult(doc, committed[doc.ContentKey])
		default:
			if docID, exists := committed[doc.ContentKey]; exists {
				result = duplicateResult(doc, docID)
			} else {
				result, err = e.runSaga(ctx, mapping.PartitionName, job.BotId, doc)
				if err != nil {
					return err
				}
			}
		}
		seen[doc.ContentKey] = true

		if err := e.jobs.RecordResult(ctx, job.Id, i, result); err != nil {
			return fmt.Errorf("recording result: %w", err)
		}
	}

	status := core.JobStatusCompleted
	if cancelled {
		status = core.JobStatusCancelled
	}
	if err := e.jobs.SetJobStatus(ctx, job.Id, status, ""); err != nil {
		return fmt.Errorf("finalizing job: %w", err)
	}

	e.logger.Info("job finished", "jobId", job.Id, "status", status.String(), "documents", len(documents))
	return nil
}

// failJob performs the transition to failed after a job-scoped fault,
// preserving any results already recorded.
func (e *Engine) failJob(ctx context.Context, jobID string, cause error) {
	e.logger.Error("job failed", "jobId", jobID, "err", cause)
	if err := e.jobs.SetJobStatus(ctx, jobID, core.JobStatusFailed, cause.Error()); err != nil {
		e.logger.Error("error recording job failure", "jobId", jobID, "err", err)
	}
}

// Release releases the worker pool. The engine should not be used after
// calling Release; jobs still queued stay pending for the next recovery
// scan.
func (e *Engine) Release() {
	if e.pool != nil {
		e.pool.Release()
	}
}
