package storage

import (
	"context"
	"time"

	"github.com/poiesic/docflow/core"
)

// ChunkRef identifies a single chunk row in the document store.
type ChunkRef struct {
	DocId      int64
	ChunkIndex int
}

// DocumentChunks groups one document's chunk rows, as returned by scans.
type DocumentChunks struct {
	DocId  int64
	Chunks []core.Chunk
}

// JobStore provides durable job and result state. It is the engine's source
// of truth for crash recovery: every acknowledged write must survive an
// immediate process restart.
type JobStore interface {
	// CreateJob persists a new job in pending status together with its
	// document payloads, so a restart can resume the job without the
	// original submission request.
	// Returns ErrDuplicateKey if a job with the same ID already exists.
	CreateJob(ctx context.Context, job *core.Job, docs []*core.Document) error

	// GetDocuments returns the job's document payloads in submission order.
	GetDocuments(ctx context.Context, jobID string) ([]*core.Document, error)

	// GetJob retrieves a job by ID.
	// Returns ErrNotFound if the job doesn't exist or has expired.
	GetJob(ctx context.Context, id string) (*core.Job, error)

	// ClaimJob atomically transitions a job to processing and returns it.
	// A pending job is always claimable. A processing job is claimable only
	// when its last heartbeat (UpdatedAt) is older than staleAfter, which
	// reclaims work orphaned by a crashed worker.
	// Returns ErrNotClaimable when another worker holds a fresh claim or the
	// job is terminal, and ErrNotFound if the job doesn't exist.
	ClaimJob(ctx context.Context, id string, staleAfter time.Duration) (*core.Job, error)

	// SetJobStatus transitions a job to the given status, stamping
	// StartedAt/CompletedAt as appropriate and re-keying retention.
	// errMsg is recorded for failed jobs and ignored otherwise.
	// Returns ErrInvalidTransition if the lifecycle does not allow the move,
	// except that setting a status the job already has is a no-op.
	SetJobStatus(ctx context.Context, id string, status core.JobStatus, errMsg string) error

	// RequestCancel marks the job for cancellation. A pending job moves to
	// cancelled immediately; a processing job keeps running until its worker
	// observes the flag. Requests against terminal jobs are no-ops.
	// Returns the job as stored after the request.
	RequestCancel(ctx context.Context, id string) (*core.Job, error)

	// RecordResult durably records the outcome for one document slot and
	// touches the job's heartbeat. index is the document's position in the
	// submission order. Recording a result for a slot that already has one
	// is a no-op, which makes post-crash replay idempotent.
	RecordResult(ctx context.Context, jobID string, index int, result *core.DocumentResult) error

	// GetResults returns the results recorded so far, keyed by document
	// index. Returns an empty map for a job with no results yet.
	GetResults(ctx context.Context, jobID string) (map[int]*core.DocumentResult, error)

	// ListActive returns all jobs in pending or processing status.
	// Used by the recovery scan at startup.
	ListActive(ctx context.Context) ([]*core.Job, error)

	// DeleteJob removes the job record together with its payloads and
	// result rows, ahead of retention expiry. Deleting a missing job is a
	// no-op.
	DeleteJob(ctx context.Context, id string) error

	// Close closes the storage backend and releases resources.
	Close() error
}

// DocumentStore holds the canonical document metadata and chunk text.
// Its rows are authoritative: a document exists iff its row does.
type DocumentStore interface {
	// RegisterBot creates the partition mapping for a bot if absent and
	// returns the canonical mapping either way. Safe to call concurrently
	// for the same bot; exactly one mapping wins and all callers see it.
	RegisterBot(ctx context.Context, botID string) (*core.PartitionMapping, error)

	// GetPartition returns the partition mapping for a bot.
	// Returns ErrNotFound if the bot was never registered.
	GetPartition(ctx context.Context, botID string) (*core.PartitionMapping, error)

	// InsertDocument inserts a document row plus all its chunk rows in one
	// transaction and returns the assigned document ID. Either everything
	// is inserted or nothing is.
	// Returns ErrDuplicateKey if the content key already exists for the bot.
	InsertDocument(ctx context.Context, botID string, doc *core.Document) (int64, error)

	// DeleteDocument removes a document row; chunk rows go with it.
	// Deleting a missing document is a no-op, so compensation can run after
	// a failure at any point of the insert sequence.
	DeleteDocument(ctx context.Context, docID int64) error

	// FindExisting returns, for the given content keys, those already
	// present in the bot's partition mapped to their document IDs.
	// One round trip regardless of batch size.
	FindExisting(ctx context.Context, botID string, contentKeys []string) (map[string]int64, error)

	// GetChunks fetches chunk text and owning content key for the given
	// refs, batched. Refs whose rows are gone are silently omitted.
	GetChunks(ctx context.Context, refs []ChunkRef) (map[ChunkRef]*core.SearchResult, error)

	// CountChunks returns the number of chunk rows in the bot's partition.
	CountChunks(ctx context.Context, botID string) (int, error)

	// ListChunks returns the chunk rows for up to limit documents in the
	// bot's partition with document ID greater than afterDoc, grouped per
	// document in ascending document ID order. An empty slice means the
	// scan has reached the end.
	ListChunks(ctx context.Context, botID string, afterDoc int64, limit int) ([]*DocumentChunks, error)

	// Close releases the connection pool.
	Close() error
}

// VectorStore holds chunk embeddings, physically partitioned per bot.
type VectorStore interface {
	// EnsurePartition creates the partition's table and index if they don't
	// exist. Idempotent; safe to call concurrently and on every write path,
	// which lets a partition missing from one store self-heal.
	EnsurePartition(ctx context.Context, partitionName string) error

	// InsertChunks writes one embedding row per chunk, all tagged with the
	// owning document ID. Row keys are derived from the partition, document
	// ID and chunk index, so a replayed insert overwrites rather than
	// duplicates.
	InsertChunks(ctx context.Context, partitionName string, docID int64, chunks []core.Chunk, vectors [][]float32) error

	// DeleteByDocument removes every row tagged with the document ID.
	// A document with no rows is a no-op.
	DeleteByDocument(ctx context.Context, partitionName string, docID int64) error

	// FindSimilar returns up to limit chunks in the partition with cosine
	// similarity >= minScore against the query vector, best first.
	FindSimilar(ctx context.Context, partitionName string, vector []float32, minScore float32, limit int) ([]*core.SimilarityMatch, error)

	// Close releases the connection pool.
	Close() error
}
