package core

import (
	"encoding/binary"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier derived from content.
// It is used for deterministic vector-row keys so that replaying an
// insert after a crash overwrites instead of duplicating.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// JobStatus identifies where a job is in its lifecycle.
// Transitions are monotonic: pending -> processing -> {completed, failed},
// with cancelled reachable from pending or processing.
type JobStatus int

const (
	// JobStatusPending means the job has been created but not claimed by a worker.
	JobStatusPending JobStatus = iota + 1
	// JobStatusProcessing means a worker has claimed the job and is driving its documents.
	JobStatusProcessing
	// JobStatusCompleted means every document has a terminal result, successful or not.
	JobStatusCompleted
	// JobStatusFailed means a job-scoped systemic fault aborted processing.
	JobStatusFailed
	// JobStatusCancelled means cancellation took effect before all documents ran.
	JobStatusCancelled
)

// String returns the lowercase name used in logs and CLI output.
func (s JobStatus) String() string {
	switch s {
	case JobStatusPending:
		return "pending"
	case JobStatusProcessing:
		return "processing"
	case JobStatusCompleted:
		return "completed"
	case JobStatusFailed:
		return "failed"
	case JobStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// RetentionClass determines how long a job record is kept before expiry.
type RetentionClass int

const (
	// RetentionLive applies to pending and processing jobs. The retention
	// window restarts on every progress write, so an actively processed job
	// never expires under a worker.
	RetentionLive RetentionClass = iota + 1
	// RetentionCompleted applies to completed jobs.
	RetentionCompleted
	// RetentionFailed applies to failed and cancelled jobs, which are kept
	// longer for inspection.
	RetentionFailed
)

// Job is one batch-insert request and its accumulated outcome state.
// DocumentCount is fixed at creation and never mutated.
type Job struct {
	Id              string
	BotId           string
	Status          JobStatus
	DocumentCount   int
	CancelRequested bool
	Error           string // terminal error summary, empty unless failed
	CreatedAt       time.Time
	StartedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     time.Time
}

// RetentionClass returns the expiry class implied by the job's status.
func (j *Job) RetentionClass() RetentionClass {
	switch j.Status {
	case JobStatusCompleted:
		return RetentionCompleted
	case JobStatusFailed, JobStatusCancelled:
		return RetentionFailed
	default:
		return RetentionLive
	}
}

// DocumentResult is the terminal outcome of one submitted document.
// A job holds at most one result per ContentKey; the rows are appended,
// never rewritten.
type DocumentResult struct {
	ContentKey string
	DocId      int64 // assigned by the metadata store, 0 on failure
	Success    bool
	Error      string
	ChunkCount int
}

// Chunk is one pre-split piece of a document's text, as supplied by the caller.
type Chunk struct {
	Index int
	Text  string
}

// Document is a candidate document submitted in a batch. ContentKey is the
// caller-supplied unique identifier (a URL or title) used for duplicate
// detection within the bot's partition.
type Document struct {
	ContentKey string
	Metadata   map[string]string
	Chunks     []Chunk
}

// ChunkTexts returns the chunk texts in index order as submitted.
func (d *Document) ChunkTexts() []string {
	texts := make([]string, len(d.Chunks))
	for i, c := range d.Chunks {
		texts[i] = c.Text
	}
	return texts
}

// PartitionMapping binds a bot to its physical partition in both stores.
// PartitionName is unique and immutable once created.
type PartitionMapping struct {
	BotId         string
	PartitionName string
	CreatedAt     time.Time
}

// Progress is derived from a job's result rows; it is never stored separately.
type Progress struct {
	Processed int
	Succeeded int
	Failed    int
	Total     int
}

// ProgressFromResults computes progress over the durably recorded results.
func ProgressFromResults(results []*DocumentResult, total int) Progress {
	p := Progress{Processed: len(results), Total: total}
	for _, r := range results {
		if r.Success {
			p.Succeeded++
		} else {
			p.Failed++
		}
	}
	return p
}

// Percentage returns completion as a value in [0, 100].
func (p Progress) Percentage() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Processed) / float64(p.Total) * 100
}

// SimilarityMatch is a vector-store hit: the document row it belongs to and
// the similarity score of the matching chunk.
type SimilarityMatch struct {
	DocId      int64
	ChunkIndex int
	Score      float32
}

// SearchResult pairs a matched chunk's text and document metadata with its score.
type SearchResult struct {
	DocId      int64
	ContentKey string
	ChunkIndex int
	Text       string
	Score      float32
}
