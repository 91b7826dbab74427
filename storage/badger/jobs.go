package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docflow/core"
	"github.com/poiesic/docflow/storage"
)

// Default retention windows per class. Live jobs refresh their window on
// every heartbeat write, so an actively processed job never expires.
const (
	defaultLiveTTL      = 1 * time.Hour
	defaultCompletedTTL = 24 * time.Hour
	defaultFailedTTL    = 72 * time.Hour
)

// JobStore implements storage.JobStore for BadgerDB.
// Job records, their result rows and the active-job index all carry entry
// TTLs chosen by the job's retention class, so expiry needs no sweeper.
type JobStore struct {
	backend      *Backend
	liveTTL      time.Duration
	completedTTL time.Duration
	failedTTL    time.Duration
}

var _ storage.JobStore = (*JobStore)(nil)

// JobStoreOption configures a JobStore.
type JobStoreOption func(*JobStore)

// WithLiveTTL sets the retention window for pending and processing jobs.
func WithLiveTTL(d time.Duration) JobStoreOption {
	return func(s *JobStore) {
		s.liveTTL = d
	}
}

// WithCompletedTTL sets the retention window for completed jobs.
func WithCompletedTTL(d time.Duration) JobStoreOption {
	return func(s *JobStore) {
		s.completedTTL = d
	}
}

// WithFailedTTL sets the retention window for failed and cancelled jobs.
func WithFailedTTL(d time.Duration) JobStoreOption {
	return func(s *JobStore) {
		s.failedTTL = d
	}
}

// NewJobStore creates a JobStore on the given backend.
func NewJobStore(backend *Backend, opts ...JobStoreOption) (*JobStore, error) {
	store := &JobStore{
		backend:      backend,
		liveTTL:      defaultLiveTTL,
		completedTTL: defaultCompletedTTL,
		failedTTL:    defaultFailedTTL,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Close closes the underlying backend.
func (r *JobStore) Close() error {
	return r.backend.Close()
}

func (r *JobStore) ttlFor(class core.RetentionClass) time.Duration {
	switch class {
	case core.RetentionCompleted:
		return r.completedTTL
	case core.RetentionFailed:
		return r.failedTTL
	default:
		return r.liveTTL
	}
}

// writeJob stores the job record and maintains the active-job index,
// both keyed to the retention class TTL.
func (r *JobStore) writeJob(tx *badger.Txn, job *core.Job) error {
	ttl := r.ttlFor(job.RetentionClass())
	entry := badger.NewEntry(makeJobKey(job.Id), storage.MarshalJob(job)).WithTTL(ttl)
	if err := tx.SetEntry(entry); err != nil {
		return err
	}

	activeKey := makeActiveKey(job.Id)
	if job.Status.Terminal() {
		return tx.Delete(activeKey)
	}
	marker := badger.NewEntry(activeKey, nil).WithTTL(ttl)
	return tx.SetEntry(marker)
}

// readJob fetches and unmarshals a job record.
func (r *JobStore) readJob(tx *badger.Txn, id string) (*core.Job, error) {
	item, err := tx.Get(makeJobKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	var job *core.Job
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		job, unmarshalErr = storage.UnmarshalJob(val)
		return unmarshalErr
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// CreateJob persists a new job in pending status together with its document
// payloads. The payloads let a restarted process resume the job without the
// original submission request; they are removed once the job is terminal.
func (r *JobStore) CreateJob(ctx context.Context, job *core.Job, docs []*core.Document) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeJobKey(job.Id)
		if _, err := tx.Get(key); err == nil {
			return storage.ErrDuplicateKey
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		now := time.Now().UTC()
		job.Status = core.JobStatusPending
		job.CreatedAt = now
		job.UpdatedAt = now

		if err := r.writeJob(tx, job); err != nil {
			return err
		}

		// Payloads get the longest window so they outlive any live job
		// that is still refreshing its heartbeat.
		for i, doc := range docs {
			entry := badger.NewEntry(makeDocumentKey(job.Id, i), storage.MarshalDocument(doc)).WithTTL(r.failedTTL)
			if err := tx.SetEntry(entry); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// GetDocuments returns the job's document payloads in submission order.
func (r *JobStore) GetDocuments(ctx context.Context, jobID string) ([]*core.Document, error) {
	docs := []*core.Document{}

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeDocumentScanPrefix(jobID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			err := iter.Item().Value(func(val []byte) error {
				doc, unmarshalErr := storage.UnmarshalDocument(val)
				if unmarshalErr != nil {
					return unmarshalErr
				}
				docs = append(docs, doc)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// GetJob retrieves a job by ID.
func (r *JobStore) GetJob(ctx context.Context, id string) (*core.Job, error) {
	var job *core.Job
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var readErr error
		job, readErr = r.readJob(tx, id)
		return readErr
	}, false)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ClaimJob atomically transitions a job to processing.
// A processing job whose heartbeat is older than staleAfter is treated as
// orphaned by a crashed worker and may be re-claimed.
func (r *JobStore) ClaimJob(ctx context.Context, id string, staleAfter time.Duration) (*core.Job, error) {
	var claimed *core.Job
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		job, err := r.readJob(tx, id)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		switch {
		case job.Status == core.JobStatusPending:
			job.StartedAt = now
		case job.Status == core.JobStatusProcessing && now.Sub(job.UpdatedAt) > staleAfter:
			// orphaned claim, take it over
		default:
			return storage.ErrNotClaimable
		}

		job.Status = core.JobStatusProcessing
		job.UpdatedAt = now

		if err := r.writeJob(tx, job); err != nil {
			return err
		}
		claimed = job
		return tx.Commit()
	}, true)
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// canTransition encodes the job lifecycle state machine.
func canTransition(from, to core.JobStatus) bool {
	switch from {
	case core.JobStatusPending:
		return to == core.JobStatusProcessing || to == core.JobStatusCancelled || to == core.JobStatusFailed
	case core.JobStatusProcessing:
		return to == core.JobStatusCompleted || to == core.JobStatusFailed || to == core.JobStatusCancelled
	default:
		return false
	}
}

// SetJobStatus transitions a job through its lifecycle.
func (r *JobStore) SetJobStatus(ctx context.Context, id string, status core.JobStatus, errMsg string) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		job, err := r.readJob(tx, id)
		if err != nil {
			return err
		}

		if job.Status == status {
			return nil
		}
		if !canTransition(job.Status, status) {
			return storage.ErrInvalidTransition
		}

		now := time.Now().UTC()
		job.Status = status
		job.UpdatedAt = now
		switch {
		case status == core.JobStatusProcessing:
			job.StartedAt = now
		case status.Terminal():
			job.CompletedAt = now
		}
		if status == core.JobStatusFailed {
			job.Error = errMsg
		}

		if err := r.writeJob(tx, job); err != nil {
			return err
		}

		// Result rows follow the job's retention class; payloads are no
		// longer needed once no resume can happen.
		if status.Terminal() {
			if err := r.rekeyResults(tx, job); err != nil {
				return err
			}
			if err := r.deleteDocuments(tx, job.Id); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// rekeyResults rewrites a job's result entries with the TTL of its
// current retention class.
func (r *JobStore) rekeyResults(tx *badger.Txn, job *core.Job) error {
	ttl := r.ttlFor(job.RetentionClass())

	opts := badger.DefaultIteratorOptions
	opts.Prefix = makeResultScanPrefix(job.Id)
	iter := tx.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		item := iter.Item()
		key := item.KeyCopy(nil)
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := tx.SetEntry(badger.NewEntry(key, val).WithTTL(ttl)); err != nil {
			return err
		}
	}
	return nil
}

// deleteDocuments removes a job's document payloads.
func (r *JobStore) deleteDocuments(tx *badger.Txn, jobID string) error {
	return deleteByPrefix(tx, makeDocumentScanPrefix(jobID))
}

func deleteByPrefix(tx *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var keys [][]byte
	for iter.Rewind(); iter.Valid(); iter.Next() {
		keys = append(keys, iter.Item().KeyCopy(nil))
	}
	for _, key := range keys {
		if err := tx.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// DeleteJob removes the job record together with its document payloads and
// result rows. Retention normally expires records on its own; this is the
// manual override. Deleting a missing job is a no-op.
func (r *JobStore) DeleteJob(ctx context.Context, id string) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Delete(makeJobKey(id)); err != nil {
			return err
		}
		if err := tx.Delete(makeActiveKey(id)); err != nil {
			return err
		}
		if err := r.deleteDocuments(tx, id); err != nil {
			return err
		}
		if err := deleteByPrefix(tx, makeResultScanPrefix(id)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// RequestCancel marks a job for cancellation.
func (r *JobStore) RequestCancel(ctx context.Context, id string) (*core.Job, error) {
	var updated *core.Job
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		job, err := r.readJob(tx, id)
		if err != nil {
			return err
		}

		if job.Status.Terminal() {
			updated = job
			return nil
		}

		now := time.Now().UTC()
		job.CancelRequested = true
		job.UpdatedAt = now
		if job.Status == core.JobStatusPending {
			// Never claimed, nothing to wait for. Every document slot still
			// needs an outcome row so the result tally stays complete.
			job.Status = core.JobStatusCancelled
			job.CompletedAt = now
			if err := r.markRemainingCancelled(tx, job); err != nil {
				return err
			}
			if err := r.deleteDocuments(tx, job.Id); err != nil {
				return err
			}
		}

		if err := r.writeJob(tx, job); err != nil {
			return err
		}
		updated = job
		return tx.Commit()
	}, true)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// markRemainingCancelled writes a cancelled outcome for every document
// slot that has none yet. The job must already carry its terminal status
// so the rows land with the right retention.
func (r *JobStore) markRemainingCancelled(tx *badger.Txn, job *core.Job) error {
	ttl := r.ttlFor(job.RetentionClass())

	opts := badger.DefaultIteratorOptions
	opts.Prefix = makeDocumentScanPrefix(job.Id)
	iter := tx.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		index := indexFromKey(iter.Item().Key())
		resultKey := makeResultKey(job.Id, index)
		if _, err := tx.Get(resultKey); err == nil {
			continue
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		var contentKey string
		err := iter.Item().Value(func(val []byte) error {
			doc, unmarshalErr := storage.UnmarshalDocument(val)
			if unmarshalErr != nil {
				return unmarshalErr
			}
			contentKey = doc.ContentKey
			return nil
		})
		if err != nil {
			return err
		}

		result := &core.DocumentResult{
			ContentKey: contentKey,
			Success:    false,
			Error:      core.ErrCancelled.Error(),
		}
		entry := badger.NewEntry(resultKey, storage.MarshalDocumentResult(result)).WithTTL(ttl)
		if err := tx.SetEntry(entry); err != nil {
			return err
		}
	}
	return nil
}

// RecordResult durably appends the result for one document slot and
// touches the job's heartbeat.
func (r *JobStore) RecordResult(ctx context.Context, jobID string, index int, result *core.DocumentResult) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		job, err := r.readJob(tx, jobID)
		if err != nil {
			return err
		}

		key := makeResultKey(jobID, index)
		if _, err := tx.Get(key); err == nil {
			// Already recorded; a replay after restart must not double-count.
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		ttl := r.ttlFor(job.RetentionClass())
		entry := badger.NewEntry(key, storage.MarshalDocumentResult(result)).WithTTL(ttl)
		if err := tx.SetEntry(entry); err != nil {
			return err
		}

		job.UpdatedAt = time.Now().UTC()
		if err := r.writeJob(tx, job); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetResults returns the recorded results for a job keyed by document
// index. Slots not yet resolved are absent from the map.
func (r *JobStore) GetResults(ctx context.Context, jobID string) (map[int]*core.DocumentResult, error) {
	results := map[int]*core.DocumentResult{}

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeResultScanPrefix(jobID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			index := indexFromKey(iter.Item().Key())
			err := iter.Item().Value(func(val []byte) error {
				result, unmarshalErr := storage.UnmarshalDocumentResult(val)
				if unmarshalErr != nil {
					return unmarshalErr
				}
				results[index] = result
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ListActive returns all pending and processing jobs via the active-job
// index. Markers whose jobs have expired are cleaned up on the way.
func (r *JobStore) ListActive(ctx context.Context) ([]*core.Job, error) {
	var jobs []*core.Job

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		// Reset on entry: a conflict retry re-runs this whole function.
		jobs = nil

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(jobActivePrefix + ":")
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		var stale [][]byte
		for iter.Rewind(); iter.Valid(); iter.Next() {
			key := iter.Item().KeyCopy(nil)
			job, err := r.readJob(tx, jobIDFromActiveKey(key))
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					stale = append(stale, key)
					continue
				}
				return err
			}
			if job.Status.Terminal() {
				stale = append(stale, key)
				continue
			}
			jobs = append(jobs, job)
		}

		for _, key := range stale {
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		if len(stale) > 0 {
			return tx.Commit()
		}
		return nil
	}, true)
	if err != nil {
		return nil, err
	}
	return jobs, nil
}
