package badger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docflow/core"
	"github.com/poiesic/docflow/storage"
)

func newTestJob(botID string, docs int) *core.Job {
	return &core.Job{
		Id:            uuid.NewString(),
		BotId:         botID,
		DocumentCount: docs,
	}
}

func TestJobStore_CreateAndGet(t *testing.T) {
	store, err := NewMemoryJobStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	job := newTestJob("bot-1", 4)

	require.NoError(t, store.CreateJob(ctx, job, nil))

	got, err := store.GetJob(ctx, job.Id)
	require.NoError(t, err)
	assert.Equal(t, job.Id, got.Id)
	assert.Equal(t, "bot-1", got.BotId)
	assert.Equal(t, core.JobStatusPending, got.Status)
	assert.Equal(t, 4, got.DocumentCount)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestJobStore_CreateDuplicate(t *testing.T) {
	store, err := NewMemoryJobStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	job := newTestJob("bot-1", 1)

	require.NoError(t, store.CreateJob(ctx, job, nil))
	err = store.CreateJob(ctx, job, nil)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestJobStore_GetMissing(t *testing.T) {
	store, err := NewMemoryJobStore()
	require.NoError(t, err)
	defer store.Close()

	_, err = store.GetJob(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestJobStore_Claim(t *testing.T) {
	store, err := NewMemoryJobStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	job := newTestJob("bot-1", 2)
	require.NoError(t, store.CreateJob(ctx, job, nil))

	claimed, err := store.ClaimJob(ctx, job.Id, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusProcessing, claimed.Status)
	assert.False(t, claimed.StartedAt.IsZero())

	// A second claim must be refused while the first is fresh.
	_, err = store.ClaimJob(ctx, job.Id, time.Minute)
	assert.ErrorIs(t, err, storage.ErrNotClaimable)
}

func TestJobStore_ClaimStale(t *testing.T) {
	store, err := NewMemoryJobStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	job := newTestJob("bot-1", 2)
	require.NoError(t, store.CreateJob(ctx, job, nil))

	_, err = store.ClaimJob(ctx, job.Id, time.Minute)
	require.NoError(t, err)

	// With a zero staleness window any heartbeat counts as stale, which
	// models a worker that crashed after claiming.
	time.Sleep(5 * time.Millisecond)
	reclaimed, err := store.ClaimJob(ctx, job.Id, 0)
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusProcessing, reclaimed.Status)
}

func TestJobStore_ClaimTerminal(t *testing.T) {
	store, err := NewMemoryJobStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	job := newTestJob("bot-1", 0)
	require.NoError(t, store.CreateJob(ctx, job, nil))
	_, err = store.ClaimJob(ctx, job.Id, time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.SetJobStatus(ctx, job.Id, core.JobStatusCompleted, ""))

	_, err = store.ClaimJob(ctx, job.Id, 0)
	assert.ErrorIs(t, err, storage.ErrNotClaimable)
}

func TestJobStore_StatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		drive   []core.JobStatus // applied before the attempt
		to      core.JobStatus
		wantErr error
	}{
		{"pending to processing", nil, core.JobStatusProcessing, nil},
		{"pending to cancelled", nil, core.JobStatusCancelled, nil},
		{"pending to completed", nil, core.JobStatusCompleted, storage.ErrInvalidTransition},
		{"processing to completed", []core.JobStatus{core.JobStatusProcessing}, core.JobStatusCompleted, nil},
		{"processing to failed", []core.JobStatus{core.JobStatusProcessing}, core.JobStatusFailed, nil},
		{"processing to cancelled", []core.JobStatus{core.JobStatusProcessing}, core.JobStatusCancelled, nil},
		{"completed to failed", []core.JobStatus{core.JobStatusProcessing, core.JobStatusCompleted}, core.JobStatusFailed, storage.ErrInvalidTransition},
		{"failed to processing", []core.JobStatus{core.JobStatusProcessing, core.JobStatusFailed}, core.JobStatusProcessing, storage.ErrInvalidTransition},
		{"same status is a no-op", []core.JobStatus{core.JobStatusProcessing}, core.JobStatusProcessing, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewMemoryJobStore()
			require.NoError(t, err)
			defer store.Close()

			ctx := context.Background()
			job := newTestJob("bot-1", 1)
			require.NoError(t, store.CreateJob(ctx, job, nil))
			for _, s := range tt.drive {
				require.NoError(t, store.SetJobStatus(ctx, job.Id, s, ""))
			}

			err = store.SetJobStatus(ctx, job.Id, tt.to, "boom")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestJobStore_FailedKeepsError(t *testing.T) {
	store, err := NewMemoryJobStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	job := newTestJob("bot-1", 1)
	require.NoError(t, store.CreateJob(ctx, job, nil))
	require.NoError(t, store.SetJobStatus(ctx, job.Id, core.JobStatusProcessing, ""))
	require.NoError(t, store.SetJobStatus(ctx, job.Id, core.JobStatusFailed, "metadata store unreachable"))

	got, err := store.GetJob(ctx, job.Id)
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusFailed, got.Status)
	assert.Equal(t, "metadata store unreachable", got.Error)
	assert.False(t, got.CompletedAt.IsZero())
}

func TestJobStore_RequestCancel(t *testing.T) {
	t.Run("pending job cancels immediately", func(t *testing.T) {
		store, err := NewMemoryJobStore()
		require.NoError(t, err)
		defer store.Close()

		ctx := context.Background()
		job := newTestJob("bot-1", 3)
		require.NoError(t, store.CreateJob(ctx, job, nil))

		updated, err := store.RequestCancel(ctx, job.Id)
		require.NoError(t, err)
		assert.Equal(t, core.JobStatusCancelled, updated.Status)
		assert.True(t, updated.CancelRequested)
	})

	t.Run("pending cancel fills every result slot", func(t *testing.T) {
		store, err := NewMemoryJobStore()
		require.NoError(t, err)
		defer store.Close()

		ctx := context.Background()
		docs := []*core.Document{
			{ContentKey: "doc-a", Chunks: []core.Chunk{{Index: 0, Text: "alpha"}}},
			{ContentKey: "doc-b", Chunks: []core.Chunk{{Index: 0, Text: "beta"}}},
		}
		job := newTestJob("bot-1", len(docs))
		require.NoError(t, store.CreateJob(ctx, job, docs))

		_, err = store.RequestCancel(ctx, job.Id)
		require.NoError(t, err)

		results, err := store.GetResults(ctx, job.Id)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "doc-a", results[0].ContentKey)
		assert.False(t, results[0].Success)
		assert.Equal(t, "cancelled", results[1].Error)
	})

	t.Run("processing job only gets the flag", func(t *testing.T) {
		store, err := NewMemoryJobStore()
		require.NoError(t, err)
		defer store.Close()

		ctx := context.Background()
		job := newTestJob("bot-1", 3)
		require.NoError(t, store.CreateJob(ctx, job, nil))
		_, err = store.ClaimJob(ctx, job.Id, time.Minute)
		require.NoError(t, err)

		updated, err := store.RequestCancel(ctx, job.Id)
		require.NoError(t, err)
		assert.Equal(t, core.JobStatusProcessing, updated.Status)
		assert.True(t, updated.CancelRequested)
	})

	t.Run("terminal job is untouched", func(t *testing.T) {
		store, err := NewMemoryJobStore()
		require.NoError(t, err)
		defer store.Close()

		ctx := context.Background()
		job := newTestJob("bot-1", 0)
		require.NoError(t, store.CreateJob(ctx, job, nil))
		require.NoError(t, store.SetJobStatus(ctx, job.Id, core.JobStatusProcessing, ""))
		require.NoError(t, store.SetJobStatus(ctx, job.Id, core.JobStatusCompleted, ""))

		updated, err := store.RequestCancel(ctx, job.Id)
		require.NoError(t, err)
		assert.Equal(t, core.JobStatusCompleted, updated.Status)
		assert.False(t, updated.CancelRequested)
	})
}

func TestJobStore_RecordResult(t *testing.T) {
	store, err := NewMemoryJobStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	job := newTestJob("bot-1", 3)
	require.NoError(t, store.CreateJob(ctx, job, nil))

	require.NoError(t, store.RecordResult(ctx, job.Id, 0, &core.DocumentResult{
		ContentKey: "doc-a",
		DocId:      11,
		Success:    true,
		ChunkCount: 2,
	}))
	require.NoError(t, store.RecordResult(ctx, job.Id, 1, &core.DocumentResult{
		ContentKey: "doc-b",
		Success:    false,
		Error:      "embed failed",
	}))

	results, err := store.GetResults(ctx, job.Id)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "doc-a", results[0].ContentKey)
	assert.True(t, results[0].Success)
	assert.Equal(t, "doc-b", results[1].ContentKey)
	assert.Equal(t, "embed failed", results[1].Error)
}

func TestJobStore_RecordResultIdempotent(t *testing.T) {
	store, err := NewMemoryJobStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	job := newTestJob("bot-1", 1)
	require.NoError(t, store.CreateJob(ctx, job, nil))

	first := &core.DocumentResult{ContentKey: "doc-a", DocId: 7, Success: true, ChunkCount: 1}
	require.NoError(t, store.RecordResult(ctx, job.Id, 0, first))

	// A replay of the same document after a restart must keep the first
	// outcome and must not add a second row.
	replay := &core.DocumentResult{ContentKey: "doc-a", Success: false, Error: "replayed"}
	require.NoError(t, store.RecordResult(ctx, job.Id, 0, replay))

	results, err := store.GetResults(ctx, job.Id)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, int64(7), results[0].DocId)
}

func TestJobStore_RecordResultTouchesHeartbeat(t *testing.T) {
	store, err := NewMemoryJobStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	job := newTestJob("bot-1", 2)
	require.NoError(t, store.CreateJob(ctx, job, nil))
	claimed, err := store.ClaimJob(ctx, job.Id, time.Minute)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, store.RecordResult(ctx, job.Id, 0, &core.DocumentResult{
		ContentKey: "doc-a", Success: true, DocId: 1, ChunkCount: 1,
	}))

	got, err := store.GetJob(ctx, job.Id)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.After(claimed.UpdatedAt))
}

func TestJobStore_GetResultsEmpty(t *testing.T) {
	store, err := NewMemoryJobStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	job := newTestJob("bot-1", 2)
	require.NoError(t, store.CreateJob(ctx, job, nil))

	results, err := store.GetResults(ctx, job.Id)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestJobStore_ListActive(t *testing.T) {
	store, err := NewMemoryJobStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	pending := newTestJob("bot-1", 1)
	require.NoError(t, store.CreateJob(ctx, pending, nil))

	processing := newTestJob("bot-2", 1)
	require.NoError(t, store.CreateJob(ctx, processing, nil))
	_, err = store.ClaimJob(ctx, processing.Id, time.Minute)
	require.NoError(t, err)

	done := newTestJob("bot-3", 0)
	require.NoError(t, store.CreateJob(ctx, done, nil))
	require.NoError(t, store.SetJobStatus(ctx, done.Id, core.JobStatusProcessing, ""))
	require.NoError(t, store.SetJobStatus(ctx, done.Id, core.JobStatusCompleted, ""))

	active, err := store.ListActive(ctx)
	require.NoError(t, err)

	ids := make(map[string]core.JobStatus, len(active))
	for _, j := range active {
		ids[j.Id] = j.Status
	}
	assert.Len(t, ids, 2)
	assert.Equal(t, core.JobStatusPending, ids[pending.Id])
	assert.Equal(t, core.JobStatusProcessing, ids[processing.Id])
	assert.NotContains(t, ids, done.Id)
}

func TestJobStore_DeleteJob(t *testing.T) {
	store, err := NewMemoryJobStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	docs := []*core.Document{
		{ContentKey: "doc-a", Chunks: []core.Chunk{{Index: 0, Text: "alpha"}}},
		{ContentKey: "doc-b", Chunks: []core.Chunk{{Index: 0, Text: "beta"}}},
	}
	job := newTestJob("bot-1", len(docs))
	require.NoError(t, store.CreateJob(ctx, job, docs))
	require.NoError(t, store.RecordResult(ctx, job.Id, 0, &core.DocumentResult{
		ContentKey: "doc-a", Success: true, DocId: 1, ChunkCount: 1,
	}))

	require.NoError(t, store.DeleteJob(ctx, job.Id))

	_, err = store.GetJob(ctx, job.Id)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	results, err := store.GetResults(ctx, job.Id)
	require.NoError(t, err)
	assert.Empty(t, results)

	payloads, err := store.GetDocuments(ctx, job.Id)
	require.NoError(t, err)
	assert.Empty(t, payloads)

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	for _, j := range active {
		assert.NotEqual(t, job.Id, j.Id)
	}

	// Missing job is a no-op.
	assert.NoError(t, store.DeleteJob(ctx, job.Id))
}

func TestJobStore_DocumentPayloads(t *testing.T) {
	store, err := NewMemoryJobStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	docs := []*core.Document{
		{ContentKey: "doc-a", Chunks: []core.Chunk{{Index: 0, Text: "alpha"}}},
		{ContentKey: "doc-b", Metadata: map[string]string{"source": "upload"}, Chunks: []core.Chunk{{Index: 0, Text: "beta"}, {Index: 1, Text: "gamma"}}},
		{ContentKey: "doc-c", Chunks: []core.Chunk{{Index: 0, Text: "delta"}}},
	}
	job := newTestJob("bot-1", len(docs))
	require.NoError(t, store.CreateJob(ctx, job, docs))

	got, err := store.GetDocuments(ctx, job.Id)
	require.NoError(t, err)
	require.Len(t, got, 3)
	// Submission order must survive the round trip; resume depends on it.
	assert.Equal(t, "doc-a", got[0].ContentKey)
	assert.Equal(t, "doc-b", got[1].ContentKey)
	assert.Equal(t, "doc-c", got[2].ContentKey)
	assert.Equal(t, map[string]string{"source": "upload"}, got[1].Metadata)
	require.Len(t, got[1].Chunks, 2)
	assert.Equal(t, "gamma", got[1].Chunks[1].Text)
}

func TestJobStore_DocumentPayloadsRemovedWhenTerminal(t *testing.T) {
	store, err := NewMemoryJobStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	docs := []*core.Document{
		{ContentKey: "doc-a", Chunks: []core.Chunk{{Index: 0, Text: "alpha"}}},
	}
	job := newTestJob("bot-1", 1)
	require.NoError(t, store.CreateJob(ctx, job, docs))
	require.NoError(t, store.SetJobStatus(ctx, job.Id, core.JobStatusProcessing, ""))
	require.NoError(t, store.SetJobStatus(ctx, job.Id, core.JobStatusCompleted, ""))

	got, err := store.GetDocuments(ctx, job.Id)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestJobStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	backend, err := OpenBackend(dir, false)
	require.NoError(t, err)
	store, err := NewJobStore(backend)
	require.NoError(t, err)

	ctx := context.Background()
	job := newTestJob("bot-1", 2)
	require.NoError(t, store.CreateJob(ctx, job, nil))
	_, err = store.ClaimJob(ctx, job.Id, time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.RecordResult(ctx, job.Id, 0, &core.DocumentResult{
		ContentKey: "doc-a", Success: true, DocId: 3, ChunkCount: 1,
	}))
	require.NoError(t, store.Close())

	// Reopen the same directory, as a restarted process would.
	backend, err = OpenBackend(dir, false)
	require.NoError(t, err)
	store, err = NewJobStore(backend)
	require.NoError(t, err)
	defer store.Close()

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, job.Id, active[0].Id)
	assert.Equal(t, core.JobStatusProcessing, active[0].Status)

	results, err := store.GetResults(ctx, job.Id)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-a", results[0].ContentKey)
}
