package partition

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docflow/core"
	"github.com/poiesic/docflow/storage"
)

type fakeDocumentStore struct {
	mu         sync.Mutex
	mappings   map[string]*core.PartitionMapping
	registers  int
	lookups    int
	failLookup error
}

func newFakeDocumentStore() *fakeDocumentStore {
	return &fakeDocumentStore{mappings: make(map[string]*core.PartitionMapping)}
}

func (f *fakeDocumentStore) RegisterBot(ctx context.Context, botID string) (*core.PartitionMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registers++
	if existing, ok := f.mappings[botID]; ok {
		return existing, nil
	}
	mapping := &core.PartitionMapping{
		BotId:         botID,
		PartitionName: "bot_" + botID,
		CreatedAt:     time.Now(),
	}
	f.mappings[botID] = mapping
	return mapping, nil
}

func (f *fakeDocumentStore) GetPartition(ctx context.Context, botID string) (*core.PartitionMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.failLookup != nil {
		return nil, f.failLookup
	}
	mapping, ok := f.mappings[botID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return mapping, nil
}

func (f *fakeDocumentStore) InsertDocument(ctx context.Context, botID string, doc *core.Document) (int64, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeDocumentStore) DeleteDocument(ctx context.Context, docID int64) error {
	return nil
}

func (f *fakeDocumentStore) FindExisting(ctx context.Context, botID string, contentKeys []string) (map[string]int64, error) {
	return nil, nil
}

func (f *fakeDocumentStore) GetChunks(ctx context.Context, refs []storage.ChunkRef) (map[storage.ChunkRef]*core.SearchResult, error) {
	return nil, nil
}

func (f *fakeDocumentStore) CountChunks(ctx context.Context, botID string) (int, error) {
	return 0, nil
}

func (f *fakeDocumentStore) ListChunks(ctx context.Context, botID string, afterDoc int64, limit int) ([]*storage.DocumentChunks, error) {
	return nil, nil
}

func (f *fakeDocumentStore) Close() error { return nil }

type fakeVectorStore struct {
	mu         sync.Mutex
	ensured    map[string]int
	failEnsure error
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{ensured: make(map[string]int)}
}

func (f *fakeVectorStore) EnsurePartition(ctx context.Context, partition string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEnsure != nil {
		return f.failEnsure
	}
	f.ensured[partition]++
	return nil
}

func (f *fakeVectorStore) InsertChunks(ctx context.Context, partition string, docID int64, chunks []core.Chunk, vectors [][]float32) error {
	return nil
}

func (f *fakeVectorStore) DeleteByDocument(ctx context.Context, partition string, docID int64) error {
	return nil
}

func (f *fakeVectorStore) FindSimilar(ctx context.Context, partition string, vector []float32, minScore float32, limit int) ([]*core.SimilarityMatch, error) {
	return nil, nil
}

func (f *fakeVectorStore) Close() error { return nil }

func TestResolver_EnsureCreatesBothSides(t *testing.T) {
	docs := newFakeDocumentStore()
	vectors := newFakeVectorStore()
	resolver := NewResolver(docs, vectors)

	mapping, err := resolver.Ensure(context.Background(), "bot-1")
	require.NoError(t, err)
	assert.Equal(t, "bot-1", mapping.BotId)
	assert.Equal(t, "bot_bot-1", mapping.PartitionName)
	assert.Equal(t, 1, vectors.ensured["bot_bot-1"])
}

func TestResolver_EnsureIdempotent(t *testing.T) {
	docs := newFakeDocumentStore()
	vectors := newFakeVectorStore()
	resolver := NewResolver(docs, vectors)

	first, err := resolver.Ensure(context.Background(), "bot-1")
	require.NoError(t, err)
	second, err := resolver.Ensure(context.Background(), "bot-1")
	require.NoError(t, err)

	assert.Equal(t, first.PartitionName, second.PartitionName)
	// Second Ensure hits the cache, registration runs once.
	assert.Equal(t, 1, docs.registers)
}

func TestResolver_EnsureRetriesVectorSide(t *testing.T) {
	docs := newFakeDocumentStore()
	vectors := newFakeVectorStore()
	vectors.failEnsure = errors.New("connection refused")
	resolver := NewResolver(docs, vectors)

	_, err := resolver.Ensure(context.Background(), "bot-1")
	require.Error(t, err)

	// Relational side succeeded; the retry must reuse its mapping and
	// finish the vector side.
	vectors.failEnsure = nil
	mapping, err := resolver.Ensure(context.Background(), "bot-1")
	require.NoError(t, err)
	assert.Equal(t, "bot_bot-1", mapping.PartitionName)
	assert.Equal(t, 1, vectors.ensured["bot_bot-1"])
}

func TestResolver_ResolveUnregistered(t *testing.T) {
	resolver := NewResolver(newFakeDocumentStore(), newFakeVectorStore())

	_, err := resolver.Resolve(context.Background(), "unknown")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestResolver_ResolveCaches(t *testing.T) {
	docs := newFakeDocumentStore()
	vectors := newFakeVectorStore()
	resolver := NewResolver(docs, vectors)

	_, err := resolver.Ensure(context.Background(), "bot-1")
	require.NoError(t, err)

	for range 3 {
		mapping, err := resolver.Resolve(context.Background(), "bot-1")
		require.NoError(t, err)
		assert.Equal(t, "bot_bot-1", mapping.PartitionName)
	}
	assert.Equal(t, 0, docs.lookups)
}

func TestResolver_ConcurrentEnsureConverges(t *testing.T) {
	docs := newFakeDocumentStore()
	vectors := newFakeVectorStore()
	resolver := NewResolver(docs, vectors)

	var wg sync.WaitGroup
	results := make([]*core.PartitionMapping, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mapping, err := resolver.Ensure(context.Background(), "bot-1")
			require.NoError(t, err)
			results[i] = mapping
		}(i)
	}
	wg.Wait()

	for _, mapping := range results {
		assert.Equal(t, "bot_bot-1", mapping.PartitionName)
	}
}
