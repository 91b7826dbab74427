package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docflow/ai/mock"
	"github.com/poiesic/docflow/core"
	"github.com/poiesic/docflow/partition"
	"github.com/poiesic/docflow/storage"
)

type fakeDocumentStore struct {
	registered map[string]*core.PartitionMapping
	chunks     map[storage.ChunkRef]*core.SearchResult
	chunksErr  error
}

func newFakeDocumentStore() *fakeDocumentStore {
	return &fakeDocumentStore{
		registered: make(map[string]*core.PartitionMapping),
		chunks:     make(map[storage.ChunkRef]*core.SearchResult),
	}
}

func (f *fakeDocumentStore) register(botID string) {
	f.registered[botID] = &core.PartitionMapping{
		BotId:         botID,
		PartitionName: "bot_" + botID,
		CreatedAt:     time.Now(),
	}
}

func (f *fakeDocumentStore) addChunk(docID int64, chunkIndex int, contentKey, text string) {
	ref := storage.ChunkRef{DocId: docID, ChunkIndex: chunkIndex}
	f.chunks[ref] = &core.SearchResult{
		DocId:      docID,
		ContentKey: contentKey,
		ChunkIndex: chunkIndex,
		Text:       text,
	}
}

func (f *fakeDocumentStore) RegisterBot(ctx context.Context, botID string) (*core.PartitionMapping, error) {
	f.register(botID)
	return f.registered[botID], nil
}

func (f *fakeDocumentStore) GetPartition(ctx context.Context, botID string) (*core.PartitionMapping, error) {
	mapping, ok := f.registered[botID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return mapping, nil
}

func (f *fakeDocumentStore) InsertDocument(ctx context.Context, botID string, doc *core.Document) (int64, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeDocumentStore) DeleteDocument(ctx context.Context, docID int64) error { return nil }

func (f *fakeDocumentStore) FindExisting(ctx context.Context, botID string, contentKeys []string) (map[string]int64, error) {
	return nil, nil
}

func (f *fakeDocumentStore) GetChunks(ctx context.Context, refs []storage.ChunkRef) (map[storage.ChunkRef]*core.SearchResult, error) {
	if f.chunksErr != nil {
		return nil, f.chunksErr
	}
	found := make(map[storage.ChunkRef]*core.SearchResult)
	for _, ref := range refs {
		if result, ok := f.chunks[ref]; ok {
			copied := *result
			found[ref] = &copied
		}
	}
	return found, nil
}

func (f *fakeDocumentStore) CountChunks(ctx context.Context, botID string) (int, error) {
	return 0, nil
}

func (f *fakeDocumentStore) ListChunks(ctx context.Context, botID string, afterDoc int64, limit int) ([]*storage.DocumentChunks, error) {
	return nil, nil
}

func (f *fakeDocumentStore) Close() error { return nil }

type fakeVectorStore struct {
	matches    []*core.SimilarityMatch
	matchesErr error
}

func (f *fakeVectorStore) EnsurePartition(ctx context.Context, partition string) error { return nil }

func (f *fakeVectorStore) InsertChunks(ctx context.Context, partition string, docID int64, chunks []core.Chunk, vectors [][]float32) error {
	return nil
}

func (f *fakeVectorStore) DeleteByDocument(ctx context.Context, partition string, docID int64) error {
	return nil
}

func (f *fakeVectorStore) FindSimilar(ctx context.Context, partition string, vector []float32, minScore float32, limit int) ([]*core.SimilarityMatch, error) {
	if f.matchesErr != nil {
		return nil, f.matchesErr
	}
	if len(f.matches) > limit {
		return f.matches[:limit], nil
	}
	return f.matches, nil
}

func (f *fakeVectorStore) Close() error { return nil }

func newTestSearcher(t *testing.T, docs *fakeDocumentStore, vectors *fakeVectorStore) *Searcher {
	t.Helper()
	searcher, err := NewSearcher(partition.NewResolver(docs, vectors), docs, vectors, mock.NewMockEmbedder())
	require.NoError(t, err)
	return searcher
}

func TestNewSearcher_RequiresDependencies(t *testing.T) {
	docs := newFakeDocumentStore()
	vectors := &fakeVectorStore{}
	resolver := partition.NewResolver(docs, vectors)
	embedder := mock.NewMockEmbedder()

	_, err := NewSearcher(nil, docs, vectors, embedder)
	assert.ErrorIs(t, err, ErrResolverRequired)
	_, err = NewSearcher(resolver, nil, vectors, embedder)
	assert.ErrorIs(t, err, ErrDocumentStoreRequired)
	_, err = NewSearcher(resolver, docs, nil, embedder)
	assert.ErrorIs(t, err, ErrVectorStoreRequired)
	_, err = NewSearcher(resolver, docs, vectors, nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)
}

func TestSearcher_FindSimilar(t *testing.T) {
	docs := newFakeDocumentStore()
	docs.register("bot-1")
	docs.addChunk(1, 0, "doc-a", "orbital mechanics of binary stars")
	docs.addChunk(2, 3, "doc-b", "galactic rotation curves")

	vectors := &fakeVectorStore{matches: []*core.SimilarityMatch{
		{DocId: 1, ChunkIndex: 0, Score: 0.91},
		{DocId: 2, ChunkIndex: 3, Score: 0.74},
	}}

	searcher := newTestSearcher(t, docs, vectors)
	results, err := searcher.FindSimilar(context.Background(), "bot-1", "supernova remnants", 10)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "doc-a", results[0].ContentKey)
	assert.InDelta(t, 0.91, results[0].Score, 0.001)
	assert.Equal(t, "galactic rotation curves", results[1].Text)
	assert.Equal(t, 3, results[1].ChunkIndex)
}

func TestSearcher_FindSimilarUnregisteredBot(t *testing.T) {
	searcher := newTestSearcher(t, newFakeDocumentStore(), &fakeVectorStore{})

	_, err := searcher.FindSimilar(context.Background(), "nobody", "anything", 5)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSearcher_FindSimilarMissingPartitionIsEmpty(t *testing.T) {
	docs := newFakeDocumentStore()
	docs.register("bot-1")
	vectors := &fakeVectorStore{matchesErr: storage.ErrNotFound}

	searcher := newTestSearcher(t, docs, vectors)
	results, err := searcher.FindSimilar(context.Background(), "bot-1", "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearcher_VerbatimBoostOutranksSimilarity(t *testing.T) {
	docs := newFakeDocumentStore()
	docs.register("bot-1")
	docs.addChunk(1, 0, "doc-a", "a chunk about unrelated topics entirely")
	docs.addChunk(2, 0, "doc-b", "binary stars orbit their common center")

	vectors := &fakeVectorStore{matches: []*core.SimilarityMatch{
		{DocId: 1, ChunkIndex: 0, Score: 0.85},
		{DocId: 2, ChunkIndex: 0, Score: 0.70},
	}}

	searcher := newTestSearcher(t, docs, vectors)
	results, err := searcher.FindSimilar(context.Background(), "bot-1", "binary stars orbit", 10)
	require.NoError(t, err)

	// 0.70 + 0.3 verbatim boost beats 0.85 without one.
	require.Len(t, results, 2)
	assert.Equal(t, "doc-b", results[0].ContentKey)
	assert.InDelta(t, 1.0, results[0].Score, 0.001)
}

func TestSearcher_DroppedChunksAreOmitted(t *testing.T) {
	docs := newFakeDocumentStore()
	docs.register("bot-1")
	docs.addChunk(1, 0, "doc-a", "still present")
	// DocId 9 has a vector row but no relational row.

	vectors := &fakeVectorStore{matches: []*core.SimilarityMatch{
		{DocId: 9, ChunkIndex: 0, Score: 0.95},
		{DocId: 1, ChunkIndex: 0, Score: 0.80},
	}}

	searcher := newTestSearcher(t, docs, vectors)
	results, err := searcher.FindSimilar(context.Background(), "bot-1", "whatever", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-a", results[0].ContentKey)
}

func TestSearcher_MaxHitsTruncates(t *testing.T) {
	docs := newFakeDocumentStore()
	docs.register("bot-1")
	for i := int64(1); i <= 5; i++ {
		docs.addChunk(i, 0, "doc", "text")
	}
	vectors := &fakeVectorStore{matches: []*core.SimilarityMatch{
		{DocId: 1, ChunkIndex: 0, Score: 0.9},
		{DocId: 2, ChunkIndex: 0, Score: 0.8},
		{DocId: 3, ChunkIndex: 0, Score: 0.7},
	}}

	searcher := newTestSearcher(t, docs, vectors)
	results, err := searcher.FindSimilar(context.Background(), "bot-1", "query", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestTokenizeAndFilter(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"drops stop words", "the cat is on a mat", []string{"cat", "mat"}},
		{"trims punctuation", "Hello, world! (really)", []string{"hello", "world", "really"}},
		{"empty input", "", []string{}},
		{"only stop words", "the a an is", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tokenizeAndFilter(tt.input))
		})
	}
}
