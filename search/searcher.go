package search

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/poiesic/docflow/ai"
	"github.com/poiesic/docflow/core"
	"github.com/poiesic/docflow/partition"
	"github.com/poiesic/docflow/storage"
)

// Searcher provides partition-scoped semantic search over ingested documents.
type Searcher struct {
	resolver *partition.Resolver
	docs     storage.DocumentStore
	vectors  storage.VectorStore
	embedder ai.Embedder
	minScore float32
	logger   *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithMinScore sets the similarity floor below which vector hits are
// discarded. Default is 0.60.
func WithMinScore(minScore float32) Option {
	return func(s *Searcher) error {
		s.minScore = minScore
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(
	resolver *partition.Resolver,
	docs storage.DocumentStore,
	vectors storage.VectorStore,
	embedder ai.Embedder,
	opts ...Option,
) (*Searcher, error) {
	if resolver == nil {
		return nil, ErrResolverRequired
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

	s := &Searcher{
		resolver: resolver,
		docs:     docs,
		vectors:  vectors,
		embedder: embedder,
		minScore: 0.60,
		logger:   slog.Default(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// FindSimilar searches the bot's partition for chunks similar to the query.
// Returns up to maxHits results, ranked by relevance score.
// Returns storage.ErrNotFound if the bot was never registered.
func (s *Searcher) FindSimilar(ctx context.Context, botID, query string, maxHits int) ([]*core.SearchResult, error) {
	return s.FindSimilarWithMonitor(ctx, botID, query, maxHits, nil)
}

// FindSimilarWithMonitor searches with monitoring. The monitor receives
// callbacks at each stage of the search process.
func (s *Searcher) FindSimilarWithMonitor(ctx context.Context, botID, query string, maxHits int, monitor SearchMonitor) ([]*core.SearchResult, error) {
	// Use noop monitor if none provided
	if monitor == nil {
		monitor = &noopMonitor{}
	}

	monitor.Start(query)

	mapping, err := s.resolver.Resolve(ctx, botID)
	if err != nil {
		return nil, err
	}

	embedding, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		s.logger.Error("error generating embedding for query", "query", query, "err", err)
		return nil, err
	}

	matches, err := s.vectors.FindSimilar(ctx, mapping.PartitionName, embedding, s.minScore, maxHits)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Registered bot whose vector partition was never created; it
			// simply has nothing ingested yet.
			s.logger.Warn("vector partition missing", "botId", botID, "partition", mapping.PartitionName)
			return []*core.SearchResult{}, nil
		}
		s.logger.Error("error querying for similar chunks", "err", err)
		return nil, err
	}
	monitor.AfterSimilaritySearch(matches)

	refs := make([]storage.ChunkRef, 0, len(matches))
	scores := make(map[storage.ChunkRef]float32, len(matches))
	for _, match := range matches {
		ref := storage.ChunkRef{DocId: match.DocId, ChunkIndex: match.ChunkIndex}
		refs = append(refs, ref)
		scores[ref] = match.Score
	}

	hydrated, err := s.docs.GetChunks(ctx, refs)
	if err != nil {
		s.logger.Error("error retrieving chunk rows", "chunkCount", len(refs), "err", err)
		return nil, err
	}

	// Score and build results. Refs whose relational rows are gone (deleted
	// between the vector scan and here) drop out silently.
	results := make([]*core.SearchResult, 0, len(hydrated))
	for _, ref := range refs {
		result, ok := hydrated[ref]
		if !ok {
			continue
		}

		result.Score = scores[ref]
		if containsAllQueryWords(result.Text, query) {
			result.Score += 0.3
			monitor.VerbatimHit(result)
		}
		results = append(results, result)
	}

	// Sort by score descending
	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > maxHits {
		results = results[:maxHits]
	}
	monitor.Finish(results)

	return results, nil
}
