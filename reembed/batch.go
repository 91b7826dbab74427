package reembed

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/docflow/ai"
	"github.com/poiesic/docflow/ingestion"
	"github.com/poiesic/docflow/storage"
)

// BatchProcessor regenerates and stores the embeddings for one document's
// chunks at a time.
type BatchProcessor struct {
	vectors        storage.VectorStore
	embedder       ai.Embedder
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewBatchProcessor creates a new batch processor.
// maxRetries: maximum number of retry attempts for embedding API calls
// retryBaseDelay: base delay for exponential backoff
func NewBatchProcessor(vectors storage.VectorStore, embedder ai.Embedder, maxRetries int, retryBaseDelay time.Duration) *BatchProcessor {
	return &BatchProcessor{
		vectors:        vectors,
		embedder:       embedder,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
	}
}

// Process embeds the document's chunk texts and writes the vectors into the
// bot's partition. Row keys derive from (partition, doc id, chunk index),
// so the write overwrites the document's existing rows.
func (bp *BatchProcessor) Process(ctx context.Context, partitionName string, doc *storage.DocumentChunks) error {
	if len(doc.Chunks) == 0 {
		return nil
	}

	texts := make([]string, len(doc.Chunks))
	for i, chunk := range doc.Chunks {
		texts[i] = chunk.Text
	}

	var embeddings [][]float32
	err := ingestion.RetryWithBackoff(ctx, func() error {
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	}, bp.maxRetries, bp.retryBaseDelay)

	if err != nil {
		return fmt.Errorf("failed to generate embeddings after %d attempts: %w", bp.maxRetries, err)
	}

	if len(embeddings) != len(doc.Chunks) {
		return fmt.Errorf("embedding count mismatch: expected %d, got %d", len(doc.Chunks), len(embeddings))
	}

	if err := bp.vectors.InsertChunks(ctx, partitionName, doc.DocId, doc.Chunks, embeddings); err != nil {
		return fmt.Errorf("failed to store embeddings: %w", err)
	}

	return nil
}
