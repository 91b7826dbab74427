package ingestion

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/docflow/core"
	"github.com/poiesic/docflow/storage"
)

// runSaga drives one document through the ordered dual-store write
// sequence: relational insert (metadata plus chunks), embedding
// generation, vector insert. A step failure undoes the steps already
// applied and yields a failed result; only a failed undo is returned as
// an error, wrapped in core.CompensationError, because it leaves orphaned
// rows behind and must abort the job rather than hide in a result row.
func (e *Engine) runSaga(ctx context.Context, partitionName, botID string, doc *core.Document) (*core.DocumentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.documentTimeout)
	defer cancel()

	docID, err := e.docs.InsertDocument(ctx, botID, doc)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			// Raced with an earlier run of this same document; the row is
			// committed, so report it the same way the upfront check would.
			return duplicateResult(doc, 0), nil
		}
		return failedResult(doc, fmt.Errorf("document insert failed: %w", err)), nil
	}

	var vectors [][]float32
	err = RetryWithBackoff(ctx, func() error {
		var embedErr error
		vectors, embedErr = e.embedder.EmbedTexts(ctx, doc.ChunkTexts())
		return embedErr
	}, e.maxAttempts, e.retryBaseDelay)
	if err != nil {
		if compErr := e.compensate(ctx, partitionName, doc.ContentKey, docID, err); compErr != nil {
			return nil, compErr
		}
		return failedResult(doc, fmt.Errorf("embedding failed: %w", err)), nil
	}

	if err := e.vectors.InsertChunks(ctx, partitionName, docID, doc.Chunks, vectors); err != nil {
		if compErr := e.compensate(ctx, partitionName, doc.ContentKey, docID, err); compErr != nil {
			return nil, compErr
		}
		return failedResult(doc, fmt.Errorf("vector insert failed: %w", err)), nil
	}

	return &core.DocumentResult{
		ContentKey: doc.ContentKey,
		DocId:      docID,
		Success:    true,
		ChunkCount: len(doc.Chunks),
	}, nil
}

// compensate undoes a partially applied document: vector rows first (the
// vector store has no transaction to roll a partial insert back), then the
// relational document row, which cascades to its chunks. Runs on a fresh
// deadline so a document-level timeout cannot starve its own undo.
func (e *Engine) compensate(ctx context.Context, partitionName, contentKey string, docID int64, cause error) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.documentTimeout)
	defer cancel()

	if err := e.vectors.DeleteByDocument(cctx, partitionName, docID); err != nil {
		return &core.CompensationError{ContentKey: contentKey, Cause: cause.Error(), Err: err}
	}
	if err := e.docs.DeleteDocument(cctx, docID); err != nil {
		return &core.CompensationError{ContentKey: contentKey, Cause: cause.Error(), Err: err}
	}

	e.logger.Warn("document rolled back", "contentKey", contentKey, "docId", docID, "cause", cause)
	return nil
}
