package ingestion

import (
	"context"

	"github.com/poiesic/docflow/core"
)

// findCommitted looks up which of the job's unresolved content keys are
// already committed for this bot. The lookup is batched; a failure here is
// a job-scoped fault, since without it every document would be re-inserted
// blind.
func (e *Engine) findCommitted(ctx context.Context, botID string, documents []*core.Document, resolved map[int]*core.DocumentResult) (map[string]int64, error) {
	keys := make([]string, 0, len(documents))
	for i, doc := range documents {
		if _, done := resolved[i]; done {
			continue
		}
		keys = append(keys, doc.ContentKey)
	}
	if len(keys) == 0 {
		return map[string]int64{}, nil
	}
	return e.docs.FindExisting(ctx, botID, keys)
}

// duplicateResult materializes the failed outcome for a document whose
// content key is already committed. Duplicates count toward the failure
// tally instead of being silently dropped.
func duplicateResult(doc *core.Document, docID int64) *core.DocumentResult {
	return &core.DocumentResult{
		ContentKey: doc.ContentKey,
		DocId:      docID,
		Success:    false,
		Error:      core.ErrAlreadyExists.Error(),
	}
}

// cancelledResult materializes the failed outcome for a document
// short-circuited by a cancel request.
func cancelledResult(doc *core.Document) *core.DocumentResult {
	return &core.DocumentResult{
		ContentKey: doc.ContentKey,
		Success:    false,
		Error:      core.ErrCancelled.Error(),
	}
}

func failedResult(doc *core.Document, cause error) *core.DocumentResult {
	return &core.DocumentResult{
		ContentKey: doc.ContentKey,
		Success:    false,
		Error:      cause.Error(),
	}
}
