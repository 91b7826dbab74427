package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/poiesic/docflow/core"
	"github.com/poiesic/docflow/storage"
)

// pgUniqueViolation is the SQLSTATE for unique constraint violations.
const pgUniqueViolation = "23505"

// partitionNameFor derives the physical partition name for a bot.
// Dashes are stripped so the name stays a valid SQL identifier suffix.
func partitionNameFor(botID string) string {
	return "bot_" + strings.ReplaceAll(botID, "-", "")
}

// RegisterBot creates the partition mapping for a bot if absent and returns
// the canonical mapping. The insert-then-read-back sequence makes concurrent
// registration of the same bot converge on one mapping.
func (s *Store) RegisterBot(ctx context.Context, botID string) (*core.PartitionMapping, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO bot_registry (bot_id, partition_name) VALUES ($1, $2)
		 ON CONFLICT (bot_id) DO NOTHING`,
		botID, partitionNameFor(botID))
	if err != nil {
		return nil, fmt.Errorf("failed to register bot: %w", err)
	}

	// Read back what actually won, never trust the derived name.
	return s.GetPartition(ctx, botID)
}

// GetPartition returns the partition mapping for a bot.
func (s *Store) GetPartition(ctx context.Context, botID string) (*core.PartitionMapping, error) {
	mapping := &core.PartitionMapping{}
	err := s.pool.QueryRow(ctx,
		`SELECT bot_id, partition_name, created_at FROM bot_registry WHERE bot_id = $1`,
		botID).Scan(&mapping.BotId, &mapping.PartitionName, &mapping.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("bot %s: %w", botID, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get partition: %w", err)
	}
	return mapping, nil
}

// InsertDocument inserts the document row and all chunk rows in one
// transaction, returning the assigned document ID.
func (s *Store) InsertDocument(ctx context.Context, botID string, doc *core.Document) (int64, error) {
	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return 0, fmt.Errorf("failed to encode metadata: %w", err)
	}
	if doc.Metadata == nil {
		metadata = []byte("{}")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var docID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO documents (chat_bot_id, content_name, metadata)
		 VALUES ($1, $2, $3) RETURNING doc_id`,
		botID, doc.ContentKey, metadata).Scan(&docID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return 0, fmt.Errorf("document %s: %w", doc.ContentKey, storage.ErrDuplicateKey)
		}
		return 0, fmt.Errorf("failed to insert document: %w", err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"chunks"},
		[]string{"doc_id", "chat_bot_id", "chunk_index", "chunk_text"},
		pgx.CopyFromSlice(len(doc.Chunks), func(i int) ([]any, error) {
			return []any{docID, botID, i, doc.Chunks[i].Text}, nil
		}))
	if err != nil {
		return 0, fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return docID, nil
}

// DeleteDocument removes a document row; chunk rows cascade.
// Deleting a missing document is a no-op.
func (s *Store) DeleteDocument(ctx context.Context, docID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE doc_id = $1`, docID)
	if err != nil {
		return fmt.Errorf("failed to delete document %d: %w", docID, err)
	}
	return nil
}

// FindExisting maps the given content keys that already exist in the bot's
// partition to their document IDs, in one round trip.
func (s *Store) FindExisting(ctx context.Context, botID string, contentKeys []string) (map[string]int64, error) {
	existing := make(map[string]int64)
	if len(contentKeys) == 0 {
		return existing, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT content_name, doc_id FROM documents
		 WHERE chat_bot_id = $1 AND content_name = ANY($2)`,
		botID, contentKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var docID int64
		if err := rows.Scan(&key, &docID); err != nil {
			return nil, fmt.Errorf("failed to scan existing document: %w", err)
		}
		existing[key] = docID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read existing documents: %w", err)
	}
	return existing, nil
}

// CountChunks returns the number of chunk rows in the bot's partition.
func (s *Store) CountChunks(ctx context.Context, botID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM chunks WHERE chat_bot_id = $1`, botID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

// ListChunks returns the chunk rows for up to limit documents past afterDoc,
// grouped per document in ascending document ID order. Keyset pagination, so
// a scan stays cheap no matter how far into the partition it is.
func (s *Store) ListChunks(ctx context.Context, botID string, afterDoc int64, limit int) ([]*storage.DocumentChunks, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.doc_id, c.chunk_index, c.chunk_text
		 FROM chunks c
		 JOIN (SELECT doc_id FROM documents
		       WHERE chat_bot_id = $1 AND doc_id > $2
		       ORDER BY doc_id LIMIT $3) d USING (doc_id)
		 ORDER BY c.doc_id, c.chunk_index`,
		botID, afterDoc, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var docs []*storage.DocumentChunks
	var current *storage.DocumentChunks
	for rows.Next() {
		var (
			docID int64
			index int
			text  string
		)
		if err := rows.Scan(&docID, &index, &text); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if current == nil || current.DocId != docID {
			current = &storage.DocumentChunks{DocId: docID}
			docs = append(docs, current)
		}
		current.Chunks = append(current.Chunks, core.Chunk{Index: index, Text: text})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chunks: %w", err)
	}
	return docs, nil
}

// GetChunks fetches chunk text and owning content key for the given refs.
// Refs whose rows are gone are silently omitted.
func (s *Store) GetChunks(ctx context.Context, refs []storage.ChunkRef) (map[storage.ChunkRef]*core.SearchResult, error) {
	found := make(map[storage.ChunkRef]*core.SearchResult)
	if len(refs) == 0 {
		return found, nil
	}

	docIDs := make([]int64, len(refs))
	indexes := make([]int32, len(refs))
	for i, ref := range refs {
		docIDs[i] = ref.DocId
		indexes[i] = int32(ref.ChunkIndex)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT c.doc_id, c.chunk_index, c.chunk_text, d.content_name
		 FROM chunks c
		 JOIN documents d USING (doc_id)
		 WHERE (c.doc_id, c.chunk_index) IN (
			SELECT unnest($1::bigint[]), unnest($2::int[])
		 )`,
		docIDs, indexes)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			docID int64
			index int
			text  string
			key   string
		)
		if err := rows.Scan(&docID, &index, &text, &key); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		ref := storage.ChunkRef{DocId: docID, ChunkIndex: index}
		found[ref] = &core.SearchResult{
			DocId:      docID,
			ContentKey: key,
			ChunkIndex: index,
			Text:       text,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chunks: %w", err)
	}
	return found, nil
}
