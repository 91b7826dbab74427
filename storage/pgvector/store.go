// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package pgvector implements the vector store on PostgreSQL with the
// pgvector extension. Each bot partition is a physical table; rows carry
// the owning document ID so compensation can remove a document's vectors
// in one statement.
package pgvector

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvec "github.com/pgvector/pgvector-go"

	"github.com/poiesic/docflow/core"
	"github.com/poiesic/docflow/storage"
)

// pgUndefinedTable is the SQLSTATE for queries against a missing table.
const pgUndefinedTable = "42P01"

// Partition names are interpolated into DDL and queries, so they are
// restricted to identifier-safe characters.
var partitionNamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Store implements storage.VectorStore on a pgx connection pool.
type Store struct {
	pool      *pgxpool.Pool
	dimension int
}

var _ storage.VectorStore = (*Store)(nil)

// Connect opens a connection pool, verifies it with a ping and makes sure
// the vector extension is installed.
func Connect(ctx context.Context, connString string, dimension int) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := NewStore(pool, dimension)
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to install vector extension: %w", err)
	}
	return store, nil
}

// NewStore wraps an existing pool. The caller keeps ownership of the pool's
// lifecycle when using this constructor directly.
func NewStore(pool *pgxpool.Pool, dimension int) *Store {
	return &Store{pool: pool, dimension: dimension}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func validatePartitionName(name string) error {
	if !partitionNamePattern.MatchString(name) {
		return fmt.Errorf("invalid partition name %q", name)
	}
	return nil
}

// EnsurePartition creates the partition's table and indexes if they don't
// exist. Idempotent and safe to call concurrently.
func (s *Store) EnsurePartition(ctx context.Context, partitionName string) error {
	if err := validatePartitionName(partitionName); err != nil {
		return err
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id          BIGINT PRIMARY KEY,
			doc_id      BIGINT NOT NULL,
			chunk_index INT NOT NULL,
			embedding   vector(%d) NOT NULL
		)`, partitionName, s.dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx
			ON %s USING hnsw (embedding vector_cosine_ops)`, partitionName, partitionName),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_doc_idx
			ON %s (doc_id)`, partitionName, partitionName),
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure partition %s: %w", partitionName, err)
		}
	}
	return nil
}

// rowID derives a stable key for a chunk row. Replaying an insert after a
// crash hits the same key and overwrites instead of duplicating.
func rowID(partitionName string, docID int64, chunkIndex int) int64 {
	return int64(core.IDFromContent(fmt.Sprintf("%s:%d:%d", partitionName, docID, chunkIndex)))
}

// InsertChunks writes one embedding row per chunk, tagged with the owning
// document ID.
func (s *Store) InsertChunks(ctx context.Context, partitionName string, docID int64, chunks []core.Chunk, vectors [][]float32) error {
	if err := validatePartitionName(partitionName); err != nil {
		return err
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks but %d vectors", storage.ErrSerializationFailed, len(chunks), len(vectors))
	}

	sql := fmt.Sprintf(`INSERT INTO %s (id, doc_id, chunk_index, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			doc_id = EXCLUDED.doc_id,
			chunk_index = EXCLUDED.chunk_index,
			embedding = EXCLUDED.embedding`, partitionName)

	batch := &pgx.Batch{}
	for i := range chunks {
		batch.Queue(sql, rowID(partitionName, docID, i), docID, i, pgvec.NewVector(vectors[i]))
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range chunks {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert vectors into %s: %w", partitionName, err)
		}
	}
	return nil
}

// DeleteByDocument removes every row tagged with the document ID.
// Used by saga compensation; a document with no rows is a no-op, and so is
// a partition whose table was never created.
func (s *Store) DeleteByDocument(ctx context.Context, partitionName string, docID int64) error {
	if err := validatePartitionName(partitionName); err != nil {
		return err
	}

	sql := fmt.Sprintf(`DELETE FROM %s WHERE doc_id = $1`, partitionName)
	if _, err := s.pool.Exec(ctx, sql, docID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable {
			return nil
		}
		return fmt.Errorf("failed to delete vectors from %s: %w", partitionName, err)
	}
	return nil
}

// FindSimilar returns up to limit chunks with cosine similarity >= minScore,
// best first.
func (s *Store) FindSimilar(ctx context.Context, partitionName string, vector []float32, minScore float32, limit int) ([]*core.SimilarityMatch, error) {
	if err := validatePartitionName(partitionName); err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`SELECT doc_id, chunk_index, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE 1 - (embedding <=> $1) >= $2
		ORDER BY embedding <=> $1
		LIMIT $3`, partitionName)

	rows, err := s.pool.Query(ctx, sql, pgvec.NewVector(vector), minScore, limit)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable {
			return nil, fmt.Errorf("partition %s: %w", partitionName, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to search %s: %w", partitionName, err)
	}
	defer rows.Close()

	var matches []*core.SimilarityMatch
	for rows.Next() {
		match := &core.SimilarityMatch{}
		if err := rows.Scan(&match.DocId, &match.ChunkIndex, &match.Score); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read matches: %w", err)
	}
	return matches, nil
}
