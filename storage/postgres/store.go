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


// Package postgres implements the canonical document store on PostgreSQL.
//
// It owns three tables: bot_registry (the partition mapping), documents
// (one row per ingested document) and chunks (one row per chunk, removed
// with their document via ON DELETE CASCADE). A document "exists" iff its
// documents row does; the vector store is subordinate to these rows.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/poiesic/docflow/storage"
)

// Store implements storage.DocumentStore on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.DocumentStore = (*Store)(nil)

// Connect opens a connection pool and verifies it with a ping.
func Connect(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStore wraps an existing pool. The caller keeps ownership of the pool's
// lifecycle when using this constructor directly.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the schema if it doesn't exist. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS bot_registry (
			bot_id         TEXT PRIMARY KEY,
			partition_name TEXT UNIQUE NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			doc_id       BIGSERIAL PRIMARY KEY,
			chat_bot_id  TEXT NOT NULL REFERENCES bot_registry(bot_id),
			content_name TEXT NOT NULL,
			metadata     JSONB NOT NULL DEFAULT '{}',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (chat_bot_id, content_name)
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			doc_id      BIGINT NOT NULL REFERENCES documents(doc_id) ON DELETE CASCADE,
			chat_bot_id TEXT NOT NULL,
			chunk_index INT NOT NULL,
			chunk_text  TEXT NOT NULL,
			PRIMARY KEY (doc_id, chunk_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_bot_content
			ON documents (chat_bot_id, content_name)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
