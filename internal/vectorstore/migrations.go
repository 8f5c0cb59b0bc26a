package vectorstore

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// migration is one schema step. Versions are string names so the applied
// set reads meaningfully in schema_migrations.
type migration struct {
	Version string
	SQL     string
}

// migrations is the ordered list of schema steps. DDL here must be
// re-runnable only through the version tracking, not IF NOT EXISTS alone,
// because later steps may depend on earlier ones.
var migrations = []migration{
	{
		Version: "001_semantic_retrieval",
		SQL: `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS blocks (
	id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	tenant       TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	content      TEXT NOT NULL,
	block_type   TEXT NOT NULL,
	tokens       INTEGER NOT NULL DEFAULT 0,
	must_keep    BOOLEAN NOT NULL DEFAULT FALSE,
	priority     DOUBLE PRECISION NOT NULL DEFAULT 0,
	metadata     JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (tenant, content_hash)
);

CREATE TABLE IF NOT EXISTS embeddings (
	block_id   UUID PRIMARY KEY REFERENCES blocks(id) ON DELETE CASCADE,
	embedding  vector(1536) NOT NULL,
	model_name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_blocks_tenant ON blocks (tenant);
CREATE INDEX IF NOT EXISTS idx_blocks_created ON blocks (created_at);
`,
	},
	{
		Version: "002_embedding_ivfflat",
		SQL: `
CREATE INDEX IF NOT EXISTS idx_embeddings_ivfflat
	ON embeddings USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`,
	},
}

// Migrate applies all pending migrations in order. Each step runs in
// autocommit: pgvector index builds cannot run inside a transaction block.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("vectorstore: create migrations table: %w", err)
	}

	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		log.Info().Str("version", m.Version).Msg("applying migration")

		if _, err := s.pool.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("vectorstore: migration %s: %w", m.Version, err)
		}
		if _, err := s.pool.Exec(ctx,
			"INSERT INTO schema_migrations (version) VALUES ($1)", m.Version,
		); err != nil {
			return fmt.Errorf("vectorstore: record migration %s: %w", m.Version, err)
		}
	}
	return nil
}

// Version returns the applied and pending migration version names.
func (s *Store) Version(ctx context.Context) (applied, pending []string, err error) {
	appliedSet, err := s.appliedVersions(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, m := range migrations {
		if appliedSet[m.Version] {
			applied = append(applied, m.Version)
		} else {
			pending = append(pending, m.Version)
		}
	}
	return applied, pending, nil
}

func (s *Store) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("vectorstore: read migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("vectorstore: scan migration: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vectorstore: migration rows: %w", err)
	}
	return applied, nil
}
