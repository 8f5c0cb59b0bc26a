// Package vectorstore persists blocks and their embeddings in Postgres with
// pgvector, keyed by tenant for isolation. Callers treat every error as
// "store unavailable" and continue without semantic retrieval.
package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/tokenpress/internal/block"
)

// Store wraps a pgx connection pool over the blocks/embeddings schema.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres at url with a pool capped at 10 connections and
// verifies it with a ping.
func Open(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: parsing postgres url: %w", err)
	}
	cfg.MaxConns = 10

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("vectorstore: ping: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the pool is healthy.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("vectorstore: ping: %w", err)
	}
	return nil
}

// UpsertBlock stores a block and its embedding for a tenant. Blocks are
// deduplicated by (tenant, content hash): an existing block only gets its
// embedding refreshed. Returns the stored block's row ID.
func (s *Store) UpsertBlock(ctx context.Context, tenant string, b *block.Block, embedding []float32, modelName string) (string, error) {
	contentHash := block.ContentHash(b.Content)
	vec := vectorLiteral(embedding)
	meta, err := metadataJSON(b.Metadata)
	if err != nil {
		return "", fmt.Errorf("vectorstore: encode metadata: %w", err)
	}

	var id string
	err = s.pool.QueryRow(ctx,
		"SELECT id FROM blocks WHERE tenant = $1 AND content_hash = $2",
		tenant, contentHash,
	).Scan(&id)

	switch {
	case err == nil:
		if meta != nil {
			if _, err = s.pool.Exec(ctx,
				"UPDATE blocks SET metadata = $2 WHERE id = $1", id, meta,
			); err != nil {
				return "", fmt.Errorf("vectorstore: update metadata: %w", err)
			}
		}
		_, err = s.pool.Exec(ctx, `
			INSERT INTO embeddings (block_id, embedding, model_name)
			VALUES ($1, $2::vector, $3)
			ON CONFLICT (block_id) DO UPDATE
			SET embedding = EXCLUDED.embedding,
			    model_name = EXCLUDED.model_name,
			    created_at = NOW()`,
			id, vec, modelName,
		)
		if err != nil {
			return "", fmt.Errorf("vectorstore: update embedding: %w", err)
		}
		return id, nil

	case errors.Is(err, pgx.ErrNoRows):
		err = s.pool.QueryRow(ctx, `
			INSERT INTO blocks (tenant, content_hash, content, block_type, tokens, must_keep, priority, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id`,
			tenant, contentHash, b.Content, string(b.Type), b.Tokens, b.MustKeep, b.Priority, meta,
		).Scan(&id)
		if err != nil {
			return "", fmt.Errorf("vectorstore: insert block: %w", err)
		}
		_, err = s.pool.Exec(ctx,
			"INSERT INTO embeddings (block_id, embedding, model_name) VALUES ($1, $2::vector, $3)",
			id, vec, modelName,
		)
		if err != nil {
			return "", fmt.Errorf("vectorstore: insert embedding: %w", err)
		}
		return id, nil

	default:
		return "", fmt.Errorf("vectorstore: lookup block: %w", err)
	}
}

// UpsertBatch stores a batch of blocks, continuing past per-item failures.
// Returns the IDs of the blocks that were stored.
func (s *Store) UpsertBatch(ctx context.Context, tenant string, blocks []*block.Block, embeddings [][]float32, modelName string) []string {
	ids := make([]string, 0, len(blocks))
	for i, b := range blocks {
		if i >= len(embeddings) {
			break
		}
		id, err := s.UpsertBlock(ctx, tenant, b, embeddings[i], modelName)
		if err != nil {
			log.Warn().Err(err).Str("block_id", b.ID).Msg("vector store upsert failed")
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// SearchResult pairs a stored block with its cosine similarity to the query.
type SearchResult struct {
	Block      *block.Block
	Similarity float64
}

// SearchSimilar returns up to topK blocks for the tenant ordered by cosine
// distance to the query embedding, filtered by optional block types and a
// minimum similarity.
func (s *Store) SearchSimilar(ctx context.Context, tenant string, query []float32, topK int, types []block.Type, threshold float64) ([]SearchResult, error) {
	vec := vectorLiteral(query)

	sql := `
		SELECT b.id, b.content, b.block_type, b.tokens, b.must_keep, b.priority, b.metadata, b.created_at,
		       1 - (e.embedding <=> $1::vector) AS similarity
		FROM blocks b
		JOIN embeddings e ON b.id = e.block_id
		WHERE b.tenant = $2
		  AND 1 - (e.embedding <=> $1::vector) > $3`
	args := []any{vec, tenant, threshold}

	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		sql += " AND b.block_type = ANY($4)"
		args = append(args, names)
	}

	sql += fmt.Sprintf(" ORDER BY e.embedding <=> $1::vector LIMIT %d", topK)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			id, content, blockType string
			tokens                 int
			mustKeep               bool
			priority               float64
			metaRaw                []byte
			createdAt              time.Time
			similarity             float64
		)
		if err := rows.Scan(&id, &content, &blockType, &tokens, &mustKeep, &priority, &metaRaw, &createdAt, &similarity); err != nil {
			return nil, fmt.Errorf("vectorstore: scan result: %w", err)
		}

		meta := make(map[string]any)
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &meta); err != nil {
				return nil, fmt.Errorf("vectorstore: decode metadata: %w", err)
			}
		}
		meta["source"] = "vector_store"

		b := &block.Block{
			ID:        id,
			Type:      block.Type(blockType),
			Content:   content,
			Tokens:    tokens,
			MustKeep:  mustKeep,
			Priority:  priority,
			Timestamp: createdAt,
			Metadata:  meta,
		}
		results = append(results, SearchResult{Block: b, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vectorstore: search rows: %w", err)
	}
	return results, nil
}

// DeleteOlderThan removes a tenant's blocks older than the given number of
// days and returns how many were deleted. Embeddings cascade.
func (s *Store) DeleteOlderThan(ctx context.Context, tenant string, days int) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM blocks WHERE tenant = $1 AND created_at < NOW() - make_interval(days => $2)",
		tenant, days,
	)
	if err != nil {
		return 0, fmt.Errorf("vectorstore: delete old blocks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes blocks older than the given number of days across
// all tenants. Used by the periodic retention sweep.
func (s *Store) DeleteExpired(ctx context.Context, days int) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM blocks WHERE created_at < NOW() - make_interval(days => $1)",
		days,
	)
	if err != nil {
		return 0, fmt.Errorf("vectorstore: delete expired blocks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// metadataJSON renders block metadata as a jsonb value, nil when there is
// nothing to store so the column stays NULL.
func metadataJSON(meta map[string]any) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	return json.Marshal(meta)
}

// vectorLiteral renders an embedding as a pgvector text literal: "[1,2,3]".
func vectorLiteral(v []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}
