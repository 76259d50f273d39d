package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/mynah-ai/mynah/pkg/memory"
	"github.com/mynah-ai/mynah/pkg/provider/embeddings"
)

// ChunkIndex writes pre-embedded chunks into the context_chunks table backed
// by a pgvector HNSW index.
//
// Obtain one via [Store.Index] rather than constructing directly.
// All methods are safe for concurrent use.
type ChunkIndex struct {
	pool *pgxpool.Pool
}

var _ memory.Indexer = (*ChunkIndex)(nil)

// IndexChunk implements memory.Indexer. A chunk with the same ID is
// completely replaced.
func (ix *ChunkIndex) IndexChunk(ctx context.Context, chunk memory.Chunk) error {
	const q = `
		INSERT INTO context_chunks (id, agent_id, content, embedding, source, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
		    agent_id  = EXCLUDED.agent_id,
		    content   = EXCLUDED.content,
		    embedding = EXCLUDED.embedding,
		    source    = EXCLUDED.source,
		    timestamp = EXCLUDED.timestamp`

	vec := pgvector.NewVector(chunk.Embedding)
	_, err := ix.pool.Exec(ctx, q,
		chunk.ID,
		chunk.AgentID,
		chunk.Content,
		vec,
		chunk.Source,
		chunk.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("chunk index: index chunk: %w", err)
	}
	return nil
}

// Retriever implements memory.Retriever against the context_chunks table. It
// embeds the query text, then runs an approximate nearest-neighbour search by
// cosine distance over the HNSW index.
//
// Obtain one via [Store.Retriever] rather than constructing directly.
type Retriever struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
	agentID  string
}

var _ memory.Retriever = (*Retriever)(nil)

// Retrieve implements memory.Retriever. Results are ordered by ascending
// cosine distance (most similar first).
func (r *Retriever) Retrieve(ctx context.Context, text string, topK int) ([]memory.ContextResult, error) {
	if topK <= 0 {
		return []memory.ContextResult{}, nil
	}

	query, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("retriever: embed query: %w", err)
	}
	queryVec := pgvector.NewVector(query)

	q := `
		SELECT id, agent_id, content, embedding, source, timestamp,
		       embedding <=> $1 AS distance
		FROM   context_chunks`
	args := []any{queryVec}

	if r.agentID != "" {
		q += `
		WHERE  agent_id = $2 OR agent_id = ''`
		args = append(args, r.agentID)
	}

	args = append(args, topK)
	q += fmt.Sprintf(`
		ORDER  BY distance
		LIMIT  $%d`, len(args))

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("retriever: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.ContextResult, error) {
		var (
			cr  memory.ContextResult
			vec pgvector.Vector
		)
		if err := row.Scan(
			&cr.Chunk.ID,
			&cr.Chunk.AgentID,
			&cr.Chunk.Content,
			&vec,
			&cr.Chunk.Source,
			&cr.Chunk.Timestamp,
			&cr.Distance,
		); err != nil {
			return memory.ContextResult{}, err
		}
		cr.Chunk.Embedding = vec.Slice()
		return cr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("retriever: scan rows: %w", err)
	}
	if results == nil {
		results = []memory.ContextResult{}
	}
	return results, nil
}
