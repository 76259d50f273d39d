package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/mynah-ai/mynah/pkg/provider/embeddings"
)

// Store is the central PostgreSQL-backed memory store. It holds a single
// [pgxpool.Pool] and exposes the two memory concerns:
//
//   - [Store.History] returns a [History] implementing memory.HistoryStore
//   - [Store.Index] returns a [ChunkIndex] implementing memory.Indexer;
//     [Store.Retriever] wraps it with an embedder as a memory.Retriever
//
// All operations are safe for concurrent use.
type Store struct {
	pool    *pgxpool.Pool
	history *History
	index   *ChunkIndex
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs [Migrate] to ensure all required tables and extensions exist.
//
// embeddingDimensions must match the output dimension of the embedding model
// used to produce chunk embeddings.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so vector columns can
	// be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:    pool,
		history: &History{pool: pool},
		index:   &ChunkIndex{pool: pool},
	}, nil
}

// History returns the conversation log implementation which satisfies
// memory.HistoryStore.
func (s *Store) History() *History { return s.history }

// Index returns the chunk index implementation which satisfies
// memory.Indexer.
func (s *Store) Index() *ChunkIndex { return s.index }

// Retriever returns a memory.Retriever that embeds queries with embedder and
// searches the chunk index. When agentID is non-empty, only chunks scoped to
// that agent or shared chunks are considered.
func (s *Store) Retriever(embedder embeddings.Provider, agentID string) *Retriever {
	return &Retriever{pool: s.pool, embedder: embedder, agentID: agentID}
}

// Pool exposes the underlying connection pool for components that share the
// database, such as the agent definition store.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping checks database connectivity. Used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
