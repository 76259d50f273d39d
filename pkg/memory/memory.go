// Package memory defines the storage interfaces backing conversation history
// and retrieval-augmented generation.
//
// Two concerns live here:
//
//   - HistoryStore persists the per-session conversation log that survives
//     process restarts. The in-process history manager mirrors appends into
//     it and reads it back when a session resumes.
//
//   - Indexer and Retriever form the context knowledge base: pre-embedded
//     text chunks are indexed once, then retrieved by semantic similarity
//     against each finalized user utterance before the language model is
//     prompted.
//
// Implementations must be safe for concurrent use.
package memory

import (
	"context"
	"time"

	"github.com/mynah-ai/mynah/pkg/types"
)

// Chunk is a unit of indexable knowledge-base text with its embedding.
type Chunk struct {
	// ID uniquely identifies the chunk; indexing the same ID again replaces
	// the stored chunk.
	ID string

	// AgentID scopes the chunk to one agent's knowledge base. Empty means
	// the chunk is shared across agents.
	AgentID string

	// Content is the raw chunk text injected into prompts on retrieval.
	Content string

	// Embedding is the dense vector for Content, produced by the embeddings
	// provider configured for the index.
	Embedding []float32

	// Source names where the chunk came from (document ID, URL, filename).
	Source string

	// Timestamp is when the chunk was indexed.
	Timestamp time.Time
}

// ContextResult is a retrieved chunk with its distance to the query.
type ContextResult struct {
	Chunk Chunk

	// Distance is the cosine distance between the query embedding and the
	// chunk embedding. Lower is more similar.
	Distance float64
}

// HistoryStore persists per-session conversation messages.
type HistoryStore interface {
	// Append stores msg at the end of the session's log.
	Append(ctx context.Context, sessionID string, msg types.Message) error

	// Recent returns up to limit messages from the end of the session's
	// log, ordered oldest first. limit <= 0 returns all messages.
	Recent(ctx context.Context, sessionID string, limit int) ([]types.Message, error)

	// Count returns the number of messages stored for the session.
	Count(ctx context.Context, sessionID string) (int, error)

	// Trim deletes the oldest messages so at most keep remain.
	Trim(ctx context.Context, sessionID string, keep int) error
}

// Indexer adds chunks to the knowledge base.
type Indexer interface {
	// IndexChunk upserts a pre-embedded chunk. A chunk with the same ID is
	// replaced.
	IndexChunk(ctx context.Context, chunk Chunk) error
}

// Retriever finds the chunks most relevant to a piece of text.
type Retriever interface {
	// Retrieve embeds text and returns up to topK chunks ordered by
	// ascending distance (most similar first). An empty result is not an
	// error.
	Retrieve(ctx context.Context, text string, topK int) ([]ContextResult, error)
}
