// Package memstore provides in-memory implementations of the memory
// interfaces. Suitable for development, tests, and deployments that do not
// need persistence across restarts.
package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/mynah-ai/mynah/pkg/memory"
	"github.com/mynah-ai/mynah/pkg/provider/embeddings"
	"github.com/mynah-ai/mynah/pkg/types"
)

// History is an in-memory memory.HistoryStore keyed by session ID.
type History struct {
	mu       sync.Mutex
	sessions map[string][]types.Message
}

var _ memory.HistoryStore = (*History)(nil)

// NewHistory creates an empty History.
func NewHistory() *History {
	return &History{sessions: make(map[string][]types.Message)}
}

// Append implements memory.HistoryStore.
func (h *History) Append(_ context.Context, sessionID string, msg types.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[sessionID] = append(h.sessions[sessionID], msg)
	return nil
}

// Recent implements memory.HistoryStore.
func (h *History) Recent(_ context.Context, sessionID string, limit int) ([]types.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := h.sessions[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]types.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Count implements memory.HistoryStore.
func (h *History) Count(_ context.Context, sessionID string) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions[sessionID]), nil
}

// Trim implements memory.HistoryStore.
func (h *History) Trim(_ context.Context, sessionID string, keep int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := h.sessions[sessionID]
	if keep < 0 {
		keep = 0
	}
	if len(msgs) > keep {
		trimmed := make([]types.Message, keep)
		copy(trimmed, msgs[len(msgs)-keep:])
		h.sessions[sessionID] = trimmed
	}
	return nil
}

// Index is an in-memory chunk index implementing memory.Indexer and
// memory.Retriever. Retrieval embeds the query via the configured embeddings
// provider and ranks chunks by exact cosine distance; fine for the chunk
// counts a development deployment holds.
type Index struct {
	embedder embeddings.Provider
	agentID  string

	mu     sync.Mutex
	chunks map[string]memory.Chunk
}

var (
	_ memory.Indexer   = (*Index)(nil)
	_ memory.Retriever = (*Index)(nil)
)

// NewIndex creates an empty Index using embedder for query embedding. When
// agentID is non-empty, retrieval only considers chunks scoped to that agent
// or shared chunks with no agent ID.
func NewIndex(embedder embeddings.Provider, agentID string) *Index {
	return &Index{
		embedder: embedder,
		agentID:  agentID,
		chunks:   make(map[string]memory.Chunk),
	}
}

// IndexChunk implements memory.Indexer.
func (ix *Index) IndexChunk(_ context.Context, chunk memory.Chunk) error {
	if chunk.ID == "" {
		return fmt.Errorf("memstore: chunk ID must not be empty")
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.chunks[chunk.ID] = chunk
	return nil
}

// Retrieve implements memory.Retriever.
func (ix *Index) Retrieve(ctx context.Context, text string, topK int) ([]memory.ContextResult, error) {
	if topK <= 0 {
		return []memory.ContextResult{}, nil
	}

	query, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("memstore: embed query: %w", err)
	}

	ix.mu.Lock()
	results := make([]memory.ContextResult, 0, len(ix.chunks))
	for _, c := range ix.chunks {
		if ix.agentID != "" && c.AgentID != "" && c.AgentID != ix.agentID {
			continue
		}
		results = append(results, memory.ContextResult{
			Chunk:    c,
			Distance: cosineDistance(query, c.Embedding),
		})
	}
	ix.mu.Unlock()

	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// cosineDistance returns 1 - cosine similarity. Mismatched or zero-length
// vectors get the maximum distance of 1 so they rank last.
func cosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
