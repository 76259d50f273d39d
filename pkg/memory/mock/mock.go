// Package mock provides test doubles for the memory interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/mynah-ai/mynah/pkg/memory"
	"github.com/mynah-ai/mynah/pkg/types"
)

// RetrieveCall records a single invocation of Retrieve.
type RetrieveCall struct {
	Text string
	TopK int
}

// Retriever is a mock implementation of memory.Retriever.
type Retriever struct {
	mu sync.Mutex

	// Results is returned by every Retrieve call.
	Results []memory.ContextResult

	// Err, if non-nil, is returned as the error from Retrieve.
	Err error

	// Delay blocks each Retrieve until ctx is done or the duration elapses.
	// Use to simulate slow retrieval in timeout tests. Zero means no delay.
	Delay func(ctx context.Context) error

	// Calls records every Retrieve call in order.
	Calls []RetrieveCall
}

var _ memory.Retriever = (*Retriever)(nil)

// Retrieve records the call and returns Results, Err.
func (r *Retriever) Retrieve(ctx context.Context, text string, topK int) ([]memory.ContextResult, error) {
	r.mu.Lock()
	r.Calls = append(r.Calls, RetrieveCall{Text: text, TopK: topK})
	delay := r.Delay
	results := r.Results
	err := r.Err
	r.mu.Unlock()

	if delay != nil {
		if derr := delay(ctx); derr != nil {
			return nil, derr
		}
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

// CallCount returns the number of Retrieve calls. Thread-safe.
func (r *Retriever) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}

// HistoryStore is a mock implementation of memory.HistoryStore. It behaves
// like an in-memory store and records appends for assertions.
type HistoryStore struct {
	mu sync.Mutex

	// AppendErr, if non-nil, is returned from Append.
	AppendErr error

	// Appends records every appended message with its session ID.
	Appends []AppendCall

	sessions map[string][]types.Message
}

// AppendCall records a single invocation of Append.
type AppendCall struct {
	SessionID string
	Message   types.Message
}

var _ memory.HistoryStore = (*HistoryStore)(nil)

// Append implements memory.HistoryStore.
func (h *HistoryStore) Append(_ context.Context, sessionID string, msg types.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Appends = append(h.Appends, AppendCall{SessionID: sessionID, Message: msg})
	if h.AppendErr != nil {
		return h.AppendErr
	}
	if h.sessions == nil {
		h.sessions = make(map[string][]types.Message)
	}
	h.sessions[sessionID] = append(h.sessions[sessionID], msg)
	return nil
}

// Recent implements memory.HistoryStore.
func (h *HistoryStore) Recent(_ context.Context, sessionID string, limit int) ([]types.Message, error) {
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
func (h *HistoryStore) Count(_ context.Context, sessionID string) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions[sessionID]), nil
}

// Trim implements memory.HistoryStore.
func (h *HistoryStore) Trim(_ context.Context, sessionID string, keep int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := h.sessions[sessionID]
	if keep < 0 {
		keep = 0
	}
	if len(msgs) > keep {
		h.sessions[sessionID] = msgs[len(msgs)-keep:]
	}
	return nil
}

// Indexer is a mock implementation of memory.Indexer recording every chunk.
type Indexer struct {
	mu sync.Mutex

	// Err, if non-nil, is returned from IndexChunk.
	Err error

	// Chunks records every indexed chunk in order.
	Chunks []memory.Chunk
}

var _ memory.Indexer = (*Indexer)(nil)

// IndexChunk implements memory.Indexer.
func (ix *Indexer) IndexChunk(_ context.Context, chunk memory.Chunk) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.Err != nil {
		return ix.Err
	}
	ix.Chunks = append(ix.Chunks, chunk)
	return nil
}
