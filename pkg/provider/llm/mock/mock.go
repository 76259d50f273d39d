// Package mock provides test doubles for the llm package interfaces.
//
// Script a Provider with the Chunks each StreamCompletion call should emit;
// the mock records every request so tests can assert on prompt construction.
//
// Example:
//
//	p := &mock.Provider{
//	    Chunks: []llm.Chunk{{Text: "Hi"}, {Text: " there"}, {Text: ".", FinishReason: llm.FinishStop}},
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/mynah-ai/mynah/pkg/provider/llm"
)

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks is the scripted stream emitted by every StreamCompletion call.
	Chunks []llm.Chunk

	// ChunkDelay, when non-zero, is slept between consecutive chunks. Use to
	// simulate slow token generation in timeout tests.
	ChunkDelay time.Duration

	// StreamErr, if non-nil, is returned as the error from StreamCompletion
	// (the stream never starts).
	StreamErr error

	// CompleteResponse is returned by Complete. If nil, Complete returns a
	// response whose Content is the concatenation of Chunks.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// StreamCalls records the request of every StreamCompletion call.
	StreamCalls []llm.CompletionRequest

	// CompleteCalls records the request of every Complete call.
	CompleteCalls []llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

// StreamCompletion records the call and plays back the scripted Chunks on a
// fresh channel. The channel closes after the last chunk or when ctx is
// cancelled.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, req)
	chunks := make([]llm.Chunk, len(p.Chunks))
	copy(chunks, p.Chunks)
	delay := p.ChunkDelay
	err := p.StreamErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		for i, c := range chunks {
			if delay > 0 && i > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete records the call and returns CompleteResponse, CompleteErr.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, req)
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if p.CompleteResponse != nil {
		return p.CompleteResponse, nil
	}
	var content string
	for _, c := range p.Chunks {
		content += c.Text
	}
	return &llm.CompletionResponse{Content: content}, nil
}

// StreamCallCount returns the number of StreamCompletion calls. Thread-safe.
func (p *Provider) StreamCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StreamCalls)
}

// LastStreamCall returns the most recent StreamCompletion request and true,
// or a zero request and false when no call has been made.
func (p *Provider) LastStreamCall() (llm.CompletionRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.StreamCalls) == 0 {
		return llm.CompletionRequest{}, false
	}
	return p.StreamCalls[len(p.StreamCalls)-1], true
}
