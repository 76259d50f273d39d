package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/mynah-ai/mynah/pkg/memory"
	memmock "github.com/mynah-ai/mynah/pkg/memory/mock"
)

func TestGuardedRetriever_PassesThrough(t *testing.T) {
	t.Parallel()
	inner := &memmock.Retriever{Results: []memory.ContextResult{
		{Chunk: memory.Chunk{Content: "fact"}},
	}}
	g := NewGuardedRetriever(inner, NewBreaker(BreakerConfig{Name: "kb"}, nil), nil)

	results, err := g.Retrieve(context.Background(), "query", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.Content != "fact" {
		t.Errorf("results = %+v", results)
	}
}

func TestGuardedRetriever_TrippedBreakerReturnsEmptyFast(t *testing.T) {
	t.Parallel()
	inner := &memmock.Retriever{Err: errors.New("pgvector timeout")}
	g := NewGuardedRetriever(inner, NewBreaker(BreakerConfig{FailureThreshold: 2}, nil), nil)

	ctx := context.Background()
	for range 2 {
		if _, err := g.Retrieve(ctx, "q", 2); err == nil {
			t.Fatal("Retrieve = nil error while backend failing")
		}
	}

	// Tripped: the backend is no longer consulted.
	before := inner.CallCount()
	results, err := g.Retrieve(ctx, "q", 2)
	if err != nil {
		t.Fatalf("Retrieve with open breaker = %v, want nil", err)
	}
	if results != nil {
		t.Errorf("results = %+v, want nil", results)
	}
	if inner.CallCount() != before {
		t.Error("backend consulted while breaker open")
	}
}

func TestGuardedRetriever_CancellationDoesNotTrip(t *testing.T) {
	t.Parallel()
	inner := &memmock.Retriever{Err: context.Canceled}
	b := NewBreaker(BreakerConfig{FailureThreshold: 1}, nil)
	g := NewGuardedRetriever(inner, b, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Retrieve(ctx, "q", 2); err == nil {
		t.Fatal("Retrieve = nil error on cancelled context")
	}
	if got := b.State(); got != BreakerClosed {
		t.Errorf("breaker state = %v, want closed after cancellation", got)
	}
}
