package resilience

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mynah-ai/mynah/pkg/memory"
)

// GuardedRetriever wraps a memory.Retriever with a circuit breaker. While
// the breaker is open, Retrieve returns empty results immediately so prompt
// assembly degrades to no context instead of waiting on a sick backend.
type GuardedRetriever struct {
	inner   memory.Retriever
	breaker *Breaker
	log     *slog.Logger
}

var _ memory.Retriever = (*GuardedRetriever)(nil)

// NewGuardedRetriever wraps inner with breaker.
func NewGuardedRetriever(inner memory.Retriever, breaker *Breaker, log *slog.Logger) *GuardedRetriever {
	if log == nil {
		log = slog.Default()
	}
	return &GuardedRetriever{inner: inner, breaker: breaker, log: log}
}

// Retrieve delegates to the wrapped retriever under the breaker. A tripped
// breaker yields (nil, nil); context cancellation passes through without
// counting against the breaker.
func (g *GuardedRetriever) Retrieve(ctx context.Context, text string, topK int) ([]memory.ContextResult, error) {
	var (
		results  []memory.ContextResult
		innerErr error
	)
	err := g.breaker.Do(func() error {
		results, innerErr = g.inner.Retrieve(ctx, text, topK)
		if innerErr != nil && ctx.Err() != nil {
			// The caller gave up, not the backend.
			return nil
		}
		return innerErr
	})
	if errors.Is(err, ErrOpen) {
		g.log.Debug("retrieval skipped, breaker open")
		return nil, nil
	}
	return results, innerErr
}
