// Package promptctx assembles the LLM prompt for a dispatched turn: the
// agent's system prompt, a retrieved context block, and a compact tail of
// conversation history. Retrieval goes through a session-local TTL cache so
// that partial transcripts can warm it before the turn dispatches.
package promptctx

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mynah-ai/mynah/pkg/memory"
	"github.com/mynah-ai/mynah/pkg/provider/llm"
	"github.com/mynah-ai/mynah/pkg/types"
)

// Assembly defaults. Voice wants few, short context chunks: every extra
// token delays the first audio chunk.
const (
	DefaultTopK        = 2
	DefaultCacheTTL    = 5 * time.Minute
	DefaultHistoryTail = 4
)

// Config tunes prompt assembly for one session.
type Config struct {
	// SessionID keys the history lookup.
	SessionID string

	// SystemPrompt is the agent's base instruction.
	SystemPrompt string

	// TopK caps retrieved context chunks. Zero means DefaultTopK; negative
	// disables retrieval.
	TopK int

	// CacheTTL bounds how long cached retrieval results stay fresh.
	CacheTTL time.Duration

	// HistoryTail is how many trailing history messages enter the prompt.
	HistoryTail int
}

func (c Config) withDefaults() Config {
	if c.TopK == 0 {
		c.TopK = DefaultTopK
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.HistoryTail <= 0 {
		c.HistoryTail = DefaultHistoryTail
	}
	return c
}

// Assembler builds completion requests for the generation pipeline. A nil
// retriever means no context block; a nil history store means no history
// tail. Retrieval and history failures degrade silently to empty sections.
type Assembler struct {
	cfg       Config
	retriever memory.Retriever
	history   memory.HistoryStore
	cache     *contextCache
	log       *slog.Logger
}

// NewAssembler builds an Assembler. retriever and history may be nil.
func NewAssembler(cfg Config, retriever memory.Retriever, history memory.HistoryStore, log *slog.Logger) *Assembler {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Assembler{
		cfg:       cfg,
		retriever: retriever,
		history:   history,
		cache:     newContextCache(cfg.CacheTTL),
		log:       log,
	}
}

// Assemble builds the completion request for userText. Retrieval and the
// history lookup run concurrently; either failing leaves its section empty.
func (a *Assembler) Assemble(ctx context.Context, userText string) (llm.CompletionRequest, error) {
	var (
		contexts []memory.ContextResult
		tail     []types.Message
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		contexts = a.contexts(gctx, userText)
		return nil
	})
	g.Go(func() error {
		tail = a.historyTail(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return llm.CompletionRequest{}, err
	}
	if err := ctx.Err(); err != nil {
		return llm.CompletionRequest{}, err
	}

	system, messages := FormatPrompt(a.cfg.SystemPrompt, contexts, tail, userText)
	return llm.CompletionRequest{SystemPrompt: system, Messages: messages}, nil
}

// Warm runs retrieval for partialText so the cache is hot when the turn
// dispatches with the same (or a prefix-stable) final text. Errors are
// ignored; this is purely speculative.
func (a *Assembler) Warm(ctx context.Context, partialText string) {
	if partialText == "" {
		return
	}
	a.contexts(ctx, partialText)
}

// contexts returns retrieval results for text through the cache. Failures
// degrade to nil.
func (a *Assembler) contexts(ctx context.Context, text string) []memory.ContextResult {
	if a.retriever == nil || a.cfg.TopK < 0 || text == "" {
		return nil
	}
	if cached, ok := a.cache.Get(text); ok {
		return cached
	}
	results, err := a.retriever.Retrieve(ctx, text, a.cfg.TopK)
	if err != nil {
		a.log.Warn("context retrieval failed, continuing without context",
			"session_id", a.cfg.SessionID, "error", err)
		return nil
	}
	a.cache.Set(text, results)
	return results
}

// historyTail returns the last HistoryTail messages, or nil on failure.
func (a *Assembler) historyTail(ctx context.Context) []types.Message {
	if a.history == nil {
		return nil
	}
	tail, err := a.history.Recent(ctx, a.cfg.SessionID, a.cfg.HistoryTail)
	if err != nil {
		a.log.Warn("history lookup failed, continuing without history",
			"session_id", a.cfg.SessionID, "error", err)
		return nil
	}
	return tail
}

// FormatPrompt lays out the prompt: the system prompt with an appended
// "## Context" block when any context was retrieved, followed by the history
// tail and the user message. The layout is fixed so identical inputs produce
// identical prompts.
func FormatPrompt(systemPrompt string, contexts []memory.ContextResult, history []types.Message, userText string) (string, []types.Message) {
	system := systemPrompt
	if len(contexts) > 0 {
		var b strings.Builder
		b.WriteString(systemPrompt)
		b.WriteString("\n\n## Context\n")
		for _, c := range contexts {
			b.WriteString("- ")
			b.WriteString(c.Chunk.Content)
			b.WriteString("\n")
		}
		system = strings.TrimRight(b.String(), "\n")
	}

	messages := make([]types.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, types.Message{Role: types.RoleUser, Content: userText})
	return system, messages
}
