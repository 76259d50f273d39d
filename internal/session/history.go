// Package session owns the lifetime of one live voice conversation: it wires
// the ingress gate, the STT streamer, the turn controller, and the generation
// pipeline together, supervises their goroutines, and keeps the in-memory
// conversation history.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mynah-ai/mynah/pkg/memory"
	"github.com/mynah-ai/mynah/pkg/provider/llm"
	"github.com/mynah-ai/mynah/pkg/types"
)

// charsPerToken is the heuristic ratio for token estimation. English text
// averages about 4 characters per token across common tokenizers, which is
// close enough for a soft cap and avoids a tokenizer dependency.
const charsPerToken = 4

// DefaultHistoryCapTokens is the soft cap on estimated history tokens before
// the oldest messages are folded into the running summary.
const DefaultHistoryCapTokens = 6000

// summaryPrompt instructs the model when folding old history.
const summaryPrompt = `Summarize this voice conversation between a user and an assistant.
Preserve facts the user stated, questions still open, decisions made, and commitments the
assistant gave. Be concise; write plain prose, no lists.`

// History is the in-memory conversation log for one session. It implements
// memory.HistoryStore so prompt assembly can read it directly; writes are
// mirrored best-effort into a persistent store when one is configured.
//
// The log is soft-capped: when the estimated token count exceeds the cap,
// the oldest half of the messages is folded into a running summary with one
// LLM call. The summary surfaces as a leading system message in Recent.
type History struct {
	sessionID string
	capTokens int
	llm       llm.Provider
	store     memory.HistoryStore
	log       *slog.Logger

	mu      sync.Mutex
	msgs    []types.Message
	tokens  int
	summary string
	folding bool
}

var _ memory.HistoryStore = (*History)(nil)

// NewHistory builds the history for sessionID. provider may be nil, in which
// case the cap drops oldest messages instead of summarizing them. store may
// be nil for a purely in-memory log. capTokens <= 0 selects the default.
func NewHistory(sessionID string, capTokens int, provider llm.Provider, store memory.HistoryStore, log *slog.Logger) *History {
	if capTokens <= 0 {
		capTokens = DefaultHistoryCapTokens
	}
	if log == nil {
		log = slog.Default()
	}
	return &History{
		sessionID: sessionID,
		capTokens: capTokens,
		llm:       provider,
		store:     store,
		log:       log,
	}
}

// Load replaces the in-memory log with the persisted one. Used when a
// session resumes. A nil store is a no-op.
func (h *History) Load(ctx context.Context) error {
	if h.store == nil {
		return nil
	}
	msgs, err := h.store.Recent(ctx, h.sessionID, 0)
	if err != nil {
		return fmt.Errorf("session: load history: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = msgs
	h.tokens = 0
	for _, m := range msgs {
		h.tokens += estimateTokens(m)
	}
	h.summary = ""
	return nil
}

// Append records msg, mirrors it to the persistent store, and folds the
// oldest messages into the summary when the soft cap is exceeded. The
// internal lock is released around the summarization LLM call.
func (h *History) Append(ctx context.Context, sessionID string, msg types.Message) error {
	h.mu.Lock()
	h.msgs = append(h.msgs, msg)
	h.tokens += estimateTokens(msg)
	needFold := h.overCapLocked() && !h.folding
	if needFold {
		h.folding = true
	}
	h.mu.Unlock()

	if h.store != nil {
		if err := h.store.Append(ctx, sessionID, msg); err != nil {
			h.log.Warn("history mirror append failed",
				"session_id", sessionID, "error", err)
		}
	}

	if needFold {
		h.fold(ctx)
	}
	return nil
}

// Recent returns the summary (as a system message, when present) followed by
// the most recent messages. limit <= 0 returns everything; otherwise the
// result holds at most limit messages including the summary.
func (h *History) Recent(_ context.Context, _ string, limit int) ([]types.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []types.Message
	tail := h.msgs
	if h.summary != "" {
		out = append(out, types.Message{
			Role:    types.RoleSystem,
			Content: "Conversation so far: " + h.summary,
		})
		if limit > 0 && len(tail) > limit-1 {
			tail = tail[len(tail)-(limit-1):]
		}
	} else if limit > 0 && len(tail) > limit {
		tail = tail[len(tail)-limit:]
	}
	return append(out, tail...), nil
}

// Count returns the number of stored messages, counting the summary as one.
func (h *History) Count(context.Context, string) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.msgs)
	if h.summary != "" {
		n++
	}
	return n, nil
}

// Trim drops the oldest messages so at most keep remain. keep == 0 also
// clears the summary.
func (h *History) Trim(_ context.Context, _ string, keep int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if keep <= 0 {
		h.msgs = nil
		h.tokens = 0
		h.summary = ""
		return nil
	}
	for len(h.msgs) > keep {
		h.tokens -= estimateTokens(h.msgs[0])
		h.msgs = h.msgs[1:]
	}
	return nil
}

// overCapLocked reports whether the soft cap is exceeded with enough
// messages to make folding worthwhile.
func (h *History) overCapLocked() bool {
	return h.tokens+len(h.summary)/charsPerToken > h.capTokens && len(h.msgs) > 2
}

// fold compresses the oldest half of the log. With no LLM the messages are
// simply dropped. A failed summarization keeps the messages and retries on
// a later Append.
func (h *History) fold(ctx context.Context) {
	h.mu.Lock()
	half := len(h.msgs) / 2
	oldest := make([]types.Message, half)
	copy(oldest, h.msgs[:half])
	prior := h.summary
	h.mu.Unlock()

	var (
		summary string
		err     error
	)
	if h.llm != nil {
		summary, err = h.summarize(ctx, prior, oldest)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.folding = false
	if err != nil {
		h.log.Warn("history summarization failed, keeping full log",
			"session_id", h.sessionID, "error", err)
		return
	}
	for _, m := range h.msgs[:half] {
		h.tokens -= estimateTokens(m)
	}
	h.msgs = h.msgs[half:]
	h.summary = summary
}

// summarize runs one LLM call folding prior and oldest into a new summary.
func (h *History) summarize(ctx context.Context, prior string, oldest []types.Message) (string, error) {
	var sb strings.Builder
	if prior != "" {
		fmt.Fprintf(&sb, "[earlier summary]: %s\n", prior)
	}
	for _, m := range oldest {
		fmt.Fprintf(&sb, "[%s]: %s\n", m.Role, m.Content)
	}

	resp, err := h.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summaryPrompt,
		Messages: []types.Message{
			{Role: types.RoleUser, Content: sb.String()},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("session: summarize history: %w", err)
	}
	return resp.Content, nil
}

// estimateTokens approximates the token cost of one message.
func estimateTokens(m types.Message) int {
	chars := len(m.Role) + len(m.Content)
	tokens := chars / charsPerToken
	if tokens == 0 && chars > 0 {
		tokens = 1
	}
	return tokens
}
