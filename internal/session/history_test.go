package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	memmock "github.com/mynah-ai/mynah/pkg/memory/mock"
	"github.com/mynah-ai/mynah/pkg/provider/llm"
	llmmock "github.com/mynah-ai/mynah/pkg/provider/llm/mock"
	"github.com/mynah-ai/mynah/pkg/types"
)

func appendMsg(t *testing.T, h *History, role, content string) {
	t.Helper()
	if err := h.Append(context.Background(), "s1", types.Message{Role: role, Content: content}); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func TestHistory_AppendAndRecent(t *testing.T) {
	t.Parallel()
	h := NewHistory("s1", 0, nil, nil, nil)
	appendMsg(t, h, types.RoleUser, "hello")
	appendMsg(t, h, types.RoleAssistant, "hi")
	appendMsg(t, h, types.RoleUser, "how are you")

	all, err := h.Recent(context.Background(), "s1", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(all) != 3 || all[0].Content != "hello" || all[2].Content != "how are you" {
		t.Errorf("Recent(0) = %+v", all)
	}

	tail, _ := h.Recent(context.Background(), "s1", 2)
	if len(tail) != 2 || tail[0].Content != "hi" {
		t.Errorf("Recent(2) = %+v", tail)
	}

	if n, _ := h.Count(context.Background(), "s1"); n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

func TestHistory_MirrorsToStore(t *testing.T) {
	t.Parallel()
	store := &memmock.HistoryStore{}
	h := NewHistory("s1", 0, nil, store, nil)
	appendMsg(t, h, types.RoleUser, "hello")

	if len(store.Appends) != 1 || store.Appends[0].Message.Content != "hello" {
		t.Errorf("store appends = %+v", store.Appends)
	}
	if store.Appends[0].SessionID != "s1" {
		t.Errorf("mirrored session id = %q", store.Appends[0].SessionID)
	}
}

func TestHistory_MirrorFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	store := &memmock.HistoryStore{AppendErr: errors.New("pg down")}
	h := NewHistory("s1", 0, nil, store, nil)
	appendMsg(t, h, types.RoleUser, "hello")

	all, _ := h.Recent(context.Background(), "s1", 0)
	if len(all) != 1 {
		t.Errorf("in-memory log = %+v, want the message despite mirror failure", all)
	}
}

func TestHistory_FoldsOldestIntoSummary(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "they discussed the weather"},
	}
	// Cap low enough that the fourth message trips the fold.
	h := NewHistory("s1", 10, provider, nil, nil)
	appendMsg(t, h, types.RoleUser, "is it raining today")
	appendMsg(t, h, types.RoleAssistant, "yes, heavily")
	appendMsg(t, h, types.RoleUser, "should I take an umbrella")
	appendMsg(t, h, types.RoleAssistant, "definitely take one")

	if len(provider.CompleteCalls) == 0 {
		t.Fatal("summarizer never called")
	}
	sent := provider.CompleteCalls[0].Messages[0].Content
	if !strings.Contains(sent, "is it raining today") {
		t.Errorf("summarizer input = %q, want oldest messages", sent)
	}

	all, _ := h.Recent(context.Background(), "s1", 0)
	if all[0].Role != types.RoleSystem || !strings.Contains(all[0].Content, "they discussed the weather") {
		t.Errorf("Recent head = %+v, want summary system message", all[0])
	}
	// The newest messages survive verbatim.
	if last := all[len(all)-1]; last.Content != "definitely take one" {
		t.Errorf("Recent tail = %+v", last)
	}
}

func TestHistory_SummaryCountsAgainstRecentLimit(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "short summary"},
	}
	h := NewHistory("s1", 10, provider, nil, nil)
	for i := 0; i < 6; i++ {
		appendMsg(t, h, types.RoleUser, "a fairly long message about nothing in particular")
	}

	tail, _ := h.Recent(context.Background(), "s1", 3)
	if len(tail) != 3 {
		t.Fatalf("Recent(3) = %d messages, want 3", len(tail))
	}
	if tail[0].Role != types.RoleSystem {
		t.Errorf("Recent(3)[0] = %+v, want summary first", tail[0])
	}
}

func TestHistory_FoldWithoutLLMDropsOldest(t *testing.T) {
	t.Parallel()
	h := NewHistory("s1", 10, nil, nil, nil)
	for i := 0; i < 4; i++ {
		appendMsg(t, h, types.RoleUser, "a fairly long message about nothing in particular")
	}

	all, _ := h.Recent(context.Background(), "s1", 0)
	if len(all) >= 4 {
		t.Errorf("log length = %d, want oldest dropped", len(all))
	}
	for _, m := range all {
		if m.Role == types.RoleSystem {
			t.Errorf("unexpected summary message %+v without an LLM", m)
		}
	}
}

func TestHistory_SummarizationFailureKeepsLog(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{CompleteErr: errors.New("model overloaded")}
	h := NewHistory("s1", 10, provider, nil, nil)
	for i := 0; i < 4; i++ {
		appendMsg(t, h, types.RoleUser, "a fairly long message about nothing in particular")
	}

	all, _ := h.Recent(context.Background(), "s1", 0)
	if len(all) != 4 {
		t.Errorf("log length = %d, want 4 kept after failed summarization", len(all))
	}
}

func TestHistory_LoadFromStore(t *testing.T) {
	t.Parallel()
	store := &memmock.HistoryStore{}
	ctx := context.Background()
	store.Append(ctx, "s1", types.Message{Role: types.RoleUser, Content: "earlier"})
	store.Append(ctx, "s1", types.Message{Role: types.RoleAssistant, Content: "reply"})

	h := NewHistory("s1", 0, nil, store, nil)
	if err := h.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	all, _ := h.Recent(ctx, "s1", 0)
	if len(all) != 2 || all[0].Content != "earlier" {
		t.Errorf("loaded history = %+v", all)
	}
}

func TestHistory_Trim(t *testing.T) {
	t.Parallel()
	h := NewHistory("s1", 0, nil, nil, nil)
	for _, c := range []string{"one", "two", "three"} {
		appendMsg(t, h, types.RoleUser, c)
	}

	h.Trim(context.Background(), "s1", 1)
	all, _ := h.Recent(context.Background(), "s1", 0)
	if len(all) != 1 || all[0].Content != "three" {
		t.Errorf("after Trim(1): %+v", all)
	}

	h.Trim(context.Background(), "s1", 0)
	if n, _ := h.Count(context.Background(), "s1"); n != 0 {
		t.Errorf("Count after Trim(0) = %d", n)
	}
}
