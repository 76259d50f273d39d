package app

import (
	"context"
	"errors"
	"testing"

	"github.com/mynah-ai/mynah/internal/agent"
	"github.com/mynah-ai/mynah/internal/config"
	"github.com/mynah-ai/mynah/internal/transport/ws"
	"github.com/mynah-ai/mynah/pkg/provider/llm"
	llmmock "github.com/mynah-ai/mynah/pkg/provider/llm/mock"
	sttmock "github.com/mynah-ai/mynah/pkg/provider/stt/mock"
	ttsmock "github.com/mynah-ai/mynah/pkg/provider/tts/mock"
	vadmock "github.com/mynah-ai/mynah/pkg/provider/vad/mock"
)

func testProviders() Providers {
	return Providers{
		LLM: &llmmock.Provider{},
		STT: &sttmock.Provider{},
		TTS: &ttsmock.Provider{},
		VAD: &vadmock.Engine{},
	}
}

func testAgents(t *testing.T) agent.Store {
	t.Helper()
	store := agent.NewMemStore()
	err := store.Upsert(context.Background(), agent.Definition{
		ID:           "concierge",
		SystemPrompt: "You are a hotel concierge.",
		BufferPolicy: "high",
	})
	if err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	return store
}

func newTestManager(t *testing.T, maxSessions int) *Manager {
	t.Helper()
	cfg := config.Default()
	cfg.Server.MaxSessions = maxSessions
	return NewManager(cfg, nil, testAgents(t), testProviders(), Memory{}, nil, nil)
}

func TestManager_OpenAndRelease(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 4)

	sess, err := m.Open(context.Background(), "concierge")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if m.ActiveCount() != 1 {
		t.Errorf("ActiveCount = %d, want 1", m.ActiveCount())
	}

	sess.Stop()
	if m.ActiveCount() != 0 {
		t.Errorf("ActiveCount after Stop = %d, want 0", m.ActiveCount())
	}

	// Stop is idempotent; the slot is released once.
	sess.Stop()
	if m.ActiveCount() != 0 {
		t.Errorf("ActiveCount after double Stop = %d", m.ActiveCount())
	}
}

func TestManager_EnforcesSessionCap(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 1)

	first, err := m.Open(context.Background(), "concierge")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer first.Stop()

	if _, err := m.Open(context.Background(), "concierge"); !errors.Is(err, ws.ErrSessionLimit) {
		t.Fatalf("second Open = %v, want ErrSessionLimit", err)
	}

	first.Stop()
	second, err := m.Open(context.Background(), "concierge")
	if err != nil {
		t.Fatalf("Open after release: %v", err)
	}
	second.Stop()
}

func TestManager_UnknownAgent(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 4)
	if _, err := m.Open(context.Background(), "ghost"); !errors.Is(err, agent.ErrNotFound) {
		t.Fatalf("Open = %v, want agent.ErrNotFound", err)
	}
}

func TestManager_SessionConfigMergesDefinitionOverDefaults(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 4)
	def := agent.Definition{
		ID:           "concierge",
		SystemPrompt: "prompt",
		BufferPolicy: "high",
		Voice:        "alloy",
		Keywords:     []string{"Postgres"},
	}

	cfg, err := m.sessionConfig("s1", def)
	if err != nil {
		t.Fatalf("sessionConfig: %v", err)
	}
	if string(cfg.Policy) != "high" {
		t.Errorf("policy = %q, want definition override", cfg.Policy)
	}
	if cfg.SampleRate != 16000 || cfg.HistoryCapTokens != 6000 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Voice.ID != "alloy" || len(cfg.Keywords) != 1 {
		t.Errorf("definition fields lost: %+v", cfg)
	}

	// Empty definition policy falls back to the server default.
	def.BufferPolicy = ""
	cfg, err = m.sessionConfig("s2", def)
	if err != nil {
		t.Fatalf("sessionConfig: %v", err)
	}
	if string(cfg.Policy) != "medium" {
		t.Errorf("policy = %q, want server default", cfg.Policy)
	}
}

func TestManager_ResolvesProviderOverrides(t *testing.T) {
	t.Parallel()

	alt := &llmmock.Provider{}
	builds := 0
	reg := config.NewRegistry()
	reg.RegisterLLM("local", func(entry config.ProviderEntry) (llm.Provider, error) {
		builds++
		if entry.Name != "local" {
			t.Errorf("factory entry name = %q, want local", entry.Name)
		}
		if entry.Model != "gpt-4o-mini" {
			t.Errorf("factory entry model = %q, want the configured default", entry.Model)
		}
		return alt, nil
	})

	cfg := config.Default()
	cfg.Providers.LLM = config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"}
	m := NewManager(cfg, reg, testAgents(t), testProviders(), Memory{}, nil, nil)

	def := agent.Definition{ID: "a", Providers: agent.Providers{LLM: "local"}}
	ps, err := m.resolveProviders(def)
	if err != nil {
		t.Fatalf("resolveProviders: %v", err)
	}
	if ps.LLM != alt {
		t.Error("llm override was not applied")
	}
	if ps.STT != m.providers.STT || ps.TTS != m.providers.TTS {
		t.Error("unrelated stages changed")
	}

	// A second session with the same override reuses the cached instance.
	if _, err := m.resolveProviders(def); err != nil {
		t.Fatalf("resolveProviders again: %v", err)
	}
	if builds != 1 {
		t.Errorf("factory ran %d times, want 1", builds)
	}

	// Naming the configured default is not an override.
	ps, err = m.resolveProviders(agent.Definition{ID: "b", Providers: agent.Providers{LLM: "openai"}})
	if err != nil {
		t.Fatalf("resolveProviders default name: %v", err)
	}
	if ps.LLM != m.providers.LLM {
		t.Error("default-named override replaced the default provider")
	}

	// Unknown names surface the registry error.
	_, err = m.resolveProviders(agent.Definition{ID: "c", Providers: agent.Providers{LLM: "ghost"}})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("unknown override err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestManager_CloseAll(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 4)
	for range 3 {
		if _, err := m.Open(context.Background(), "concierge"); err != nil {
			t.Fatalf("Open: %v", err)
		}
	}
	if m.ActiveCount() != 3 {
		t.Fatalf("ActiveCount = %d, want 3", m.ActiveCount())
	}
	m.CloseAll()
	if m.ActiveCount() != 0 {
		t.Errorf("ActiveCount after CloseAll = %d, want 0", m.ActiveCount())
	}
}
