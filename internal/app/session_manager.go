package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mynah-ai/mynah/internal/agent"
	"github.com/mynah-ai/mynah/internal/config"
	"github.com/mynah-ai/mynah/internal/observe"
	"github.com/mynah-ai/mynah/internal/pipeline"
	"github.com/mynah-ai/mynah/internal/report"
	"github.com/mynah-ai/mynah/internal/resilience"
	"github.com/mynah-ai/mynah/internal/session"
	"github.com/mynah-ai/mynah/internal/transport/ws"
	"github.com/mynah-ai/mynah/pkg/memory"
	"github.com/mynah-ai/mynah/pkg/provider/embeddings"
	"github.com/mynah-ai/mynah/pkg/provider/llm"
	"github.com/mynah-ai/mynah/pkg/provider/stt"
	"github.com/mynah-ai/mynah/pkg/provider/tts"
	"github.com/mynah-ai/mynah/pkg/provider/vad"
	"github.com/mynah-ai/mynah/pkg/types"

	"go.opentelemetry.io/otel/metric"
)

// Providers holds the default provider for each pipeline stage, created from
// the config registry at startup. Embeddings may be nil when retrieval is
// disabled.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
	VAD        vad.Engine
	Embeddings embeddings.Provider
}

// Memory bundles the optional persistence handles. Both nil means sessions
// run on in-memory history without retrieval.
type Memory struct {
	// History persists conversation logs across sessions.
	History memory.HistoryStore

	// RetrieverFor returns the knowledge retriever scoped to one agent,
	// embedding queries with the given provider. Nil disables retrieval.
	RetrieverFor func(agentID string, embedder embeddings.Provider) memory.Retriever
}

// Manager tracks live sessions, enforces the concurrency cap, and resolves
// agent definitions into running sessions.
type Manager struct {
	defaults  config.Session
	maxActive int
	agents    agent.Store
	providers Providers
	registry  *config.Registry
	entries   config.Providers
	mem       Memory
	reporter  *report.Writer
	breaker   *resilience.Breaker
	metrics   *observe.Metrics
	log       *slog.Logger

	seq uint64

	// provMu guards the per-name caches of override providers.
	provMu   sync.Mutex
	llmCache map[string]llm.Provider
	sttCache map[string]stt.Provider
	ttsCache map[string]tts.Provider
	embCache map[string]embeddings.Provider

	mu     sync.Mutex
	active map[string]*managedSession
}

var _ ws.Opener = (*Manager)(nil)

// NewManager builds a Manager. reg resolves per-agent provider overrides
// and may be nil to pin every session to the defaults. reporter may be nil.
func NewManager(cfg *config.Config, reg *config.Registry, agents agent.Store, providers Providers, mem Memory, reporter *report.Writer, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		defaults:  cfg.Session,
		maxActive: cfg.Server.MaxSessions,
		agents:    agents,
		providers: providers,
		registry:  reg,
		entries:   cfg.Providers,
		mem:       mem,
		reporter:  reporter,
		breaker:   resilience.NewBreaker(resilience.BreakerConfig{Name: "retrieval"}, log),
		metrics:   observe.DefaultMetrics(),
		log:       log,
		llmCache:  make(map[string]llm.Provider),
		sttCache:  make(map[string]stt.Provider),
		ttsCache:  make(map[string]tts.Provider),
		embCache:  make(map[string]embeddings.Provider),
	}
}

// Open implements ws.Opener: it resolves the agent definition, builds the
// session, and registers it against the cap. The returned session releases
// its slot on Stop.
func (m *Manager) Open(ctx context.Context, agentID string) (ws.Session, error) {
	def, err := m.agents.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if len(m.active) >= m.maxActive {
		m.mu.Unlock()
		return nil, ws.ErrSessionLimit
	}
	m.mu.Unlock()

	sessionID := fmt.Sprintf("%s-%d-%d", agentID, time.Now().Unix(), atomic.AddUint64(&m.seq, 1))
	cfg, err := m.sessionConfig(sessionID, def)
	if err != nil {
		return nil, err
	}

	providers, err := m.resolveProviders(def)
	if err != nil {
		return nil, err
	}

	var retriever memory.Retriever
	if def.Retrieval.Enabled && m.mem.RetrieverFor != nil && providers.Embeddings != nil {
		retriever = resilience.NewGuardedRetriever(m.mem.RetrieverFor(agentID, providers.Embeddings), m.breaker, m.log)
	}

	sess, err := session.New(ctx, cfg, session.Deps{
		VAD:          providers.VAD,
		STT:          providers.STT,
		LLM:          providers.LLM,
		TTS:          providers.TTS,
		Retriever:    retriever,
		HistoryStore: m.mem.History,
		Log:          m.log,
	})
	if err != nil {
		return nil, fmt.Errorf("app: create session %s: %w", sessionID, err)
	}

	managed := &managedSession{Session: sess, release: func() { m.release(sessionID) }}

	m.mu.Lock()
	if len(m.active) >= m.maxActive {
		m.mu.Unlock()
		sess.Stop()
		return nil, ws.ErrSessionLimit
	}
	if m.active == nil {
		m.active = make(map[string]*managedSession)
	}
	m.active[sessionID] = managed
	count := len(m.active)
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(ctx, 1,
		metric.WithAttributes(observe.Attr("agent_id", agentID)))
	m.log.Info("session opened", "session", sessionID, "agent", agentID, "active", count)
	return managed, nil
}

// sessionConfig merges an agent definition over the server defaults.
func (m *Manager) sessionConfig(sessionID string, def agent.Definition) (session.Config, error) {
	policyName := def.BufferPolicy
	if policyName == "" {
		policyName = m.defaults.BufferPolicy
	}
	policy, err := pipeline.ParseBufferPolicy(policyName)
	if err != nil {
		return session.Config{}, fmt.Errorf("app: agent %s: %w", def.ID, err)
	}

	return session.Config{
		SessionID:         sessionID,
		AgentID:           def.ID,
		SystemPrompt:      def.SystemPrompt,
		Voice:             tts.Voice{ID: def.Voice},
		Temperature:       def.Temperature,
		MaxTokens:         def.MaxTokens,
		Policy:            policy,
		Keywords:          def.Keywords,
		TopK:              def.Retrieval.TopK,
		CacheTTL:          def.Retrieval.CacheTTL.Std(),
		HistoryCapTokens:  m.defaults.HistoryCapTokens,
		SampleRate:        m.defaults.SampleRate,
		Language:          m.defaults.Language,
		SpeechThreshold:   m.defaults.SpeechThreshold,
		SilenceThreshold:  m.defaults.SilenceThreshold,
		Hangover:          m.defaults.Hangover.Std(),
		WaitForTranscript: m.defaults.WaitForTranscript.Std(),
		EgressQueueCap:    m.defaults.EgressQueueCap,
		OnTurnEnd:         m.turnHook(sessionID, def.ID),
	}, nil
}

// resolveProviders applies the definition's per-stage provider overrides on
// top of the server defaults. An override is built through the registry
// using the configured entry for that stage with the name swapped, and
// cached so repeated sessions share one instance.
func (m *Manager) resolveProviders(def agent.Definition) (Providers, error) {
	ps := m.providers
	ov := def.Providers
	if ov == (agent.Providers{}) {
		return ps, nil
	}
	if m.registry == nil {
		m.log.Warn("agent pins providers but no registry is configured, using defaults",
			"agent", def.ID)
		return ps, nil
	}

	m.provMu.Lock()
	defer m.provMu.Unlock()

	if name := ov.LLM; name != "" && name != m.entries.LLM.Name {
		p, ok := m.llmCache[name]
		if !ok {
			var err error
			if p, err = m.registry.CreateLLM(named(m.entries.LLM, name)); err != nil {
				return ps, fmt.Errorf("app: agent %s: %w", def.ID, err)
			}
			m.llmCache[name] = p
		}
		ps.LLM = p
	}
	if name := ov.STT; name != "" && name != m.entries.STT.Name {
		p, ok := m.sttCache[name]
		if !ok {
			var err error
			if p, err = m.registry.CreateSTT(named(m.entries.STT, name)); err != nil {
				return ps, fmt.Errorf("app: agent %s: %w", def.ID, err)
			}
			m.sttCache[name] = p
		}
		ps.STT = p
	}
	if name := ov.TTS; name != "" && name != m.entries.TTS.Name {
		p, ok := m.ttsCache[name]
		if !ok {
			var err error
			if p, err = m.registry.CreateTTS(named(m.entries.TTS, name)); err != nil {
				return ps, fmt.Errorf("app: agent %s: %w", def.ID, err)
			}
			m.ttsCache[name] = p
		}
		ps.TTS = p
	}
	if name := ov.Embeddings; name != "" && name != m.entries.Embeddings.Name {
		p, ok := m.embCache[name]
		if !ok {
			var err error
			if p, err = m.registry.CreateEmbeddings(named(m.entries.Embeddings, name)); err != nil {
				return ps, fmt.Errorf("app: agent %s: %w", def.ID, err)
			}
			m.embCache[name] = p
		}
		ps.Embeddings = p
	}
	return ps, nil
}

// named returns entry with the provider name replaced. The key, base URL,
// model, and options of the configured entry carry over.
func named(entry config.ProviderEntry, name string) config.ProviderEntry {
	entry.Name = name
	return entry
}

// turnHook composes the report append onto the controller's end-of-turn
// callback.
func (m *Manager) turnHook(sessionID, agentID string) func(string, types.TurnTelemetry) {
	if m.reporter == nil {
		return nil
	}
	return m.reporter.TurnHook(sessionID, agentID)
}

func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	_, ok := m.active[sessionID]
	if ok {
		delete(m.active, sessionID)
	}
	count := len(m.active)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.metrics.ActiveSessions.Add(context.Background(), -1)
	m.log.Info("session released", "session", sessionID, "active", count)
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// CloseAll stops every live session. Used during shutdown after the HTTP
// listeners have stopped accepting connections.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*managedSession, 0, len(m.active))
	for _, s := range m.active {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		s.Stop()
	}
}

// managedSession couples a session to its manager slot: Stop releases the
// slot exactly once.
type managedSession struct {
	*session.Session
	release     func()
	releaseOnce sync.Once
}

func (s *managedSession) Stop() {
	s.Session.Stop()
	s.releaseOnce.Do(s.release)
}
