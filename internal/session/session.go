package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mynah-ai/mynah/internal/egress"
	"github.com/mynah-ai/mynah/internal/pipeline"
	"github.com/mynah-ai/mynah/internal/promptctx"
	"github.com/mynah-ai/mynah/internal/transcript/phonetic"
	"github.com/mynah-ai/mynah/internal/turn"
	"github.com/mynah-ai/mynah/pkg/audio"
	"github.com/mynah-ai/mynah/pkg/memory"
	"github.com/mynah-ai/mynah/pkg/provider/llm"
	"github.com/mynah-ai/mynah/pkg/provider/stt"
	"github.com/mynah-ai/mynah/pkg/provider/tts"
	"github.com/mynah-ai/mynah/pkg/provider/vad"
	"github.com/mynah-ai/mynah/pkg/types"
)

// vadFrameMs is the fixed VAD frame duration. Both the gate and the VAD
// session are configured with it.
const vadFrameMs = 20

// historyWriteTimeout bounds the post-turn history append, which runs off
// the voice path.
const historyWriteTimeout = 5 * time.Second

// Config is the per-session configuration, resolved from an agent
// definition before the session is created.
type Config struct {
	SessionID string
	AgentID   string

	// SystemPrompt, Voice, Temperature and MaxTokens shape generation.
	SystemPrompt string
	Voice        tts.Voice
	Temperature  float64
	MaxTokens    int

	// Policy selects how generated tokens are grouped into TTS units.
	Policy pipeline.BufferPolicy

	// Keywords are agent vocabulary: STT recognition hints and phonetic
	// correction targets for final transcripts.
	Keywords []string

	// Language is the BCP-47 recognition language. Empty auto-detects.
	Language string

	// TopK and CacheTTL tune retrieval; HistoryCapTokens soft-caps the
	// conversation log.
	TopK             int
	CacheTTL         time.Duration
	HistoryCapTokens int

	// SampleRate is the normalized ingress rate. Default 16000.
	SampleRate int

	// SpeechThreshold, SilenceThreshold and Hangover tune the VAD gate.
	SpeechThreshold  float64
	SilenceThreshold float64
	Hangover         time.Duration

	// WaitForTranscript bounds the wait for a final transcript after end
	// of speech.
	WaitForTranscript time.Duration

	// EgressQueueCap bounds the egress queue.
	EgressQueueCap int

	// OnTurnEnd receives the outcome and telemetry of every turn.
	OnTurnEnd func(outcome string, telemetry types.TurnTelemetry)
}

// Deps are the provider and storage handles a session runs on. Retriever
// and HistoryStore may be nil.
type Deps struct {
	VAD          vad.Engine
	STT          stt.Provider
	LLM          llm.Provider
	TTS          tts.Provider
	Retriever    memory.Retriever
	HistoryStore memory.HistoryStore
	Log          *slog.Logger
}

// Session is one live voice conversation. Audio goes in through Push,
// egress messages come out of Output; Run supervises the component
// goroutines until the context is cancelled or a fatal error occurs.
type Session struct {
	cfg Config
	log *slog.Logger

	out     *egress.Queue
	gate    *pipeline.Gate
	ingress *pipeline.Ingress
	stt     *pipeline.STTStreamer
	ctrl    *turn.Controller
	history *History

	cancelMu sync.Mutex
	cancel   context.CancelFunc
	stopped  bool
	stopOnce sync.Once
}

// eventRelay forwards pipeline events to the controller once it exists.
// It breaks the construction cycle between the generator (which needs an
// event sink) and the controller (which needs the generator as runner).
type eventRelay struct {
	ctrl atomic.Pointer[turn.Controller]
}

func (r *eventRelay) Post(ev turn.Event) {
	if c := r.ctrl.Load(); c != nil {
		c.Post(ev)
	}
}

// correctingSink rewrites final transcripts through the phonetic keyword
// corrector before they reach the controller. Partials pass through
// untouched; they are latency-critical and get re-emitted anyway.
type correctingSink struct {
	next      turn.EventSink
	corrector *phonetic.Corrector
}

func (s *correctingSink) Post(ev turn.Event) {
	if ev.Type == turn.EventTranscript && ev.Transcript.IsFinal {
		ev.Transcript.Text = s.corrector.Correct(ev.Transcript.Text)
	}
	s.next.Post(ev)
}

// New opens the provider sessions and wires the full pipeline:
// gate → ingress → STT → controller → generation → TTS → egress.
// The returned session is idle until Run is called.
func New(ctx context.Context, cfg Config, deps Deps) (*Session, error) {
	if cfg.Policy != "" && !cfg.Policy.IsValid() {
		return nil, fmt.Errorf("session: invalid buffer policy %q", cfg.Policy)
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = pipeline.DefaultIngressSampleRate
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("session", cfg.SessionID, "agent", cfg.AgentID)

	vadSession, err := deps.VAD.NewSession(vad.Config{
		SampleRate:       cfg.SampleRate,
		FrameSizeMs:      vadFrameMs,
		SpeechThreshold:  cfg.SpeechThreshold,
		SilenceThreshold: cfg.SilenceThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("session: open vad session: %w", err)
	}

	sttHandle, err := deps.STT.StartStream(ctx, stt.StreamConfig{
		SampleRate: cfg.SampleRate,
		Channels:   1,
		Language:   cfg.Language,
		Keywords:   cfg.Keywords,
	})
	if err != nil {
		vadSession.Close()
		return nil, fmt.Errorf("session: open stt stream: %w", err)
	}

	history := NewHistory(cfg.SessionID, cfg.HistoryCapTokens, deps.LLM, deps.HistoryStore, log)
	if err := history.Load(ctx); err != nil {
		log.Warn("history load failed, starting empty", "error", err)
	}

	assembler := promptAssembler(cfg, deps, history, log)
	out := egress.NewQueue(cfg.EgressQueueCap)
	relay := &eventRelay{}

	onComplete := func(userText, assistantText string) {
		hctx, hcancel := context.WithTimeout(context.Background(), historyWriteTimeout)
		defer hcancel()
		history.Append(hctx, cfg.SessionID, types.Message{
			Role: types.RoleUser, Content: userText, CreatedAt: time.Now(),
		})
		history.Append(hctx, cfg.SessionID, types.Message{
			Role: types.RoleAssistant, Content: assistantText, CreatedAt: time.Now(),
		})
	}

	gen := pipeline.NewGenerator(pipeline.GeneratorConfig{
		AgentID:     cfg.AgentID,
		SessionID:   cfg.SessionID,
		Policy:      cfg.Policy,
		Voice:       cfg.Voice,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}, deps.LLM, deps.TTS, assembler, out, relay, onComplete, log)

	ctrl := turn.NewController(turn.Config{
		SessionID:         cfg.SessionID,
		AgentID:           cfg.AgentID,
		WaitForTranscript: cfg.WaitForTranscript,
		OnTurnEnd:         cfg.OnTurnEnd,
	}, out, gen, log)
	relay.ctrl.Store(ctrl)

	gate := pipeline.NewGate(vadSession, pipeline.GateConfig{
		SpeechThreshold:  cfg.SpeechThreshold,
		SilenceThreshold: cfg.SilenceThreshold,
		Hangover:         cfg.Hangover,
	})

	ingress := pipeline.NewIngress(pipeline.IngressConfig{
		SampleRate:  cfg.SampleRate,
		VADFrameDur: vadFrameMs * time.Millisecond,
	}, gate, ctrl, out, cfg.SessionID, ctrl.Snapshot, log)

	sttSink := &correctingSink{next: ctrl, corrector: phonetic.NewCorrector(cfg.Keywords)}
	sttStreamer := pipeline.NewSTTStreamer(sttHandle, ingress.Frames(), sttSink, log)

	return &Session{
		cfg:     cfg,
		log:     log,
		out:     out,
		gate:    gate,
		ingress: ingress,
		stt:     sttStreamer,
		ctrl:    ctrl,
		history: history,
	}, nil
}

// promptAssembler builds the prompt assembly stage for the session.
func promptAssembler(cfg Config, deps Deps, history memory.HistoryStore, log *slog.Logger) *promptctx.Assembler {
	return promptctx.NewAssembler(promptctx.Config{
		SessionID:    cfg.SessionID,
		SystemPrompt: cfg.SystemPrompt,
		TopK:         cfg.TopK,
		CacheTTL:     cfg.CacheTTL,
	}, deps.Retriever, history, log)
}

// Run supervises the controller and STT goroutines until ctx is cancelled,
// Stop is called, or a component fails. The session is torn down on the way
// out; a plain cancellation returns nil.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancelMu.Lock()
	s.cancel = cancel
	stopped := s.stopped
	s.cancelMu.Unlock()
	if stopped {
		// Stop raced ahead of Run.
		cancel()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.ctrl.Run(gctx) })
	g.Go(func() error { return s.stt.Run(gctx) })

	err := g.Wait()
	s.Stop()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Push feeds caller audio into the pipeline. Safe to call before Run; audio
// queues up to the STT queue capacity.
func (s *Session) Push(frame audio.Frame) {
	s.ingress.Push(frame)
}

// Output is the egress queue the transport forwards to the client.
func (s *Session) Output() *egress.Queue {
	return s.out
}

// Snapshot returns the current turn telemetry.
func (s *Session) Snapshot() *types.TurnTelemetry {
	return s.ctrl.Snapshot()
}

// Stop tears the session down: cancels the supervisor, closes ingress (which
// drains the STT send loop), the VAD gate, and finally the egress queue.
// Idempotent and safe to call concurrently with Run.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.cancelMu.Lock()
		s.stopped = true
		if s.cancel != nil {
			s.cancel()
		}
		s.cancelMu.Unlock()

		s.ingress.Close()
		if err := s.gate.Close(); err != nil {
			s.log.Warn("closing vad gate", "error", err)
		}
		s.out.Close()
		s.log.Info("session stopped")
	})
}
