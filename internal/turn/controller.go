package turn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mynah-ai/mynah/internal/egress"
	"github.com/mynah-ai/mynah/internal/observe"
	"github.com/mynah-ai/mynah/pkg/types"
)

// DefaultWaitForTranscript is how long the controller waits for a late final
// transcript after speech ends with an empty turn buffer.
const DefaultWaitForTranscript = 2 * time.Second

const defaultEventQueueCap = 256

// TurnRunner starts the generation+TTS pipeline for a dispatched turn. Run
// must return immediately; the outcome arrives as turn_done / turn_error /
// tts_chunk events carrying gen. Warm speculatively heats the retrieval
// cache from a partial transcript.
type TurnRunner interface {
	Run(ctx context.Context, gen uint64, userText string)
	Warm(partialText string)
}

// Config tunes one session's controller.
type Config struct {
	SessionID string
	AgentID   string

	// WaitForTranscript is the WaitingForTranscript timeout.
	WaitForTranscript time.Duration

	// EventQueueCap bounds the controller event queue.
	EventQueueCap int

	// OnTurnEnd, when set, receives the outcome ("completed", "interrupted",
	// "error") and the final telemetry of every dispatched turn.
	OnTurnEnd func(outcome string, telemetry types.TurnTelemetry)
}

func (c Config) withDefaults() Config {
	if c.WaitForTranscript <= 0 {
		c.WaitForTranscript = DefaultWaitForTranscript
	}
	if c.EventQueueCap <= 0 {
		c.EventQueueCap = defaultEventQueueCap
	}
	return c
}

// Controller is the session's state machine. All session state lives here
// and is mutated only by the Run goroutine, which processes posted events
// one at a time. Pipeline tasks talk to it exclusively through Post.
type Controller struct {
	cfg     Config
	out     *egress.Queue
	runner  TurnRunner
	metrics *observe.Metrics
	log     *slog.Logger

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	// State below is owned by the Run goroutine. telemetry and state are
	// additionally readable through mu for Snapshot and State.
	turnBuf    []string
	gen        uint64
	waitEpoch  uint64
	active     bool
	cancelTurn context.CancelFunc

	mu        sync.Mutex
	state     State
	telemetry types.TurnTelemetry
}

var _ EventSink = (*Controller)(nil)

// NewController builds a Controller delivering egress through out and
// dispatching turns on runner.
func NewController(cfg Config, out *egress.Queue, runner TurnRunner, log *slog.Logger) *Controller {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		cfg:     cfg,
		out:     out,
		runner:  runner,
		metrics: observe.DefaultMetrics(),
		log:     log.With("session_id", cfg.SessionID),
		events:  make(chan Event, cfg.EventQueueCap),
		done:    make(chan struct{}),
	}
}

// Post queues an event for processing. Safe from any goroutine; returns
// without queueing once the controller has stopped.
func (c *Controller) Post(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// State returns the current controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the current turn telemetry.
func (c *Controller) Snapshot() *types.TurnTelemetry {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := c.telemetry
	return &cp
}

// Run processes events until ctx is cancelled or a fatal session error
// occurs. It is the only goroutine that mutates session state.
func (c *Controller) Run(ctx context.Context) error {
	defer c.closeOnce.Do(func() { close(c.done) })
	defer c.cancelActive()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.events:
			if err := c.handle(ctx, ev); err != nil {
				return err
			}
		}
	}
}

// handle dispatches one event. An unhandled event type is a broken
// invariant and fatal to the session.
func (c *Controller) handle(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventVADStart:
		c.handleVADStart()
	case EventVADEnd:
		c.handleVADEnd(ctx)
	case EventTranscript:
		c.handleTranscript(ctx, ev.Transcript)
	case EventLLMToken:
		// Reserved: token flow does not pass through the controller.
	case EventTTSChunk:
		c.handleTTSChunk(ev)
	case EventTurnDone:
		c.handleTurnDone(ev)
	case EventTurnError:
		c.handleTurnError(ev)
	case EventInterrupt:
		c.interrupt()
	case EventWaitTimeout:
		c.handleWaitTimeout(ev)
	case EventSessionError:
		c.out.Push(egress.Error(ev.Err.Error()))
		return fmt.Errorf("turn: fatal session error: %w", ev.Err)
	default:
		err := fmt.Errorf("turn: unhandled event type %q", ev.Type)
		c.out.Push(egress.Error(err.Error()))
		return err
	}
	return nil
}

// ─── event handlers (Run goroutine only) ───

// handleVADStart begins a new turn. Any speech start is treated as potential
// barge-in first: the previous response may still be generating, or its
// audio may still be buffered after generation finished.
func (c *Controller) handleVADStart() {
	c.interrupt()

	c.mutateTelemetry(func(t *types.TurnTelemetry) {
		t.Reset()
		t.VADSpeechDetected = true
	})
	c.setState(StateListening)
	c.out.Push(egress.Signal(egress.TypeSpeechStart))
	c.emitTelemetry()
}

func (c *Controller) handleVADEnd(ctx context.Context) {
	c.mutateTelemetry(func(t *types.TurnTelemetry) {
		t.VADEndOfSpeechDetected = true
		t.VADEndOfSpeechDetectedTime = time.Now()
		t.Recompute()
	})
	c.out.Push(egress.Signal(egress.TypeSpeechEnd))
	c.emitTelemetry()

	if c.State() != StateListening {
		return
	}
	if len(c.turnBuf) > 0 {
		c.dispatch(ctx)
		return
	}
	c.setState(StateWaitingForTranscript)
	c.armWaitTimer()
}

// armWaitTimer opens the wait window. Each entry into WaitingForTranscript
// starts a new epoch; a timer armed for an earlier wait finds the epoch
// advanced and is discarded, so it can never cut a later wait short.
func (c *Controller) armWaitTimer() {
	c.waitEpoch++
	epoch := c.waitEpoch
	time.AfterFunc(c.cfg.WaitForTranscript, func() {
		c.Post(Event{Type: EventWaitTimeout, Gen: epoch})
	})
}

func (c *Controller) handleWaitTimeout(ev Event) {
	if c.State() != StateWaitingForTranscript || ev.Gen != c.waitEpoch {
		return
	}
	c.setState(StateListening)
}

func (c *Controller) handleTranscript(ctx context.Context, t types.Transcript) {
	c.out.Push(egress.TranscriptUpdate(t.Text, t.IsFinal))
	c.mutateTelemetry(func(tt *types.TurnTelemetry) {
		tt.STTStreamingStarted = true
		if t.IsFinal {
			tt.STTStreamingEnded = true
		}
	})
	c.emitTelemetry()

	if !t.IsFinal {
		c.runner.Warm(t.Text)
		return
	}
	if t.Text != "" {
		c.turnBuf = append(c.turnBuf, t.Text)
	}
	if c.State() == StateWaitingForTranscript && len(c.turnBuf) > 0 {
		c.dispatch(ctx)
	}
}

// dispatch joins the accumulated finals with single spaces, clears the
// buffer, and starts the generation pipeline for a new turn generation.
func (c *Controller) dispatch(ctx context.Context) {
	text := strings.Join(c.turnBuf, " ")
	c.turnBuf = nil

	c.gen++
	tctx, cancel := context.WithCancel(ctx)
	c.cancelTurn = cancel
	c.active = true

	c.setState(StateThinking)
	c.mutateTelemetry(func(t *types.TurnTelemetry) {
		t.LLMStreamingStarted = true
	})
	c.out.Push(egress.Signal(egress.TypeBotRespondingStart))
	c.emitTelemetry()
	c.metrics.RecordTurnStarted(ctx, c.cfg.AgentID)

	c.log.Debug("turn dispatched", "generation", c.gen, "text", text)
	c.runner.Run(tctx, c.gen, text)
}

func (c *Controller) handleTTSChunk(ev Event) {
	if !c.active || ev.Gen != c.gen {
		c.dropStaleAudio()
		return
	}
	if c.State() != StateThinking {
		return
	}
	c.setState(StateSpeaking)
	c.mutateTelemetry(func(t *types.TurnTelemetry) {
		t.TTSStreamingStarted = true
		t.EgressStarted = true
		t.EgressStartedTime = time.Now()
		t.Recompute()
	})
	c.emitTelemetry()
}

func (c *Controller) handleTurnDone(ev Event) {
	if !c.active || ev.Gen != c.gen {
		c.dropStaleAudio()
		return
	}
	c.endTurn()
	c.mutateTelemetry(func(t *types.TurnTelemetry) {
		t.LLMStreamingEnded = true
		t.TTSStreamingEnded = true
		t.EgressEnded = true
		t.Recompute()
	})
	c.out.Push(egress.Signal(egress.TypeBotRespondingEnd))
	c.emitTelemetry()

	snap := c.Snapshot()
	c.metrics.RecordTurnCompleted(context.Background(), c.cfg.AgentID, snap.AgentResponseDelay)
	c.reportTurn("completed")
	c.log.Debug("turn completed", "agent_response_delay", snap.AgentResponseDelay)
}

func (c *Controller) handleTurnError(ev Event) {
	if !c.active || ev.Gen != c.gen {
		c.dropStaleAudio()
		return
	}
	c.log.Warn("turn failed", "error", ev.Err)
	c.out.Push(egress.Error(ev.Err.Error()))
	c.endTurn()
	c.mutateTelemetry(func(t *types.TurnTelemetry) {
		t.EgressEnded = true
	})
	c.out.Push(egress.Signal(egress.TypeBotRespondingEnd))
	c.emitTelemetry()
	c.reportTurn("error")
}

// interrupt handles barge-in: when a response is generating or its audio is
// still queued, cancel it, drop the queued audio, and notify the client with
// interrupt then bot_response_interrupted. A no-op otherwise.
func (c *Controller) interrupt() {
	drained := c.out.DrainAudio()
	if !c.active && drained == 0 {
		return
	}
	c.endTurn()
	c.out.Push(egress.Signal(egress.TypeInterrupt))
	c.out.Push(egress.Signal(egress.TypeBotInterrupted))
	c.mutateTelemetry(func(t *types.TurnTelemetry) {
		t.EgressEnded = true
	})
	c.emitTelemetry()
	c.metrics.RecordTurnInterrupted(context.Background(), c.cfg.AgentID)
	c.reportTurn("interrupted")
	c.log.Debug("turn interrupted", "drained_audio_chunks", drained)
}

// dropStaleAudio removes chunks a cancelled stream pushed to egress after
// the interrupt drain; the cancelled stream's trailing tts_chunk and
// turn_done events arrive after its last push, so draining here catches
// every straggler. Only safe while no turn is active: a live turn's queued
// audio must survive.
func (c *Controller) dropStaleAudio() {
	if c.active {
		return
	}
	if n := c.out.DrainAudio(); n > 0 {
		c.log.Debug("dropped audio pushed after interrupt", "chunks", n)
	}
}

// endTurn cancels the active turn's context, bumps the generation so stale
// events are shed, and returns to Listening.
func (c *Controller) endTurn() {
	c.cancelActive()
	c.active = false
	c.gen++
	c.setState(StateListening)
}

func (c *Controller) cancelActive() {
	if c.cancelTurn != nil {
		c.cancelTurn()
		c.cancelTurn = nil
	}
}

// ─── state and telemetry accessors ───

func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *Controller) mutateTelemetry(fn func(*types.TurnTelemetry)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.telemetry)
}

func (c *Controller) emitTelemetry() {
	c.mu.Lock()
	snap := c.telemetry
	c.mu.Unlock()
	c.out.Push(egress.TelemetryUpdate(snap))
}

func (c *Controller) reportTurn(outcome string) {
	if c.cfg.OnTurnEnd == nil {
		return
	}
	c.cfg.OnTurnEnd(outcome, *c.Snapshot())
}
