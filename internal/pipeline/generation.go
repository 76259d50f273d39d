package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mynah-ai/mynah/internal/egress"
	"github.com/mynah-ai/mynah/internal/observe"
	"github.com/mynah-ai/mynah/internal/promptctx"
	"github.com/mynah-ai/mynah/internal/turn"
	"github.com/mynah-ai/mynah/pkg/provider/llm"
	"github.com/mynah-ai/mynah/pkg/provider/tts"
)

// Generation budgets.
const (
	DefaultOverallBudget = 30 * time.Second
	DefaultIdleBudget    = 10 * time.Second
	DefaultTextQueueCap  = 64
	warmTimeout          = 3 * time.Second
)

// GeneratorConfig tunes one session's generation pipeline.
type GeneratorConfig struct {
	AgentID   string
	SessionID string

	// Policy selects token flushing into TTS units.
	Policy BufferPolicy

	// Voice is the TTS voice for this session.
	Voice tts.Voice

	// Temperature and MaxTokens pass through to the LLM.
	Temperature float64
	MaxTokens   int

	// OverallBudget bounds the whole generation; IdleBudget bounds the gap
	// between consecutive LLM chunks.
	OverallBudget time.Duration
	IdleBudget    time.Duration

	// TextQueueCap bounds the generation→TTS text-unit queue.
	TextQueueCap int
}

func (c GeneratorConfig) withDefaults() GeneratorConfig {
	if c.OverallBudget <= 0 {
		c.OverallBudget = DefaultOverallBudget
	}
	if c.IdleBudget <= 0 {
		c.IdleBudget = DefaultIdleBudget
	}
	if c.TextQueueCap <= 0 {
		c.TextQueueCap = DefaultTextQueueCap
	}
	return c
}

// Generator runs one dispatched turn: retrieval-augmented prompt assembly,
// the streaming LLM call, buffer-policy flushing into the TTS streamer, and
// audio forwarding to egress. It implements the controller's TurnRunner.
//
// The controller owns cancellation: Run's ctx is the per-turn context and
// cancelling it unwinds the whole chain. Outcomes come back to the
// controller as turn_done / turn_error events carrying the turn generation.
type Generator struct {
	cfg       GeneratorConfig
	llm       llm.Provider
	tts       tts.Provider
	assembler *promptctx.Assembler
	out       *egress.Queue
	sink      turn.EventSink
	metrics   *observe.Metrics
	log       *slog.Logger

	// onComplete, when set, receives the dispatched user text and the full
	// assistant reply after a clean completion. The session uses it to
	// record history.
	onComplete func(userText, assistantText string)
}

var _ turn.TurnRunner = (*Generator)(nil)

// NewGenerator builds a Generator. onComplete may be nil.
func NewGenerator(cfg GeneratorConfig, llmProvider llm.Provider, ttsProvider tts.Provider,
	assembler *promptctx.Assembler, out *egress.Queue, sink turn.EventSink,
	onComplete func(userText, assistantText string), log *slog.Logger) *Generator {
	if log == nil {
		log = slog.Default()
	}
	return &Generator{
		cfg:        cfg.withDefaults(),
		llm:        llmProvider,
		tts:        ttsProvider,
		assembler:  assembler,
		out:        out,
		sink:       sink,
		metrics:    observe.DefaultMetrics(),
		log:        log,
		onComplete: onComplete,
	}
}

// Run starts generation and TTS for one turn and returns immediately.
func (g *Generator) Run(ctx context.Context, gen uint64, userText string) {
	textQ := make(chan string, g.cfg.TextQueueCap)
	go g.speak(ctx, gen, textQ)
	go g.generate(ctx, gen, userText, textQ)
}

// Warm speculatively runs retrieval for a partial transcript so the context
// cache is hot at dispatch.
func (g *Generator) Warm(partialText string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), warmTimeout)
		defer cancel()
		g.assembler.Warm(ctx, partialText)
	}()
}

// generate streams the LLM response, forwards raw tokens to egress, and
// flushes policy units onto textQ. textQ is always closed on the way out:
// the closed channel is the TTS sentinel.
func (g *Generator) generate(ctx context.Context, gen uint64, userText string, textQ chan<- string) {
	defer close(textQ)

	gctx, cancel := context.WithTimeout(ctx, g.cfg.OverallBudget)
	defer cancel()

	// One span per turn; a cancelled (barged-in) turn ends it without error.
	gctx, span := observe.StartTurnSpan(gctx, g.cfg.SessionID, g.cfg.AgentID, gen)
	var turnErr error
	defer func() { observe.EndTurnSpan(span, turnErr) }()

	req, err := g.assembler.Assemble(gctx, userText)
	if err != nil {
		turnErr = fmt.Errorf("pipeline: prompt assembly: %w", err)
		g.finishErr(ctx, gen, turnErr)
		return
	}
	req.Temperature = g.cfg.Temperature
	req.MaxTokens = g.cfg.MaxTokens

	start := time.Now()
	stream, err := g.llm.StreamCompletion(gctx, req)
	if err != nil {
		g.metrics.RecordProviderError(ctx, "llm", "stream_start")
		turnErr = fmt.Errorf("pipeline: llm stream: %w", err)
		g.finishErr(ctx, gen, turnErr)
		return
	}

	flusher := NewFlusher(g.cfg.Policy)
	var full strings.Builder
	idle := time.NewTimer(g.cfg.IdleBudget)
	defer idle.Stop()

	for {
		select {
		case <-gctx.Done():
			if ctx.Err() != nil {
				return // interrupted or session stopping: silent unwind
			}
			turnErr = errors.New("response generation exceeded its time budget")
			g.finishErr(ctx, gen, turnErr)
			return

		case <-idle.C:
			turnErr = errors.New("Response stream stalled: no new tokens from the language model")
			g.finishErr(ctx, gen, turnErr)
			return

		case chunk, ok := <-stream:
			if !ok {
				g.complete(ctx, userText, full.String(), flusher, textQ, start)
				return
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(g.cfg.IdleBudget)

			if chunk.FinishReason == llm.FinishError {
				g.metrics.RecordProviderError(ctx, "llm", "stream")
				turnErr = fmt.Errorf("pipeline: llm stream failed: %s", chunk.Text)
				g.finishErr(ctx, gen, turnErr)
				return
			}
			if chunk.Text != "" {
				full.WriteString(chunk.Text)
				g.out.Push(egress.AssistantResponse(chunk.Text, false))
				for _, unit := range flusher.Append(chunk.Text) {
					if !send(gctx, textQ, unit) {
						return
					}
				}
			}
			if chunk.FinishReason != "" {
				g.complete(ctx, userText, full.String(), flusher, textQ, start)
				return
			}
		}
	}
}

// complete flushes the residue, emits the terminal assistant_response, and
// hands the full reply to the completion hook.
func (g *Generator) complete(ctx context.Context, userText, assistantText string,
	flusher *Flusher, textQ chan<- string, start time.Time) {
	if residue := flusher.Finish(); residue != "" {
		if !send(ctx, textQ, residue) {
			return
		}
	}
	g.out.Push(egress.AssistantResponse("", true))
	g.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if g.onComplete != nil {
		g.onComplete(userText, assistantText)
	}
}

// finishErr reports a turn failure unless the turn was cancelled, in which
// case the controller has already moved on.
func (g *Generator) finishErr(ctx context.Context, gen uint64, err error) {
	if ctx.Err() != nil {
		return
	}
	g.sink.Post(turn.Event{Type: turn.EventTurnError, Gen: gen, Err: err})
}

// send delivers a text unit with cancellation. Reports false when the turn
// context died first.
func send(ctx context.Context, textQ chan<- string, unit string) bool {
	select {
	case textQ <- unit:
		return true
	case <-ctx.Done():
		return false
	}
}
