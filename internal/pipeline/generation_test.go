package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mynah-ai/mynah/internal/egress"
	"github.com/mynah-ai/mynah/internal/promptctx"
	"github.com/mynah-ai/mynah/internal/turn"
	"github.com/mynah-ai/mynah/pkg/memory"
	memmock "github.com/mynah-ai/mynah/pkg/memory/mock"
	"github.com/mynah-ai/mynah/pkg/provider/llm"
	llmmock "github.com/mynah-ai/mynah/pkg/provider/llm/mock"
	"github.com/mynah-ai/mynah/pkg/provider/tts"
	ttsmock "github.com/mynah-ai/mynah/pkg/provider/tts/mock"
)

// batchTTS drains all text units first and only then emits its scripted
// chunks. It pins down the egress ordering for the full-turn test: all
// assistant text precedes any audio.
type batchTTS struct {
	chunks [][]byte
}

func (b *batchTTS) SynthesizeStream(ctx context.Context, text <-chan string, _ tts.Voice) (*tts.Stream, error) {
	out := make(chan []byte)
	go func() {
		defer close(out)
		for range text {
		}
		for _, c := range b.chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return tts.NewStream(out), nil
}

func (b *batchTTS) SampleRate() int { return 24000 }

func (b *batchTTS) ListVoices(context.Context) ([]tts.Voice, error) { return nil, nil }

func testAssembler() *promptctx.Assembler {
	return promptctx.NewAssembler(promptctx.Config{SessionID: "s1", SystemPrompt: "sys"}, nil, nil, nil)
}

func TestGenerator_FullTurnEgressOrder(t *testing.T) {
	t.Parallel()
	q := egress.NewQueue(256)
	sink := &sinkRec{}
	llmProv := &llmmock.Provider{Chunks: []llm.Chunk{
		{Text: "Hi"},
		{Text: " there"},
		{Text: ".", FinishReason: llm.FinishStop},
	}}
	ttsProv := &batchTTS{chunks: [][]byte{{0xA}, {0xB}, {0xC}}}

	g := NewGenerator(GeneratorConfig{Policy: BufferHigh}, llmProv, ttsProv, testAssembler(), q, sink, nil, nil)
	g.Run(context.Background(), 1, "hello")

	msgs := collectEgressUntil(t, q, egress.TypeAudioStreamEnd)

	wantTypes := []egress.Type{
		egress.TypeAssistantResponse, // "Hi"
		egress.TypeAssistantResponse, // " there"
		egress.TypeAssistantResponse, // "."
		egress.TypeAssistantResponse, // "", is_complete
		egress.TypeAudioChunk,
		egress.TypeAudioChunk,
		egress.TypeAudioChunk,
		egress.TypeAudioStreamEnd,
	}
	if len(msgs) != len(wantTypes) {
		t.Fatalf("egress = %v, want %v", typeNames(msgs), wantTypes)
	}
	for i, w := range wantTypes {
		if msgs[i].Type != w {
			t.Fatalf("egress[%d] = %q, want %q (full: %v)", i, msgs[i].Type, w, typeNames(msgs))
		}
	}
	if msgs[0].Text != "Hi" || msgs[0].IsComplete {
		t.Errorf("first token = %+v", msgs[0])
	}
	if msgs[3].Text != "" || !msgs[3].IsComplete {
		t.Errorf("terminal assistant_response = %+v", msgs[3])
	}
	if msgs[4].Audio[0] != 0xA || msgs[6].Audio[0] != 0xC {
		t.Errorf("audio order wrong: %x %x %x", msgs[4].Audio, msgs[5].Audio, msgs[6].Audio)
	}

	done := sink.waitForEvent(t, turn.EventTurnDone)
	if done.Gen != 1 {
		t.Errorf("turn_done gen = %d, want 1", done.Gen)
	}
	if got := sink.countEvents(turn.EventTTSChunk); got != 3 {
		t.Errorf("tts_chunk events = %d, want 3", got)
	}
	if got := sink.countEvents(turn.EventTurnError); got != 0 {
		t.Errorf("turn_error events = %d, want 0", got)
	}
}

func typeNames(msgs []egress.Message) []egress.Type {
	out := make([]egress.Type, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

func TestGenerator_BufferPolicyUnitsReachTTS(t *testing.T) {
	t.Parallel()
	q := egress.NewQueue(256)
	sink := &sinkRec{}
	llmProv := &llmmock.Provider{Chunks: []llm.Chunk{
		{Text: "one"}, {Text: " two"}, {Text: " three"},
		{Text: " four"}, {Text: " five,"}, {Text: " six."},
	}}
	ttsProv := &ttsmock.Provider{}

	g := NewGenerator(GeneratorConfig{Policy: BufferMedium}, llmProv, ttsProv, testAssembler(), q, sink, nil, nil)
	g.Run(context.Background(), 1, "count")

	sink.waitForEvent(t, turn.EventTurnDone)

	call, ok := ttsProv.LastStreamCall()
	if !ok {
		t.Fatal("TTS never called")
	}
	want := []string{"one two three four ", "five,", " six."}
	got := call.TextUnits()
	if len(got) != len(want) {
		t.Fatalf("text units = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("unit[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestGenerator_IdleTimeout(t *testing.T) {
	t.Parallel()
	q := egress.NewQueue(256)
	sink := &sinkRec{}
	llmProv := &llmmock.Provider{
		Chunks:     []llm.Chunk{{Text: "Hi"}, {Text: " never"}},
		ChunkDelay: 500 * time.Millisecond,
	}
	ttsProv := &ttsmock.Provider{}

	g := NewGenerator(GeneratorConfig{Policy: BufferNone, IdleBudget: 50 * time.Millisecond},
		llmProv, ttsProv, testAssembler(), q, sink, nil, nil)
	g.Run(context.Background(), 1, "hello")

	ev := sink.waitForEvent(t, turn.EventTurnError)
	if !strings.HasPrefix(ev.Err.Error(), "Response stream stalled") {
		t.Errorf("error = %q", ev.Err)
	}

	// The sentinel still reaches TTS, so the audio stream closes cleanly.
	sink.waitForEvent(t, turn.EventTurnDone)
	msgs := collectEgressUntil(t, q, egress.TypeAudioStreamEnd)
	for _, m := range msgs {
		if m.Type == egress.TypeAssistantResponse && m.IsComplete {
			t.Error("complete event emitted for a stalled stream")
		}
	}
}

func TestGenerator_OverallBudget(t *testing.T) {
	t.Parallel()
	q := egress.NewQueue(256)
	sink := &sinkRec{}
	llmProv := &llmmock.Provider{
		Chunks:     []llm.Chunk{{Text: "a"}, {Text: "b"}, {Text: "c"}, {Text: "d"}},
		ChunkDelay: 40 * time.Millisecond,
	}
	g := NewGenerator(GeneratorConfig{Policy: BufferNone, OverallBudget: 60 * time.Millisecond},
		llmProv, &ttsmock.Provider{}, testAssembler(), q, sink, nil, nil)
	g.Run(context.Background(), 1, "hello")

	ev := sink.waitForEvent(t, turn.EventTurnError)
	if !strings.Contains(ev.Err.Error(), "time budget") {
		t.Errorf("error = %q", ev.Err)
	}
}

func TestGenerator_CancellationIsSilent(t *testing.T) {
	t.Parallel()
	q := egress.NewQueue(256)
	sink := &sinkRec{}
	llmProv := &llmmock.Provider{
		Chunks:     []llm.Chunk{{Text: "Hi"}, {Text: " there"}, {Text: "."}},
		ChunkDelay: time.Second,
	}
	g := NewGenerator(GeneratorConfig{Policy: BufferNone}, llmProv, &ttsmock.Provider{},
		testAssembler(), q, sink, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	g.Run(ctx, 1, "hello")
	time.Sleep(50 * time.Millisecond)
	cancel()

	// The TTS side unwinds and reports turn_done (stale at the controller);
	// no error and no completion are reported for a cancelled turn.
	sink.waitForEvent(t, turn.EventTurnDone)
	if got := sink.countEvents(turn.EventTurnError); got != 0 {
		t.Errorf("turn_error events = %d, want 0 on cancellation", got)
	}
	for q.Len() > 0 {
		if m := popEgress(t, q); m.Type == egress.TypeAssistantResponse && m.IsComplete {
			t.Error("complete event emitted for a cancelled turn")
		}
	}
}

func TestGenerator_TTSStartFailure(t *testing.T) {
	t.Parallel()
	q := egress.NewQueue(256)
	sink := &sinkRec{}
	llmProv := &llmmock.Provider{Chunks: []llm.Chunk{{Text: "Hi", FinishReason: llm.FinishStop}}}
	ttsProv := &ttsmock.Provider{StreamErr: context.DeadlineExceeded}

	g := NewGenerator(GeneratorConfig{Policy: BufferNone}, llmProv, ttsProv,
		testAssembler(), q, sink, nil, nil)
	g.Run(context.Background(), 1, "hello")

	ev := sink.waitForEvent(t, turn.EventTurnError)
	if !strings.Contains(ev.Err.Error(), "tts stream") {
		t.Errorf("error = %q", ev.Err)
	}
}

func TestGenerator_TTSMidStreamFailure(t *testing.T) {
	t.Parallel()
	q := egress.NewQueue(256)
	sink := &sinkRec{}
	llmProv := &llmmock.Provider{Chunks: []llm.Chunk{
		{Text: "Hi"}, {Text: " there"}, {Text: ".", FinishReason: llm.FinishStop},
	}}
	synthErr := errors.New("socket reset by provider")
	ttsProv := &ttsmock.Provider{SynthErr: synthErr, FailAfterUnits: 1}

	g := NewGenerator(GeneratorConfig{Policy: BufferNone}, llmProv, ttsProv,
		testAssembler(), q, sink, nil, nil)
	g.Run(context.Background(), 1, "hello")

	// Some audio may already have reached egress; the turn still must end
	// in turn_error, not turn_done.
	ev := sink.waitForEvent(t, turn.EventTurnError)
	if !errors.Is(ev.Err, synthErr) {
		t.Errorf("error = %q, want wrapped %q", ev.Err, synthErr)
	}
	if !strings.Contains(ev.Err.Error(), "tts stream") {
		t.Errorf("error = %q, want tts stream context", ev.Err)
	}
	if got := sink.countEvents(turn.EventTurnDone); got != 0 {
		t.Errorf("turn_done events = %d, want 0 after a failed stream", got)
	}
}

func TestGenerator_LLMStreamError(t *testing.T) {
	t.Parallel()
	q := egress.NewQueue(256)
	sink := &sinkRec{}
	llmProv := &llmmock.Provider{Chunks: []llm.Chunk{
		{Text: "Hi"},
		{FinishReason: llm.FinishError, Text: "rate limited"},
	}}
	g := NewGenerator(GeneratorConfig{Policy: BufferNone}, llmProv, &ttsmock.Provider{},
		testAssembler(), q, sink, nil, nil)
	g.Run(context.Background(), 1, "hello")

	ev := sink.waitForEvent(t, turn.EventTurnError)
	if !strings.Contains(ev.Err.Error(), "rate limited") {
		t.Errorf("error = %q", ev.Err)
	}
}

func TestGenerator_OnCompleteHook(t *testing.T) {
	t.Parallel()
	q := egress.NewQueue(256)
	sink := &sinkRec{}
	llmProv := &llmmock.Provider{Chunks: []llm.Chunk{
		{Text: "Hi"}, {Text: " there"}, {Text: ".", FinishReason: llm.FinishStop},
	}}

	var (
		mu        sync.Mutex
		user, bot string
	)
	g := NewGenerator(GeneratorConfig{Policy: BufferHigh}, llmProv, &ttsmock.Provider{},
		testAssembler(), q, sink,
		func(u, a string) {
			mu.Lock()
			defer mu.Unlock()
			user, bot = u, a
		}, nil)
	g.Run(context.Background(), 1, "hello")

	sink.waitForEvent(t, turn.EventTurnDone)
	mu.Lock()
	defer mu.Unlock()
	if user != "hello" || bot != "Hi there." {
		t.Errorf("hook got (%q, %q), want (hello, Hi there.)", user, bot)
	}
}

func TestGenerator_WarmHeatsRetrievalCache(t *testing.T) {
	t.Parallel()
	retriever := &memmock.Retriever{Results: []memory.ContextResult{{Chunk: memory.Chunk{Content: "fact"}}}}
	assembler := promptctx.NewAssembler(promptctx.Config{SessionID: "s1"}, retriever, nil, nil)
	g := NewGenerator(GeneratorConfig{}, &llmmock.Provider{}, &ttsmock.Provider{}, assembler,
		egress.NewQueue(16), &sinkRec{}, nil, nil)

	g.Warm("what ti")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if retriever.CallCount() == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("Warm never reached the retriever")
}
