package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/mynah-ai/mynah/internal/egress"
	"github.com/mynah-ai/mynah/internal/turn"
)

// speak consumes text units until the queue closes (the sentinel), feeds the
// TTS provider, and forwards every audio chunk to egress in provider order.
// Each forwarded chunk is mirrored to the controller as tts_chunk; the first
// one of a turn stamps egress_started_time. A stream that ends with an error
// recorded on it turns into turn_error; a clean end queues audio_stream_end
// and posts turn_done. The controller's generation check discards either for
// cancelled turns.
func (g *Generator) speak(ctx context.Context, gen uint64, textQ <-chan string) {
	stream, err := g.tts.SynthesizeStream(ctx, textQ, g.cfg.Voice)
	if err != nil {
		g.metrics.RecordProviderError(ctx, "tts", "stream_start")
		g.finishErr(ctx, gen, fmt.Errorf("pipeline: tts stream: %w", err))
		return
	}

	start := time.Now()
	chunks := 0
	for chunk := range stream.Audio {
		g.out.Push(egress.AudioChunk(chunk))
		g.sink.Post(turn.Event{Type: turn.EventTTSChunk, Gen: gen})
		chunks++
	}

	if chunks > 0 {
		g.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	}
	if serr := stream.Err(); serr != nil && ctx.Err() == nil {
		g.metrics.RecordProviderError(ctx, "tts", "stream")
		g.finishErr(ctx, gen, fmt.Errorf("pipeline: tts stream: %w", serr))
		return
	}
	g.out.Push(egress.Signal(egress.TypeAudioStreamEnd))
	g.sink.Post(turn.Event{Type: turn.EventTurnDone, Gen: gen})
}
