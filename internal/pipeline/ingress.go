package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/mynah-ai/mynah/internal/egress"
	"github.com/mynah-ai/mynah/internal/observe"
	"github.com/mynah-ai/mynah/internal/turn"
	"github.com/mynah-ai/mynah/pkg/audio"
	"github.com/mynah-ai/mynah/pkg/provider/vad"
	"github.com/mynah-ai/mynah/pkg/types"
)

// Ingress defaults.
const (
	DefaultIngressSampleRate = 16000
	DefaultVADFrameDur       = 20 * time.Millisecond
	DefaultSTTQueueCap       = 256
	DefaultTelemetryInterval = 250 * time.Millisecond
)

// IngressConfig tunes the audio ingress stage.
type IngressConfig struct {
	// SampleRate of the normalized ingress stream in Hz.
	SampleRate int

	// VADFrameDur is the fixed frame duration fed to the gate.
	VADFrameDur time.Duration

	// STTQueueCap bounds the STT-audio queue.
	STTQueueCap int

	// TelemetryInterval throttles vad_update egress messages.
	TelemetryInterval time.Duration
}

func (c IngressConfig) withDefaults() IngressConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultIngressSampleRate
	}
	if c.VADFrameDur <= 0 {
		c.VADFrameDur = DefaultVADFrameDur
	}
	if c.STTQueueCap <= 0 {
		c.STTQueueCap = DefaultSTTQueueCap
	}
	if c.TelemetryInterval <= 0 {
		c.TelemetryInterval = DefaultTelemetryInterval
	}
	return c
}

// Ingress receives raw PCM frames from the transport, normalizes them to the
// pipeline format, feeds the VAD gate, and enqueues audio for the STT
// streamer. Push never blocks: the STT-audio queue drops its oldest frame on
// overflow, and all egress and event posts are buffered.
//
// Push is called from the transport reader goroutine only.
type Ingress struct {
	cfg  IngressConfig
	gate *Gate
	sink turn.EventSink
	out  *egress.Queue

	norm    *audio.Normalizer
	chunker *audio.Chunker
	frames  chan []byte

	// snapshot returns the current turn telemetry for vad_update messages.
	// Nil when the session does not attach telemetry.
	snapshot func() *types.TurnTelemetry

	sessionID string
	metrics   *observe.Metrics
	log       *slog.Logger

	lastUpdate time.Time
	dropped    int
	closed     bool
}

// NewIngress builds the ingress stage. snapshot may be nil.
func NewIngress(cfg IngressConfig, gate *Gate, sink turn.EventSink, out *egress.Queue,
	sessionID string, snapshot func() *types.TurnTelemetry, log *slog.Logger) *Ingress {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	frameBytes := audio.FrameBytes(cfg.SampleRate, cfg.VADFrameDur)
	return &Ingress{
		cfg:       cfg,
		gate:      gate,
		sink:      sink,
		out:       out,
		norm:      &audio.Normalizer{Target: audio.Format{SampleRate: cfg.SampleRate, Channels: 1}},
		chunker:   audio.NewChunker(frameBytes),
		frames:    make(chan []byte, cfg.STTQueueCap),
		snapshot:  snapshot,
		sessionID: sessionID,
		metrics:   observe.DefaultMetrics(),
		log:       log,
	}
}

// Frames returns the STT-audio queue. Closed by Close.
func (in *Ingress) Frames() <-chan []byte {
	return in.frames
}

// Dropped returns the number of frames dropped to STT-queue overflow.
func (in *Ingress) Dropped() int {
	return in.dropped
}

// Push processes one raw frame from the transport: normalize, gate, enqueue
// for STT, and emit throttled VAD telemetry. Never blocks.
func (in *Ingress) Push(frame audio.Frame) {
	if in.closed {
		return
	}
	f := in.norm.Normalize(frame)
	if len(f.Data) == 0 {
		return
	}

	for _, vf := range in.chunker.Push(f.Data) {
		events, err := in.gate.Push(audio.Frame{Data: vf, SampleRate: in.cfg.SampleRate, Channels: 1})
		if err != nil {
			in.log.Warn("vad processing failed", "session_id", in.sessionID, "error", err)
			continue
		}
		for _, ev := range events {
			switch ev.Type {
			case vad.EventSpeechStart:
				in.sink.Post(turn.Event{Type: turn.EventVADStart})
			case vad.EventSpeechEnd:
				in.sink.Post(turn.Event{Type: turn.EventVADEnd})
			}
		}
	}

	in.enqueueSTT(f.Data)
	in.maybeEmitVADUpdate()
}

// enqueueSTT puts data on the STT-audio queue, dropping the oldest frame on
// overflow.
func (in *Ingress) enqueueSTT(data []byte) {
	select {
	case in.frames <- data:
		return
	default:
	}

	select {
	case <-in.frames:
		in.dropped++
		in.metrics.FramesDropped.Add(context.Background(), 1,
			metric.WithAttributes(observe.Attr("session_id", in.sessionID)))
	default:
	}
	select {
	case in.frames <- data:
	default:
		// Single sender, so the retry cannot fail while the queue is open.
		in.dropped++
	}
}

// maybeEmitVADUpdate pushes a vad_update at most once per telemetry interval.
func (in *Ingress) maybeEmitVADUpdate() {
	now := time.Now()
	if now.Sub(in.lastUpdate) < in.cfg.TelemetryInterval {
		return
	}
	in.lastUpdate = now

	var snap *types.TurnTelemetry
	if in.snapshot != nil {
		snap = in.snapshot()
	}
	in.out.Push(egress.VADUpdate(in.gate.Probability(), in.gate.Triggered(), snap))
}

// Close closes the STT-audio queue. Further Push calls are no-ops.
func (in *Ingress) Close() {
	if in.closed {
		return
	}
	in.closed = true
	close(in.frames)
}
