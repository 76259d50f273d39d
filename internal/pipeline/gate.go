// Package pipeline holds the per-session audio and text pipelines that feed
// the turn controller: VAD gating, audio ingress, STT streaming, generation
// (retrieval + LLM + token buffering), and TTS streaming. Every component is
// a goroutine with a single loop; they talk to the controller only by
// posting events and to each other only through bounded queues.
package pipeline

import (
	"time"

	"github.com/mynah-ai/mynah/pkg/audio"
	"github.com/mynah-ai/mynah/pkg/provider/vad"
)

// Gate defaults.
const (
	DefaultSpeechThreshold  = 0.5
	DefaultSilenceThreshold = 0.35
	DefaultHangover         = 500 * time.Millisecond
)

// GateConfig tunes the gate's hysteresis.
type GateConfig struct {
	// SpeechThreshold is the probability at or above which a frame counts
	// as speech for the rising edge.
	SpeechThreshold float64

	// SilenceThreshold is the probability at or below which a frame counts
	// toward the hangover. Frames between the thresholds keep the current
	// state.
	SilenceThreshold float64

	// Hangover is the continuous sub-threshold duration required before the
	// falling edge fires.
	Hangover time.Duration
}

func (c GateConfig) withDefaults() GateConfig {
	if c.SpeechThreshold <= 0 {
		c.SpeechThreshold = DefaultSpeechThreshold
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = DefaultSilenceThreshold
	}
	if c.Hangover <= 0 {
		c.Hangover = DefaultHangover
	}
	return c
}

// Gate turns per-frame VAD probabilities into speech edges. It owns the VAD
// session and is its only caller; edge detection with hangover lives here,
// not in the provider, so every engine gets identical turn semantics.
//
// Not safe for concurrent use. The ingress loop is the only caller.
type Gate struct {
	session vad.SessionHandle
	cfg     GateConfig

	triggered bool
	prob      float64
	silence   time.Duration
}

// NewGate wraps a VAD session with hysteresis and hangover edge detection.
func NewGate(session vad.SessionHandle, cfg GateConfig) *Gate {
	return &Gate{session: session, cfg: cfg.withDefaults()}
}

// Push classifies one frame and returns the speech edge events it produced:
// at most one speech_start or speech_end. A provider error yields no events;
// the caller logs it and continues.
func (g *Gate) Push(frame audio.Frame) ([]vad.Event, error) {
	ev, err := g.session.ProcessFrame(frame.Data)
	if err != nil {
		return nil, err
	}
	g.prob = ev.Probability

	if !g.triggered {
		if ev.Probability >= g.cfg.SpeechThreshold {
			g.triggered = true
			g.silence = 0
			return []vad.Event{{Type: vad.EventSpeechStart, Probability: ev.Probability}}, nil
		}
		return nil, nil
	}

	if ev.Probability <= g.cfg.SilenceThreshold {
		g.silence += frame.Duration()
		if g.silence >= g.cfg.Hangover {
			g.triggered = false
			g.silence = 0
			return []vad.Event{{Type: vad.EventSpeechEnd, Probability: ev.Probability}}, nil
		}
	} else {
		g.silence = 0
	}
	return nil, nil
}

// Triggered reports whether the gate is inside a speech segment.
func (g *Gate) Triggered() bool { return g.triggered }

// Probability returns the most recent frame's speech probability.
func (g *Gate) Probability() float64 { return g.prob }

// Reset clears edge state and the underlying VAD session.
func (g *Gate) Reset() {
	g.triggered = false
	g.silence = 0
	g.prob = 0
	g.session.Reset()
}

// Close releases the VAD session.
func (g *Gate) Close() error {
	return g.session.Close()
}
