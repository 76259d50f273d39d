// Package energy implements a pure-Go energy-based VAD engine.
//
// The detector computes the root-mean-square level of each 16-bit PCM frame,
// tracks an adaptive noise floor, and maps the margin above the floor to a
// speech probability with a logistic curve. It needs no model assets and no
// native code, which makes it the default engine for deployments that cannot
// ship an ONNX runtime, and the engine used by the test suite.
//
// Accuracy is below that of a neural detector in noisy rooms; the adaptive
// floor compensates for steady background noise (fans, road hum) but not for
// competing speech.
package energy

import (
	"errors"
	"fmt"
	"math"

	"github.com/mynah-ai/mynah/pkg/provider/vad"
)

const (
	// floorAdapt is the exponential smoothing factor applied to the noise
	// floor estimate on sub-threshold frames. Slow adaptation keeps short
	// pauses from dragging the floor up to speech level.
	floorAdapt = 0.05

	// initialFloor is the starting noise floor in RMS units (16-bit scale).
	initialFloor = 120.0

	// probSlope controls how sharply probability rises with RMS margin
	// above the noise floor. Expressed in RMS units per unit of logit.
	probSlope = 250.0

	// probMidpoint is the RMS margin above the floor at which probability
	// crosses 0.5.
	probMidpoint = 500.0
)

// Engine implements vad.Engine with RMS energy detection.
// The zero value is ready to use.
type Engine struct{}

// Compile-time assertion that Engine satisfies vad.Engine.
var _ vad.Engine = (*Engine)(nil)

// New returns a new energy Engine.
func New() *Engine { return &Engine{} }

// NewSession validates cfg and creates a detection session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy: invalid frame size %d ms", cfg.FrameSizeMs)
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy: speech threshold %v out of range [0,1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy: silence threshold %v out of range [0,%v]",
			cfg.SilenceThreshold, cfg.SpeechThreshold)
	}

	frameBytes := cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2
	return &session{
		cfg:        cfg,
		frameBytes: frameBytes,
		floor:      initialFloor,
	}, nil
}

// session holds the per-stream detection state. Not safe for concurrent use;
// the ingress loop is the only caller.
type session struct {
	cfg        vad.Config
	frameBytes int

	floor     float64 // adaptive noise floor estimate (RMS)
	triggered bool    // inside a speech segment
	closed    bool
}

var _ vad.SessionHandle = (*session)(nil)

var errClosed = errors.New("energy: session is closed")

// ProcessFrame computes the frame's speech probability and classifies it
// against the session's segment state.
func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	if s.closed {
		return vad.Event{}, errClosed
	}
	if len(frame) != s.frameBytes {
		return vad.Event{}, fmt.Errorf("energy: frame size %d bytes, want %d", len(frame), s.frameBytes)
	}

	rms := rms16(frame)
	prob := s.probability(rms)

	// Adapt the noise floor only on frames we believe are non-speech, so
	// sustained speech does not inflate the floor.
	if prob < s.cfg.SilenceThreshold {
		s.floor += floorAdapt * (rms - s.floor)
		if s.floor < 1 {
			s.floor = 1
		}
	}

	ev := vad.Event{Probability: prob}
	switch {
	case !s.triggered && prob >= s.cfg.SpeechThreshold:
		s.triggered = true
		ev.Type = vad.EventSpeechStart
	case s.triggered && prob <= s.cfg.SilenceThreshold:
		s.triggered = false
		ev.Type = vad.EventSpeechEnd
	case s.triggered:
		ev.Type = vad.EventSpeech
	default:
		ev.Type = vad.EventSilence
	}
	return ev, nil
}

// Reset clears the segment flag and restores the initial noise floor.
func (s *session) Reset() {
	s.triggered = false
	s.floor = initialFloor
}

// Close marks the session closed. Subsequent ProcessFrame calls fail.
func (s *session) Close() error {
	s.closed = true
	return nil
}

// probability maps an RMS value to [0, 1] with a logistic curve centred
// probMidpoint above the current noise floor.
func (s *session) probability(rms float64) float64 {
	margin := rms - s.floor - probMidpoint
	return 1 / (1 + math.Exp(-margin/probSlope))
}

// rms16 returns the root-mean-square level of 16-bit little-endian PCM.
func rms16(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
