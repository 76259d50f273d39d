// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful per-stream session. Each session maintains its own internal state
// (smoothing history, noise floor estimate) so that multiple concurrent audio
// streams can be processed independently.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// per-frame speech probability. Edge detection (speech start/end with
// hangover hysteresis) is layered on top by the pipeline's gate, which is the
// sole consumer of these probabilities.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle must not be shared across goroutines.
package vad

// EventType classifies a frame-level detection result.
type EventType string

const (
	// EventSilence means the frame is below threshold and no speech segment
	// is active.
	EventSilence EventType = "silence"

	// EventSpeechStart marks the first frame of a new speech segment.
	EventSpeechStart EventType = "speech_start"

	// EventSpeech means a speech segment is active and continuing.
	EventSpeech EventType = "speech"

	// EventSpeechEnd marks the end of a speech segment.
	EventSpeechEnd EventType = "speech_end"
)

// Event is a single frame-level detection result.
type Event struct {
	// Type classifies the frame relative to the detector's segment state.
	Type EventType

	// Probability is the speech probability for this frame, in [0, 1].
	Probability float64
}

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to ProcessFrame. Common values: 8000, 16000, 48000.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds. Most
	// VAD models operate on fixed frame sizes (10, 20, or 30 ms).
	// ProcessFrame returns an error if the supplied frame does not match.
	FrameSizeMs int

	// SpeechThreshold is the probability above which a frame is classified
	// as speech. Range [0, 1]. Higher values reduce false positives at the
	// cost of increased speech-start latency. Typical: 0.5.
	SpeechThreshold float64

	// SilenceThreshold is the probability below which a frame is classified
	// as silence. Must be ≤ SpeechThreshold. Typical: 0.35.
	SilenceThreshold float64
}

// SessionHandle represents an active VAD session for a single audio stream.
// It is an interface so that test code can supply mock implementations
// without a live engine. Reset clears detection state without closing the
// session.
//
// A SessionHandle must not be shared between goroutines.
type SessionHandle interface {
	// ProcessFrame analyses a single audio frame and returns the detection
	// result. The frame must be raw 16-bit little-endian PCM at the
	// SampleRate and FrameSizeMs configured when the session was created.
	// Returns an error if the frame size is wrong or the engine encounters
	// an internal failure.
	//
	// ProcessFrame is called synchronously in the ingress loop; it must not
	// block.
	ProcessFrame(frame []byte) (Event, error)

	// Reset clears accumulated detection state (noise floor, segment flags)
	// without closing the session. Use when the audio stream is interrupted
	// or restarted.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// ProcessFrame must return an error. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions, implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a VAD session with the given configuration. The
	// session is immediately ready to accept audio frames.
	//
	// Returns an error if the configuration is invalid (unsupported sample
	// rate, frame size, or threshold out of range) or if the engine cannot
	// allocate resources for the session.
	NewSession(cfg Config) (SessionHandle, error)
}
