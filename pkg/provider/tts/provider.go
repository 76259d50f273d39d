// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs or OpenAI
// TTS) and presents a uniform streaming interface. The primary entry point is
// SynthesizeStream, which accepts a channel of text units and returns a
// [Stream] of raw PCM audio bytes as they become available, enabling
// low-latency pipelining between buffered LLM output and audio egress.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"sync"
)

// Voice identifies a voice profile for synthesis.
type Voice struct {
	// ID is the provider-assigned voice identifier (e.g., an ElevenLabs
	// voice ID or an OpenAI voice name like "alloy").
	ID string

	// Name is the human-readable voice name, when known.
	Name string

	// Metadata carries provider-specific labels (gender, accent, category).
	Metadata map[string]string
}

// Stream is a live synthesis stream. Audio emits raw PCM byte slices in
// synthesis order and is closed by the provider when synthesis finishes,
// fails, or ctx is cancelled. After Audio closes, Err reports whether the
// stream ended because of a provider failure.
type Stream struct {
	// Audio emits synthesised PCM chunks. The consumer must drain it to
	// avoid blocking the provider's internal goroutines.
	Audio <-chan []byte

	mu  sync.Mutex
	err error
}

// NewStream wraps an audio channel in a Stream with no error recorded.
func NewStream(audio <-chan []byte) *Stream {
	return &Stream{Audio: audio}
}

// Fail records err as the stream's terminal error. The first recorded error
// wins; later calls are ignored. A nil err is ignored. Providers call Fail
// before closing Audio.
func (s *Stream) Fail(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Err returns the stream's terminal error, or nil if synthesis ended
// cleanly. Meaningful once Audio has closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use; multiple synthesis
// requests may run in parallel across sessions.
type Provider interface {
	// SynthesizeStream consumes text units from the text channel and returns
	// a Stream whose Audio channel emits raw PCM audio byte slices as they
	// are synthesised, in synthesis order. This lets the caller pipe
	// buffered LLM output directly into synthesis without waiting for the
	// full text.
	//
	// The Audio channel is closed by the implementation when all text has
	// been synthesised (text channel closed and drained), when synthesis
	// fails, or when ctx is cancelled. A mid-stream failure is recorded on
	// the Stream and visible through Err after Audio closes; cancellation
	// is not recorded as a failure.
	//
	// Returns a non-nil error only if the stream cannot be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice Voice) (*Stream, error)

	// SampleRate returns the sample rate in Hz of the PCM audio the provider
	// emits. Constant for the lifetime of the Provider instance.
	SampleRate() int

	// ListVoices returns the voice profiles available from this provider.
	//
	// Returns an error if the provider cannot be reached or ctx is
	// cancelled before the list is retrieved.
	ListVoices(ctx context.Context) ([]Voice, error)
}
