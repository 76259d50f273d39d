// Package mock provides a test double for the tts.Provider interface.
//
// Script a Provider with the audio chunks each synthesis should emit; the
// mock consumes and records every text unit so tests can assert on what the
// generation pipeline flushed.
//
// Example:
//
//	p := &mock.Provider{
//	    AudioChunks: [][]byte{{0x01, 0x02}, {0x03, 0x04}},
//	    Rate:        16000,
//	}
package mock

import (
	"context"
	"sync"

	"github.com/mynah-ai/mynah/pkg/provider/tts"
)

// StreamCall records a single invocation of SynthesizeStream.
type StreamCall struct {
	// Voice is the voice passed to SynthesizeStream.
	Voice tts.Voice
	// Units collects every text unit consumed from the text channel, in
	// order. Populated asynchronously; read it after the audio channel has
	// closed.
	Units []string

	mu *sync.Mutex
}

// TextUnits returns a copy of the units consumed so far. Thread-safe.
func (c *StreamCall) TextUnits() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.Units))
	copy(out, c.Units)
	return out
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// AudioChunks is emitted on the audio channel: one chunk per consumed
	// text unit, cycling from the start when units outnumber chunks. If
	// empty, a single-byte chunk is emitted per unit.
	AudioChunks [][]byte

	// Rate is returned by SampleRate. Defaults to 16000 when zero.
	Rate int

	// StreamErr, if non-nil, is returned as the error from SynthesizeStream
	// (the stream never starts).
	StreamErr error

	// SynthErr, if non-nil, fails the stream mid-synthesis: after
	// FailAfterUnits text units have been consumed the audio channel closes
	// with SynthErr recorded on the stream.
	SynthErr error

	// FailAfterUnits is the number of units consumed before SynthErr takes
	// effect. Values below 1 are treated as 1.
	FailAfterUnits int

	// Voices is returned by ListVoices.
	Voices []tts.Voice

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// StreamCalls records every SynthesizeStream call in order.
	StreamCalls []*StreamCall

	// ListVoicesCallCount is the number of times ListVoices was called.
	ListVoicesCallCount int
}

var _ tts.Provider = (*Provider)(nil)

// SynthesizeStream records the call and starts a goroutine that consumes text
// units, appending one scripted audio chunk per unit. The audio channel closes
// when the text channel closes, ctx is cancelled, or SynthErr fires.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (*tts.Stream, error) {
	p.mu.Lock()
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	call := &StreamCall{Voice: voice, mu: &p.mu}
	p.StreamCalls = append(p.StreamCalls, call)
	chunks := make([][]byte, len(p.AudioChunks))
	copy(chunks, p.AudioChunks)
	synthErr := p.SynthErr
	failAfter := p.FailAfterUnits
	p.mu.Unlock()
	if failAfter < 1 {
		failAfter = 1
	}

	audioCh := make(chan []byte, 64)
	stream := tts.NewStream(audioCh)
	go func() {
		defer close(audioCh)
		i := 0
		consumed := 0
		for {
			select {
			case unit, ok := <-text:
				if !ok {
					return
				}
				p.mu.Lock()
				call.Units = append(call.Units, unit)
				p.mu.Unlock()
				consumed++

				chunk := []byte{0x00}
				if len(chunks) > 0 {
					chunk = chunks[i%len(chunks)]
					i++
				}
				select {
				case audioCh <- chunk:
				case <-ctx.Done():
					return
				}
				if synthErr != nil && consumed >= failAfter {
					stream.Fail(synthErr)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return stream, nil
}

// SampleRate returns Rate, defaulting to 16000.
func (p *Provider) SampleRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Rate == 0 {
		return 16000
	}
	return p.Rate
}

// ListVoices records the call and returns Voices, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCallCount++
	if p.ListVoicesErr != nil {
		return nil, p.ListVoicesErr
	}
	return p.Voices, nil
}

// StreamCallCount returns the number of SynthesizeStream calls. Thread-safe.
func (p *Provider) StreamCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StreamCalls)
}

// LastStreamCall returns the most recent call record and true, or nil and
// false when no call has been made.
func (p *Provider) LastStreamCall() (*StreamCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.StreamCalls) == 0 {
		return nil, false
	}
	return p.StreamCalls[len(p.StreamCalls)-1], true
}
