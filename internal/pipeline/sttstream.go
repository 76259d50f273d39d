package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/mynah-ai/mynah/internal/turn"
	"github.com/mynah-ai/mynah/pkg/provider/stt"
)

// STTStreamer owns one STT session for the lifetime of the voice session.
// One goroutine drains the STT-audio queue into the provider; a second
// forwards partial and final transcripts to the controller. The streamer
// never reconnects: a dead STT stream is a session-level error.
type STTStreamer struct {
	handle stt.SessionHandle
	frames <-chan []byte
	sink   turn.EventSink
	log    *slog.Logger

	// stopping is set when the frame queue closes, so the resulting
	// transcript-channel closure is not mistaken for a provider failure.
	stopping atomic.Bool
}

// NewSTTStreamer wires an open STT session to the ingress frame queue and
// the controller event sink.
func NewSTTStreamer(handle stt.SessionHandle, frames <-chan []byte, sink turn.EventSink, log *slog.Logger) *STTStreamer {
	if log == nil {
		log = slog.Default()
	}
	return &STTStreamer{handle: handle, frames: frames, sink: sink, log: log}
}

// Run pumps audio and transcripts until ctx is cancelled, the frame queue
// closes, or the provider stream dies. The provider session is closed on the
// way out.
func (s *STTStreamer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer s.handle.Close()
		return s.sendLoop(ctx)
	})
	g.Go(func() error {
		return s.receiveLoop(ctx)
	})

	return g.Wait()
}

func (s *STTStreamer) sendLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-s.frames:
			if !ok {
				s.stopping.Store(true)
				return nil
			}
			if err := s.handle.SendAudio(frame); err != nil {
				err = fmt.Errorf("pipeline: stt send audio: %w", err)
				s.sink.Post(turn.Event{Type: turn.EventSessionError, Err: err})
				return err
			}
		}
	}
}

func (s *STTStreamer) receiveLoop(ctx context.Context) error {
	partials := s.handle.Partials()
	finals := s.handle.Finals()

	for partials != nil || finals != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			s.sink.Post(turn.Event{Type: turn.EventTranscript, Transcript: t})
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			s.sink.Post(turn.Event{Type: turn.EventTranscript, Transcript: t})
		}
	}

	// Both channels closed. If the session is still live and we did not
	// initiate shutdown, the provider ended the stream on its own: fatal.
	if ctx.Err() == nil && !s.stopping.Load() {
		err := fmt.Errorf("pipeline: stt transcript stream ended unexpectedly")
		s.sink.Post(turn.Event{Type: turn.EventSessionError, Err: err})
		return err
	}
	return ctx.Err()
}
