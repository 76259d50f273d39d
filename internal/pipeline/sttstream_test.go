package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mynah-ai/mynah/internal/turn"
	sttmock "github.com/mynah-ai/mynah/pkg/provider/stt/mock"
	"github.com/mynah-ai/mynah/pkg/types"
)

func TestSTTStreamer_PumpsAudioAndTranscripts(t *testing.T) {
	t.Parallel()
	session := sttmock.NewSession()
	frames := make(chan []byte, 8)
	sink := &sinkRec{}
	s := NewSTTStreamer(session, frames, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	frames <- []byte{1, 2}
	frames <- []byte{3, 4}
	session.PartialsCh <- types.Transcript{Text: "hel", IsFinal: false}
	session.FinalsCh <- types.Transcript{Text: "hello", IsFinal: true}

	ev := sink.waitForEvent(t, turn.EventTranscript)
	if ev.Transcript.Text != "hel" && ev.Transcript.Text != "hello" {
		t.Errorf("transcript = %+v", ev.Transcript)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && session.SendAudioCallCount() < 2 {
		time.Sleep(time.Millisecond)
	}
	if got := session.SendAudioCallCount(); got != 2 {
		t.Errorf("SendAudio calls = %d, want 2", got)
	}

	// Both transcript kinds must have arrived.
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && sink.countEvents(turn.EventTranscript) < 2 {
		time.Sleep(time.Millisecond)
	}
	if got := sink.countEvents(turn.EventTranscript); got != 2 {
		t.Errorf("transcript events = %d, want 2", got)
	}

	close(frames)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil on clean shutdown", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the frame queue closed")
	}
}

func TestSTTStreamer_SendErrorIsFatal(t *testing.T) {
	t.Parallel()
	session := sttmock.NewSession()
	session.SendAudioErr = errors.New("connection reset")
	frames := make(chan []byte, 1)
	sink := &sinkRec{}
	s := NewSTTStreamer(session, frames, sink, nil)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	frames <- []byte{1}

	ev := sink.waitForEvent(t, turn.EventSessionError)
	if ev.Err == nil {
		t.Error("session error event carries no error")
	}
	select {
	case err := <-done:
		if err == nil {
			t.Error("Run = nil, want send error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after send failure")
	}
}

func TestSTTStreamer_ProviderStreamDeathIsFatal(t *testing.T) {
	t.Parallel()
	session := sttmock.NewSession()
	frames := make(chan []byte)
	sink := &sinkRec{}
	s := NewSTTStreamer(session, frames, sink, nil)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	// The provider dies on its own: both transcript channels close while
	// the session is still live.
	session.Close()

	sink.waitForEvent(t, turn.EventSessionError)
	select {
	case err := <-done:
		if err == nil {
			t.Error("Run = nil, want stream-death error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after provider stream death")
	}
}
