package egress

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueue_OrderPreserved(t *testing.T) {
	t.Parallel()
	q := NewQueue(16)

	q.Push(Signal(TypeSpeechStart))
	q.Push(TranscriptUpdate("hello", true))
	q.Push(Signal(TypeSpeechEnd))
	q.Push(AudioChunk([]byte{1, 2}))
	q.Push(Signal(TypeAudioStreamEnd))

	want := []Type{TypeSpeechStart, TypeTranscriptUpdate, TypeSpeechEnd, TypeAudioChunk, TypeAudioStreamEnd}
	for i, wt := range want {
		m, err := q.Pop(context.Background())
		if err != nil {
			t.Fatalf("Pop %d: %v", i, err)
		}
		if m.Type != wt {
			t.Errorf("Pop %d: type = %q, want %q", i, m.Type, wt)
		}
	}
}

func TestQueue_DrainAudioKeepsSignals(t *testing.T) {
	t.Parallel()
	q := NewQueue(16)

	q.Push(AudioChunk([]byte{1}))
	q.Push(Signal(TypeBotRespondingStart))
	q.Push(AudioChunk([]byte{2}))
	q.Push(AudioChunk([]byte{3}))
	q.Push(Error("boom"))

	if got := q.DrainAudio(); got != 3 {
		t.Errorf("DrainAudio = %d, want 3", got)
	}
	if got := q.Len(); got != 2 {
		t.Errorf("Len after drain = %d, want 2", got)
	}

	m, _ := q.Pop(context.Background())
	if m.Type != TypeBotRespondingStart {
		t.Errorf("first remaining = %q, want bot_responding_start", m.Type)
	}
	m, _ = q.Pop(context.Background())
	if m.Type != TypeError {
		t.Errorf("second remaining = %q, want error", m.Type)
	}
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	t.Parallel()
	q := NewQueue(4)

	done := make(chan Message, 1)
	go func() {
		m, err := q.Pop(context.Background())
		if err != nil {
			return
		}
		done <- m
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push(Signal(TypeInterrupt))

	select {
	case m := <-done:
		if m.Type != TypeInterrupt {
			t.Errorf("type = %q, want interrupt", m.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Push")
	}
}

func TestQueue_PopContextCancel(t *testing.T) {
	t.Parallel()
	q := NewQueue(4)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := q.Pop(ctx)
		errc <- err
	}()

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after cancel")
	}
}

func TestQueue_CloseDrainsThenErrClosed(t *testing.T) {
	t.Parallel()
	q := NewQueue(4)

	q.Push(Signal(TypeBotRespondingEnd))
	q.Close()
	q.Close() // idempotent

	m, err := q.Pop(context.Background())
	if err != nil {
		t.Fatalf("Pop after close with pending message: %v", err)
	}
	if m.Type != TypeBotRespondingEnd {
		t.Errorf("type = %q, want bot_responding_end", m.Type)
	}

	if _, err := q.Pop(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}

	q.Push(Signal(TypeInterrupt))
	if got := q.Len(); got != 0 {
		t.Errorf("Push after Close queued a message, Len = %d", got)
	}
}

func TestQueue_CloseUnblocksPop(t *testing.T) {
	t.Parallel()
	q := NewQueue(4)

	errc := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background())
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("err = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Close")
	}
}

func TestQueue_OverflowEvictsOldestAudioFirst(t *testing.T) {
	t.Parallel()
	q := NewQueue(3)

	q.Push(Signal(TypeBotRespondingStart))
	q.Push(AudioChunk([]byte{1}))
	q.Push(AudioChunk([]byte{2}))
	q.Push(AudioChunk([]byte{3})) // evicts audio {1}

	if got := q.Dropped(); got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}

	m, _ := q.Pop(context.Background())
	if m.Type != TypeBotRespondingStart {
		t.Errorf("signal evicted before audio: got %q", m.Type)
	}
	m, _ = q.Pop(context.Background())
	if len(m.Audio) != 1 || m.Audio[0] != 2 {
		t.Errorf("oldest audio not evicted: got % x", m.Audio)
	}
}

type recordSink struct {
	msgs []Message
	err  error
}

func (s *recordSink) Send(_ context.Context, m Message) error {
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, m)
	return nil
}

func TestForward_DeliversUntilClosed(t *testing.T) {
	t.Parallel()
	q := NewQueue(8)
	sink := &recordSink{}

	q.Push(Signal(TypeSpeechStart))
	q.Push(Signal(TypeSpeechEnd))
	q.Close()

	if err := Forward(context.Background(), q, sink); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(sink.msgs) != 2 {
		t.Fatalf("delivered %d messages, want 2", len(sink.msgs))
	}
	if sink.msgs[0].Type != TypeSpeechStart || sink.msgs[1].Type != TypeSpeechEnd {
		t.Errorf("delivery order wrong: %q, %q", sink.msgs[0].Type, sink.msgs[1].Type)
	}
}

func TestForward_SinkError(t *testing.T) {
	t.Parallel()
	q := NewQueue(8)
	sinkErr := errors.New("conn reset")
	sink := &recordSink{err: sinkErr}

	q.Push(Signal(TypeSpeechStart))

	if err := Forward(context.Background(), q, sink); !errors.Is(err, sinkErr) {
		t.Errorf("err = %v, want wrapped sink error", err)
	}
}
