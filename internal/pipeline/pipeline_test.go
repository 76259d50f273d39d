package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mynah-ai/mynah/internal/egress"
	"github.com/mynah-ai/mynah/internal/turn"
)

// sinkRec records controller events posted by pipeline components.
type sinkRec struct {
	mu     sync.Mutex
	events []turn.Event
}

func (s *sinkRec) Post(ev turn.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *sinkRec) snapshot() []turn.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]turn.Event, len(s.events))
	copy(out, s.events)
	return out
}

// waitForEvent polls until an event of type et was posted, returning it.
func (s *sinkRec) waitForEvent(t *testing.T, et turn.EventType) turn.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range s.snapshot() {
			if ev.Type == et {
				return ev
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("event %q never posted; got %+v", et, s.snapshot())
	return turn.Event{}
}

func (s *sinkRec) countEvents(et turn.EventType) int {
	n := 0
	for _, ev := range s.snapshot() {
		if ev.Type == et {
			n++
		}
	}
	return n
}

// popEgress pops the next egress message with a deadline.
func popEgress(t *testing.T, q *egress.Queue) egress.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("waiting for egress message: %v", err)
	}
	return m
}

// collectEgressUntil pops messages (inclusive) until one of type stop.
func collectEgressUntil(t *testing.T, q *egress.Queue, stop egress.Type) []egress.Message {
	t.Helper()
	var out []egress.Message
	for {
		m := popEgress(t, q)
		out = append(out, m)
		if m.Type == stop {
			return out
		}
	}
}
