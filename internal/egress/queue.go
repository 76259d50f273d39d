package egress

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by Pop after Close once the queue is empty.
var ErrClosed = errors.New("egress: queue closed")

// defaultCapacity bounds the queue when NewQueue is given a non-positive
// capacity. Roughly 20 s of 200 ms audio chunks plus signal headroom.
const defaultCapacity = 256

// Queue is the ordered egress buffer for one session. Producers (controller,
// generation pipeline, TTS streamer, ingress telemetry) push from their own
// goroutines; a single writer goroutine pops and delivers to the transport.
// Ordering is FIFO across all producers in push order.
//
// Push never blocks: on overflow the oldest queued audio_chunk is discarded
// first (signals survive), falling back to the oldest message of any kind.
type Queue struct {
	mu      sync.Mutex
	buf     []Message
	cap     int
	dropped int
	closed  bool

	notify chan struct{} // 1-buffered wakeup for Pop
	done   chan struct{} // closed by Close
}

// NewQueue creates a Queue holding at most capacity messages.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Queue{
		cap:    capacity,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push appends m to the queue. Never blocks; see Queue for overflow rules.
// Pushes after Close are dropped.
func (q *Queue) Push(m Message) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if len(q.buf) >= q.cap {
		q.evictLocked()
	}
	q.buf = append(q.buf, m)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// evictLocked removes the oldest audio_chunk, or the oldest message when no
// audio is queued. Must be called with q.mu held.
func (q *Queue) evictLocked() {
	q.dropped++
	for i, m := range q.buf {
		if m.Type == TypeAudioChunk {
			q.buf = append(q.buf[:i], q.buf[i+1:]...)
			return
		}
	}
	q.buf = q.buf[1:]
}

// Pop removes and returns the oldest message, blocking until one is
// available, the queue is closed and empty (ErrClosed), or ctx is cancelled.
func (q *Queue) Pop(ctx context.Context) (Message, error) {
	for {
		q.mu.Lock()
		if len(q.buf) > 0 {
			m := q.buf[0]
			q.buf = q.buf[1:]
			q.mu.Unlock()
			return m, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return Message{}, ErrClosed
		}

		select {
		case <-q.notify:
		case <-q.done:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// DrainAudio removes all queued audio_chunk messages, leaving every other
// message in place, and returns the number removed. The controller calls it
// during interrupt before it queues the interrupt signal.
func (q *Queue) DrainAudio() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.buf[:0]
	removed := 0
	for _, m := range q.buf {
		if m.Type == TypeAudioChunk {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	q.buf = kept
	return removed
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Dropped returns the number of messages evicted on overflow.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close marks the queue closed. Queued messages remain poppable; once empty,
// Pop returns ErrClosed. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
}

// Sink delivers egress messages to a transport. Send is called from the
// single writer goroutine, so implementations need not serialize writes.
type Sink interface {
	Send(ctx context.Context, m Message) error
}

// Forward pops messages and delivers them to sink until the queue closes and
// empties, ctx is cancelled, or sink fails. Run it as the session's single
// egress writer goroutine.
func Forward(ctx context.Context, q *Queue, sink Sink) error {
	for {
		m, err := q.Pop(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
		if err := sink.Send(ctx, m); err != nil {
			return fmt.Errorf("egress: sink send: %w", err)
		}
	}
}
