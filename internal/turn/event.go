// Package turn implements the per-session turn controller: the single
// serialization point for session state. Upstream tasks (ingress, STT) and
// downstream tasks (generation, TTS) never touch controller state directly;
// they post events to the controller's queue and the controller processes
// them one at a time.
package turn

import (
	"github.com/mynah-ai/mynah/pkg/types"
)

// EventType discriminates the controller event union.
type EventType string

const (
	// EventVADStart is the gate's rising speech edge.
	EventVADStart EventType = "vad_start"

	// EventVADEnd is the gate's falling speech edge after hangover.
	EventVADEnd EventType = "vad_end"

	// EventTranscript carries a partial or final transcript from the STT
	// streamer.
	EventTranscript EventType = "transcript"

	// EventLLMToken is reserved. Token flow bypasses the controller;
	// assistant text reaches egress straight from the generation pipeline.
	// The controller accepts and discards the event.
	EventLLMToken EventType = "llm_token"

	// EventTTSChunk signals that the TTS streamer forwarded one audio chunk
	// to egress. The first of a turn stamps egress_started_time.
	EventTTSChunk EventType = "tts_chunk"

	// EventTurnDone signals that generation and TTS for a dispatched turn
	// finished cleanly and audio_stream_end has been queued.
	EventTurnDone EventType = "turn_done"

	// EventTurnError signals that a dispatched turn failed (provider error
	// or generation timeout). The turn ends with an error egress message.
	EventTurnError EventType = "turn_error"

	// EventInterrupt requests barge-in handling: cancel the active turn and
	// drain buffered audio.
	EventInterrupt EventType = "interrupt"

	// EventWaitTimeout is the synthetic event posted when the
	// WaitingForTranscript timer expires.
	EventWaitTimeout EventType = "wait_timeout"

	// EventSessionError is a fatal session-level failure (for example the
	// STT stream died). The controller surfaces it and terminates.
	EventSessionError EventType = "session_error"
)

// Event is one controller event. Type selects which fields are meaningful.
//
// Gen carries the turn generation for events tied to a dispatched turn
// (tts_chunk, turn_done, turn_error); for wait_timeout it carries the epoch
// of the wait that armed the timer. The controller ignores events whose Gen
// no longer matches, which is how stale timers and cancelled turns are shed
// without coordination.
type Event struct {
	Type EventType

	Transcript types.Transcript
	Gen        uint64
	Err        error
}

// EventSink accepts controller events. Implemented by *Controller; pipeline
// components depend on this interface so they can be tested with a recorder.
type EventSink interface {
	Post(ev Event)
}
