// Package egress provides the single ordered delivery point between a session
// and its transport. Everything a client sees (VAD telemetry, transcripts,
// assistant text, audio, lifecycle signals, errors) flows through one [Queue]
// drained by one writer goroutine, which is what gives the engine its
// ordering guarantees.
package egress

import (
	"github.com/mynah-ai/mynah/pkg/types"
)

// Type discriminates the egress message union.
type Type string

const (
	TypeVADUpdate          Type = "vad_update"
	TypeSpeechStart        Type = "speech_start"
	TypeSpeechEnd          Type = "speech_end"
	TypeTranscriptUpdate   Type = "transcript_update"
	TypeBotRespondingStart Type = "bot_responding_start"
	TypeBotRespondingEnd   Type = "bot_responding_end"
	TypeAssistantResponse  Type = "assistant_response"
	TypeAudioChunk         Type = "audio_chunk"
	TypeAudioStreamEnd     Type = "audio_stream_end"
	TypeInterrupt          Type = "interrupt"
	TypeBotInterrupted     Type = "bot_response_interrupted"
	TypeTelemetryUpdate    Type = "telemetry_update"
	TypeError              Type = "error"
)

// Message is one egress message. The Type field selects which of the optional
// fields are meaningful; unset fields are omitted from the JSON encoding. The
// transport encodes audio_chunk as a binary frame, so Audio carries no JSON
// tag.
type Message struct {
	Type Type `json:"type"`

	// vad_update
	Energy float64 `json:"energy,omitempty"`
	State  string  `json:"state,omitempty"` // "speaking" or "silence"

	// transcript_update and assistant_response
	Text       string `json:"text,omitempty"`
	IsFinal    bool   `json:"is_final,omitempty"`
	IsComplete bool   `json:"is_complete,omitempty"`

	// audio_chunk
	Audio []byte `json:"-"`

	// vad_update and telemetry_update
	Telemetry *types.TurnTelemetry `json:"telemetry,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// VADUpdate builds a vad_update message.
func VADUpdate(energy float64, speaking bool, snapshot *types.TurnTelemetry) Message {
	state := "silence"
	if speaking {
		state = "speaking"
	}
	return Message{Type: TypeVADUpdate, Energy: energy, State: state, Telemetry: snapshot}
}

// TranscriptUpdate builds a transcript_update message.
func TranscriptUpdate(text string, isFinal bool) Message {
	return Message{Type: TypeTranscriptUpdate, Text: text, IsFinal: isFinal}
}

// AssistantResponse builds an assistant_response message.
func AssistantResponse(text string, isComplete bool) Message {
	return Message{Type: TypeAssistantResponse, Text: text, IsComplete: isComplete}
}

// AudioChunk builds an audio_chunk message.
func AudioChunk(pcm []byte) Message {
	return Message{Type: TypeAudioChunk, Audio: pcm}
}

// TelemetryUpdate builds a telemetry_update message with a snapshot copy.
func TelemetryUpdate(snapshot types.TurnTelemetry) Message {
	return Message{Type: TypeTelemetryUpdate, Telemetry: &snapshot}
}

// Error builds an error message.
func Error(msg string) Message {
	return Message{Type: TypeError, Message: msg}
}

// Signal builds a field-less lifecycle message (speech_start, interrupt, ...).
func Signal(t Type) Message {
	return Message{Type: t}
}
