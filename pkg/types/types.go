// Package types defines the shared types used across all Mynah packages.
//
// These types form the lingua franca between providers, the pipeline, memory
// layers, and the turn controller. They are intentionally minimal: each
// package defines its own domain types, but cross-cutting data structures live
// here to avoid circular imports.
package types

import "time"

// Conversation roles. History records and LLM prompts use these values.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Transcript represents a speech-to-text result from an STT provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial
	// (interim) transcript. A final is the provider's commitment to a
	// hypothesis for a region of audio; it will not be revised.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64

	// Words contains per-word detail when available (Deepgram). May be nil
	// for providers that don't support word-level output.
	Words []WordDetail

	// Timestamp marks when the utterance started, relative to stream start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// WordDetail holds per-word metadata from STT providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Message is a single record in a session's conversation history.
type Message struct {
	// Role is one of RoleSystem, RoleUser, or RoleAssistant.
	Role string

	// Content is the text content of the message.
	Content string

	// CreatedAt is when the message was recorded.
	CreatedAt time.Time
}

// TurnTelemetry is the per-turn state snapshot posted to egress as a
// telemetry_update. The turn controller is its only writer; everyone else
// receives value copies.
//
// All timestamps are absolute wall-clock times; a zero time means the
// corresponding stage has not been reached this turn.
type TurnTelemetry struct {
	VADSpeechDetected      bool `json:"vad_speech_detected"`
	VADEndOfSpeechDetected bool `json:"vad_end_of_speech_detected"`
	STTStreamingStarted    bool `json:"stt_streaming_started"`
	STTStreamingEnded      bool `json:"stt_streaming_ended"`
	LLMStreamingStarted    bool `json:"llm_streaming_started"`
	LLMStreamingEnded      bool `json:"llm_streaming_ended"`
	TTSStreamingStarted    bool `json:"tts_streaming_started"`
	TTSStreamingEnded      bool `json:"tts_streaming_ended"`
	EgressStarted          bool `json:"egress_started"`
	EgressEnded            bool `json:"egress_ended"`

	VADEndOfSpeechDetectedTime time.Time `json:"vad_end_of_speech_detected_time,omitzero"`
	EgressStartedTime          time.Time `json:"egress_started_time,omitzero"`

	// AgentResponseDelay is egress_started_time − vad_end_of_speech_detected_time,
	// the headline user-perceived responsiveness number. Zero until both
	// contributing timestamps are set.
	AgentResponseDelay time.Duration `json:"agent_response_delay"`
}

// Recompute refreshes the derived latency fields from the raw timestamps.
func (t *TurnTelemetry) Recompute() {
	if !t.VADEndOfSpeechDetectedTime.IsZero() && !t.EgressStartedTime.IsZero() {
		t.AgentResponseDelay = t.EgressStartedTime.Sub(t.VADEndOfSpeechDetectedTime)
	}
}

// Reset clears the telemetry for a new turn.
func (t *TurnTelemetry) Reset() {
	*t = TurnTelemetry{}
}
