package turn

// State is the controller's conversational state. Exactly one holds at any
// instant; all transitions happen on the controller goroutine.
type State int

const (
	// StateListening: no response in flight; final transcripts accumulate
	// in the turn buffer.
	StateListening State = iota

	// StateWaitingForTranscript: speech ended with an empty turn buffer; a
	// short timer waits for a late final before giving up.
	StateWaitingForTranscript

	// StateThinking: a turn was dispatched; generation is running but no
	// audio has reached egress yet.
	StateThinking

	// StateSpeaking: response audio is flowing to egress.
	StateSpeaking
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateWaitingForTranscript:
		return "waiting_for_transcript"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}
