package deepgram

import (
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/mynah-ai/mynah/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "en"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
	assertEqual(t, "endpointing", "", q.Get("endpointing"))
}

func TestBuildURL_Options(t *testing.T) {
	p, err := New("key", WithModel("base"), WithLanguage("de"), WithSampleRate(48000), WithEndpointingMs(300))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de", q.Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
	assertEqual(t, "endpointing", "300", q.Get("endpointing"))
}

func TestBuildURL_ConfigOverridesProviderDefaults(t *testing.T) {
	p, err := New("key", WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{Language: "fr", SampleRate: 8000})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	assertEqual(t, "language", "fr", u.Query().Get("language"))
	assertEqual(t, "sample_rate", "8000", u.Query().Get("sample_rate"))
}

func TestBuildURL_Keywords(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{
		SampleRate: 16000,
		Keywords:   []string{"Mynah", "pgvector"},
	})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	terms := u.Query()["keyterm"]
	if len(terms) != 2 {
		t.Fatalf("expected 2 keyterms, got %d: %v", len(terms), terms)
	}
	if terms[0] != "Mynah" || terms[1] != "pgvector" {
		t.Errorf("keyterms = %v, want [Mynah pgvector]", terms)
	}
}

func TestNew_EmptyKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("New with empty key succeeded, want error")
	}
}

// ---- response parsing tests ----

func TestParseResponse_Final(t *testing.T) {
	msg := `{
		"type": "Results",
		"is_final": true,
		"channel": {
			"alternatives": [{
				"transcript": "hello world",
				"confidence": 0.97,
				"words": [
					{"word": "hello", "start": 0.1, "end": 0.4, "confidence": 0.99},
					{"word": "world", "start": 0.5, "end": 0.9, "confidence": 0.95}
				]
			}]
		}
	}`

	tr, ok := parseResponse([]byte(msg))
	if !ok {
		t.Fatal("parseResponse returned ok=false for a valid Results message")
	}
	if tr.Text != "hello world" {
		t.Errorf("Text = %q, want %q", tr.Text, "hello world")
	}
	if !tr.IsFinal {
		t.Error("IsFinal = false, want true")
	}
	if tr.Confidence != 0.97 {
		t.Errorf("Confidence = %v, want 0.97", tr.Confidence)
	}
	if len(tr.Words) != 2 {
		t.Fatalf("len(Words) = %d, want 2", len(tr.Words))
	}
	if tr.Words[0].Start != 100*time.Millisecond {
		t.Errorf("Words[0].Start = %v, want 100ms", tr.Words[0].Start)
	}
}

func TestParseResponse_Ignored(t *testing.T) {
	tests := []struct {
		name string
		msg  string
	}{
		{"metadata message", `{"type":"Metadata"}`},
		{"no alternatives", `{"type":"Results","channel":{"alternatives":[]}}`},
		{"empty transcript", `{"type":"Results","channel":{"alternatives":[{"transcript":""}]}}`},
		{"invalid json", `{not json`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := parseResponse([]byte(tc.msg)); ok {
				t.Errorf("parseResponse(%s) ok=true, want false", tc.msg)
			}
		})
	}
}

func TestDeepgramResponseShape(t *testing.T) {
	// Guard against accidental struct-tag drift: round-trip through the wire
	// struct and confirm the fields survive.
	resp := deepgramResponse{Type: "Results", IsFinal: true}
	resp.Channel.Alternatives = append(resp.Channel.Alternatives, struct {
		Transcript string  `json:"transcript"`
		Confidence float64 `json:"confidence"`
		Words      []struct {
			Word       string  `json:"word"`
			Start      float64 `json:"start"`
			End        float64 `json:"end"`
			Confidence float64 `json:"confidence"`
		} `json:"words"`
	}{Transcript: "hi", Confidence: 1})

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	tr, ok := parseResponse(data)
	if !ok || tr.Text != "hi" {
		t.Fatalf("parseResponse round trip = (%+v, %v), want text %q", tr, ok, "hi")
	}
}

func assertEqual(t *testing.T, name, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %q, want %q", name, got, want)
	}
}
