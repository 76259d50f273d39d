// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs stream-input WebSocket API. It implements the tts.Provider
// interface.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/mynah-ai/mynah/pkg/provider/tts"
)

const (
	wsEndpointFmt  = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s"
	voicesEndpoint = "https://api.elevenlabs.io/v1/voices"
	defaultModel   = "eleven_flash_v2_5"

	defaultSampleRate = 16000
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithSampleRate selects the PCM output rate. ElevenLabs supports 16000,
// 22050, 24000, and 44100.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithStability sets the voice stability setting in [0, 1].
func WithStability(v float64) Option {
	return func(p *Provider) { p.stability = v }
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey     string
	model      string
	sampleRate int
	stability  float64
	httpClient *http.Client
}

var _ tts.Provider = (*Provider)(nil)

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		sampleRate: defaultSampleRate,
		stability:  0.5,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// SampleRate returns the configured PCM output rate.
func (p *Provider) SampleRate() int { return p.sampleRate }

// ---- WebSocket message types ----

// textMessage is the JSON payload sent for each text unit. An empty Text
// signals end-of-input and flushes buffered synthesis.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// bosMessage is the initial "begin of stream" handshake carrying the API key.
type bosMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// audioResponse is a message received over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// SynthesizeStream opens a WebSocket to ElevenLabs, pipes text units from the
// text channel, and returns a stream emitting raw PCM audio chunks in
// synthesis order.
//
// The audio channel is closed when the text channel closes and the last audio
// has been read, or when ctx is cancelled. A socket failure mid-synthesis is
// recorded on the stream; cancellation and the server's normal close are not.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (*tts.Stream, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}

	wsURL := buildStreamURL(voice.ID, p.model, p.sampleRate)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	// BOS: authenticate and configure. ElevenLabs requires a non-empty
	// first text value, a single space by convention.
	bos := bosMessage{
		Text:          " ",
		VoiceSettings: &voiceSettings{Stability: p.stability, SimilarityBoost: 0.75},
		XiAPIKey:      p.apiKey,
	}
	bosBytes, _ := json.Marshal(bos)
	if err := conn.Write(ctx, websocket.MessageText, bosBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send BOS")
		return nil, fmt.Errorf("elevenlabs: send BOS: %w", err)
	}

	audioCh := make(chan []byte, 256)
	stream := tts.NewStream(audioCh)

	go func() {
		defer close(audioCh)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		// Reader: decode base64 audio payloads onto audioCh until the
		// server closes the stream (after our EOS flush) or ctx cancels.
		readDone := make(chan struct{})
		go func() {
			defer close(readDone)
			for {
				_, msg, err := conn.Read(ctx)
				if err != nil {
					// The server's normal close after EOS and our own
					// cancellation end the stream cleanly.
					if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
						stream.Fail(fmt.Errorf("elevenlabs: read audio: %w", err))
					}
					return
				}
				var resp audioResponse
				if err := json.Unmarshal(msg, &resp); err != nil {
					continue
				}
				if resp.Audio == "" {
					if resp.IsFinal {
						return
					}
					continue
				}
				pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
				if err != nil {
					continue
				}
				select {
				case audioCh <- pcm:
				case <-ctx.Done():
					return
				}
			}
		}()

		// Writer: forward text units until the channel closes, then send
		// the EOS flush and wait for the reader to drain remaining audio.
		for {
			select {
			case unit, ok := <-text:
				if !ok {
					eos, _ := json.Marshal(textMessage{Text: ""})
					_ = conn.Write(ctx, websocket.MessageText, eos)
					select {
					case <-readDone:
					case <-ctx.Done():
					}
					return
				}
				if unit == "" {
					continue
				}
				msgBytes, _ := json.Marshal(textMessage{Text: unit})
				if err := conn.Write(ctx, websocket.MessageText, msgBytes); err != nil {
					if ctx.Err() == nil {
						stream.Fail(fmt.Errorf("elevenlabs: send text: %w", err))
					}
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return stream, nil
}

// ---- ListVoices ----

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []struct {
		VoiceID  string            `json:"voice_id"`
		Name     string            `json:"name"`
		Category string            `json:"category"`
		Labels   map[string]string `json:"labels"`
	} `json:"voices"`
}

// ListVoices returns all voices available for the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	data := json.NewDecoder(resp.Body)
	var vr voicesResponse
	if err := data.Decode(&vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	return voicesFromResponse(vr), nil
}

// ---- helpers ----

// buildStreamURL constructs the stream-input WebSocket URL.
func buildStreamURL(voiceID, model string, sampleRate int) string {
	format := "pcm_" + strconv.Itoa(sampleRate)
	return fmt.Sprintf(wsEndpointFmt, voiceID, model, format)
}

// voicesFromResponse converts the wire response into tts.Voice values.
func voicesFromResponse(vr voicesResponse) []tts.Voice {
	voices := make([]tts.Voice, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		voices = append(voices, tts.Voice{
			ID:       v.VoiceID,
			Name:     strings.TrimSpace(v.Name),
			Metadata: meta,
		})
	}
	return voices
}
