// Package openaitts provides an OpenAI-backed TTS provider. It implements
// the tts.Provider interface.
//
// OpenAI's speech endpoint is request/response rather than duplex, so the
// provider synthesises each incoming text unit as one HTTP call and streams
// the response body out in fixed-size PCM chunks. Latency per unit is higher
// than a socket-based provider; the generation pipeline's buffer policy
// keeps units small enough that this stays usable for voice.
//
// PCM output is fixed by the API at 24 kHz mono 16-bit.
package openaitts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/mynah-ai/mynah/pkg/provider/tts"
)

const (
	// pcmSampleRate is the fixed output rate of OpenAI's pcm response format.
	pcmSampleRate = 24000

	// chunkBytes is the size of PCM chunks forwarded to the audio channel.
	// 9600 bytes is 200 ms at 24 kHz mono 16-bit.
	chunkBytes = 9600

	defaultModel = "gpt-4o-mini-tts"
	defaultVoice = "alloy"
)

// knownVoices is the OpenAI voice catalogue. The API has no list endpoint.
var knownVoices = []string{"alloy", "ash", "coral", "echo", "fable", "onyx", "nova", "sage", "shimmer"}

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the speech model (e.g., "tts-1", "gpt-4o-mini-tts").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// Provider implements tts.Provider backed by the OpenAI speech API.
type Provider struct {
	client  oai.Client
	model   string
	baseURL string
	timeout time.Duration
}

var _ tts.Provider = (*Provider)(nil)

// New creates a new OpenAI TTS Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openaitts: apiKey must not be empty")
	}
	p := &Provider{model: defaultModel}
	for _, o := range opts {
		o(p)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(p.baseURL))
	}
	if p.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: p.timeout}))
	}
	p.client = oai.NewClient(reqOpts...)
	return p, nil
}

// SampleRate returns the fixed 24 kHz rate of OpenAI PCM output.
func (p *Provider) SampleRate() int { return pcmSampleRate }

// SynthesizeStream consumes text units and emits PCM audio chunks. Each unit
// is one HTTP speech request; units are synthesised strictly in order so the
// audio channel preserves text order. A failed request ends the stream with
// the error recorded on it.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (*tts.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("openaitts: context already cancelled: %w", err)
	}

	voiceID := voice.ID
	if voiceID == "" {
		voiceID = defaultVoice
	}

	audioCh := make(chan []byte, 64)
	stream := tts.NewStream(audioCh)
	go func() {
		defer close(audioCh)
		for {
			select {
			case unit, ok := <-text:
				if !ok {
					return
				}
				if unit == "" {
					continue
				}
				if err := p.synthesizeUnit(ctx, unit, voiceID, audioCh); err != nil {
					if ctx.Err() == nil {
						stream.Fail(err)
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

// synthesizeUnit performs one speech request and forwards the PCM body in
// chunkBytes-sized pieces.
func (p *Provider) synthesizeUnit(ctx context.Context, unit, voiceID string, audioCh chan<- []byte) error {
	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voiceID),
		Input:          unit,
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return fmt.Errorf("openaitts: speech request: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, chunkBytes)
	for {
		n, err := io.ReadFull(resp.Body, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case audioCh <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("openaitts: read audio body: %w", err)
		}
	}
}

// ListVoices returns the static OpenAI voice catalogue.
func (p *Provider) ListVoices(_ context.Context) ([]tts.Voice, error) {
	voices := make([]tts.Voice, 0, len(knownVoices))
	for _, name := range knownVoices {
		voices = append(voices, tts.Voice{ID: name, Name: name})
	}
	return voices, nil
}
