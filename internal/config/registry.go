package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mynah-ai/mynah/pkg/provider/embeddings"
	"github.com/mynah-ai/mynah/pkg/provider/llm"
	"github.com/mynah-ai/mynah/pkg/provider/stt"
	"github.com/mynah-ai/mynah/pkg/provider/tts"
	"github.com/mynah-ai/mynah/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// is registered under the requested name.
var ErrProviderNotRegistered = errors.New("provider not registered")

// Factory types construct a provider from its config entry. A factory should
// validate the entry (credentials, model) and return an error rather than a
// provider that fails on first use.
type (
	LLMFactory        func(entry ProviderEntry) (llm.Provider, error)
	STTFactory        func(entry ProviderEntry) (stt.Provider, error)
	TTSFactory        func(entry ProviderEntry) (tts.Provider, error)
	EmbeddingsFactory func(entry ProviderEntry) (embeddings.Provider, error)
	VADFactory        func(entry ProviderEntry) (vad.Engine, error)
)

// Registry maps provider names to factories, one namespace per pipeline
// stage. main registers the built-in providers at startup; tests register
// mocks.
type Registry struct {
	mu         sync.RWMutex
	llm        map[string]LLMFactory
	stt        map[string]STTFactory
	tts        map[string]TTSFactory
	embeddings map[string]EmbeddingsFactory
	vad        map[string]VADFactory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		llm:        make(map[string]LLMFactory),
		stt:        make(map[string]STTFactory),
		tts:        make(map[string]TTSFactory),
		embeddings: make(map[string]EmbeddingsFactory),
		vad:        make(map[string]VADFactory),
	}
}

// RegisterLLM registers an LLM provider factory under name. Registering the
// same name twice replaces the earlier factory.
func (r *Registry) RegisterLLM(name string, f LLMFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = f
}

// RegisterSTT registers a speech-to-text provider factory under name.
func (r *Registry) RegisterSTT(name string, f STTFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = f
}

// RegisterTTS registers a text-to-speech provider factory under name.
func (r *Registry) RegisterTTS(name string, f TTSFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = f
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, f EmbeddingsFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = f
}

// RegisterVAD registers a voice-activity-detection engine factory under name.
func (r *Registry) RegisterVAD(name string, f VADFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = f
}

// CreateLLM constructs the LLM provider named by entry.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	f, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("config: llm provider %q: %w", entry.Name, ErrProviderNotRegistered)
	}
	return f(entry)
}

// CreateSTT constructs the STT provider named by entry.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	f, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("config: stt provider %q: %w", entry.Name, ErrProviderNotRegistered)
	}
	return f(entry)
}

// CreateTTS constructs the TTS provider named by entry.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	f, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("config: tts provider %q: %w", entry.Name, ErrProviderNotRegistered)
	}
	return f(entry)
}

// CreateEmbeddings constructs the embeddings provider named by entry.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	f, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("config: embeddings provider %q: %w", entry.Name, ErrProviderNotRegistered)
	}
	return f(entry)
}

// CreateVAD constructs the VAD engine named by entry.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	r.mu.RLock()
	f, ok := r.vad[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("config: vad engine %q: %w", entry.Name, ErrProviderNotRegistered)
	}
	return f(entry)
}
