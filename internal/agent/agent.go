// Package agent is the directory of agent definitions: the persona, provider
// selection, and tuning knobs a session is created from. Definitions come
// from YAML files or a Postgres table and are resolved by id when a client
// opens a session.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mynah-ai/mynah/internal/config"
	"github.com/mynah-ai/mynah/internal/pipeline"
)

// ErrNotFound is returned by Get when no definition has the requested id.
var ErrNotFound = errors.New("agent not found")

// Providers names the provider implementation each pipeline stage uses,
// keyed into the provider registry ("openai", "deepgram", "elevenlabs", ...).
type Providers struct {
	LLM        string `yaml:"llm"`
	STT        string `yaml:"stt"`
	TTS        string `yaml:"tts"`
	Embeddings string `yaml:"embeddings"`
}

// Retrieval tunes the knowledge-base lookup for an agent.
type Retrieval struct {
	// Enabled switches retrieval on. Disabled agents answer from the
	// system prompt and history alone.
	Enabled bool `yaml:"enabled"`

	// TopK caps retrieved context chunks per turn.
	TopK int `yaml:"top_k"`

	// CacheTTL bounds how long cached retrieval results stay fresh.
	CacheTTL config.Duration `yaml:"cache_ttl"`
}

// Definition is one agent: everything needed to resolve a session
// configuration at connect time.
type Definition struct {
	// ID is the stable identifier clients request sessions with.
	ID string `yaml:"id"`

	// Name is the display name.
	Name string `yaml:"name"`

	// SystemPrompt is the base LLM instruction.
	SystemPrompt string `yaml:"system_prompt"`

	// Voice is the TTS voice id, interpreted by the configured TTS provider.
	Voice string `yaml:"voice"`

	// BufferPolicy selects token flushing: none, low, medium, or high.
	// Empty picks the server default.
	BufferPolicy string `yaml:"buffer_policy"`

	// Providers selects the backend for each pipeline stage. Empty fields
	// fall back to the server defaults.
	Providers Providers `yaml:"providers"`

	// Keywords are vocabulary hints for STT and targets for phonetic
	// transcript correction.
	Keywords []string `yaml:"keywords"`

	// Retrieval tunes knowledge-base lookups.
	Retrieval Retrieval `yaml:"retrieval"`

	// Temperature and MaxTokens pass through to the LLM. Zero values use
	// provider defaults.
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// CreatedAt and UpdatedAt are maintained by persistent stores.
	CreatedAt time.Time `yaml:"-"`
	UpdatedAt time.Time `yaml:"-"`
}

// Validate checks a definition for required fields and recognized values.
func (d Definition) Validate() error {
	var errs []error
	if d.ID == "" {
		errs = append(errs, errors.New("id must not be empty"))
	}
	if d.SystemPrompt == "" {
		errs = append(errs, errors.New("system_prompt must not be empty"))
	}
	if d.BufferPolicy != "" {
		if _, err := pipeline.ParseBufferPolicy(d.BufferPolicy); err != nil {
			errs = append(errs, fmt.Errorf("buffer_policy: %w", err))
		}
	}
	if d.Retrieval.TopK < 0 {
		errs = append(errs, errors.New("retrieval.top_k must not be negative"))
	}
	if d.Temperature < 0 || d.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature %v out of range [0, 2]", d.Temperature))
	}
	if d.MaxTokens < 0 {
		errs = append(errs, errors.New("max_tokens must not be negative"))
	}
	return errors.Join(errs...)
}

// Store is the agent directory. Implementations must be safe for concurrent
// use.
type Store interface {
	// Get retrieves a definition by id. Returns ErrNotFound when absent.
	Get(ctx context.Context, id string) (Definition, error)

	// List returns all definitions ordered by id.
	List(ctx context.Context) ([]Definition, error)

	// Upsert creates or replaces a definition after validating it.
	Upsert(ctx context.Context, def Definition) error

	// Delete removes a definition by id. Deleting an absent id is not an
	// error.
	Delete(ctx context.Context, id string) error
}
