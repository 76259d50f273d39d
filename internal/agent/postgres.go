package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the DDL for the agent_definitions table. Apply it via Migrate
// or manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS agent_definitions (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL DEFAULT '',
    system_prompt TEXT NOT NULL,
    voice         TEXT NOT NULL DEFAULT '',
    buffer_policy TEXT NOT NULL DEFAULT '',
    providers     JSONB NOT NULL DEFAULT '{}',
    keywords      JSONB NOT NULL DEFAULT '[]',
    retrieval     JSONB NOT NULL DEFAULT '{}',
    temperature   DOUBLE PRECISION NOT NULL DEFAULT 0,
    max_tokens    INTEGER NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by PostgresStore. Both *pgxpool.Pool
// and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a Store backed by Postgres. Structured sub-fields are
// serialized as JSONB.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps db. Call Migrate before issuing queries on a fresh
// database.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the Schema DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("agent: migrate: %w", err)
	}
	return nil
}

const selectColumns = `id, name, system_prompt, voice, buffer_policy,
       providers, keywords, retrieval, temperature, max_tokens,
       created_at, updated_at`

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (Definition, error) {
	query := `SELECT ` + selectColumns + ` FROM agent_definitions WHERE id = $1`
	def, err := scanDefinition(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Definition{}, ErrNotFound
		}
		return Definition{}, fmt.Errorf("agent: get %q: %w", id, err)
	}
	return def, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context) ([]Definition, error) {
	query := `SELECT ` + selectColumns + ` FROM agent_definitions ORDER BY id`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("agent: list: %w", err)
	}
	defer rows.Close()

	var defs []Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("agent: list scan: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agent: list: %w", err)
	}
	return defs, nil
}

// Upsert implements Store.
func (s *PostgresStore) Upsert(ctx context.Context, def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	providersJSON, err := json.Marshal(def.Providers)
	if err != nil {
		return fmt.Errorf("agent: marshal providers: %w", err)
	}
	keywordsJSON, err := json.Marshal(emptySlice(def.Keywords))
	if err != nil {
		return fmt.Errorf("agent: marshal keywords: %w", err)
	}
	retrievalJSON, err := json.Marshal(def.Retrieval)
	if err != nil {
		return fmt.Errorf("agent: marshal retrieval: %w", err)
	}

	const query = `
		INSERT INTO agent_definitions (
			id, name, system_prompt, voice, buffer_policy,
			providers, keywords, retrieval, temperature, max_tokens
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			system_prompt = EXCLUDED.system_prompt,
			voice = EXCLUDED.voice,
			buffer_policy = EXCLUDED.buffer_policy,
			providers = EXCLUDED.providers,
			keywords = EXCLUDED.keywords,
			retrieval = EXCLUDED.retrieval,
			temperature = EXCLUDED.temperature,
			max_tokens = EXCLUDED.max_tokens,
			updated_at = now()`

	if _, err := s.db.Exec(ctx, query,
		def.ID, def.Name, def.SystemPrompt, def.Voice, def.BufferPolicy,
		providersJSON, keywordsJSON, retrievalJSON, def.Temperature, def.MaxTokens,
	); err != nil {
		return fmt.Errorf("agent: upsert %q: %w", def.ID, err)
	}
	return nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM agent_definitions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("agent: delete %q: %w", id, err)
	}
	return nil
}

// scanDefinition reads one row laid out as selectColumns.
func scanDefinition(row pgx.Row) (Definition, error) {
	var def Definition
	var providersJSON, keywordsJSON, retrievalJSON []byte
	var created, updated time.Time
	if err := row.Scan(
		&def.ID, &def.Name, &def.SystemPrompt, &def.Voice, &def.BufferPolicy,
		&providersJSON, &keywordsJSON, &retrievalJSON, &def.Temperature, &def.MaxTokens,
		&created, &updated,
	); err != nil {
		return Definition{}, err
	}
	if err := json.Unmarshal(providersJSON, &def.Providers); err != nil {
		return Definition{}, fmt.Errorf("unmarshal providers: %w", err)
	}
	if err := json.Unmarshal(keywordsJSON, &def.Keywords); err != nil {
		return Definition{}, fmt.Errorf("unmarshal keywords: %w", err)
	}
	if err := json.Unmarshal(retrievalJSON, &def.Retrieval); err != nil {
		return Definition{}, fmt.Errorf("unmarshal retrieval: %w", err)
	}
	def.CreatedAt = created
	def.UpdatedAt = updated
	return def, nil
}

// emptySlice returns s or an empty non-nil slice, so JSON marshalling
// produces "[]" instead of "null".
func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
