package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const conciergeYAML = `agents:
  - id: concierge
    name: Concierge
    system_prompt: "You are a hotel concierge."
    voice: alloy
    buffer_policy: medium
    keywords: [Postgres, Grafana]
    retrieval:
      enabled: true
      top_k: 3
      cache_ttl: 2m
    temperature: 0.7
    max_tokens: 300
`

func TestLoadFile(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "agents.yaml", conciergeYAML)

	defs, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("definitions = %d, want 1", len(defs))
	}
	def := defs[0]
	if def.ID != "concierge" || def.BufferPolicy != "medium" {
		t.Errorf("definition = %+v", def)
	}
	if len(def.Keywords) != 2 || def.Keywords[0] != "Postgres" {
		t.Errorf("keywords = %v", def.Keywords)
	}
	if !def.Retrieval.Enabled || def.Retrieval.TopK != 3 {
		t.Errorf("retrieval = %+v", def.Retrieval)
	}
	if def.Retrieval.CacheTTL.Std().Minutes() != 2 {
		t.Errorf("cache_ttl = %v, want 2m", def.Retrieval.CacheTTL)
	}
}

func TestLoadFile_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "agents.yaml", `agents:
  - id: a1
    system_prompt: "hi"
    personality: "typo field"
`)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("LoadFile accepted an unknown field")
	}
}

func TestLoadFile_RejectsInvalidDefinition(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "agents.yaml", `agents:
  - id: a1
    system_prompt: ""
`)
	_, err := LoadFile(path)
	if err == nil || !strings.Contains(err.Error(), "system_prompt") {
		t.Fatalf("LoadFile = %v, want validation error", err)
	}
}

func TestLoadDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "agents:\n  - id: a1\n    system_prompt: one\n")
	writeFile(t, dir, "b.yml", "agents:\n  - id: b1\n    system_prompt: two\n")
	writeFile(t, dir, "notes.txt", "not yaml")

	defs, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(defs) != 2 {
		t.Errorf("definitions = %+v, want 2", defs)
	}
}

func TestLoadDir_DuplicateIDAcrossFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "agents:\n  - id: a1\n    system_prompt: one\n")
	writeFile(t, dir, "b.yaml", "agents:\n  - id: a1\n    system_prompt: two\n")

	_, err := LoadDir(dir)
	if err == nil || !strings.Contains(err.Error(), "a1") {
		t.Fatalf("LoadDir = %v, want duplicate-id error", err)
	}
}
