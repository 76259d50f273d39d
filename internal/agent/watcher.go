package agent

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"time"
)

// DefinitionsDiff lists the agent ids that changed between two loads of the
// definitions directory.
type DefinitionsDiff struct {
	Added    []string
	Removed  []string
	Modified []string
}

// Empty reports whether nothing changed.
func (d DefinitionsDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// DiffDefinitions compares two definition sets by id. Timestamps are ignored;
// they are store bookkeeping, not content.
func DiffDefinitions(old, new []Definition) DefinitionsDiff {
	oldByID := make(map[string]Definition, len(old))
	for _, def := range old {
		def.CreatedAt, def.UpdatedAt = time.Time{}, time.Time{}
		oldByID[def.ID] = def
	}

	var d DefinitionsDiff
	seen := make(map[string]bool, len(new))
	for _, def := range new {
		seen[def.ID] = true
		prev, ok := oldByID[def.ID]
		if !ok {
			d.Added = append(d.Added, def.ID)
			continue
		}
		def.CreatedAt, def.UpdatedAt = time.Time{}, time.Time{}
		if !reflect.DeepEqual(prev, def) {
			d.Modified = append(d.Modified, def.ID)
		}
	}
	for id := range oldByID {
		if !seen[id] {
			d.Removed = append(d.Removed, id)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Modified)
	return d
}

// Reloader polls a definitions directory and swaps the MemStore contents
// when any YAML file changes. A load error keeps the previous definitions.
type Reloader struct {
	dir      string
	interval time.Duration
	store    *MemStore
	log      *slog.Logger

	current []Definition
	hash    [sha256.Size]byte
}

// NewReloader loads dir once into store and returns a reloader primed with
// the result. Call Run to start polling.
func NewReloader(dir string, interval time.Duration, store *MemStore, log *slog.Logger) (*Reloader, error) {
	if log == nil {
		log = slog.Default()
	}
	defs, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	store.Replace(defs)
	r := &Reloader{dir: dir, interval: interval, store: store, log: log, current: defs}
	r.hash, err = hashDir(dir)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Run polls until ctx is cancelled. A non-positive interval disables
// polling; the initial load still stands.
func (r *Reloader) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.poll()
		}
	}
}

func (r *Reloader) poll() {
	hash, err := hashDir(r.dir)
	if err != nil {
		r.log.Warn("agent reload: hash failed", "dir", r.dir, "error", err)
		return
	}
	if hash == r.hash {
		return
	}

	defs, err := LoadDir(r.dir)
	if err != nil {
		r.log.Warn("agent reload: load failed, keeping previous definitions", "dir", r.dir, "error", err)
		r.hash = hash
		return
	}

	diff := DiffDefinitions(r.current, defs)
	r.store.Replace(defs)
	r.current = defs
	r.hash = hash
	if diff.Empty() {
		return
	}
	r.log.Info("agent definitions reloaded",
		"dir", r.dir,
		"added", diff.Added,
		"removed", diff.Removed,
		"modified", diff.Modified)
}

// hashDir digests the names and contents of every YAML file in dir, in
// lexical order, so any edit, rename, or deletion changes the digest.
func hashDir(dir string) ([sha256.Size]byte, error) {
	var zero [sha256.Size]byte
	entries, err := os.ReadDir(dir)
	if err != nil {
		return zero, err
	}

	h := sha256.New()
	for _, e := range entries {
		if e.IsDir() || !isYAML(e.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return zero, err
		}
		h.Write([]byte(e.Name()))
		h.Write([]byte{0})
		h.Write(data)
	}

	var sum [sha256.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum, nil
}
