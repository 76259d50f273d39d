package agent

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// definitionsFile is the top-level structure of an agent definitions YAML
// file.
//
// Example:
//
//	agents:
//	  - id: concierge
//	    system_prompt: "You are a hotel concierge."
//	    voice: alloy
//	    buffer_policy: medium
type definitionsFile struct {
	Agents []Definition `yaml:"agents"`
}

// LoadFile reads and validates one definitions YAML file.
func LoadFile(path string) ([]Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("agent: open definitions file %q: %w", path, err)
	}
	defer f.Close()

	defs, err := loadReader(f)
	if err != nil {
		return nil, fmt.Errorf("agent: parse definitions file %q: %w", path, err)
	}
	return defs, nil
}

// LoadDir loads every *.yaml and *.yml file in dir and returns the combined
// definitions. A duplicate agent id across files is an error.
func LoadDir(dir string) ([]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("agent: read definitions dir %q: %w", dir, err)
	}

	var defs []Definition
	seen := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || !isYAML(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		fileDefs, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		for _, def := range fileDefs {
			if prev, dup := seen[def.ID]; dup {
				return nil, fmt.Errorf("agent: id %q defined in both %q and %q", def.ID, prev, path)
			}
			seen[def.ID] = path
			defs = append(defs, def)
		}
	}
	return defs, nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// loadReader parses and validates definitions YAML. Unknown fields are
// rejected to catch typos early.
func loadReader(r io.Reader) ([]Definition, error) {
	var file definitionsFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	var errs []error
	for i, def := range file.Agents {
		if err := def.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("agents[%d] (%s): %w", i, def.ID, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return file.Agents, nil
}
