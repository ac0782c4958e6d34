package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/proxyvet/proxyvet/internal/store"
)

// NamedCheck is one bundle entry: a check name plus its definition document.
type NamedCheck struct {
	Name       string
	Definition string
}

type checksFile struct {
	Checks []struct {
		Name       string         `yaml:"name"`
		Definition map[string]any `yaml:"definition"`
	} `yaml:"checks"`
}

// LoadChecksFile reads a YAML check bundle. Each entry needs a name and a
// definition mapping; the mapping is re-encoded as the JSON definition
// document and validated later by the store.
func LoadChecksFile(path string) ([]NamedCheck, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checks file: %w", err)
	}

	var file checksFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse checks file %s: %w", path, err)
	}

	var out []NamedCheck
	for i, entry := range file.Checks {
		if entry.Name == "" {
			return nil, fmt.Errorf("parse checks file %s: entry %d has no name", path, i)
		}
		if len(entry.Definition) == 0 {
			return nil, fmt.Errorf("parse checks file %s: check %q has no definition", path, entry.Name)
		}
		doc, err := json.Marshal(entry.Definition)
		if err != nil {
			return nil, fmt.Errorf("parse checks file %s: check %q: %w", path, entry.Name, err)
		}
		out = append(out, NamedCheck{Name: entry.Name, Definition: string(doc)})
	}
	return out, nil
}

// EnsureChecks stores every bundle entry, reusing checks that already exist
// under the same name. Returns the check ids in bundle order.
func EnsureChecks(s *store.Store, checks []NamedCheck) ([]int64, error) {
	ids := make([]int64, 0, len(checks))
	for _, nc := range checks {
		c, err := s.AddCheck(nc.Name, nc.Definition)
		if errors.Is(err, store.ErrConflict) {
			existing, lookupErr := s.GetCheckByName(nc.Name)
			if lookupErr != nil {
				return nil, fmt.Errorf("check %q conflicts but is not resolvable by name: %w", nc.Name, err)
			}
			ids = append(ids, existing.ID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("ensure check %q: %w", nc.Name, err)
		}
		ids = append(ids, c.ID)
	}
	return ids, nil
}
