package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"ipreputation/internal/models"
)

type groupDocument struct {
	Description string      `json:"description,omitempty"`
	Rules       []PointRule `json:"rules"`
}

type document struct {
	Rules  []PointRule              `json:"rules"`
	Groups map[string]groupDocument `json:"groups"`
}

func (s *System) document() document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc := document{
		Rules:  append([]PointRule{}, s.rules...),
		Groups: make(map[string]groupDocument, len(s.order)),
	}
	for _, name := range s.order {
		g := s.groups[name]
		doc.Groups[name] = groupDocument{
			Description: g.Description,
			Rules:       append([]PointRule{}, g.Rules...),
		}
	}
	return doc
}

// Save writes the system as one JSON document:
// {rules: [...], groups: {name: {description, rules}}}.
func (s *System) Save(path string) error {
	data, err := json.MarshalIndent(s.document(), "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal rules: %v", models.ErrPersistence, err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: mkdir %s: %v", models.ErrPersistence, dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", models.ErrPersistence, path, err)
	}
	return nil
}

// LoadFile builds a System from a persisted rules document. Every rule
// is re-validated on the way in. A missing file yields an empty system.
// The JSON object carries no group order, so loaded groups evaluate in
// name order.
func LoadFile(path string) (*System, error) {
	sys := NewSystem()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return sys, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", models.ErrPersistence, path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", models.ErrPersistence, path, err)
	}

	for _, rule := range doc.Rules {
		if err := sys.AddRule(rule); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(doc.Groups))
	for name := range doc.Groups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		gd := doc.Groups[name]
		if _, err := sys.CreateGroup(name, gd.Description); err != nil {
			return nil, err
		}
		for _, rule := range gd.Rules {
			if err := sys.AddToGroup(name, rule); err != nil {
				return nil, err
			}
		}
	}
	return sys, nil
}
