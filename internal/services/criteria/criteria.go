package criteria

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Category is one evaluation dimension and its share of the total score
type Category struct {
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description" json:"description,omitempty"`
	Weight      float64 `yaml:"weight" json:"weight"`
}

// Set is the evaluation rubric vendors are scored against. Weights are
// normalized to sum to 1.0 on load, so a rubric may be written with
// percentages or relative shares.
type Set struct {
	Categories []Category `yaml:"categories"`
}

// Default returns the built-in rubric used when no criteria file is
// configured
func Default() *Set {
	return &Set{
		Categories: []Category{
			{Name: "technical", Description: "Technical skills, systems and infrastructure", Weight: 0.30},
			{Name: "financial", Description: "Cost competitiveness and value for money", Weight: 0.20},
			{Name: "experience", Description: "Past performance and relevant qualifications", Weight: 0.20},
			{Name: "methodology", Description: "Proposed implementation approach", Weight: 0.20},
			{Name: "innovation", Description: "Creative solutions and added value", Weight: 0.10},
		},
	}
}

// LoadFile reads a YAML rubric and validates it. An empty path returns the
// built-in default.
func LoadFile(path string) (*Set, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read criteria file %s: %w", path, err)
	}

	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse criteria file %s: %w", path, err)
	}

	if err := set.normalize(); err != nil {
		return nil, fmt.Errorf("invalid criteria file %s: %w", path, err)
	}
	return &set, nil
}

// normalize lowercases names, checks the rubric is usable, and scales
// weights to sum to 1.0
func (s *Set) normalize() error {
	if len(s.Categories) == 0 {
		return fmt.Errorf("no categories defined")
	}

	seen := make(map[string]bool, len(s.Categories))
	total := 0.0
	for i := range s.Categories {
		c := &s.Categories[i]
		c.Name = strings.ToLower(strings.TrimSpace(c.Name))
		if c.Name == "" {
			return fmt.Errorf("category %d has no name", i+1)
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate category %q", c.Name)
		}
		seen[c.Name] = true
		if c.Weight <= 0 {
			return fmt.Errorf("category %q must have a positive weight", c.Name)
		}
		total += c.Weight
	}

	for i := range s.Categories {
		s.Categories[i].Weight /= total
	}
	return nil
}

// Names returns the category names in rubric order
func (s *Set) Names() []string {
	names := make([]string, len(s.Categories))
	for i, c := range s.Categories {
		names[i] = c.Name
	}
	return names
}

// Weight returns a category's normalized weight, 0 for unknown categories
func (s *Set) Weight(name string) float64 {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, c := range s.Categories {
		if c.Name == name {
			return c.Weight
		}
	}
	return 0
}

// Canonical maps a free-form category label to its rubric name. Unknown
// labels report false so callers can decide how to coerce them.
func (s *Set) Canonical(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, c := range s.Categories {
		if c.Name == name {
			return c.Name, true
		}
	}
	return "", false
}

// Fallback is the category assigned to requirements the extractor labeled
// outside the rubric: the heaviest category, first wins on ties
func (s *Set) Fallback() string {
	best := 0
	for i, c := range s.Categories {
		if c.Weight > s.Categories[best].Weight {
			best = i
		}
	}
	return s.Categories[best].Name
}
