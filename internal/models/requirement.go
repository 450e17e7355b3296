package models

import "time"

// Requirement is a single evaluation criterion extracted from the RFP
type Requirement struct {
	ID          string  `json:"id"`          // REQ-001, REQ-002, ...
	Text        string  `json:"text"`        // Requirement statement
	Category    string  `json:"category"`    // One of the configured criteria categories
	Mandatory   bool    `json:"mandatory"`   // Mandatory requirements can disqualify vendors
	Weight      float64 `json:"weight"`      // Derived from category weights, normalized across the set
	SourceChunk string  `json:"source_chunk,omitempty"` // Chunk the requirement was extracted from
}

// RequirementSet is the persisted output of requirement extraction
type RequirementSet struct {
	SessionID    string        `json:"session_id"`
	Requirements []Requirement `json:"requirements"`
	Model        string        `json:"model"` // LLM used for extraction
	ExtractedAt  time.Time     `json:"extracted_at"`
}

// MandatoryCount returns the number of mandatory requirements in the set
func (rs *RequirementSet) MandatoryCount() int {
	count := 0
	for _, r := range rs.Requirements {
		if r.Mandatory {
			count++
		}
	}
	return count
}

// ByCategory groups requirement indices by category, preserving order
func (rs *RequirementSet) ByCategory() map[string][]Requirement {
	grouped := make(map[string][]Requirement)
	for _, r := range rs.Requirements {
		grouped[r.Category] = append(grouped[r.Category], r)
	}
	return grouped
}
