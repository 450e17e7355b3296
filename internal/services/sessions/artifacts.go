package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Artifact layout under the outputs root:
//
//	{outputs}/{session_id}/chunks/{document_id}_chunks.json
//	{outputs}/{session_id}/index/index.json
//	{outputs}/{session_id}/analysis/requirements.json
//	{outputs}/{session_id}/compliance/{vendor}_compliance.json
//	{outputs}/{session_id}/compliance/scoring_summary.json

// OutputDir returns the root of the session's artifact tree
func (s *Service) OutputDir(sessionID string) string {
	return filepath.Join(s.outputsRoot, sessionID)
}

// ChunksPath returns the chunk artifact path for one document
func (s *Service) ChunksPath(sessionID, documentID string) string {
	return filepath.Join(s.OutputDir(sessionID), "chunks", documentID+"_chunks.json")
}

// IndexPath returns the vector index snapshot path
func (s *Service) IndexPath(sessionID string) string {
	return filepath.Join(s.OutputDir(sessionID), "index", "index.json")
}

// RequirementsPath returns the extracted requirement set path
func (s *Service) RequirementsPath(sessionID string) string {
	return filepath.Join(s.OutputDir(sessionID), "analysis", "requirements.json")
}

// CompliancePath returns one vendor's compliance result path
func (s *Service) CompliancePath(sessionID, vendor string) string {
	return filepath.Join(s.OutputDir(sessionID), "compliance", sanitizeVendor(vendor)+"_compliance.json")
}

// ScoringSummaryPath returns the cross-vendor scoring summary path
func (s *Service) ScoringSummaryPath(sessionID string) string {
	return filepath.Join(s.OutputDir(sessionID), "compliance", "scoring_summary.json")
}

// WriteArtifact persists v as indented JSON. The write is atomic: a crash
// mid-write leaves either the previous artifact or none, never a torn file.
func (s *Service) WriteArtifact(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".artifact-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp artifact: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return nil
}

// ReadArtifact loads a JSON artifact into v
func (s *Service) ReadArtifact(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("artifact %s is corrupt: %w", filepath.Base(path), err)
	}
	return nil
}

// RemoveArtifacts deletes the session's entire output tree
func (s *Service) RemoveArtifacts(sessionID string) error {
	if err := os.RemoveAll(s.OutputDir(sessionID)); err != nil {
		return fmt.Errorf("failed to remove session outputs: %w", err)
	}
	return nil
}

// sanitizeVendor keeps vendor names path-safe in artifact filenames
func sanitizeVendor(vendor string) string {
	name := strings.ReplaceAll(vendor, "/", "-")
	name = strings.ReplaceAll(name, "\\", "-")
	return name
}
