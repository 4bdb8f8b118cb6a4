package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/rehearse-io/rehearse/internal/playbook"
)

// ExportPlaybook writes a playbook version to a YAML file. Version 0
// exports the latest.
func (s *Store) ExportPlaybook(ctx context.Context, id string, version int, path string) error {
	pb, err := s.LoadPlaybook(ctx, id, version)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(pb)
	if err != nil {
		return fmt.Errorf("failed to marshal playbook: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	return nil
}

// ImportPlaybook reads a YAML playbook file and stores it as a new
// version. An imported playbook keeps its ID when present so re-imports
// append versions instead of forking.
func (s *Store) ImportPlaybook(ctx context.Context, path string) (*playbook.Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read import file: %w", err)
	}

	var pb playbook.Playbook
	if err := yaml.Unmarshal(data, &pb); err != nil {
		return nil, fmt.Errorf("failed to parse playbook YAML: %w", err)
	}

	if pb.SchemaVersion == 0 {
		pb.SchemaVersion = playbook.SchemaVersion
	}
	if pb.SchemaVersion != playbook.SchemaVersion {
		return nil, fmt.Errorf("unsupported playbook schema version %d", pb.SchemaVersion)
	}

	if err := s.SavePlaybook(ctx, &pb); err != nil {
		return nil, err
	}
	return &pb, nil
}
