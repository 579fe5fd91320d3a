package workspace

import (
	"bytes"
	"fmt"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"wsundo/internal/undo"
)

// ProjectFile holds a project's metadata inside the project folder.
const ProjectFile = ".project.yaml"

func (w *Workspace) readProjectMetadata(p undo.Path) (*undo.ProjectMetadata, error) {
	data, err := afero.ReadFile(w.fs, p.Append(ProjectFile).String())
	if err != nil {
		return nil, fmt.Errorf("reading project file: %w", err)
	}
	var meta undo.ProjectMetadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing project file: %w", err)
	}
	if meta.Name == "" {
		meta.Name = p.Name()
	}
	return &meta, nil
}

func (w *Workspace) writeProjectMetadata(p undo.Path, meta *undo.ProjectMetadata) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(meta); err != nil {
		return fmt.Errorf("encoding project file: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding project file: %w", err)
	}
	return afero.WriteFile(w.fs, p.Append(ProjectFile).String(), buf.Bytes(), 0644)
}
