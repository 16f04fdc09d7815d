package workspace

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ManifestName is the filename tools write to publish visualizations.
const ManifestName = "viz.yaml"

// Visualization is one renderable artifact declared by a tool. Path points
// at a workspace-relative data file; Spec carries inline chart options.
type Visualization struct {
	Type  string                 `yaml:"type" json:"type"`
	Title string                 `yaml:"title,omitempty" json:"title,omitempty"`
	Path  string                 `yaml:"path,omitempty" json:"path,omitempty"`
	Spec  map[string]interface{} `yaml:"spec,omitempty" json:"spec,omitempty"`
}

// Manifest is the viz.yaml document shape.
type Manifest struct {
	Visualizations []Visualization `yaml:"visualizations"`
}

// LoadManifest parses viz.yaml from the workspace root. A missing manifest
// is not an error: it returns (nil, nil).
func (w *Workspace) LoadManifest() ([]Visualization, error) {
	data, err := w.ReadFile(ManifestName)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("workspace: parse %s: %w", ManifestName, err)
	}
	for i, v := range m.Visualizations {
		if v.Type == "" {
			return nil, fmt.Errorf("workspace: %s: visualization %d missing type", ManifestName, i)
		}
		if v.Path != "" {
			if _, err := w.Resolve(v.Path); err != nil {
				return nil, fmt.Errorf("workspace: %s: visualization %d: %w", ManifestName, i, err)
			}
		}
	}
	return m.Visualizations, nil
}

// ClearManifest removes a previously written manifest so stale
// visualizations from an earlier step are not re-reported.
func (w *Workspace) ClearManifest() error {
	abs, err := w.Resolve(ManifestName)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
