// Package workspace manages the per-run scratch directory shared by tools.
// Execution within a run is sequential, so no locking is needed; concurrent
// runs must be given distinct workspaces.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Workspace is a filesystem directory scoped to one run. All tool file
// access resolves through it; paths escaping the root are rejected.
type Workspace struct {
	root string
}

// New creates (if needed) and returns a workspace rooted at dir.
func New(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create %s: %w", abs, err)
	}
	return &Workspace{root: abs}, nil
}

// NewTemp creates a workspace under the system temp directory, named by the
// run ID so concurrent runs never collide.
func NewTemp(runID string) (*Workspace, error) {
	return New(filepath.Join(os.TempDir(), "agentlab", runID))
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string { return w.root }

// Resolve maps a workspace-relative path to an absolute one, rejecting
// absolute inputs and parent traversal.
func (w *Workspace) Resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("workspace: empty path")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("workspace: absolute paths not allowed: %s", rel)
	}
	abs := filepath.Join(w.root, filepath.Clean(rel))
	if abs != w.root && !strings.HasPrefix(abs, w.root+string(filepath.Separator)) {
		return "", fmt.Errorf("workspace: path escapes workspace: %s", rel)
	}
	return abs, nil
}

// ReadFile reads a workspace-relative file.
func (w *Workspace) ReadFile(rel string) ([]byte, error) {
	abs, err := w.Resolve(rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

// WriteFile writes a workspace-relative file, creating directories as needed.
func (w *Workspace) WriteFile(rel string, data []byte) error {
	abs, err := w.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	return os.WriteFile(abs, data, 0o644)
}

// List returns workspace-relative paths of all regular files, sorted.
func (w *Workspace) List() ([]string, error) {
	var out []string
	err := filepath.Walk(w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// Remove deletes the workspace directory and everything under it.
func (w *Workspace) Remove() error {
	return os.RemoveAll(w.root)
}
