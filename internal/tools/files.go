package tools

import (
	"context"

	"github.com/agentlab-ai/agentlab/internal/workspace"
)

// FileOps exposes workspace file access to the model. All paths are
// workspace-relative; the workspace rejects traversal.
type FileOps struct {
	ws *workspace.Workspace
}

func NewFileOps(ws *workspace.Workspace) *FileOps {
	return &FileOps{ws: ws}
}

func (f *FileOps) Name() string { return "file_ops" }

func (f *FileOps) Description() string {
	return "Reads, writes and lists files in the run workspace. " +
		"Operations: read (path), write (path, content), list."
}

func (f *FileOps) Parameters() Schema {
	return Schema{
		Type: "object",
		Properties: map[string]interface{}{
			"operation": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"read", "write", "list"},
				"description": "Which file operation to perform",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Workspace-relative file path (read/write)",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "File content (write)",
			},
		},
		Required: []string{"operation"},
	}
}

func (f *FileOps) Execute(ctx context.Context, args map[string]interface{}) Result {
	op, ok := stringArg(args, "operation")
	if !ok {
		return Fail("syntax", "file_ops: missing required argument %q", "operation")
	}
	switch op {
	case "read":
		path, ok := stringArg(args, "path")
		if !ok || path == "" {
			return Fail("syntax", "file_ops: read requires %q", "path")
		}
		data, err := f.ws.ReadFile(path)
		if err != nil {
			return Fail("runtime", "file_ops: read %s: %v", path, err)
		}
		return Result{
			Success:  true,
			Data:     string(data),
			Metadata: map[string]interface{}{"path": path, "bytes": len(data)},
		}
	case "write":
		path, ok := stringArg(args, "path")
		if !ok || path == "" {
			return Fail("syntax", "file_ops: write requires %q", "path")
		}
		content, _ := stringArg(args, "content")
		if err := f.ws.WriteFile(path, []byte(content)); err != nil {
			return Fail("runtime", "file_ops: write %s: %v", path, err)
		}
		return Result{
			Success:  true,
			Data:     map[string]interface{}{"path": path, "bytes": len(content)},
			Metadata: map[string]interface{}{"path": path},
		}
	case "list":
		files, err := f.ws.List()
		if err != nil {
			return Fail("runtime", "file_ops: list: %v", err)
		}
		return Result{Success: true, Data: files}
	default:
		return Fail("syntax", "file_ops: unknown operation %q", op)
	}
}
