// Package sandbox adapts a pluggable code-execution/filesystem capability
// into the tool surface an agent dispatches against. The sandbox backend
// itself (local process, container, remote worker) is out of scope here;
// this package only defines the Capability contract and the automatic tool
// registration built on top of it.
package sandbox

import (
	"context"
	"time"

	"github.com/opencmit/alphora/pkg/tool"
)

// ExecResult is the shape every code/command execution method returns.
type ExecResult struct {
	Success       bool          `json:"success"`
	Output        string        `json:"output"`
	Error         string        `json:"error,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
	ReturnCode    int           `json:"return_code"`
}

// FileInfo describes one entry returned by ListFiles.
type FileInfo struct {
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// Capability is the backend-agnostic contract a sandbox implementation
// provides. Image selection, resource limits, and isolation strategy are
// the concern of whatever constructs a Capability, never of this package:
// the docker image name (or equivalent) is pure configuration handed to the
// concrete implementation, not a constant here.
type Capability interface {
	RunPythonCode(ctx context.Context, code string, timeout time.Duration) (ExecResult, error)
	RunPythonFile(ctx context.Context, path string, args []string, timeout time.Duration) (ExecResult, error)
	RunShellCommand(ctx context.Context, command string, timeout time.Duration) (ExecResult, error)

	SaveFile(ctx context.Context, path, content string) error
	ReadFile(ctx context.Context, path string) (string, error)
	DeleteFile(ctx context.Context, path string) error
	ListFiles(ctx context.Context, path string, recursive bool) ([]FileInfo, error)
	FileExists(ctx context.Context, path string) (bool, error)
	CopyFile(ctx context.Context, src, dst string) error
	MoveFile(ctx context.Context, src, dst string) error

	InstallPipPackage(ctx context.Context, pkg, version string) error
	ListInstalledPackages(ctx context.Context) ([]string, error)
	CheckPackageInstalled(ctx context.Context, pkg string) (bool, error)

	SetEnvironmentVariable(ctx context.Context, key, value string) error
	GetEnvironmentVariable(ctx context.Context, key string) (string, error)
}

// result is the uniform {success, output, error, ...} wire shape every
// registered tool handler returns, regardless of which Capability method
// backed it.
type result struct {
	Success       bool          `json:"success"`
	Output        any           `json:"output,omitempty"`
	Error         string        `json:"error,omitempty"`
	ExecutionTime time.Duration `json:"execution_time,omitempty"`
	ReturnCode    int           `json:"return_code,omitempty"`
}

func ok(output any) result {
	return result{Success: true, Output: output}
}

func fail(err error) result {
	return result{Success: false, Error: err.Error()}
}

func fromExec(r ExecResult, err error) (result, error) {
	if err != nil && r.Error == "" {
		r.Error = err.Error()
	}
	return result{
		Success:       r.Success,
		Output:        r.Output,
		Error:         r.Error,
		ExecutionTime: r.ExecutionTime,
		ReturnCode:    r.ReturnCode,
	}, nil
}

const defaultTimeout = 30 * time.Second

func timeoutFrom(args map[string]any) time.Duration {
	if v, ok := args["timeout"].(float64); ok && v > 0 {
		return time.Duration(v * float64(time.Second))
	}
	return defaultTimeout
}

func str(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func strSlice(args map[string]any, key string) []string {
	raw, _ := args[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}
