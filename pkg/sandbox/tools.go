package sandbox

import (
	"context"

	"github.com/opencmit/alphora/pkg/tool"
)

// RegisterTools wires every sandbox-backed tool into reg against the given
// Capability. Called automatically whenever an agent is constructed with a
// non-nil sandbox handle.
func RegisterTools(reg *tool.Registry, capability Capability) error {
	registrations := []tool.Descriptor{
		runPythonCodeTool(capability),
		runPythonFileTool(capability),
		runShellCommandTool(capability),
		saveFileTool(capability),
		readFileTool(capability),
		deleteFileTool(capability),
		listFilesTool(capability),
		fileExistsTool(capability),
		copyFileTool(capability),
		moveFileTool(capability),
		installPipPackageTool(capability),
		listInstalledPackagesTool(capability),
		checkPackageInstalledTool(capability),
		setEnvironmentVariableTool(capability),
		getEnvironmentVariableTool(capability),
	}
	for _, d := range registrations {
		if err := reg.Register(d, ""); err != nil {
			return err
		}
	}
	return nil
}

func runPythonCodeTool(capability Capability) tool.Descriptor {
	type args struct {
		Code    string  `json:"code" jsonschema_description:"Python source to execute"`
		Timeout float64 `json:"timeout,omitempty" jsonschema_description:"seconds before the run is killed"`
	}
	return tool.Descriptor{
		Name:        "run_python_code",
		Description: "Execute a snippet of Python code in the sandbox and return its output.",
		Schema:      tool.ToSchema(args{}),
		Handler: func(ctx context.Context, a map[string]any) (any, error) {
			r, err := capability.RunPythonCode(ctx, str(a, "code"), timeoutFrom(a))
			return fromExec(r, err)
		},
	}
}

func runPythonFileTool(capability Capability) tool.Descriptor {
	type args struct {
		Path    string   `json:"path" jsonschema_description:"path to a Python file in the sandbox"`
		Args    []string `json:"args,omitempty"`
		Timeout float64  `json:"timeout,omitempty"`
	}
	return tool.Descriptor{
		Name:        "run_python_file",
		Description: "Execute a Python file in the sandbox and return its output.",
		Schema:      tool.ToSchema(args{}),
		Handler: func(ctx context.Context, a map[string]any) (any, error) {
			r, err := capability.RunPythonFile(ctx, str(a, "path"), strSlice(a, "args"), timeoutFrom(a))
			return fromExec(r, err)
		},
	}
}

func runShellCommandTool(capability Capability) tool.Descriptor {
	type args struct {
		Command string  `json:"command" jsonschema_description:"shell command to execute"`
		Timeout float64 `json:"timeout,omitempty"`
	}
	return tool.Descriptor{
		Name:        "run_shell_command",
		Description: "Execute a shell command in the sandbox and return its output.",
		Schema:      tool.ToSchema(args{}),
		Handler: func(ctx context.Context, a map[string]any) (any, error) {
			r, err := capability.RunShellCommand(ctx, str(a, "command"), timeoutFrom(a))
			return fromExec(r, err)
		},
	}
}

func saveFileTool(capability Capability) tool.Descriptor {
	type args struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	return tool.Descriptor{
		Name:        "save_file",
		Description: "Write content to a file in the sandbox, creating or overwriting it.",
		Schema:      tool.ToSchema(args{}),
		Handler: func(ctx context.Context, a map[string]any) (any, error) {
			if err := capability.SaveFile(ctx, str(a, "path"), str(a, "content")); err != nil {
				return fail(err), nil
			}
			return ok(nil), nil
		},
	}
}

func readFileTool(capability Capability) tool.Descriptor {
	type args struct {
		Path string `json:"path"`
	}
	return tool.Descriptor{
		Name:        "read_file",
		Description: "Read a file's content from the sandbox.",
		Schema:      tool.ToSchema(args{}),
		Handler: func(ctx context.Context, a map[string]any) (any, error) {
			content, err := capability.ReadFile(ctx, str(a, "path"))
			if err != nil {
				return fail(err), nil
			}
			return ok(content), nil
		},
	}
}

func deleteFileTool(capability Capability) tool.Descriptor {
	type args struct {
		Path string `json:"path"`
	}
	return tool.Descriptor{
		Name:        "delete_file",
		Description: "Delete a file in the sandbox.",
		Schema:      tool.ToSchema(args{}),
		Handler: func(ctx context.Context, a map[string]any) (any, error) {
			if err := capability.DeleteFile(ctx, str(a, "path")); err != nil {
				return fail(err), nil
			}
			return ok(nil), nil
		},
	}
}

func listFilesTool(capability Capability) tool.Descriptor {
	type args struct {
		Path      string `json:"path,omitempty"`
		Recursive bool   `json:"recursive,omitempty"`
	}
	return tool.Descriptor{
		Name:        "list_files",
		Description: "List files in a sandbox directory, optionally recursively.",
		Schema:      tool.ToSchema(args{}),
		Handler: func(ctx context.Context, a map[string]any) (any, error) {
			entries, err := capability.ListFiles(ctx, str(a, "path"), boolArg(a, "recursive"))
			if err != nil {
				return fail(err), nil
			}
			return ok(entries), nil
		},
	}
}

func fileExistsTool(capability Capability) tool.Descriptor {
	type args struct {
		Path string `json:"path"`
	}
	return tool.Descriptor{
		Name:        "file_exists",
		Description: "Check whether a path exists in the sandbox.",
		Schema:      tool.ToSchema(args{}),
		Handler: func(ctx context.Context, a map[string]any) (any, error) {
			exists, err := capability.FileExists(ctx, str(a, "path"))
			if err != nil {
				return fail(err), nil
			}
			return ok(exists), nil
		},
	}
}

func copyFileTool(capability Capability) tool.Descriptor {
	type args struct {
		Src string `json:"src"`
		Dst string `json:"dst"`
	}
	return tool.Descriptor{
		Name:        "copy_file",
		Description: "Copy a file within the sandbox.",
		Schema:      tool.ToSchema(args{}),
		Handler: func(ctx context.Context, a map[string]any) (any, error) {
			if err := capability.CopyFile(ctx, str(a, "src"), str(a, "dst")); err != nil {
				return fail(err), nil
			}
			return ok(nil), nil
		},
	}
}

func moveFileTool(capability Capability) tool.Descriptor {
	type args struct {
		Src string `json:"src"`
		Dst string `json:"dst"`
	}
	return tool.Descriptor{
		Name:        "move_file",
		Description: "Move or rename a file within the sandbox.",
		Schema:      tool.ToSchema(args{}),
		Handler: func(ctx context.Context, a map[string]any) (any, error) {
			if err := capability.MoveFile(ctx, str(a, "src"), str(a, "dst")); err != nil {
				return fail(err), nil
			}
			return ok(nil), nil
		},
	}
}

func installPipPackageTool(capability Capability) tool.Descriptor {
	type args struct {
		Pkg     string `json:"pkg"`
		Version string `json:"version,omitempty"`
	}
	return tool.Descriptor{
		Name:        "install_pip_package",
		Description: "Install a Python package into the sandbox environment.",
		Schema:      tool.ToSchema(args{}),
		Handler: func(ctx context.Context, a map[string]any) (any, error) {
			if err := capability.InstallPipPackage(ctx, str(a, "pkg"), str(a, "version")); err != nil {
				return fail(err), nil
			}
			return ok(nil), nil
		},
	}
}

func listInstalledPackagesTool(capability Capability) tool.Descriptor {
	type args struct{}
	return tool.Descriptor{
		Name:        "list_installed_packages",
		Description: "List Python packages installed in the sandbox environment.",
		Schema:      tool.ToSchema(args{}),
		Handler: func(ctx context.Context, a map[string]any) (any, error) {
			pkgs, err := capability.ListInstalledPackages(ctx)
			if err != nil {
				return fail(err), nil
			}
			return ok(pkgs), nil
		},
	}
}

func checkPackageInstalledTool(capability Capability) tool.Descriptor {
	type args struct {
		Pkg string `json:"pkg"`
	}
	return tool.Descriptor{
		Name:        "check_package_installed",
		Description: "Check whether a Python package is installed in the sandbox environment.",
		Schema:      tool.ToSchema(args{}),
		Handler: func(ctx context.Context, a map[string]any) (any, error) {
			installed, err := capability.CheckPackageInstalled(ctx, str(a, "pkg"))
			if err != nil {
				return fail(err), nil
			}
			return ok(installed), nil
		},
	}
}

func setEnvironmentVariableTool(capability Capability) tool.Descriptor {
	type args struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	return tool.Descriptor{
		Name:        "set_environment_variable",
		Description: "Set an environment variable in the sandbox.",
		Schema:      tool.ToSchema(args{}),
		Handler: func(ctx context.Context, a map[string]any) (any, error) {
			if err := capability.SetEnvironmentVariable(ctx, str(a, "key"), str(a, "value")); err != nil {
				return fail(err), nil
			}
			return ok(nil), nil
		},
	}
}

func getEnvironmentVariableTool(capability Capability) tool.Descriptor {
	type args struct {
		Key string `json:"key"`
	}
	return tool.Descriptor{
		Name:        "get_environment_variable",
		Description: "Get an environment variable's value from the sandbox.",
		Schema:      tool.ToSchema(args{}),
		Handler: func(ctx context.Context, a map[string]any) (any, error) {
			val, err := capability.GetEnvironmentVariable(ctx, str(a, "key"))
			if err != nil {
				return fail(err), nil
			}
			return ok(val), nil
		},
	}
}
