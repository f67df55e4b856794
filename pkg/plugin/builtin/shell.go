package builtin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strings"

	"Mother-Agent/pkg/plugin"
)

// ShellNamespace 是本机命令工具的命名空间。
const ShellNamespace = "shell"

// Shell 暴露少量本机命令。run_command 会执行任意脚本，因此需要确认。
type Shell struct {
	shell string
	dir   string
}

// NewShell 使用 /bin/sh 创建 shell 插件。
func NewShell() *Shell {
	return &Shell{shell: "/bin/sh"}
}

// Info implements plugin.Plugin.
func (s *Shell) Info() plugin.Info {
	return plugin.Info{
		ID:           ShellNamespace,
		Name:         "Shell",
		Description:  "Local machine commands.",
		Author:       "Mother-Agent",
		Version:      "1.0.0",
		Category:     plugin.TypeBuiltin,
		Capabilities: []plugin.Capability{plugin.CapabilityExecution},
	}
}

// Configure 支持 shell 与 working_dir 两个可选项。
func (s *Shell) Configure(cfg map[string]any) error {
	if v, ok := cfg["shell"].(string); ok && v != "" {
		s.shell = v
	}
	if v, ok := cfg["working_dir"].(string); ok {
		s.dir = v
	}
	return nil
}

// Init implements plugin.Plugin.
func (s *Shell) Init(*plugin.ExecutionContext) error {
	if _, err := exec.LookPath(s.shell); err != nil {
		return fmt.Errorf("resolve shell %s: %w", s.shell, err)
	}
	return nil
}

// Start implements plugin.Plugin.
func (s *Shell) Start(*plugin.ExecutionContext) error { return nil }

// Stop implements plugin.Plugin.
func (s *Shell) Stop(*plugin.ExecutionContext) error { return nil }

// Commands implements plugin.Plugin.
func (s *Shell) Commands() []plugin.Command {
	empty := map[string]any{"type": "object", "properties": map[string]any{}}
	return []plugin.Command{
		{
			Name:        "run_command",
			Description: "Run a shell command and return its output",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{"type": "string", "description": "Command line passed to the shell"},
				},
				"required": []any{"command"},
			},
			Confirm: true,
		},
		{Name: "hostname", Description: "Return the machine host name", Parameters: empty},
		{Name: "whoami", Description: "Return the current user name", Parameters: empty},
	}
}

// Execute implements plugin.Plugin.
func (s *Shell) Execute(ctx context.Context, command string, args map[string]any) (*plugin.Result, error) {
	switch command {
	case "hostname":
		name, err := os.Hostname()
		if err != nil {
			return nil, err
		}
		return &plugin.Result{Success: true, Output: name}, nil
	case "whoami":
		u, err := user.Current()
		if err != nil {
			return nil, err
		}
		return &plugin.Result{Success: true, Output: u.Username}, nil
	case "run_command":
		line, _ := args["command"].(string)
		if strings.TrimSpace(line) == "" {
			return nil, errors.New("missing required parameter: command")
		}
		cmd := exec.CommandContext(ctx, s.shell, "-c", line)
		cmd.Dir = s.dir
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("command failed: %v: %s", err, strings.TrimSpace(stderr.String()))
		}
		return &plugin.Result{Success: true, Output: strings.TrimRight(stdout.String(), "\n")}, nil
	default:
		return nil, fmt.Errorf("unknown command %s for %s", command, ShellNamespace)
	}
}
