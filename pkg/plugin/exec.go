package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ExecPlugin exposes an external binary as a tool namespace. Each call runs
// `binary [args...] <command>` with {"command", "args"} as JSON on stdin.
//
// Stdout may be a result object ({"success", "data", "output", "error",
// "needs_confirmation", "prompt"}), any other JSON value (stored as Data) or
// plain text (stored as Output). A non-zero exit status fails the call.
type ExecPlugin struct {
	id       string
	cfg      ExecConfig
	extraEnv []string
}

// NewExecPlugin builds an exec-backed plugin for namespace id.
func NewExecPlugin(id string, cfg ExecConfig) *ExecPlugin {
	return &ExecPlugin{id: id, cfg: cfg}
}

// Info implements Plugin.
func (p *ExecPlugin) Info() Info {
	desc := p.cfg.Description
	if desc == "" {
		desc = "External tool " + p.cfg.Binary
	}
	return Info{
		ID:           p.id,
		Name:         p.id,
		Description:  desc,
		Category:     TypeExec,
		Capabilities: []Capability{CapabilityExecution},
	}
}

// Configure exports string values of the config block as MOTHER_CFG_* variables.
func (p *ExecPlugin) Configure(cfg map[string]any) error {
	for k, v := range cfg {
		if s, ok := v.(string); ok {
			p.extraEnv = append(p.extraEnv, "MOTHER_CFG_"+strings.ToUpper(k)+"="+s)
		}
	}
	return nil
}

// Init verifies the binary can be resolved.
func (p *ExecPlugin) Init(*ExecutionContext) error {
	if _, err := exec.LookPath(p.cfg.Binary); err != nil {
		return fmt.Errorf("resolve binary %s: %w", p.cfg.Binary, err)
	}
	return nil
}

// Start implements Plugin.
func (p *ExecPlugin) Start(*ExecutionContext) error { return nil }

// Stop implements Plugin.
func (p *ExecPlugin) Stop(*ExecutionContext) error { return nil }

// Commands implements Plugin.
func (p *ExecPlugin) Commands() []Command {
	out := make([]Command, len(p.cfg.Commands))
	copy(out, p.cfg.Commands)
	return out
}

type execOutput struct {
	Success           *bool  `json:"success"`
	Data              any    `json:"data"`
	Output            string `json:"output"`
	Error             string `json:"error"`
	NeedsConfirmation bool   `json:"needs_confirmation"`
	Prompt            string `json:"prompt"`
}

// Execute implements Plugin.
func (p *ExecPlugin) Execute(ctx context.Context, command string, args map[string]any) (*Result, error) {
	known := false
	for _, c := range p.cfg.Commands {
		if c.Name == command {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("unknown command %s for %s", command, p.id)
	}

	if p.cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	stdin, err := json.Marshal(map[string]any{"command": command, "args": args})
	if err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	argv := append(append([]string{}, p.cfg.Args...), command)
	cmd := exec.CommandContext(ctx, p.cfg.Binary, argv...)
	cmd.Dir = p.cfg.WorkingDir
	cmd.WaitDelay = time.Second
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Env = append(os.Environ(), p.extraEnv...)
	for k, v := range p.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s.%s timed out", p.id, command)
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		return nil, fmt.Errorf("%s failed: %v: %s", p.cfg.Binary, err, detail)
	}

	return parseExecOutput(stdout.Bytes()), nil
}

func parseExecOutput(raw []byte) *Result {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return &Result{Success: true}
	}

	var structured execOutput
	if trimmed[0] == '{' && json.Unmarshal(trimmed, &structured) == nil && structured.Success != nil {
		return &Result{
			Success:           *structured.Success,
			Data:              structured.Data,
			Output:            structured.Output,
			Error:             structured.Error,
			NeedsConfirmation: structured.NeedsConfirmation,
			Prompt:            structured.Prompt,
		}
	}

	var data any
	if json.Unmarshal(trimmed, &data) == nil {
		return &Result{Success: true, Data: data}
	}
	return &Result{Success: true, Output: string(trimmed)}
}
