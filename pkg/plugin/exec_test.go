package plugin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestExecPluginParsesStructuredOutput(t *testing.T) {
	script := writeScript(t, `case "$1" in
  status) cat >/dev/null; echo '{"success": true, "output": "clean", "data": {"dirty": false}}' ;;
  echo) cat ;;
  text) echo "plain words" ;;
  fail) echo "fatal: not a repository" >&2; exit 3 ;;
esac
`)
	p := NewExecPlugin("git", ExecConfig{
		Binary:   script,
		Commands: []Command{{Name: "status"}, {Name: "echo"}, {Name: "text"}, {Name: "fail"}},
	})
	if err := p.Init(nil); err != nil {
		t.Fatalf("Init: %v", err)
	}
	ctx := context.Background()

	res, err := p.Execute(ctx, "status", nil)
	if err != nil || !res.Success || res.Output != "clean" {
		t.Fatalf("status: %+v %v", res, err)
	}

	res, err = p.Execute(ctx, "echo", map[string]any{"path": "a.txt"})
	if err != nil {
		t.Fatalf("echo: %v", err)
	}
	payload, ok := res.Data.(map[string]any)
	if !ok || payload["command"] != "echo" {
		t.Fatalf("stdin payload not echoed: %+v", res.Data)
	}
	if args, _ := payload["args"].(map[string]any); args["path"] != "a.txt" {
		t.Fatalf("args not forwarded: %+v", payload)
	}

	res, err = p.Execute(ctx, "text", nil)
	if err != nil || res.Output != "plain words" {
		t.Fatalf("text: %+v %v", res, err)
	}

	_, err = p.Execute(ctx, "fail", nil)
	if err == nil || !strings.Contains(err.Error(), "not a repository") {
		t.Fatalf("expected stderr in error, got %v", err)
	}

	if _, err := p.Execute(ctx, "missing", nil); err == nil {
		t.Fatalf("expected unknown command error")
	}
}

func TestExecPluginTimeout(t *testing.T) {
	script := writeScript(t, "exec sleep 5\n")
	p := NewExecPlugin("slow", ExecConfig{Binary: script, TimeoutSeconds: 1, Commands: []Command{{Name: "wait"}}})
	_, err := p.Execute(context.Background(), "wait", nil)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestExecPluginExportsConfig(t *testing.T) {
	script := writeScript(t, `echo "$MOTHER_CFG_REGION/$EXTRA"`+"\n")
	p := NewExecPlugin("env", ExecConfig{
		Binary:   script,
		Env:      map[string]string{"EXTRA": "x"},
		Commands: []Command{{Name: "show"}},
	})
	if err := p.Configure(map[string]any{"region": "eu", "count": 3}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	res, err := p.Execute(context.Background(), "show", nil)
	if err != nil || res.Output != "eu/x" {
		t.Fatalf("unexpected output: %+v %v", res, err)
	}
}

func TestManagerRegistersExecPlugins(t *testing.T) {
	script := writeScript(t, `echo '{"success": true, "output": "ok"}'`+"\n")
	cfg := ManagerConfig{
		Defaults: IsolationPolicy{AllowedCapabilities: []Capability{CapabilityExecution}},
		Plugins: map[string]PluginConfig{
			"ops": {Enabled: true, Exec: &ExecConfig{Binary: script, Commands: []Command{{Name: "deploy", Confirm: true}}}},
		},
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if !m.RequiresConfirmation("ops.deploy") {
		t.Fatalf("expected ops.deploy to require confirmation")
	}
	res, err := m.Execute(context.Background(), "ops.deploy", map[string]any{})
	if err != nil || !res.Success || res.Output != "ok" {
		t.Fatalf("unexpected result: %+v %v", res, err)
	}
}
