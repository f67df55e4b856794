package pythonbridge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	xerrors "Mother-Agent/internal/errors"
	"Mother-Agent/internal/llm"
)

func TestResolveScriptPath(t *testing.T) {
	if got := ResolveScriptPath("/opt/mother", "bridge.py"); got != filepath.Join("/opt/mother", "bridge.py") {
		t.Fatalf("unexpected path %q", got)
	}
	if got := ResolveScriptPath("/opt/mother", "/abs/bridge.py"); got != "/abs/bridge.py" {
		t.Fatalf("absolute path should be kept, got %q", got)
	}
	if got := ResolveScriptPath("", ""); got != "" {
		t.Fatalf("expected empty path")
	}
}

func TestNewClientRequiresScript(t *testing.T) {
	if _, err := NewClient(Config{Python: "python3"}); err == nil {
		t.Fatalf("expected error without script")
	}
}

func TestCreateMessageViaShellScript(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "bridge.sh")
	body := "#!/bin/sh\ncat > /dev/null\n" +
		`echo '{"text":"done","tool_calls":[{"name":"fs.read","arguments":{"path":"a"}}]}'` + "\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	client, err := NewClient(Config{Python: sh, Script: script, WorkingDir: dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp, err := client.CreateMessage(context.Background(), []llm.Message{llm.UserText("hi")}, "sys", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "done" || len(resp.ToolCalls) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.ToolCalls[0].ID == "" || resp.StopReason != llm.StopToolUse {
		t.Fatalf("expected synthesized id and tool_use stop reason: %+v", resp.ToolCalls[0])
	}
}

func TestCreateMessageScriptFailure(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "fail.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho nope >&2\nexit 3\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	client, _ := NewClient(Config{Python: sh, Script: script, WorkingDir: dir})
	_, err = client.CreateMessage(context.Background(), nil, "", nil)
	if xerrors.CodeOf(err) != llm.CodeProviderFailure || !strings.Contains(err.Error(), "nope") {
		t.Fatalf("expected provider failure carrying stderr, got %v", err)
	}
}

func TestCreateMessageReportedError(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "reject.sh")
	body := "#!/bin/sh\ncat > /dev/null\n" +
		`printf '{"error":"bad key for %s","fatal":true}' "$BRIDGE_MODEL"` + "\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	client, _ := NewClient(Config{Python: sh, Script: "reject.sh", WorkingDir: dir, Env: map[string]string{"BRIDGE_MODEL": "m1"}})
	_, err = client.CreateMessage(context.Background(), nil, "", nil)
	if xerrors.CodeOf(err) != llm.CodeProviderRejected || !strings.Contains(err.Error(), "bad key for m1") {
		t.Fatalf("expected rejected error, got %v", err)
	}
}
