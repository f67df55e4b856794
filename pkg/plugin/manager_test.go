package plugin

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakePlugin struct {
	id       string
	caps     []Capability
	commands []Command
	exec     func(ctx context.Context, command string, args map[string]any) (*Result, error)
	started  bool
}

func (f *fakePlugin) Info() Info {
	return Info{ID: f.id, Name: f.id, Description: f.id + " tools", Capabilities: f.caps}
}
func (f *fakePlugin) Configure(map[string]any) error { return nil }
func (f *fakePlugin) Init(*ExecutionContext) error { return nil }
func (f *fakePlugin) Start(*ExecutionContext) error { f.started = true; return nil }
func (f *fakePlugin) Stop(*ExecutionContext) error { f.started = false; return nil }
func (f *fakePlugin) Commands() []Command { return f.commands }
func (f *fakePlugin) Execute(ctx context.Context, command string, args map[string]any) (*Result, error) {
	if f.exec == nil {
		return &Result{Success: true, Output: command}, nil
	}
	return f.exec(ctx, command, args)
}

func newStartedManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(ManagerConfig{}, opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	return m
}

func TestParseNamePrefersLongestNamespace(t *testing.T) {
	m := newStartedManager(t,
		WithBuiltin(&fakePlugin{id: "a", commands: []Command{{Name: "b.c"}}}, nil, IsolationPolicy{}),
		WithBuiltin(&fakePlugin{id: "a.b", commands: []Command{{Name: "c"}}}, nil, IsolationPolicy{}),
		WithBuiltin(&fakePlugin{id: "docs", commands: []Command{{Name: "list"}}}, nil, IsolationPolicy{}),
	)

	ns, cmd, ok := m.ParseName("a.b.c")
	if !ok || ns != "a.b" || cmd != "c" {
		t.Fatalf("unexpected parse: %q %q %v", ns, cmd, ok)
	}
	ns, cmd, ok = m.ParseName("docs.list")
	if !ok || ns != "docs" || cmd != "list" {
		t.Fatalf("unexpected parse: %q %q %v", ns, cmd, ok)
	}
	for _, name := range []string{"docs.missing", "nope.list", "docs", ""} {
		if _, _, ok := m.ParseName(name); ok {
			t.Fatalf("expected %q to be unknown", name)
		}
	}
}

func TestParseNameFallsBackToShorterNamespace(t *testing.T) {
	m := newStartedManager(t,
		WithBuiltin(&fakePlugin{id: "a", commands: []Command{{Name: "b.c"}}}, nil, IsolationPolicy{}),
		WithBuiltin(&fakePlugin{id: "a.b", commands: []Command{{Name: "d"}}}, nil, IsolationPolicy{}),
	)
	ns, cmd, ok := m.ParseName("a.b.c")
	if !ok || ns != "a" || cmd != "b.c" {
		t.Fatalf("unexpected parse: %q %q %v", ns, cmd, ok)
	}
}

func TestRequiresConfirmationCombinesCommandAndPolicy(t *testing.T) {
	m := newStartedManager(t,
		WithBuiltin(&fakePlugin{id: "files", commands: []Command{
			{Name: "read"}, {Name: "delete", Confirm: true}, {Name: "move"},
		}}, nil, IsolationPolicy{RequireConfirmation: []string{"move"}}),
		WithBuiltin(&fakePlugin{id: "danger", commands: []Command{{Name: "anything"}}}, nil, IsolationPolicy{RequireConfirmation: []string{"*"}}),
	)

	cases := map[string]bool{
		"files.read":      false,
		"files.delete":    true,
		"files.move":      true,
		"danger.anything": true,
		"unknown.tool":    false,
	}
	for name, want := range cases {
		if got := m.RequiresConfirmation(name); got != want {
			t.Fatalf("RequiresConfirmation(%s) = %v, want %v", name, got, want)
		}
	}
}

func TestExecuteReturnsResultWithDuration(t *testing.T) {
	m := newStartedManager(t, WithBuiltin(&fakePlugin{
		id:       "echo",
		commands: []Command{{Name: "say"}},
		exec: func(_ context.Context, _ string, args map[string]any) (*Result, error) {
			return &Result{Success: true, Output: args["text"].(string)}, nil
		},
	}, nil, IsolationPolicy{}))

	res, err := m.Execute(context.Background(), "echo.say", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.Output != "hi" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Duration < 0 {
		t.Fatalf("expected non-negative duration")
	}
}

func TestExecuteUnknownToolIsRegistryError(t *testing.T) {
	m := newStartedManager(t)
	_, err := m.Execute(context.Background(), "ghost.run", nil)
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestExecuteRequiresStartedPlugin(t *testing.T) {
	m, err := NewManager(ManagerConfig{}, WithBuiltin(&fakePlugin{id: "idle", commands: []Command{{Name: "run"}}}, nil, IsolationPolicy{}))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	_, err = m.Execute(context.Background(), "idle.run", nil)
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestExecuteConvertsFailuresIntoResults(t *testing.T) {
	m := newStartedManager(t,
		WithExecTimeout(50*time.Millisecond),
		WithBuiltin(&fakePlugin{
			id:       "bad",
			commands: []Command{{Name: "error"}, {Name: "panic"}, {Name: "slow"}, {Name: "quiet"}},
			exec: func(ctx context.Context, command string, _ map[string]any) (*Result, error) {
				switch command {
				case "error":
					return nil, errors.New("permission denied")
				case "panic":
					panic("boom")
				case "slow":
					<-ctx.Done()
					return nil, ctx.Err()
				default:
					return &Result{Success: false}, nil
				}
			},
		}, nil, IsolationPolicy{}),
	)

	checks := map[string]string{
		"bad.error": "permission denied",
		"bad.panic": "panic: boom",
		"bad.slow":  "timed out",
		"bad.quiet": "reported failure",
	}
	for name, want := range checks {
		res, err := m.Execute(context.Background(), name, nil)
		if err != nil {
			t.Fatalf("%s: unexpected registry error %v", name, err)
		}
		if res.Success {
			t.Fatalf("%s: expected failure", name)
		}
		if !strings.Contains(res.Error, want) {
			t.Fatalf("%s: error %q does not mention %q", name, res.Error, want)
		}
	}
}

func TestListToolsIsSortedAndFlagged(t *testing.T) {
	m := newStartedManager(t,
		WithBuiltin(&fakePlugin{id: "zeta", commands: []Command{{Name: "one", Description: "first"}}}, nil, IsolationPolicy{}),
		WithBuiltin(&fakePlugin{id: "alpha", commands: []Command{{Name: "b"}, {Name: "a", Confirm: true}}}, nil, IsolationPolicy{}),
	)

	tools := m.ListTools()
	var names []string
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	if strings.Join(names, ",") != "alpha.b,alpha.a,zeta.one" {
		t.Fatalf("unexpected order: %v", names)
	}
	if !tools[1].RequiresConfirmation || tools[0].RequiresConfirmation {
		t.Fatalf("confirmation flags wrong: %+v", tools)
	}
	if tools[0].Description != "alpha tools" || tools[2].Description != "first" {
		t.Fatalf("descriptions wrong: %+v", tools)
	}
}

func TestRegisterRejectsDuplicatesAndMissingPolicy(t *testing.T) {
	m, err := NewManager(ManagerConfig{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.Register("dup", &fakePlugin{id: "dup"}, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := m.Register("dup", &fakePlugin{id: "dup"}, nil, IsolationPolicy{}); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if err := m.Register("caps", &fakePlugin{id: "caps", caps: []Capability{CapabilityNetwork}}, nil, IsolationPolicy{}); err == nil {
		t.Fatalf("expected missing policy to fail")
	}
	if err := m.Register("caps", &fakePlugin{id: "caps", caps: []Capability{CapabilityNetwork}}, nil,
		IsolationPolicy{DeniedCapabilities: []Capability{CapabilityNetwork}}); err == nil {
		t.Fatalf("expected denied capability to fail")
	}
	if err := m.Register("dupcmd", &fakePlugin{id: "dupcmd", commands: []Command{{Name: "x"}, {Name: "x"}}}, nil, IsolationPolicy{}); err == nil {
		t.Fatalf("expected duplicate command to fail")
	}
}

func TestLifecycleStates(t *testing.T) {
	p := &fakePlugin{id: "life", commands: []Command{{Name: "run"}}}
	m, err := NewManager(ManagerConfig{}, WithBuiltin(p, nil, IsolationPolicy{}))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx := context.Background()
	if state, _ := m.State("life"); state != StateRegistered {
		t.Fatalf("expected registered, got %s", state)
	}
	if err := m.Start(ctx, "life"); err != nil || !p.started {
		t.Fatalf("start failed: %v", err)
	}
	if err := m.StopAll(ctx); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if state, _ := m.State("life"); state != StateStopped {
		t.Fatalf("expected stopped, got %s", state)
	}
	if _, err := m.State("missing"); err == nil {
		t.Fatalf("expected unknown plugin error")
	}
}

func TestLoadConfiguredUsesLoader(t *testing.T) {
	cfg := ManagerConfig{
		PluginDir: "/opt/plugins",
		Plugins: map[string]PluginConfig{
			"notes": {Enabled: true, Path: "notes.so", Config: map[string]any{"k": "v"}},
			"off":   {Enabled: false},
		},
	}
	var loaded []string
	loader := LoaderFunc(func(path string) (Plugin, error) {
		loaded = append(loaded, path)
		return &fakePlugin{id: "notes", commands: []Command{{Name: "list"}}}, nil
	})
	m, err := NewManager(cfg, WithLoader(loader))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if len(loaded) != 1 || loaded[0] != "/opt/plugins/notes.so" {
		t.Fatalf("unexpected loads: %v", loaded)
	}
	if _, _, ok := m.ParseName("notes.list"); !ok {
		t.Fatalf("expected notes.list to be registered")
	}
}
