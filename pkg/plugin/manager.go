package plugin

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"Mother-Agent/pkg/logger"
)

var (
	// ErrUnknownTool is returned when a full tool name resolves to no registered command.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrNotRunning is returned when the owning plugin has not been started.
	ErrNotRunning = errors.New("plugin is not running")
)

// Manager is the tool registry the agent talks to. It owns plugin
// lifecycles and maps namespace.command names onto plugin commands.
type Manager struct {
	mu        sync.RWMutex
	registry  map[string]*instance
	loader    Loader
	isolation IsolationStrategy
	resources map[string]any
	defaults  IsolationPolicy
	timeout   time.Duration
	builtins  []pendingBuiltin
}

type instance struct {
	mu       sync.Mutex
	Plugin   Plugin
	Info     Info
	State    State
	Config   map[string]any
	Policy   IsolationPolicy
	Source   string
	Commands map[string]Command
	order    []string
}

// NewManager registers builtins first, then every enabled manifest entry.
func NewManager(cfg ManagerConfig, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		registry:  map[string]*instance{},
		loader:    SharedObjectLoader{},
		isolation: CapabilityGuard{},
		resources: map[string]any{},
		defaults:  cfg.Defaults,
		timeout:   cfg.ExecTimeout(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	for _, b := range m.builtins {
		if err := m.Register(b.plugin.Info().ID, b.plugin, b.config, b.policy); err != nil {
			return nil, err
		}
	}
	if err := m.loadConfigured(cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// Register validates p against its merged policy, configures it and adds
// it under id. It does not start the plugin.
func (m *Manager) Register(id string, p Plugin, cfg map[string]any, policy IsolationPolicy) error {
	if id == "" {
		return errors.New("plugin id cannot be empty")
	}
	if p == nil {
		return errors.New("plugin implementation cannot be nil")
	}
	info := p.Info()
	if info.ID != "" && info.ID != id {
		return fmt.Errorf("plugin id mismatch: %s != %s", info.ID, id)
	}
	policy = MergePolicies(m.defaults, &policy)
	if info.ID == "" {
		info.ID = id
	}
	if err := m.isolation.Validate(info, policy); err != nil {
		return err
	}
	cfg = cloneConfig(cfg)
	if err := p.Configure(cfg); err != nil {
		return fmt.Errorf("configure plugin %s: %w", id, err)
	}

	declared := p.Commands()
	commands := make(map[string]Command, len(declared))
	order := make([]string, 0, len(declared))
	for _, cmd := range declared {
		if cmd.Name == "" {
			return fmt.Errorf("plugin %s declares a command without a name", id)
		}
		if _, dup := commands[cmd.Name]; dup {
			return fmt.Errorf("plugin %s declares command %s twice", id, cmd.Name)
		}
		commands[cmd.Name] = cmd
		order = append(order, cmd.Name)
	}

	source := "manual"
	if info.Category != "" {
		source = string(info.Category)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.registry[id]; exists {
		return fmt.Errorf("plugin %s already registered", id)
	}
	m.registry[id] = &instance{
		Plugin:   p,
		Info:     info,
		State:    StateRegistered,
		Config:   cfg,
		Policy:   policy,
		Source:   source,
		Commands: commands,
		order:    order,
	}
	return nil
}

// Load opens a shared object through the loader and registers it.
func (m *Manager) Load(id string, path string, cfg map[string]any, policy IsolationPolicy) error {
	if path == "" {
		return errors.New("plugin path cannot be empty")
	}
	p, err := m.loader.Load(path)
	if err != nil {
		return fmt.Errorf("load plugin from %s: %w", path, err)
	}
	return m.Register(id, p, cfg, policy)
}

func (m *Manager) execContext(ctx context.Context, inst *instance) *ExecutionContext {
	return (&ExecutionContext{C: ctx, Config: inst.Config, Resources: m.resources}).Clone()
}

// Start runs Init on first use, then Start. Starting a started plugin is a no-op.
func (m *Manager) Start(ctx context.Context, id string) error {
	inst, err := m.get(id)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.State == StateStarted {
		return nil
	}
	if inst.State == StateRegistered {
		if err := inst.Plugin.Init(m.execContext(ctx, inst)); err != nil {
			return fmt.Errorf("initialise plugin %s: %w", id, err)
		}
		inst.State = StateInitialised
	}
	if err := m.isolation.Prepare(inst.Info); err != nil {
		return fmt.Errorf("prepare isolation for %s: %w", id, err)
	}
	if err := inst.Plugin.Start(m.execContext(ctx, inst)); err != nil {
		_ = m.isolation.Cleanup(inst.Info)
		return fmt.Errorf("start plugin %s: %w", id, err)
	}
	inst.State = StateStarted
	return nil
}

// Stop is a no-op unless the plugin is started.
func (m *Manager) Stop(ctx context.Context, id string) error {
	inst, err := m.get(id)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.State != StateStarted {
		return nil
	}
	if err := inst.Plugin.Stop(m.execContext(ctx, inst)); err != nil {
		return fmt.Errorf("stop plugin %s: %w", id, err)
	}
	if err := m.isolation.Cleanup(inst.Info); err != nil {
		return fmt.Errorf("cleanup isolation for %s: %w", id, err)
	}
	inst.State = StateStopped
	return nil
}

// StartAll starts plugins in id order and stops at the first failure.
func (m *Manager) StartAll(ctx context.Context) error {
	for _, id := range m.ids() {
		if err := m.Start(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every plugin and joins the errors.
func (m *Manager) StopAll(ctx context.Context) error {
	var errs error
	for _, id := range m.ids() {
		errs = errors.Join(errs, m.Stop(ctx, id))
	}
	return errs
}

// State reports where plugin id is in its lifecycle.
func (m *Manager) State(id string) (State, error) {
	inst, err := m.get(id)
	if err != nil {
		return "", err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.State, nil
}

// ParseName splits a full tool name into namespace and command. The longest
// registered namespace wins, and the command must be declared by it.
func (m *Manager) ParseName(full string) (namespace, command string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := strings.LastIndexByte(full, '.'); i > 0; i = strings.LastIndexByte(full[:i], '.') {
		inst, found := m.registry[full[:i]]
		if !found {
			continue
		}
		if _, known := inst.Commands[full[i+1:]]; known {
			return full[:i], full[i+1:], true
		}
	}
	return "", "", false
}

// RequiresConfirmation reports whether the tool is flagged destructive by
// its plugin or by the isolation policy. Unknown tools report false.
func (m *Manager) RequiresConfirmation(full string) bool {
	ns, cmd, ok := m.ParseName(full)
	if !ok {
		return false
	}
	inst, err := m.get(ns)
	if err != nil {
		return false
	}
	return inst.Commands[cmd].Confirm || inst.Policy.RequiresConfirmation(cmd)
}

// Execute dispatches one tool call. Registry-level problems (unknown tool,
// plugin not running) are returned as errors; command failures, panics and
// timeouts come back as an unsuccessful Result.
func (m *Manager) Execute(ctx context.Context, full string, args map[string]any) (result *Result, err error) {
	ns, cmd, ok := m.ParseName(full)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, full)
	}
	inst, err := m.get(ns)
	if err != nil {
		return nil, err
	}
	inst.mu.Lock()
	state := inst.State
	inst.mu.Unlock()
	if state != StateStarted {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotRunning, ns, state)
	}

	if args == nil {
		args = map[string]any{}
	}
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	log := logger.Named("plugin")
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("tool panicked", "tool", full, "panic", r)
			result = &Result{Success: false, Error: fmt.Sprintf("%s execution failed: panic: %v", full, r)}
			err = nil
		}
		if result != nil {
			result.Duration = time.Since(start)
		}
	}()

	res, execErr := inst.Plugin.Execute(ctx, cmd, args)
	switch {
	case execErr != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		res = &Result{Success: false, Error: fmt.Sprintf("%s timed out after %s: %v", full, m.timeout, execErr)}
	case execErr != nil:
		res = &Result{Success: false, Error: execErr.Error()}
	case res == nil:
		res = &Result{Success: true}
	}
	if !res.Success && res.Error == "" && !res.NeedsConfirmation {
		res.Error = full + " reported failure"
	}
	log.Debug("tool executed", "tool", full, "success", res.Success, "duration", time.Since(start))
	return res, nil
}

// ListTools returns the catalogue of every registered command, sorted by
// namespace and then by declaration order.
func (m *Manager) ListTools() []ToolInfo {
	var out []ToolInfo
	for _, id := range m.ids() {
		inst, err := m.get(id)
		if err != nil {
			continue
		}
		for _, name := range inst.order {
			cmd := inst.Commands[name]
			desc := cmd.Description
			if desc == "" {
				desc = inst.Info.Description
			}
			out = append(out, ToolInfo{
				Name:                 FullName(id, name),
				Namespace:            id,
				Command:              name,
				Description:          desc,
				Parameters:           cmd.Parameters,
				RequiresConfirmation: cmd.Confirm || inst.Policy.RequiresConfirmation(name),
			})
		}
	}
	return out
}

// Plugins lists registered plugin metadata in id order.
func (m *Manager) Plugins() []Info {
	var out []Info
	for _, id := range m.ids() {
		if inst, err := m.get(id); err == nil {
			out = append(out, inst.Info)
		}
	}
	return out
}

func (m *Manager) ids() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.registry))
}

func (m *Manager) get(id string) (*instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.registry[id]
	if !ok {
		return nil, fmt.Errorf("plugin %s not registered", id)
	}
	return inst, nil
}

func (m *Manager) loadConfigured(cfg ManagerConfig) error {
	for _, id := range slices.Sorted(maps.Keys(cfg.Plugins)) {
		pluginCfg := cfg.Plugins[id]
		if !pluginCfg.Enabled {
			continue
		}
		policy := MergePolicies(cfg.Defaults, pluginCfg.Policy)
		if pluginCfg.Exec != nil {
			execCfg := *pluginCfg.Exec
			execCfg.Binary = resolvePath(cfg.PluginDir, execCfg.Binary)
			if execCfg.WorkingDir != "" {
				execCfg.WorkingDir = resolvePath(cfg.PluginDir, execCfg.WorkingDir)
			}
			if err := m.Register(id, NewExecPlugin(id, execCfg), pluginCfg.Config, policy); err != nil {
				return err
			}
			continue
		}
		path := pluginCfg.Path
		if !filepath.IsAbs(path) && cfg.PluginDir != "" {
			path = filepath.Join(cfg.PluginDir, path)
		}
		if err := m.Load(id, path, pluginCfg.Config, policy); err != nil {
			return err
		}
	}
	return nil
}

// resolvePath joins relative paths containing a separator onto dir; bare
// names are left for PATH lookup.
func resolvePath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) || dir == "" || !strings.ContainsRune(p, filepath.Separator) {
		return p
	}
	return filepath.Join(dir, p)
}

func cloneConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return map[string]any{}
	}
	return maps.Clone(cfg)
}
