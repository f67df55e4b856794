package plugin

import (
	"context"
	"maps"
	"time"
)

// Plugin is one tool namespace. The manager drives it through
// Configure, Init, Start and finally Stop, and only calls Execute while it
// is started.
type Plugin interface {
	Info() Info
	// Configure sees the manifest block before Init and may fill in defaults.
	Configure(cfg map[string]any) error
	Init(ctx *ExecutionContext) error
	Start(ctx *ExecutionContext) error
	Stop(ctx *ExecutionContext) error
	// Commands is the tool surface. It is read once per catalogue build.
	Commands() []Command
	// Execute runs a command. An error is reported to the agent as a
	// failed Result, never as a panic or a dropped call.
	Execute(ctx context.Context, command string, args map[string]any) (*Result, error)
}

// ExecutionContext carries what a plugin needs during a lifecycle hook.
type ExecutionContext struct {
	C         context.Context
	Config    map[string]any
	Resources map[string]any
}

// Clone copies both maps so a plugin cannot change what the manager holds.
func (c *ExecutionContext) Clone() *ExecutionContext {
	if c == nil {
		return nil
	}
	return &ExecutionContext{
		C:         c.C,
		Config:    cloneConfig(c.Config),
		Resources: maps.Clone(c.Resources),
	}
}

// ResourceDataDir is the writable directory the host hands to plugins.
const ResourceDataDir = "data_dir"

// Option configures a Manager.
type Option func(*Manager)

// WithLoader replaces the shared object loader.
func WithLoader(loader Loader) Option {
	return func(m *Manager) {
		if loader != nil {
			m.loader = loader
		}
	}
}

// WithIsolationStrategy replaces the default CapabilityGuard.
func WithIsolationStrategy(strategy IsolationStrategy) Option {
	return func(m *Manager) {
		if strategy != nil {
			m.isolation = strategy
		}
	}
}

// WithResource exposes value under key in every plugin's ExecutionContext.
func WithResource(key string, value any) Option {
	return func(m *Manager) {
		if key == "" || value == nil {
			return
		}
		if m.resources == nil {
			m.resources = map[string]any{}
		}
		m.resources[key] = value
	}
}

// WithExecTimeout bounds each Execute call. Zero means no bound.
func WithExecTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.timeout = d
		}
	}
}

// WithBuiltin registers a compiled-in plugin when the manager is built.
func WithBuiltin(p Plugin, cfg map[string]any, policy IsolationPolicy) Option {
	return func(m *Manager) {
		if p != nil {
			m.builtins = append(m.builtins, pendingBuiltin{plugin: p, config: cfg, policy: policy})
		}
	}
}

type pendingBuiltin struct {
	plugin Plugin
	config map[string]any
	policy IsolationPolicy
}
