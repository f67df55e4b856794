package plugin

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ManagerConfig describes the tool manifest: where plugins live, default
// isolation policy and the per-plugin blocks.
type ManagerConfig struct {
	PluginDir          string                  `yaml:"pluginDir"`
	ExecTimeoutSeconds int                     `yaml:"execTimeoutSeconds"`
	Defaults           IsolationPolicy         `yaml:"defaults"`
	Plugins            map[string]PluginConfig `yaml:"plugins"`
}

// ExecTimeout returns the configured per-command bound.
func (c ManagerConfig) ExecTimeout() time.Duration {
	if c.ExecTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.ExecTimeoutSeconds) * time.Second
}

// PluginConfig is the configuration block for a single plugin instance.
// Exactly one of Path (Go shared object) or Exec (external binary) must be
// set for an enabled plugin.
type PluginConfig struct {
	Enabled bool             `yaml:"enabled"`
	Path    string           `yaml:"path"`
	Exec    *ExecConfig      `yaml:"exec"`
	Config  map[string]any   `yaml:"config"`
	Policy  *IsolationPolicy `yaml:"policy"`
}

// ExecConfig describes an external tool binary.
type ExecConfig struct {
	Binary         string            `yaml:"binary"`
	Args           []string          `yaml:"args"`
	Env            map[string]string `yaml:"env"`
	WorkingDir     string            `yaml:"workingDir"`
	TimeoutSeconds int               `yaml:"timeoutSeconds"`
	Description    string            `yaml:"description"`
	Commands       []Command         `yaml:"commands"`
}

// IsolationPolicy governs the security restrictions enforced for a plugin.
type IsolationPolicy struct {
	AllowedCapabilities []Capability `yaml:"allowedCapabilities"`
	DeniedCapabilities  []Capability `yaml:"deniedCapabilities"`
	// RequireConfirmation lists commands that need approval in addition to
	// those flagged by the plugin itself. "*" covers every command.
	RequireConfirmation []string `yaml:"requireConfirmation"`
}

// Merge returns a new policy using values from other when not present.
func (p IsolationPolicy) Merge(other IsolationPolicy) IsolationPolicy {
	if len(p.AllowedCapabilities) == 0 {
		p.AllowedCapabilities = other.AllowedCapabilities
	}
	if len(p.DeniedCapabilities) == 0 {
		p.DeniedCapabilities = other.DeniedCapabilities
	}
	if len(p.RequireConfirmation) == 0 {
		p.RequireConfirmation = other.RequireConfirmation
	}
	return p
}

// RequiresConfirmation reports whether the policy gates command.
func (p IsolationPolicy) RequiresConfirmation(command string) bool {
	return slices.Contains(p.RequireConfirmation, "*") || slices.Contains(p.RequireConfirmation, command)
}

// LoadManagerConfig reads a YAML manifest into a ManagerConfig.
func LoadManagerConfig(path string) (ManagerConfig, error) {
	var cfg ManagerConfig
	if path == "" {
		return cfg, errors.New("config path cannot be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read plugin config: %w", err)
	}
	return ParseManagerConfig(raw)
}

// ParseManagerConfig decodes a YAML manifest.
func ParseManagerConfig(raw []byte) (ManagerConfig, error) {
	var cfg ManagerConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal plugin config: %w", err)
	}
	if cfg.Plugins == nil {
		cfg.Plugins = map[string]PluginConfig{}
	}
	return cfg, nil
}

// Validate ensures the manager configuration is internally consistent.
func (c ManagerConfig) Validate() error {
	for id, plugin := range c.Plugins {
		if id == "" {
			return errors.New("plugin id cannot be empty")
		}
		if !plugin.Enabled {
			continue
		}
		switch {
		case plugin.Path == "" && plugin.Exec == nil:
			return fmt.Errorf("plugin %s needs a path or an exec block when enabled", id)
		case plugin.Path != "" && plugin.Exec != nil:
			return fmt.Errorf("plugin %s cannot set both path and exec", id)
		case plugin.Exec != nil:
			if plugin.Exec.Binary == "" {
				return fmt.Errorf("plugin %s exec binary cannot be empty", id)
			}
			if len(plugin.Exec.Commands) == 0 {
				return fmt.Errorf("plugin %s exec block must declare commands", id)
			}
			for _, cmd := range plugin.Exec.Commands {
				if cmd.Name == "" {
					return fmt.Errorf("plugin %s declares a command without a name", id)
				}
			}
		}
	}
	return nil
}
