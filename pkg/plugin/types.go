package plugin

import "time"

// Type represents how a plugin is hosted.
type Type string

const (
	// TypeBuiltin plugins are compiled into the host binary.
	TypeBuiltin Type = "builtin"
	// TypeNative plugins are Go shared objects opened at runtime.
	TypeNative Type = "native"
	// TypeExec plugins are external executables speaking JSON over stdio.
	TypeExec Type = "exec"
)

// Capability expresses optional features a plugin may request access to.
type Capability string

const (
	CapabilityFilesystem Capability = "filesystem"
	CapabilityNetwork    Capability = "network"
	CapabilityExecution  Capability = "execution"
)

// Info contains descriptive metadata for a plugin implementation.
// ID doubles as the tool namespace.
type Info struct {
	ID           string
	Name         string
	Description  string
	Author       string
	Version      string
	Category     Type
	Capabilities []Capability
}

// State represents the lifecycle position of a plugin instance.
type State string

const (
	StateRegistered  State = "registered"
	StateInitialised State = "initialised"
	StateStarted     State = "started"
	StateStopped     State = "stopped"
)

// Command describes one callable action of a plugin.
type Command struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Parameters  map[string]any `yaml:"parameters" json:"parameters,omitempty"`
	// Confirm marks the command as destructive: the agent must obtain
	// explicit approval before dispatching it.
	Confirm bool `yaml:"confirm" json:"confirm,omitempty"`
}

// Result is the outcome of a single command execution.
type Result struct {
	Success  bool          `json:"success"`
	Data     any           `json:"data,omitempty"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	// NeedsConfirmation is set by plugins that decide at run time that the
	// request must be approved first. Nothing has been changed when it is set.
	NeedsConfirmation bool   `json:"needs_confirmation,omitempty"`
	Prompt            string `json:"prompt,omitempty"`
}

// ToolInfo is the flattened catalogue entry for one namespace.command pair.
type ToolInfo struct {
	Name                 string         `json:"name"`
	Namespace            string         `json:"namespace"`
	Command              string         `json:"command"`
	Description          string         `json:"description"`
	Parameters           map[string]any `json:"parameters,omitempty"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
}

// FullName joins a namespace and command with the canonical separator.
func FullName(namespace, command string) string {
	return namespace + "." + command
}

// ArgConfirmed is added to the arguments of a dispatch the user has already
// approved, so plugins that ask for confirmation at run time can proceed.
const ArgConfirmed = "_confirmed"
