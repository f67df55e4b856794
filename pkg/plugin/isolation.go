package plugin

import (
	"fmt"
	"slices"
)

// IsolationStrategy enforces a plugin's isolation policy at registration and
// around its lifecycle.
type IsolationStrategy interface {
	Validate(info Info, policy IsolationPolicy) error
	Prepare(info Info) error
	Cleanup(info Info) error
}

// PolicyError reports why a plugin was refused.
type PolicyError struct {
	Plugin     string
	Capability Capability
	Reason     string
}

func (e *PolicyError) Error() string {
	if e.Capability == "" {
		return fmt.Sprintf("plugin %s %s", e.Plugin, e.Reason)
	}
	return fmt.Sprintf("plugin %s: capability %s %s", e.Plugin, e.Capability, e.Reason)
}

// CapabilityGuard checks declared capabilities against the policy. It does
// no process-level sandboxing, so Prepare and Cleanup are no-ops.
type CapabilityGuard struct{}

// Validate refuses plugins that declare capabilities without any policy,
// use a denied capability, or step outside a non-empty allow list. Deny
// entries win over allow entries.
func (CapabilityGuard) Validate(info Info, policy IsolationPolicy) error {
	if len(info.Capabilities) > 0 && !policy.restricts() {
		return &PolicyError{Plugin: info.ID, Reason: "declares capabilities but has no isolation policy"}
	}
	for _, c := range info.Capabilities {
		if slices.Contains(policy.DeniedCapabilities, c) {
			return &PolicyError{Plugin: info.ID, Capability: c, Reason: "is denied"}
		}
		if len(policy.AllowedCapabilities) > 0 && !slices.Contains(policy.AllowedCapabilities, c) {
			return &PolicyError{Plugin: info.ID, Capability: c, Reason: "is not in the allow list"}
		}
	}
	return nil
}

// Prepare implements IsolationStrategy.
func (CapabilityGuard) Prepare(Info) error { return nil }

// Cleanup implements IsolationStrategy.
func (CapabilityGuard) Cleanup(Info) error { return nil }

// MergePolicies layers a plugin's own policy over the manifest defaults.
func MergePolicies(defaults IsolationPolicy, own *IsolationPolicy) IsolationPolicy {
	if own == nil {
		return defaults
	}
	return own.Merge(defaults)
}

func (p IsolationPolicy) restricts() bool {
	return len(p.AllowedCapabilities) > 0 || len(p.DeniedCapabilities) > 0
}
