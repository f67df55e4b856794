// Package llm defines the provider-neutral gateway contract used by the
// conversation loop: a block-based message model, tool schemas, normalized
// responses, and the helpers every vendor adapter shares (tool name
// escaping, JSON Schema repair, tool list truncation, HTTP error mapping).
//
// Vendor adapters live in subpackages and never leak their wire formats
// beyond their own package.
package llm
