// Package agent implements the orchestration core: the tool-use conversation
// loop, the confirmation gate for destructive tools, the plan engine for
// pre-approved multi-step work, and the session table that serializes turns
// per conversation.
package agent
