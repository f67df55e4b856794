// Package memory provides the conversation memory consumed by the agent:
// append-only stores for user inputs, assistant replies and tool results,
// keyword recall across sessions, and a static knowledge provider whose
// snippets are folded into the same context block.
package memory
