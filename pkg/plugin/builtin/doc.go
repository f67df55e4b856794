// Package builtin contains the tool plugins compiled into motherd: a
// key/value scratchpad and a small set of local shell commands.
package builtin
