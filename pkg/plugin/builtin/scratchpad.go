package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"Mother-Agent/pkg/plugin"
)

// ScratchpadNamespace 是草稿板工具的命名空间。
const ScratchpadNamespace = "scratchpad"

// Scratchpad 是一个进程内键值存储，可选地持久化到数据目录。
type Scratchpad struct {
	mu      sync.RWMutex
	entries map[string]string
	persist bool
	path    string
}

// NewScratchpad 创建空的草稿板插件。
func NewScratchpad() *Scratchpad {
	return &Scratchpad{entries: make(map[string]string)}
}

// Info implements plugin.Plugin.
func (s *Scratchpad) Info() plugin.Info {
	return plugin.Info{
		ID:          ScratchpadNamespace,
		Name:        "Scratchpad",
		Description: "Key/value notes kept across turns.",
		Author:      "Mother-Agent",
		Version:     "1.0.0",
		Category:    plugin.TypeBuiltin,
	}
}

// Configure 读取 persist 开关与 entries 初始数据。
func (s *Scratchpad) Configure(cfg map[string]any) error {
	if v, ok := cfg["persist"].(bool); ok {
		s.persist = v
	}
	raw, ok := cfg["entries"]
	if !ok {
		return nil
	}
	seed, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("entries must be a map, got %T", raw)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range seed {
		s.entries[k] = fmt.Sprint(v)
	}
	return nil
}

// Init 在开启持久化时从数据目录恢复内容。
func (s *Scratchpad) Init(ctx *plugin.ExecutionContext) error {
	if !s.persist {
		return nil
	}
	dir, _ := ctx.Resources[plugin.ResourceDataDir].(string)
	if dir == "" {
		return errors.New("scratchpad persistence needs the data_dir resource")
	}
	s.path = filepath.Join(dir, "scratchpad.json")
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read scratchpad: %w", err)
	}
	stored := map[string]string{}
	if err := json.Unmarshal(raw, &stored); err != nil {
		return fmt.Errorf("decode scratchpad: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range stored {
		s.entries[k] = v
	}
	return nil
}

// Start implements plugin.Plugin.
func (s *Scratchpad) Start(*plugin.ExecutionContext) error { return nil }

// Stop 在退出前落盘。
func (s *Scratchpad) Stop(*plugin.ExecutionContext) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flushLocked()
}

// Commands implements plugin.Plugin.
func (s *Scratchpad) Commands() []plugin.Command {
	key := map[string]any{"type": "string", "description": "Entry key"}
	return []plugin.Command{
		{
			Name:        "write",
			Description: "Store a value under a key, replacing any previous value",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"key": key, "value": map[string]any{"type": "string"}},
				"required":   []any{"key", "value"},
			},
		},
		{
			Name:        "read",
			Description: "Read the value stored under a key",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"key": key},
				"required":   []any{"key"},
			},
		},
		{
			Name:        "list",
			Description: "List all stored keys",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		},
		{
			Name:        "delete",
			Description: "Delete the entry stored under a key",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"key": key},
				"required":   []any{"key"},
			},
			Confirm: true,
		},
	}
}

// Execute implements plugin.Plugin.
func (s *Scratchpad) Execute(_ context.Context, command string, args map[string]any) (*plugin.Result, error) {
	switch command {
	case "list":
		s.mu.RLock()
		keys := make([]string, 0, len(s.entries))
		for k := range s.entries {
			keys = append(keys, k)
		}
		s.mu.RUnlock()
		sort.Strings(keys)
		return &plugin.Result{Success: true, Data: map[string]any{"keys": keys}}, nil
	case "write", "read", "delete":
	default:
		return nil, fmt.Errorf("unknown command %s for %s", command, ScratchpadNamespace)
	}

	key, _ := args["key"].(string)
	if key == "" {
		return nil, errors.New("missing required parameter: key")
	}

	switch command {
	case "write":
		value, ok := args["value"]
		if !ok {
			return nil, errors.New("missing required parameter: value")
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.entries[key] = fmt.Sprint(value)
		if err := s.flushLocked(); err != nil {
			return nil, err
		}
		return &plugin.Result{Success: true, Output: "stored " + key}, nil
	case "read":
		s.mu.RLock()
		value, ok := s.entries[key]
		s.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("key %s not found", key)
		}
		return &plugin.Result{Success: true, Output: value, Data: map[string]any{"key": key, "value": value}}, nil
	default:
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.entries[key]; !ok {
			return nil, fmt.Errorf("key %s not found", key)
		}
		delete(s.entries, key)
		if err := s.flushLocked(); err != nil {
			return nil, err
		}
		return &plugin.Result{Success: true, Output: "deleted " + key}, nil
	}
}

func (s *Scratchpad) flushLocked() error {
	if !s.persist || s.path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create scratchpad dir: %w", err)
	}
	return os.WriteFile(s.path, raw, 0o644)
}
