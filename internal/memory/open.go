package memory

import (
	"context"
	"fmt"

	"Mother-Agent/internal/config"
)

// Open 根据配置构造记忆管理器。
func Open(ctx context.Context, cfg config.MemoryConfig, dataDir string) (*Manager, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Driver {
	case "", "memory":
		store = NewInMemoryStore()
	case "file":
		store, err = NewFileStore(dataDir)
	case "mysql", "sqlite3":
		store, err = NewSQLStore(ctx, cfg.Driver, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported memory driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	var opts []Option
	if cfg.KnowledgeSource != "" {
		provider, err := LoadStaticProvider(cfg.KnowledgeSource, cfg.MaxResults)
		if err != nil {
			store.Close()
			return nil, err
		}
		opts = append(opts, WithKnowledge(provider))
	}
	return NewManager(store, opts...)
}
