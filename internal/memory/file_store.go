package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/oklog/ulid/v2"
)

const fileStoreCapacity = 512

// FileStore 将记忆以 JSON Lines 追加写入数据目录，内存中只保留最近 512 条。
// 没有文件路径时退化为纯内存存储。
type FileStore struct {
	mu       sync.RWMutex
	dataFile string
	records  []Record // 最新在前
}

// NewInMemoryStore 创建不落盘的记忆存储。
func NewInMemoryStore() *FileStore {
	return &FileStore{}
}

// NewFileStore 在 dataDir 下创建 memory.jsonl 并恢复已有记录。
func NewFileStore(dataDir string) (*FileStore, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	store := &FileStore{dataFile: filepath.Join(dataDir, "memory.jsonl")}
	if err := store.loadFromDisk(); err != nil {
		return nil, err
	}
	return store, nil
}

// Append implements Store.
func (s *FileStore) Append(_ context.Context, record Record) error {
	if record.ID == "" {
		record.ID = ulid.Make().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dataFile != "" {
		file, err := os.OpenFile(s.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open memory log: %w", err)
		}
		defer file.Close()

		encoded, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encode memory record: %w", err)
		}
		if _, err := file.Write(append(encoded, '\n')); err != nil {
			return fmt.Errorf("write memory log: %w", err)
		}
	}

	s.records = append([]Record{record}, s.records...)
	if len(s.records) > fileStoreCapacity {
		s.records = s.records[:fileStoreCapacity]
	}
	return nil
}

// Search implements Store.
func (s *FileStore) Search(_ context.Context, query string, limit int, excludeSession string) ([]Record, error) {
	return rank(s.snapshot(excludeSession), query, limit), nil
}

// Recent implements Store.
func (s *FileStore) Recent(_ context.Context, limit int, excludeSession string) ([]Record, error) {
	records := s.snapshot(excludeSession)
	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}
	return records[:limit], nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) snapshot(excludeSession string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		if excludeSession != "" && rec.SessionID == excludeSession {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (s *FileStore) loadFromDisk() error {
	file, err := os.OpenFile(s.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("read memory log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var restored []Record
	for scanner.Scan() {
		var record Record
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]Record{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("parse memory log: %w", err)
	}
	if len(restored) > fileStoreCapacity {
		restored = restored[:fileStoreCapacity]
	}
	s.records = restored
	return nil
}
