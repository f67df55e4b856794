package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Snippet 描述可供大模型引用的一段知识。
type Snippet struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
	Tags     []string `json:"tags"`
}

// StaticProvider 通过加载 JSON 文件提供静态知识检索能力。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 创建静态知识库实例。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{items: items, maxResults: maxResults}
}

// LoadStaticProvider 从 JSON 文件加载知识条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("knowledge source path cannot be empty")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve knowledge source: %w", err)
	}
	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open knowledge source: %w", err)
	}
	defer file.Close()

	var entries []Snippet
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode knowledge source: %w", err)
	}
	return NewStaticProvider(entries, maxResults), nil
}

// Query 返回关键词或标签出现在查询中的条目。没有关键词的条目总是匹配。
func (p *StaticProvider) Query(query string) []Snippet {
	if p == nil {
		return nil
	}
	query = strings.ToLower(strings.TrimSpace(query))

	results := make([]Snippet, 0, p.maxResults)
	for _, item := range p.items {
		if matches(item, query) {
			results = append(results, item)
			if len(results) >= p.maxResults {
				break
			}
		}
	}
	return results
}

func matches(snippet Snippet, query string) bool {
	if len(snippet.Keywords) == 0 && len(snippet.Tags) == 0 {
		return true
	}
	for _, list := range [][]string{snippet.Keywords, snippet.Tags} {
		for _, word := range list {
			normalized := strings.ToLower(strings.TrimSpace(word))
			if normalized != "" && strings.Contains(query, normalized) {
				return true
			}
		}
	}
	return false
}
