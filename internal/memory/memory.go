package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Role 标识一条记忆的来源。
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

const (
	maxToolResultRunes = 2000
	maxRelevantRunes   = 500
	maxRecentRunes     = 200
	recentItems        = 3
)

// Record 是一条持久化的记忆。
type Record struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	ToolName  string         `json:"tool_name,omitempty"`
	ToolArgs  map[string]any `json:"tool_args,omitempty"`
	Success   bool           `json:"success"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store 抽象记忆的存储后端。
type Store interface {
	// Append 追加一条记录。ID 为空时由存储分配。
	Append(ctx context.Context, record Record) error
	// Search 返回与 query 关键词相关的记录，相关度高者在前。
	Search(ctx context.Context, query string, limit int, excludeSession string) ([]Record, error)
	// Recent 返回最新的记录，最新者在前。
	Recent(ctx context.Context, limit int, excludeSession string) ([]Record, error)
	Close() error
}

// Manager 组合记忆存储与静态知识库，为智能体提供上下文。
type Manager struct {
	store     Store
	knowledge *StaticProvider
	now       func() time.Time
}

// Option 定制 Manager。
type Option func(*Manager)

// WithKnowledge 注入静态知识库。
func WithKnowledge(p *StaticProvider) Option {
	return func(m *Manager) {
		if p != nil {
			m.knowledge = p
		}
	}
}

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager 基于存储创建记忆管理器。
func NewManager(store Store, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("memory store cannot be nil")
	}
	m := &Manager{store: store, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// RememberUserInput 记录用户输入。
func (m *Manager) RememberUserInput(ctx context.Context, sessionID, content string) error {
	return m.append(ctx, Record{SessionID: sessionID, Role: RoleUser, Content: content, Success: true})
}

// RememberAssistantResponse 记录助手的最终回复。
func (m *Manager) RememberAssistantResponse(ctx context.Context, sessionID, content string) error {
	return m.append(ctx, Record{SessionID: sessionID, Role: RoleAssistant, Content: content, Success: true})
}

// RememberToolResult 记录一次工具执行结果，内容截断到 2000 个字符。
func (m *Manager) RememberToolResult(ctx context.Context, sessionID, tool string, args map[string]any, result string, success bool) error {
	return m.append(ctx, Record{
		SessionID: sessionID,
		Role:      RoleToolResult,
		Content:   truncateRunes(result, maxToolResultRunes),
		ToolName:  tool,
		ToolArgs:  args,
		Success:   success,
	})
}

func (m *Manager) append(ctx context.Context, record Record) error {
	if strings.TrimSpace(record.Content) == "" {
		return nil
	}
	record.CreatedAt = m.now().UTC()
	if err := m.store.Append(ctx, record); err != nil {
		return fmt.Errorf("append memory: %w", err)
	}
	return nil
}

// ContextForQuery 构造注入到用户消息中的上下文块；没有可用内容时返回空串。
// 当前会话的记录不参与召回，它们已经在对话历史里。
func (m *Manager) ContextForQuery(ctx context.Context, query, sessionID string, maxItems int) (string, error) {
	if maxItems <= 0 {
		return "", nil
	}

	var relevant []string
	if m.knowledge != nil {
		for _, snippet := range m.knowledge.Query(query) {
			if len(relevant) >= maxItems {
				break
			}
			relevant = append(relevant, fmt.Sprintf("- [knowledge] %s: %s", snippet.Title, truncateRunes(snippet.Content, maxRelevantRunes)))
		}
	}

	seen := make(map[string]struct{})
	if remaining := maxItems - len(relevant); remaining > 0 {
		recalled, err := m.store.Search(ctx, query, remaining, sessionID)
		if err != nil {
			return "", fmt.Errorf("search memory: %w", err)
		}
		for _, rec := range recalled {
			seen[rec.ID] = struct{}{}
			relevant = append(relevant, formatLine(rec, maxRelevantRunes))
		}
	}

	recent, err := m.store.Recent(ctx, recentItems+len(seen), sessionID)
	if err != nil {
		return "", fmt.Errorf("load recent memory: %w", err)
	}
	var activity []string
	for _, rec := range recent {
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		activity = append(activity, formatLine(rec, maxRecentRunes))
		if len(activity) >= recentItems {
			break
		}
	}

	var b strings.Builder
	if len(relevant) > 0 {
		b.WriteString("Relevant memory:\n")
		b.WriteString(strings.Join(relevant, "\n"))
	}
	if len(activity) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Recent activity:\n")
		b.WriteString(strings.Join(activity, "\n"))
	}
	return b.String(), nil
}

// Close 释放底层存储。
func (m *Manager) Close() error {
	return m.store.Close()
}

func formatLine(rec Record, limit int) string {
	kind := string(rec.Role)
	if rec.Role == RoleToolResult && rec.ToolName != "" {
		kind = rec.ToolName
		if !rec.Success {
			kind += " failed"
		}
	}
	return fmt.Sprintf("- [%s] %s", kind, truncateRunes(oneLine(rec.Content), limit))
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

// terms 把查询拆成小写关键词，忽略过短的词。
func terms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.' && r != '/'
	})
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) < 3 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// score 统计 record 命中的关键词数量。
func score(rec Record, keywords []string) int {
	haystack := strings.ToLower(rec.Content + " " + rec.ToolName)
	n := 0
	for _, k := range keywords {
		if strings.Contains(haystack, k) {
			n++
		}
	}
	return n
}

// rank 对候选记录打分排序，得分相同时较新的在前。
func rank(candidates []Record, query string, limit int) []Record {
	keywords := terms(query)
	if len(keywords) == 0 || limit <= 0 {
		return nil
	}
	type scored struct {
		rec   Record
		score int
	}
	var hits []scored
	for _, rec := range candidates {
		if s := score(rec, keywords); s > 0 {
			hits = append(hits, scored{rec: rec, score: s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].rec.CreatedAt.After(hits[j].rec.CreatedAt)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Record, len(hits))
	for i, h := range hits {
		out[i] = h.rec
	}
	return out
}
