package agent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sessions 按会话 ID 管理 Session：首次使用时创建，闲置超过 TTL 后回收。
// 同一会话的回合串行执行，不同会话可以并发。
type Sessions struct {
	agent *Agent
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*sessionEntry
}

type sessionEntry struct {
	session  *Session
	lastUsed time.Time
	refs     int
}

// NewSessions 创建会话表。ttl <= 0 表示永不回收。
func NewSessions(a *Agent, ttl time.Duration) *Sessions {
	return &Sessions{
		agent:   a,
		ttl:     ttl,
		now:     a.now,
		entries: make(map[string]*sessionEntry),
	}
}

// acquire 返回会话并增加引用，调用方必须调用 release。
func (t *Sessions) acquire(id string) (*Session, func()) {
	if id == "" {
		id = uuid.NewString()
	}

	t.mu.Lock()
	t.evictLocked()
	entry, ok := t.entries[id]
	if !ok {
		entry = &sessionEntry{session: t.agent.NewSession(id)}
		t.entries[id] = entry
	}
	entry.refs++
	entry.lastUsed = t.now()
	t.mu.Unlock()

	return entry.session, func() {
		t.mu.Lock()
		entry.refs--
		entry.lastUsed = t.now()
		t.mu.Unlock()
	}
}

// Get 返回已存在的会话。
func (t *Sessions) Get(id string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	return entry.session, true
}

// Len 返回当前会话数量。
func (t *Sessions) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Evict 回收闲置超时的会话，返回回收数量。
func (t *Sessions) Evict() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.evictLocked()
}

func (t *Sessions) evictLocked() int {
	if t.ttl <= 0 {
		return 0
	}
	cutoff := t.now().Add(-t.ttl)
	evicted := 0
	for id, entry := range t.entries {
		if entry.refs == 0 && entry.lastUsed.Before(cutoff) {
			delete(t.entries, id)
			evicted++
		}
	}
	if evicted > 0 {
		t.agent.logger.Debug("回收闲置会话", "count", evicted)
	}
	return evicted
}

// Process 在指定会话中执行一个对话回合。sessionID 为空时创建新会话。
func (t *Sessions) Process(ctx context.Context, sessionID, input string, preConfirmed bool) *Response {
	s, release := t.acquire(sessionID)
	defer release()
	return s.Process(ctx, input, preConfirmed)
}

// Confirm 批准指定会话的待确认操作。
func (t *Sessions) Confirm(ctx context.Context, sessionID, confirmationID string) (*Response, error) {
	s, release := t.acquire(sessionID)
	defer release()
	return s.Confirm(ctx, confirmationID)
}

// Cancel 丢弃指定会话的待确认操作与待批准计划。
func (t *Sessions) Cancel(sessionID string) *Response {
	s, release := t.acquire(sessionID)
	defer release()
	return s.Cancel()
}

// CreatePlan 在指定会话中生成计划。
func (t *Sessions) CreatePlan(ctx context.Context, sessionID, input string) *Response {
	s, release := t.acquire(sessionID)
	defer release()
	return s.CreatePlan(ctx, input)
}

// ExecutePlan 执行指定会话的待批准计划。
func (t *Sessions) ExecutePlan(ctx context.Context, sessionID, planID string) (*Response, error) {
	s, release := t.acquire(sessionID)
	defer release()
	return s.ExecutePlan(ctx, planID)
}

// ProcessWithPlanning 在指定会话中执行带规划的回合。
func (t *Sessions) ProcessWithPlanning(ctx context.Context, sessionID, input string) *Response {
	s, release := t.acquire(sessionID)
	defer release()
	return s.ProcessWithPlanning(ctx, input)
}

// Reset 清空指定会话。会话不存在时不做任何事。
func (t *Sessions) Reset(sessionID string) {
	if s, ok := t.Get(sessionID); ok {
		s.Reset()
	}
}
