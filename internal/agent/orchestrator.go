package agent

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"Mother-Agent/internal/classifier"
	"Mother-Agent/internal/llm"
	"Mother-Agent/pkg/logger"
)

// PendingPolicy 决定已有待确认操作时，又一个需要确认的调用如何处理。
type PendingPolicy string

const (
	// PolicyReject 拒绝新的调用并以错误结果告知模型，保留原有待确认操作。
	PolicyReject PendingPolicy = "reject"
	// PolicyOverwrite 用新的调用替换原有待确认操作，并在回复与审计日志中说明。
	PolicyOverwrite PendingPolicy = "overwrite"
)

const (
	defaultMaxIterations = 10
	defaultMemoryItems   = 5
)

// Agent 持有所有会话共享的依赖，本身不保存会话状态。
type Agent struct {
	gateway       llm.Gateway
	tools         ToolRegistry
	memory        MemoryContext
	classifier    *classifier.Classifier
	logger        *slog.Logger
	maxIterations int
	memoryItems   int
	policy        PendingPolicy
	systemPrompt  string
	llmTimeout    time.Duration
	now           func() time.Time
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithMemory 配置会话记忆，为 nil 时不读写记忆。
func WithMemory(m MemoryContext) Option {
	return func(a *Agent) {
		a.memory = m
	}
}

// WithMaxIterations 设置单个回合内模型调用的上限。
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		a.maxIterations = n
	}
}

// WithMemoryItems 设置每个回合注入的记忆条数。
func WithMemoryItems(n int) Option {
	return func(a *Agent) {
		a.memoryItems = n
	}
}

// WithPendingPolicy 设置待确认冲突策略。
func WithPendingPolicy(p PendingPolicy) Option {
	return func(a *Agent) {
		a.policy = p
	}
}

// WithSystemPrompt 替换对话模式的基础提示词。提示词中的 {tools} 会被替换为工具目录，
// 缺少占位符时目录追加在末尾。
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) {
		a.systemPrompt = prompt
	}
}

// WithClassifier 替换错误分类器。
func WithClassifier(c *classifier.Classifier) Option {
	return func(a *Agent) {
		a.classifier = c
	}
}

// WithLogger 替换日志器。
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = l
	}
}

// WithLLMTimeout 设置单次模型调用的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.llmTimeout = 0
			return
		}
		a.llmTimeout = timeout
	}
}

// WithClock 替换时间源，便于测试。
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		a.now = now
	}
}

// New 创建一个 Agent。
func New(gateway llm.Gateway, tools ToolRegistry, opts ...Option) *Agent {
	a := &Agent{
		gateway:       gateway,
		tools:         tools,
		maxIterations: defaultMaxIterations,
		memoryItems:   defaultMemoryItems,
		policy:        PolicyReject,
		systemPrompt:  DefaultSystemPrompt,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.maxIterations <= 0 {
		a.maxIterations = defaultMaxIterations
	}
	if a.memoryItems <= 0 {
		a.memoryItems = defaultMemoryItems
	}
	if a.policy != PolicyOverwrite {
		a.policy = PolicyReject
	}
	if a.classifier == nil {
		a.classifier = classifier.New()
	}
	if a.logger == nil {
		a.logger = logger.Named("agent")
	}
	return a
}

// NewSession 创建一个会话。id 为空时生成 UUID。
func (a *Agent) NewSession(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{agent: a, state: newState(id), log: a.logger.With("session_id", id)}
}

// Session 是一段独立的对话。同一会话的调用互斥执行。
type Session struct {
	mu    sync.Mutex
	agent *Agent
	state *ConversationState
	log   *slog.Logger
}

// ID 返回会话 ID。
func (s *Session) ID() string {
	return s.state.SessionID
}

// Pending 返回当前待确认操作的副本。
func (s *Session) Pending() *PendingConfirmation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Pending.clone()
}

// PendingPlan 返回待批准计划的副本。
func (s *Session) PendingPlan() *ExecutionPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.PendingPlan.clone()
}

// CurrentPlan 返回最近执行的计划的副本。
func (s *Session) CurrentPlan() *ExecutionPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CurrentPlan.clone()
}

// History 返回对话历史的副本。
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Message, len(s.state.Messages))
	for i, m := range s.state.Messages {
		out[i] = llm.Message{Role: m.Role, Content: append([]llm.ContentBlock(nil), m.Content...)}
	}
	return out
}

// Reset 清空会话历史与所有待处理项，会话 ID 保持不变。
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = newState(s.state.SessionID)
	s.log.Info("会话已重置")
}

func (s *Session) newResponse() *Response {
	return &Response{SessionID: s.state.SessionID, ToolCalls: []ToolCallRecord{}}
}
