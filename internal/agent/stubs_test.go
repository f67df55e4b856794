package agent

import (
	"context"
	"errors"
	"strings"
	"sync"

	"Mother-Agent/internal/llm"
	"Mother-Agent/pkg/plugin"
)

// scriptedGateway 按调用序号返回预设回复，并记录每次请求。
type scriptedGateway struct {
	mu      sync.Mutex
	script  func(call int, messages []llm.Message) (*llm.Response, error)
	calls   int
	systems []string
	tools   [][]llm.ToolSchema
	history [][]llm.Message
}

func (g *scriptedGateway) CreateMessage(_ context.Context, messages []llm.Message, system string, tools []llm.ToolSchema) (*llm.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.systems = append(g.systems, system)
	g.tools = append(g.tools, tools)
	snapshot := make([]llm.Message, len(messages))
	copy(snapshot, messages)
	g.history = append(g.history, snapshot)
	return g.script(g.calls, messages)
}

func replies(list ...*llm.Response) *scriptedGateway {
	return &scriptedGateway{script: func(call int, _ []llm.Message) (*llm.Response, error) {
		if call > len(list) {
			return &llm.Response{Text: "done", StopReason: llm.StopEndTurn}, nil
		}
		return list[call-1], nil
	}}
}

func textReply(text string) *llm.Response {
	return &llm.Response{Text: text, StopReason: llm.StopEndTurn}
}

func toolReply(calls ...llm.ToolCall) *llm.Response {
	return &llm.Response{ToolCalls: calls, StopReason: llm.StopToolUse}
}

func call(id, name string, args map[string]any) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: args}
}

type executed struct {
	tool string
	args map[string]any
}

// stubRegistry 是内存中的工具注册表。
type stubRegistry struct {
	mu       sync.Mutex
	tools    []plugin.ToolInfo
	handlers map[string]func(args map[string]any) (*plugin.Result, error)
	executed []executed
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{handlers: map[string]func(map[string]any) (*plugin.Result, error){}}
}

func (r *stubRegistry) add(full string, confirm bool, fn func(args map[string]any) (*plugin.Result, error)) *stubRegistry {
	ns, cmd, _ := strings.Cut(full, ".")
	r.tools = append(r.tools, plugin.ToolInfo{
		Name:                 full,
		Namespace:            ns,
		Command:              cmd,
		Description:          "stub " + cmd,
		RequiresConfirmation: confirm,
	})
	if fn == nil {
		fn = func(map[string]any) (*plugin.Result, error) {
			return &plugin.Result{Success: true, Output: full + " ok"}, nil
		}
	}
	r.handlers[full] = fn
	return r
}

func (r *stubRegistry) ParseName(full string) (string, string, bool) {
	if _, ok := r.handlers[full]; !ok {
		return "", "", false
	}
	ns, cmd, _ := strings.Cut(full, ".")
	return ns, cmd, true
}

func (r *stubRegistry) RequiresConfirmation(full string) bool {
	for _, t := range r.tools {
		if t.Name == full {
			return t.RequiresConfirmation
		}
	}
	return false
}

func (r *stubRegistry) Execute(_ context.Context, full string, args map[string]any) (*plugin.Result, error) {
	r.mu.Lock()
	r.executed = append(r.executed, executed{tool: full, args: args})
	fn := r.handlers[full]
	r.mu.Unlock()
	if fn == nil {
		return nil, errors.New("unknown tool " + full)
	}
	return fn(args)
}

func (r *stubRegistry) ListTools() []plugin.ToolInfo {
	return append([]plugin.ToolInfo(nil), r.tools...)
}

func (r *stubRegistry) executions(full string) []executed {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []executed
	for _, e := range r.executed {
		if e.tool == full {
			out = append(out, e)
		}
	}
	return out
}

// stubMemory 记录写入；设置 err 后所有方法都返回该错误。
type stubMemory struct {
	mu      sync.Mutex
	context string
	err     error
	inputs  []string
	answers []string
	results []string
}

func (m *stubMemory) ContextForQuery(context.Context, string, string, int) (string, error) {
	return m.context, m.err
}

func (m *stubMemory) RememberUserInput(_ context.Context, _, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, content)
	return m.err
}

func (m *stubMemory) RememberAssistantResponse(_ context.Context, _, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers = append(m.answers, content)
	return m.err
}

func (m *stubMemory) RememberToolResult(_ context.Context, _, tool string, _ map[string]any, _ string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, tool)
	return m.err
}

func failing(msg string) func(map[string]any) (*plugin.Result, error) {
	return func(map[string]any) (*plugin.Result, error) {
		return &plugin.Result{Success: false, Error: msg}, nil
	}
}

func lastMessage(s *Session) llm.Message {
	h := s.History()
	return h[len(h)-1]
}
