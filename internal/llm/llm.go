package llm

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Role 表示消息的发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType 表示内容块类型。
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock 是消息中的一个内容块。
//
// tool_use 块使用 ID、Name、Input；tool_result 块使用 ToolUseID、ToolName、
// Content、IsError。ToolName 供只按函数名关联结果的厂商使用。
type ContentBlock struct {
	Type BlockType `json:"type"`
	Text string    `json:"text,omitempty"`

	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Message 是会话历史中的一条消息。
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// Text 拼接消息中的所有文本块。
func (m Message) Text() string {
	var parts []string
	for _, block := range m.Content {
		if block.Type == BlockText && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolUses 返回消息中的 tool_use 块。
func (m Message) ToolUses() []ContentBlock {
	return m.blocks(BlockToolUse)
}

// ToolResults 返回消息中的 tool_result 块。
func (m Message) ToolResults() []ContentBlock {
	return m.blocks(BlockToolResult)
}

func (m Message) blocks(kind BlockType) []ContentBlock {
	var out []ContentBlock
	for _, block := range m.Content {
		if block.Type == kind {
			out = append(out, block)
		}
	}
	return out
}

// UserText 构造一条纯文本的用户消息。
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{TextBlock(text)}}
}

// AssistantTurn 构造助手消息：可选的文本块加上每个工具调用的 tool_use 块。
func AssistantTurn(text string, calls []ToolCall) Message {
	msg := Message{Role: RoleAssistant}
	if text != "" {
		msg.Content = append(msg.Content, TextBlock(text))
	}
	for _, call := range calls {
		msg.Content = append(msg.Content, ToolUseBlock(call))
	}
	return msg
}

// ToolResultsMessage 把若干 tool_result 块包装成一条用户消息。
func ToolResultsMessage(blocks ...ContentBlock) Message {
	return Message{Role: RoleUser, Content: blocks}
}

// TextBlock 构造文本块。
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock 构造 tool_use 块。
func ToolUseBlock(call ToolCall) ContentBlock {
	input := call.Arguments
	if input == nil {
		input = map[string]any{}
	}
	return ContentBlock{Type: BlockToolUse, ID: call.ID, Name: call.Name, Input: input}
}

// ToolResultBlock 构造 tool_result 块。
func ToolResultBlock(toolUseID, toolName, content string, isError bool) ContentBlock {
	return ContentBlock{
		Type:      BlockToolResult,
		ToolUseID: toolUseID,
		ToolName:  toolName,
		Content:   content,
		IsError:   isError,
	}
}

// ToolSchema 描述一个可供模型调用的工具。Name 使用规范名（namespace.command）。
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolCall 是模型请求的一次工具调用，Name 已还原为规范名。
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// StopReason 是归一化后的停止原因。
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopOther     StopReason = "other"
)

// Usage 记录 token 消耗。
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response 是厂商无关的模型回复。
type Response struct {
	Text       string     `json:"text"`
	ToolCalls  []ToolCall `json:"tool_calls"`
	StopReason StopReason `json:"stop_reason"`
	Usage      Usage      `json:"usage"`
}

// Gateway 定义了调用大模型的统一接口。每个厂商适配器负责把归一化的消息
// 转换为各自的线协议，并把回复转换回 Response。
type Gateway interface {
	CreateMessage(ctx context.Context, messages []Message, systemPrompt string, tools []ToolSchema) (*Response, error)
}

// GatewayFunc 让普通函数满足 Gateway 接口。
type GatewayFunc func(ctx context.Context, messages []Message, systemPrompt string, tools []ToolSchema) (*Response, error)

// CreateMessage 实现 Gateway。
func (f GatewayFunc) CreateMessage(ctx context.Context, messages []Message, systemPrompt string, tools []ToolSchema) (*Response, error) {
	return f(ctx, messages, systemPrompt, tools)
}

// NewCallID 为不提供调用 ID 的厂商生成合成 ID。
func NewCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Truncate 按顺序保留前 max 个工具。max <= 0 表示不限制。
func Truncate(tools []ToolSchema, max int) []ToolSchema {
	if max <= 0 || len(tools) <= max {
		return tools
	}
	return tools[:max]
}
