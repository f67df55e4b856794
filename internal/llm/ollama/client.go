package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	ollama "github.com/ollama/ollama/api"

	"Mother-Agent/internal/llm"
)

const providerName = "ollama"

// chatClient 是 ollama api.Client 中本适配器用到的部分。
type chatClient interface {
	Chat(ctx context.Context, req *ollama.ChatRequest, fn ollama.ChatResponseFunc) error
}

// Config 描述本地 Ollama 服务。Host 为空时读取 OLLAMA_HOST 环境变量。
type Config struct {
	Host  string
	Model string
}

// Client 通过 Ollama 官方 Go 客户端调用本地模型。
type Client struct {
	model  string
	client chatClient
}

var _ llm.Gateway = (*Client)(nil)

// Option 自定义客户端。
type Option func(*Client)

// WithChatClient 替换底层 Ollama 客户端，主要用于测试。
func WithChatClient(c chatClient) Option {
	return func(client *Client) {
		client.client = c
	}
}

// NewClient 创建客户端。
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("未指定 Ollama 模型")
	}
	c := &Client{model: model}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.client != nil {
		return c, nil
	}

	if host := strings.TrimSpace(cfg.Host); host != "" {
		base, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("解析 Ollama 地址失败: %w", err)
		}
		c.client = ollama.NewClient(base, http.DefaultClient)
		return c, nil
	}
	client, err := ollama.ClientFromEnvironment()
	if err != nil {
		return nil, fmt.Errorf("创建 Ollama 客户端失败: %w", err)
	}
	c.client = client
	return c, nil
}

// CreateMessage 以非流式方式调用 /api/chat。Ollama 不返回调用 ID，这里合成。
func (c *Client) CreateMessage(ctx context.Context, messages []llm.Message, systemPrompt string, tools []llm.ToolSchema) (*llm.Response, error) {
	wireTools, err := convertTools(tools)
	if err != nil {
		return nil, err
	}

	stream := false
	req := &ollama.ChatRequest{
		Model:    c.model,
		Messages: convertMessages(messages, systemPrompt),
		Tools:    wireTools,
		Stream:   &stream,
	}

	var (
		text      strings.Builder
		calls     []ollama.ToolCall
		reason    string
		promptTok int
		evalTok   int
	)
	err = c.client.Chat(ctx, req, func(res ollama.ChatResponse) error {
		text.WriteString(res.Message.Content)
		calls = append(calls, res.Message.ToolCalls...)
		if res.Done {
			reason = res.DoneReason
			promptTok = res.PromptEvalCount
			evalTok = res.EvalCount
		}
		return nil
	})
	if err != nil {
		return nil, llm.TransportError(providerName, err)
	}

	out := &llm.Response{
		Text:  strings.TrimSpace(text.String()),
		Usage: llm.Usage{InputTokens: promptTok, OutputTokens: evalTok},
	}
	for _, call := range calls {
		args := map[string]any(call.Function.Arguments)
		if args == nil {
			args = map[string]any{}
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: llm.NewCallID(), Name: llm.ToolNameFromWire(call.Function.Name), Arguments: args})
	}

	switch {
	case len(out.ToolCalls) > 0:
		out.StopReason = llm.StopToolUse
	case reason == "length":
		out.StopReason = llm.StopMaxTokens
	case reason == "stop" || reason == "":
		out.StopReason = llm.StopEndTurn
	default:
		out.StopReason = llm.StopOther
	}
	return out, nil
}

func convertMessages(messages []llm.Message, systemPrompt string) []ollama.Message {
	var out []ollama.Message
	if systemPrompt != "" {
		out = append(out, ollama.Message{Role: "system", Content: systemPrompt})
	}
	for _, msg := range messages {
		if msg.Role == llm.RoleAssistant {
			wm := ollama.Message{Role: "assistant", Content: msg.Text()}
			for _, block := range msg.ToolUses() {
				wm.ToolCalls = append(wm.ToolCalls, ollama.ToolCall{
					Function: ollama.ToolCallFunction{
						Name:      llm.EncodeToolName(block.Name),
						Arguments: ollama.ToolCallFunctionArguments(block.Input),
					},
				})
			}
			out = append(out, wm)
			continue
		}
		for _, block := range msg.ToolResults() {
			content := block.Content
			if block.IsError {
				content = "ERROR: " + content
			}
			out = append(out, ollama.Message{Role: "tool", Content: content})
		}
		if text := msg.Text(); text != "" {
			out = append(out, ollama.Message{Role: "user", Content: text})
		}
	}
	return out
}

// convertTools 经由 JSON 构造 ollama.Tool，避免依赖其参数结构体的具体字段。
func convertTools(tools []llm.ToolSchema) (ollama.Tools, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make(ollama.Tools, 0, len(tools))
	for _, tool := range tools {
		raw, err := json.Marshal(map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        llm.EncodeToolName(tool.Name),
				"description": tool.Description,
				"parameters":  llm.NormalizeSchema(tool.InputSchema),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("序列化工具 %s 失败: %w", tool.Name, err)
		}
		var wire ollama.Tool
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, fmt.Errorf("转换工具 %s 失败: %w", tool.Name, err)
		}
		out = append(out, wire)
	}
	return out, nil
}
