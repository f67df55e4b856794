package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"Mother-Agent/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 120 * time.Second

	// MaxTools 是 Chat Completions 接口允许的工具数量上限。
	MaxTools = 128
)

// Config 描述了调用 OpenAI 兼容 Chat Completions API 所需的信息。
// Name 用于日志与错误信息，兼容服务（如智谱）可以设置为自己的名字。
type Config struct {
	Name      string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Client 通过 HTTP 调用 OpenAI 兼容的大模型接口。
type Client struct {
	name       string
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

var _ llm.Gateway = (*Client)(nil)

// NewClient 根据配置创建客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	name := cfg.Name
	if name == "" {
		name = "openai"
	}

	return &Client{
		name:       name,
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// CreateMessage 调用 /chat/completions 并把回复归一化。
func (c *Client) CreateMessage(ctx context.Context, messages []llm.Message, systemPrompt string, tools []llm.ToolSchema) (*llm.Response, error) {
	payload, err := json.Marshal(c.buildRequest(messages, systemPrompt, tools))
	if err != nil {
		return nil, fmt.Errorf("序列化 %s 请求失败: %w", c.name, err)
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建 %s 请求失败: %w", c.name, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, llm.TransportError(c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, llm.StatusError(c.name, resp.StatusCode, body)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, llm.MalformedError(c.name, err)
	}
	if len(decoded.Choices) == 0 {
		return nil, llm.MalformedError(c.name, errors.New("no choices in response"))
	}
	return c.toResponse(decoded)
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type chatRequest struct {
	Model      string        `json:"model"`
	Messages   []chatMessage `json:"messages"`
	Tools      []wireTool    `json:"tools,omitempty"`
	ToolChoice string        `json:"tool_choice,omitempty"`
	MaxTokens  int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   *string        `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *Client) buildRequest(messages []llm.Message, systemPrompt string, tools []llm.ToolSchema) chatRequest {
	req := chatRequest{Model: c.model, MaxTokens: c.maxTokens}
	if systemPrompt != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: strPtr(systemPrompt)})
	}
	for _, msg := range messages {
		req.Messages = append(req.Messages, convertMessage(msg)...)
	}

	for _, tool := range llm.Truncate(tools, MaxTools) {
		req.Tools = append(req.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        llm.EncodeToolName(tool.Name),
				Description: tool.Description,
				Parameters:  llm.NormalizeSchema(tool.InputSchema),
			},
		})
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = "auto"
	}
	return req
}

// convertMessage 把一条块结构消息展开为若干 Chat Completions 消息：
// tool_result 各自成为 role=tool 的消息，助手的 tool_use 合并进 tool_calls。
func convertMessage(msg llm.Message) []chatMessage {
	if msg.Role == llm.RoleAssistant {
		out := chatMessage{Role: "assistant"}
		if text := msg.Text(); text != "" {
			out.Content = strPtr(text)
		}
		for _, block := range msg.ToolUses() {
			args, _ := json.Marshal(block.Input)
			call := wireToolCall{ID: block.ID, Type: "function"}
			call.Function.Name = llm.EncodeToolName(block.Name)
			call.Function.Arguments = string(args)
			out.ToolCalls = append(out.ToolCalls, call)
		}
		return []chatMessage{out}
	}

	var out []chatMessage
	for _, block := range msg.ToolResults() {
		content := block.Content
		if block.IsError {
			content = "ERROR: " + content
		}
		out = append(out, chatMessage{Role: "tool", ToolCallID: block.ToolUseID, Content: strPtr(content)})
	}
	if text := msg.Text(); text != "" {
		out = append(out, chatMessage{Role: "user", Content: strPtr(text)})
	}
	return out
}

func (c *Client) toResponse(decoded chatResponse) (*llm.Response, error) {
	choice := decoded.Choices[0]
	out := &llm.Response{
		Usage: llm.Usage{
			InputTokens:  decoded.Usage.PromptTokens,
			OutputTokens: decoded.Usage.CompletionTokens,
		},
	}
	if choice.Message.Content != nil {
		out.Text = strings.TrimSpace(*choice.Message.Content)
	}
	for _, call := range choice.Message.ToolCalls {
		id := call.ID
		if id == "" {
			id = llm.NewCallID()
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        id,
			Name:      llm.ToolNameFromWire(call.Function.Name),
			Arguments: llm.ParseArguments(call.Function.Arguments),
		})
	}

	switch choice.FinishReason {
	case "stop":
		out.StopReason = llm.StopEndTurn
	case "tool_calls", "function_call":
		out.StopReason = llm.StopToolUse
	case "length":
		out.StopReason = llm.StopMaxTokens
	default:
		out.StopReason = llm.StopOther
	}
	return out, nil
}

func strPtr(s string) *string { return &s }
