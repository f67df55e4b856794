package anthropic

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
	defaultBaseURL   = "https://api.anthropic.com"
	defaultModelName = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
	defaultTimeout   = 120 * time.Second
	apiVersion       = "2023-06-01"
	providerName     = "anthropic"
)

// Config 描述调用 Messages API 所需的信息。
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Client 通过 HTTP 调用 Anthropic Messages API。
type Client struct {
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
		return nil, errors.New("未提供 Anthropic API Key")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		maxTokens:  maxTokens,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type wireBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

type wireMessage struct {
	Role    string      `json:"role"`
	Content []wireBlock `json:"content"`
}

type wireTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type messagesRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []wireMessage `json:"messages"`
	Tools     []wireTool    `json:"tools,omitempty"`
}

type messagesResponse struct {
	Content    []wireBlock `json:"content"`
	StopReason string      `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// CreateMessage 调用 /v1/messages。
func (c *Client) CreateMessage(ctx context.Context, messages []llm.Message, systemPrompt string, tools []llm.ToolSchema) (*llm.Response, error) {
	payload, err := json.Marshal(c.buildRequest(messages, systemPrompt, tools))
	if err != nil {
		return nil, fmt.Errorf("序列化 Anthropic 请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建 Anthropic 请求失败: %w", err)
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, llm.TransportError(providerName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, llm.StatusError(providerName, resp.StatusCode, body)
	}

	var decoded messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, llm.MalformedError(providerName, err)
	}
	return toResponse(decoded)
}

func (c *Client) buildRequest(messages []llm.Message, systemPrompt string, tools []llm.ToolSchema) messagesRequest {
	req := messagesRequest{Model: c.model, MaxTokens: c.maxTokens, System: systemPrompt}
	for _, msg := range messages {
		wm := wireMessage{Role: string(msg.Role)}
		for _, block := range msg.Content {
			switch block.Type {
			case llm.BlockText:
				wm.Content = append(wm.Content, wireBlock{Type: "text", Text: block.Text})
			case llm.BlockToolUse:
				input := block.Input
				if input == nil {
					input = map[string]any{}
				}
				wm.Content = append(wm.Content, wireBlock{Type: "tool_use", ID: block.ID, Name: llm.EncodeToolName(block.Name), Input: input})
			case llm.BlockToolResult:
				wm.Content = append(wm.Content, wireBlock{Type: "tool_result", ToolUseID: block.ToolUseID, Content: block.Content, IsError: block.IsError})
			}
		}
		if len(wm.Content) > 0 {
			req.Messages = append(req.Messages, wm)
		}
	}
	for _, tool := range tools {
		req.Tools = append(req.Tools, wireTool{
			Name:        llm.EncodeToolName(tool.Name),
			Description: tool.Description,
			InputSchema: llm.NormalizeSchema(tool.InputSchema),
		})
	}
	return req
}

func toResponse(decoded messagesResponse) (*llm.Response, error) {
	out := &llm.Response{
		Usage: llm.Usage{InputTokens: decoded.Usage.InputTokens, OutputTokens: decoded.Usage.OutputTokens},
	}
	var texts []string
	for _, block := range decoded.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				texts = append(texts, block.Text)
			}
		case "tool_use":
			args := block.Input
			if args == nil {
				args = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: block.ID, Name: llm.ToolNameFromWire(block.Name), Arguments: args})
		}
	}
	out.Text = strings.Join(texts, "\n")

	switch decoded.StopReason {
	case "end_turn", "stop_sequence":
		out.StopReason = llm.StopEndTurn
	case "tool_use":
		out.StopReason = llm.StopToolUse
	case "max_tokens":
		out.StopReason = llm.StopMaxTokens
	default:
		out.StopReason = llm.StopOther
	}
	return out, nil
}
