package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"Mother-Agent/internal/llm"
)

const (
	defaultBaseURL   = "https://generativelanguage.googleapis.com"
	defaultModelName = "gemini-2.0-flash"
	defaultTimeout   = 120 * time.Second
	providerName     = "gemini"

	// MaxTools 是单次请求声明的函数数量上限。
	MaxTools = 128
)

// Config 描述调用 generateContent 所需的信息。
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Client 通过 REST 调用 Gemini。Gemini 的函数调用没有 ID，
// 这里为每次调用合成 ID，结果按函数名回传。
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
		return nil, errors.New("未提供 Gemini API Key")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *functionCall     `json:"functionCall,omitempty"`
	FunctionResponse *functionResponse `json:"functionResponse,omitempty"`
}

type functionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type functionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type functionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type toolGroup struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type generateRequest struct {
	SystemInstruction *content       `json:"systemInstruction,omitempty"`
	Contents          []content      `json:"contents"`
	Tools             []toolGroup    `json:"tools,omitempty"`
	GenerationConfig  map[string]any `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// CreateMessage 调用 models/{model}:generateContent。
func (c *Client) CreateMessage(ctx context.Context, messages []llm.Message, systemPrompt string, tools []llm.ToolSchema) (*llm.Response, error) {
	payload, err := json.Marshal(c.buildRequest(messages, systemPrompt, tools))
	if err != nil {
		return nil, fmt.Errorf("序列化 Gemini 请求失败: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建 Gemini 请求失败: %w", err)
	}
	httpReq.Header.Set("x-goog-api-key", c.apiKey)
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

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, llm.MalformedError(providerName, err)
	}
	if len(decoded.Candidates) == 0 {
		return nil, llm.MalformedError(providerName, errors.New("no candidates in response"))
	}
	return toResponse(decoded), nil
}

func (c *Client) buildRequest(messages []llm.Message, systemPrompt string, tools []llm.ToolSchema) generateRequest {
	req := generateRequest{}
	if systemPrompt != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: systemPrompt}}}
	}
	if c.maxTokens > 0 {
		req.GenerationConfig = map[string]any{"maxOutputTokens": c.maxTokens}
	}

	for _, msg := range messages {
		role := "user"
		if msg.Role == llm.RoleAssistant {
			role = "model"
		}
		ct := content{Role: role}
		for _, block := range msg.Content {
			switch block.Type {
			case llm.BlockText:
				if block.Text != "" {
					ct.Parts = append(ct.Parts, part{Text: block.Text})
				}
			case llm.BlockToolUse:
				args := block.Input
				if args == nil {
					args = map[string]any{}
				}
				ct.Parts = append(ct.Parts, part{FunctionCall: &functionCall{Name: block.Name, Args: args}})
			case llm.BlockToolResult:
				key := "content"
				if block.IsError {
					key = "error"
				}
				ct.Parts = append(ct.Parts, part{FunctionResponse: &functionResponse{
					Name:     block.ToolName,
					Response: map[string]any{key: block.Content},
				}})
			}
		}
		if len(ct.Parts) > 0 {
			req.Contents = append(req.Contents, ct)
		}
	}

	limited := llm.Truncate(tools, MaxTools)
	if len(limited) > 0 {
		group := toolGroup{}
		for _, tool := range limited {
			group.FunctionDeclarations = append(group.FunctionDeclarations, functionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  llm.StripSchemaKeys(llm.NormalizeSchema(tool.InputSchema), "additionalProperties", "$schema"),
			})
		}
		req.Tools = []toolGroup{group}
	}
	return req
}

func toResponse(decoded generateResponse) *llm.Response {
	candidate := decoded.Candidates[0]
	out := &llm.Response{
		Usage: llm.Usage{
			InputTokens:  decoded.UsageMetadata.PromptTokenCount,
			OutputTokens: decoded.UsageMetadata.CandidatesTokenCount,
		},
	}
	var texts []string
	for _, p := range candidate.Content.Parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
		if p.FunctionCall != nil {
			id := p.FunctionCall.ID
			if id == "" {
				id = llm.NewCallID()
			}
			args := p.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: id, Name: p.FunctionCall.Name, Arguments: args})
		}
	}
	out.Text = strings.Join(texts, "\n")

	switch {
	case len(out.ToolCalls) > 0:
		out.StopReason = llm.StopToolUse
	case candidate.FinishReason == "STOP":
		out.StopReason = llm.StopEndTurn
	case candidate.FinishReason == "MAX_TOKENS":
		out.StopReason = llm.StopMaxTokens
	default:
		out.StopReason = llm.StopOther
	}
	return out
}
