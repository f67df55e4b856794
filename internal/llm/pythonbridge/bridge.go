package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	xerrors "Mother-Agent/internal/errors"
	"Mother-Agent/internal/llm"
)

const providerName = "python_bridge"

// Config 描述桥接脚本的调用方式。
type Config struct {
	Python     string
	Script     string
	WorkingDir string
	Env        map[string]string
}

// Client 把每次推理交给一个短生命周期的脚本进程。
//
// stdin 为 {"system", "messages", "tools"}；stdout 为与 llm.Response 同构的
// JSON，另可带 "error" 字段表示脚本侧失败，"fatal" 为 true 时不再重试。
type Client struct {
	argv []string
	dir  string
	env  []string
}

var _ llm.Gateway = (*Client)(nil)

// NewClient 校验配置并创建客户端，相对脚本路径基于 WorkingDir 解析。
func NewClient(cfg Config) (*Client, error) {
	if cfg.Script == "" {
		return nil, errors.New("python bridge: script path is required")
	}
	python := cfg.Python
	if python == "" {
		python = "python3"
	}
	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}
	return &Client{
		argv: []string{python, ResolveScriptPath(cfg.WorkingDir, cfg.Script)},
		dir:  cfg.WorkingDir,
		env:  env,
	}, nil
}

type request struct {
	System   string           `json:"system"`
	Messages []llm.Message    `json:"messages"`
	Tools    []llm.ToolSchema `json:"tools"`
}

type reply struct {
	llm.Response
	Error string `json:"error"`
	Fatal bool   `json:"fatal"`
}

// CreateMessage 实现 llm.Gateway。
func (c *Client) CreateMessage(ctx context.Context, messages []llm.Message, systemPrompt string, tools []llm.ToolSchema) (*llm.Response, error) {
	payload, err := json.Marshal(request{System: systemPrompt, Messages: messages, Tools: tools})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode bridge request")
	}

	stdout, err := c.run(ctx, payload)
	if err != nil {
		return nil, err
	}

	var out reply
	if err := json.Unmarshal(stdout, &out); err != nil {
		return nil, llm.MalformedError(providerName, err)
	}
	if out.Error != "" {
		code := llm.CodeProviderFailure
		if out.Fatal {
			code = llm.CodeProviderRejected
		}
		return nil, xerrors.New(code, providerName+": "+out.Error, xerrors.WithMetadata("provider", providerName))
	}
	return normalize(&out.Response), nil
}

func (c *Client) run(ctx context.Context, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Dir = c.dir
	cmd.Env = c.env
	cmd.WaitDelay = 2 * time.Second
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, xerrors.Wrap(xerrors.CodeOf(ctxErr), ctxErr, "python bridge interrupted")
		}
		return nil, llm.TransportError(providerName, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())))
	}
	return stdout.Bytes(), nil
}

// normalize 补齐脚本可能省略的字段。
func normalize(resp *llm.Response) *llm.Response {
	for i := range resp.ToolCalls {
		call := &resp.ToolCalls[i]
		if call.ID == "" {
			call.ID = llm.NewCallID()
		}
		if call.Arguments == nil {
			call.Arguments = map[string]any{}
		}
	}
	if resp.StopReason != "" {
		return resp
	}
	if len(resp.ToolCalls) > 0 {
		resp.StopReason = llm.StopToolUse
	} else {
		resp.StopReason = llm.StopEndTurn
	}
	return resp
}

// ResolveScriptPath 把相对脚本路径拼到 baseDir 下。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" || baseDir == "" || filepath.IsAbs(script) {
		return script
	}
	return filepath.Join(baseDir, script)
}
