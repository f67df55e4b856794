package mock

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"

	"Mother-Agent/internal/llm"
)

// DefaultReply 是没有规则命中时的回复。
const DefaultReply = "I understand your request, but no mock rule handles it. Configure llm.mock.rules to map inputs to tools."

// CompletionReply 是收到工具结果后的固定收尾回复。
const CompletionReply = "I've completed the requested operation."

// Rule 把匹配 Pattern 的最近一条用户输入映射为一次工具调用；
// Tool 为空时直接以 Reply 作为文本回复。
type Rule struct {
	Pattern *regexp.Regexp
	Tool    string
	Args    map[string]any
	Reply   string
}

// NewRule 编译不区分大小写的规则。
func NewRule(pattern, tool string, args map[string]any, reply string) (Rule, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("编译 mock 规则 %q 失败: %w", pattern, err)
	}
	return Rule{Pattern: re, Tool: tool, Args: args, Reply: reply}, nil
}

// DefaultRules 返回一组覆盖常见演示插件的规则。
func DefaultRules() []Rule {
	mk := func(pattern, tool string, args map[string]any) Rule {
		r, _ := NewRule(pattern, tool, args, "")
		return r
	}
	return []Rule{
		mk(`(run|execute|shell).*(command|script|bash)`, "shell.run_command", map[string]any{"command": "echo 'Hello from mock'"}),
		mk(`(hostname|host name|machine name)`, "shell.hostname", nil),
		mk(`(whoami|who am i|current user)`, "shell.whoami", nil),
		mk(`(note|remember|jot)`, "scratchpad.write", map[string]any{"key": "note", "value": "from mock"}),
		mk(`(recall|read).*(note|scratch)`, "scratchpad.read", map[string]any{"key": "note"}),
		mk(`(delete|remove|clear).*(note|scratch)`, "scratchpad.delete", map[string]any{"key": "note"}),
	}
}

// Provider 是确定性的离线 Gateway，用于测试与演示。
type Provider struct {
	rules []Rule
	calls atomic.Int64
}

var _ llm.Gateway = (*Provider)(nil)

// New 创建 mock provider。rules 为空时使用 DefaultRules。
func New(rules ...Rule) *Provider {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Provider{rules: rules}
}

// CallCount 返回 CreateMessage 被调用的次数。
func (p *Provider) CallCount() int {
	return int(p.calls.Load())
}

// CreateMessage 按规则生成回复。
func (p *Provider) CreateMessage(_ context.Context, messages []llm.Message, _ string, tools []llm.ToolSchema) (*llm.Response, error) {
	p.calls.Add(1)

	if n := len(messages); n > 0 && messages[n-1].Role == llm.RoleUser && len(messages[n-1].ToolResults()) > 0 {
		return &llm.Response{
			Text:       CompletionReply,
			StopReason: llm.StopEndTurn,
			Usage:      llm.Usage{InputTokens: 20, OutputTokens: 10},
		}, nil
	}

	input := strings.ToLower(lastUserText(messages))
	available := make(map[string]struct{}, len(tools))
	for _, tool := range tools {
		available[tool.Name] = struct{}{}
	}

	for _, rule := range p.rules {
		if rule.Pattern == nil || !rule.Pattern.MatchString(input) {
			continue
		}
		if rule.Tool == "" {
			return &llm.Response{Text: rule.Reply, StopReason: llm.StopEndTurn}, nil
		}
		if len(available) > 0 {
			if _, ok := available[rule.Tool]; !ok {
				continue
			}
		}
		args := make(map[string]any, len(rule.Args))
		for k, v := range rule.Args {
			args[k] = v
		}
		return &llm.Response{
			Text:       rule.Reply,
			ToolCalls:  []llm.ToolCall{{ID: llm.NewCallID(), Name: rule.Tool, Arguments: args}},
			StopReason: llm.StopToolUse,
			Usage:      llm.Usage{InputTokens: 30, OutputTokens: 20},
		}, nil
	}

	return &llm.Response{
		Text:       DefaultReply,
		StopReason: llm.StopEndTurn,
		Usage:      llm.Usage{InputTokens: 50, OutputTokens: 30},
	}, nil
}

func lastUserText(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != llm.RoleUser {
			continue
		}
		if text := messages[i].Text(); text != "" {
			return text
		}
	}
	return ""
}
