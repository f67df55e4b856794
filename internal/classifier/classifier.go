package classifier

import (
	"fmt"
	"strings"

	xerrors "Mother-Agent/internal/errors"
)

const (
	matchedMessageLimit  = 200
	fallbackMessageLimit = 500
)

// AgentError 是分类后的结构化错误。
type AgentError struct {
	Category    Category `json:"category"`
	Message     string   `json:"message"`
	Tool        string   `json:"tool,omitempty"`
	Command     string   `json:"command,omitempty"`
	Recoverable bool     `json:"recoverable"`
	Suggestion  string   `json:"suggestion,omitempty"`
}

// Error 实现 error 接口。
func (e AgentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Err 转换为统一错误，供任务层记录错误码与可重试性。
func (e AgentError) Err() *xerrors.Error {
	opts := []xerrors.Option{xerrors.WithRetryable(e.Recoverable)}
	if e.Tool != "" {
		opts = append(opts, xerrors.WithMetadata("tool", e.Tool))
	}
	if e.Command != "" {
		opts = append(opts, xerrors.WithMetadata("command", e.Command))
	}
	return xerrors.New(e.Category.Code(), e.Message, opts...)
}

// ForModel 渲染给模型看的详细形式，包含工具、命令、建议与可恢复性，
// 让模型判断是否换参数重试。
func (e AgentError) ForModel() string {
	lines := []string{fmt.Sprintf("Error (%s): %s", strings.ToLower(string(e.Category)), e.Message)}
	if e.Tool != "" {
		lines = append(lines, "Tool: "+e.Tool)
	}
	if e.Command != "" {
		lines = append(lines, "Command: "+e.Command)
	}
	if e.Suggestion != "" {
		lines = append(lines, "Suggestion: "+e.Suggestion)
	}
	if e.Recoverable {
		lines = append(lines, "This error may be recoverable. Consider trying with different parameters or an alternative approach.")
	}
	return strings.Join(lines, "\n")
}

// ForUser 渲染给人看的简洁形式，只有消息与建议。
func (e AgentError) ForUser() string {
	out := "Error: " + e.Message
	if e.Suggestion != "" {
		out += "\n\nSuggestion: " + e.Suggestion
	}
	return out
}

// Classifier 按有序规则表分类错误文本。
type Classifier struct {
	rules []Rule
}

// New 使用给定规则创建分类器，未提供规则时使用 DefaultRules。
func New(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// Rules 返回规则表副本。
func (c *Classifier) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Classify 返回第一条命中的规则对应的错误；没有命中时归为 INTERNAL。
func (c *Classifier) Classify(raw, tool, command string) AgentError {
	lower := strings.ToLower(raw)
	for _, r := range c.rules {
		if r.Pattern.MatchString(lower) {
			return AgentError{
				Category:    r.Category,
				Message:     r.Prefix + ": " + truncate(raw, matchedMessageLimit),
				Tool:        tool,
				Command:     command,
				Recoverable: r.Recoverable,
				Suggestion:  r.Category.Suggestion(),
			}
		}
	}
	return AgentError{
		Category:    Internal,
		Message:     truncate(raw, fallbackMessageLimit),
		Tool:        tool,
		Command:     command,
		Recoverable: false,
		Suggestion:  Internal.Suggestion(),
	}
}

// New 直接构造指定分类的错误，不经过规则匹配。
func (c *Classifier) New(category Category, message, tool, command string) AgentError {
	return AgentError{
		Category:    category,
		Message:     message,
		Tool:        tool,
		Command:     command,
		Recoverable: recoverable[category],
		Suggestion:  category.Suggestion(),
	}
}

// FromError 优先识别已带分类错误码的统一错误，否则按文本分类。
func (c *Classifier) FromError(err error, tool, command string) AgentError {
	if err == nil {
		return c.Classify("", tool, command)
	}
	if ae, ok := err.(AgentError); ok {
		return ae
	}
	if xe, ok := xerrors.From(err); ok {
		cat := Category(xe.Code())
		if _, known := suggestions[cat]; known {
			return c.New(cat, xe.Message(), tool, command)
		}
	}
	return c.Classify(err.Error(), tool, command)
}

var defaultClassifier = New()

// Classify 使用默认规则分类。
func Classify(raw, tool, command string) AgentError {
	return defaultClassifier.Classify(raw, tool, command)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
