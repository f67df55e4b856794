package agent

import (
	"time"

	"Mother-Agent/internal/classifier"
	xerrors "Mother-Agent/internal/errors"
	"Mother-Agent/internal/llm"
)

// PendingConfirmation 是等待用户批准的破坏性操作。ID 取自发起该操作的模型调用 ID，
// 客户端可以带 preConfirmed 重新提交同一回合直接命中。
type PendingConfirmation struct {
	ID          string         `json:"id"`
	Namespace   string         `json:"namespace"`
	Command     string         `json:"command"`
	Tool        string         `json:"tool"`
	Args        map[string]any `json:"args"`
	Description string         `json:"description"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (p *PendingConfirmation) clone() *PendingConfirmation {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Args = cloneArgs(p.Args)
	return &cp
}

// ToolCallRecord 记录一次已调度的工具调用。
type ToolCallRecord struct {
	ID       string         `json:"id,omitempty"`
	Tool     string         `json:"tool"`
	Args     map[string]any `json:"args"`
	Success  bool           `json:"success"`
	Duration time.Duration  `json:"duration"`
	Error    string         `json:"error,omitempty"`
	// Step 仅在计划执行时设置。
	Step int `json:"step,omitempty"`
}

// Response 是每个入口返回给调用方的结果。
type Response struct {
	SessionID           string                  `json:"session_id"`
	Text                string                  `json:"text"`
	Success             bool                    `json:"success"`
	ToolCalls           []ToolCallRecord        `json:"tool_calls"`
	PendingConfirmation *PendingConfirmation    `json:"pending_confirmation,omitempty"`
	PendingPlan         *ExecutionPlan          `json:"pending_plan,omitempty"`
	Errors              []classifier.AgentError `json:"errors,omitempty"`
	// Code 标识整体失败原因，成功时为空。
	Code xerrors.Code `json:"code,omitempty"`
}

// ConversationState 归单个会话独占，按回合修改。
type ConversationState struct {
	SessionID   string
	Messages    []llm.Message
	ToolResults []ToolCallRecord
	Pending     *PendingConfirmation
	Confirmed   map[string]struct{}
	PendingPlan *ExecutionPlan
	CurrentPlan *ExecutionPlan
}

func newState(sessionID string) *ConversationState {
	return &ConversationState{SessionID: sessionID, Confirmed: make(map[string]struct{})}
}

// appendUser 追加用户内容。上一条已经是用户消息（例如 tool_result）时合并为同一条，
// 保持 user/assistant 交替。
func (s *ConversationState) appendUser(text string) {
	if n := len(s.Messages); n > 0 && s.Messages[n-1].Role == llm.RoleUser {
		s.Messages[n-1].Content = append(s.Messages[n-1].Content, llm.TextBlock(text))
		return
	}
	s.Messages = append(s.Messages, llm.UserText(text))
}

func cloneArgs(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	cp := make(map[string]any, len(args))
	for k, v := range args {
		cp[k] = v
	}
	return cp
}
