package agent

import (
	"context"
	"fmt"

	xerrors "Mother-Agent/internal/errors"
	"Mother-Agent/internal/observability/metrics"
	"Mother-Agent/pkg/logger"
	"Mother-Agent/pkg/plugin"
)

// Confirm 批准待确认操作并立即执行。id 为空时指当前待确认操作。
//
// 没有待确认操作或 id 不匹配时不产生任何副作用，返回带错误码的 Response 与错误。
// 工具自身执行失败不返回错误，体现在 Response.Success 与 Errors 中。
func (s *Session) Confirm(ctx context.Context, id string) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.confirm(ctx, id)
	metrics.ObserveTurn("confirm", resp.Success)
	return resp, err
}

func (s *Session) confirm(ctx context.Context, id string) (*Response, error) {
	st := s.state
	resp := s.newResponse()

	p := st.Pending
	if p == nil {
		resp.Text = "No pending action to confirm."
		resp.Code = CodeNoPendingAction
		return resp, xerrors.New(CodeNoPendingAction, "no pending action to confirm")
	}
	if id != "" && id != p.ID {
		resp.Text = "Confirmation ID doesn't match pending action."
		resp.Code = CodeConfirmationMismatch
		resp.PendingConfirmation = p.clone()
		metrics.ObserveConfirmation("mismatch")
		return resp, xerrors.New(CodeConfirmationMismatch,
			fmt.Sprintf("confirmation %s does not match pending action %s", id, p.ID),
			xerrors.WithMetadata("pending_id", p.ID))
	}

	s.approvePending("confirm")

	args := cloneArgs(p.Args)
	args[plugin.ArgConfirmed] = true
	res, record := s.dispatch(ctx, p.ID, p.Tool, p.Namespace, p.Command, args)
	resp.ToolCalls = append(resp.ToolCalls, record)
	st.ToolResults = append(st.ToolResults, record)

	var content string
	if record.Success {
		content = resultContent(res)
		resp.Success = true
		resp.Text = "Action completed successfully.\n\n" + content
	} else {
		ae := s.agent.classifier.Classify(failureText(res, p.Tool), p.Tool, p.Command)
		resp.Errors = append(resp.Errors, ae)
		resp.Code = CodeToolDispatchFailed
		resp.Text = ae.ForUser()
		content = ae.ForModel()
	}

	s.remember("tool result", func(m MemoryContext) error {
		return m.RememberToolResult(ctx, st.SessionID, p.Tool, p.Args, content, record.Success)
	})

	status := "succeeded"
	if !record.Success {
		status = "failed"
	}
	st.appendUser(fmt.Sprintf("[The user confirmed %s (%s); it %s]\n%s", p.Tool, p.ID, status, content))
	return resp, nil
}

// Cancel 丢弃待确认操作与待批准计划。
func (s *Session) Cancel() *Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel()
}

func (s *Session) cancel() *Response {
	st := s.state
	resp := s.newResponse()
	resp.Success = true

	switch {
	case st.PendingPlan != nil:
		resp.Text = "Plan cancelled."
	case st.Pending != nil:
		resp.Text = "Pending action cancelled."
	default:
		resp.Text = "Nothing to cancel."
	}

	if p := st.Pending; p != nil {
		metrics.ObserveConfirmation("cancelled")
		logger.Audit().Info("pending action cancelled",
			"session_id", st.SessionID,
			"confirmation_id", p.ID,
			"tool", p.Tool,
		)
		st.appendUser(fmt.Sprintf("[The user declined %s (%s); it was not executed]", p.Tool, p.ID))
	}
	if plan := st.PendingPlan; plan != nil {
		s.log.Info("计划已取消", "plan_id", plan.ID)
	}
	st.Pending = nil
	st.PendingPlan = nil
	metrics.ObserveTurn("cancel", true)
	return resp
}
