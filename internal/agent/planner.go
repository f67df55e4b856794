package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"Mother-Agent/internal/classifier"
	xerrors "Mother-Agent/internal/errors"
	"Mother-Agent/internal/llm"
	"Mother-Agent/internal/observability/metrics"
	"Mother-Agent/pkg/logger"
	"Mother-Agent/pkg/plugin"
)

const (
	argUsesResultFrom = "uses_result_from"
	argDocument       = "document"
	argFiles          = "files"
	resultOutputPath  = "output_path"
	// transmitNamespace 的步骤总是以 document 接收上一步的输出文件。
	transmitNamespace = "transmit"

	planApprovalHint  = "Reply 'yes' to execute this plan, or 'no' to cancel."
	resultSummarySize = 200
)

var (
	approvalWords  = map[string]struct{}{"yes": {}, "y": {}, "approve": {}, "execute": {}, "go": {}}
	rejectionWords = map[string]struct{}{"no": {}, "n": {}, "cancel": {}, "abort": {}}
)

// CreatePlan 请求模型为 input 生成执行计划，成功后作为待批准计划返回。
// 只调用一次模型，不提供工具定义。解析失败时已有计划保持不变。
func (s *Session) CreatePlan(ctx context.Context, input string) *Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := s.createPlan(ctx, input)
	metrics.ObserveTurn("plan", resp.Success)
	return resp
}

func (s *Session) createPlan(ctx context.Context, input string) *Response {
	a := s.agent
	st := s.state
	resp := s.newResponse()

	s.remember("user input", func(m MemoryContext) error {
		return m.RememberUserInput(ctx, st.SessionID, input)
	})

	catalogue := a.tools.ListTools()
	reply, err := s.callModel(ctx, []llm.Message{llm.UserText(input)}, renderPrompt(planningPrompt, catalogue), nil)
	if err != nil {
		s.log.Error("规划阶段模型调用失败", "error", err)
		resp.Errors = []classifier.AgentError{a.classifier.FromError(err, "", "")}
		resp.Text = "API error during planning: " + err.Error()
		resp.Code = CodeLLMFailure
		return resp
	}

	plan, err := parsePlan(reply.Text, input)
	if err != nil {
		s.log.Warn("计划解析失败", "error", err, "raw", reply.Text)
		resp.Errors = []classifier.AgentError{a.classifier.New(classifier.ParseError, "plan could not be parsed: "+err.Error(), "", "")}
		resp.Text = "Failed to create plan. The model's response:\n\n" + reply.Text
		resp.Code = CodePlanParseFailed
		return resp
	}
	plan.CreatedAt = a.now().UTC()
	for _, step := range plan.Steps {
		step.RequiresConfirmation = a.tools.RequiresConfirmation(plugin.FullName(step.ToolName, step.Command))
	}

	st.PendingPlan = plan
	s.log.Info("计划已生成", "plan_id", plan.ID, "steps", len(plan.Steps))

	resp.Success = true
	resp.PendingPlan = plan.clone()
	resp.Text = plan.Display() + "\n\n" + planApprovalHint
	return resp
}

// ExecutePlan 执行待批准计划。planID 为空时指当前待批准计划。
//
// 批准整个计划即视为批准其中每个需要确认的步骤，这些步骤逐条写入审计日志。
// 依赖的步骤失败或被跳过时当前步骤被跳过，其余步骤继续执行。
func (s *Session) ExecutePlan(ctx context.Context, planID string) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.executePlan(ctx, planID)
	metrics.ObserveTurn("execute_plan", resp.Success)
	return resp, err
}

func (s *Session) executePlan(ctx context.Context, planID string) (*Response, error) {
	st := s.state
	resp := s.newResponse()

	plan := st.PendingPlan
	if plan == nil {
		resp.Text = "No pending plan to execute."
		resp.Code = CodeNoPendingPlan
		return resp, xerrors.New(CodeNoPendingPlan, "no pending plan to execute")
	}
	if planID != "" && planID != plan.ID {
		resp.Text = "Plan ID doesn't match pending plan."
		resp.Code = CodePlanMismatch
		resp.PendingPlan = plan.clone()
		return resp, xerrors.New(CodePlanMismatch,
			fmt.Sprintf("plan %s does not match pending plan %s", planID, plan.ID),
			xerrors.WithMetadata("pending_plan_id", plan.ID))
	}

	st.PendingPlan = nil
	st.CurrentPlan = plan
	if err := plan.transition(PlanExecuting); err != nil {
		return resp, xerrors.Wrap(xerrors.CodeConflict, err, "plan cannot be executed")
	}
	logger.Audit().Info("plan approved",
		"session_id", st.SessionID,
		"plan_id", plan.ID,
		"goal", plan.Goal,
		"steps", len(plan.Steps),
	)

	results := make(map[int]*plugin.Result, len(plan.Steps))
	for _, step := range plan.Steps {
		if dep := blockingDependency(plan, step); dep != 0 {
			step.Error = fmt.Sprintf("Skipped due to failed dependency (step %d)", dep)
			s.advance(step, StepSkipped)
			s.log.Info("跳过计划步骤", "plan_id", plan.ID, "step", step.Order, "dependency", dep)
			continue
		}
		s.advance(step, StepInProgress)
		s.runStep(ctx, plan, step, results, resp)
	}

	final := PlanCompleted
	for _, step := range plan.Steps {
		if step.Status == StepFailed {
			final = PlanCompletedWithErrors
			break
		}
	}
	if err := plan.transition(final); err != nil {
		s.log.Error("计划状态迁移失败", "plan_id", plan.ID, "error", err)
	}
	s.log.Info("计划执行结束", "plan_id", plan.ID, "status", plan.Status)

	resp.Success = final == PlanCompleted
	resp.Text = "Plan Execution Complete\n\n" + plan.Display() + "\n\nResults:\n" + planResults(plan)
	return resp, nil
}

func (s *Session) runStep(ctx context.Context, plan *ExecutionPlan, step *PlanStep, results map[int]*plugin.Result, resp *Response) {
	a := s.agent
	st := s.state
	full := plugin.FullName(step.ToolName, step.Command)

	namespace, command, ok := a.tools.ParseName(full)
	if !ok {
		step.Error = "Tool not available: " + full
		resp.Errors = append(resp.Errors, a.classifier.New(classifier.ToolNotFound, step.Error, full, step.Command))
		s.advance(step, StepFailed)
		return
	}

	// 批准计划即确认其中每一步，包括运行时才要求确认的插件。
	args := pipeResult(namespace, step.Args, results)
	args[plugin.ArgConfirmed] = true
	if a.tools.RequiresConfirmation(full) {
		metrics.ObserveConfirmation("bulk_approved")
		logger.Audit().Warn("destructive step executed under plan approval",
			"session_id", st.SessionID,
			"plan_id", plan.ID,
			"step", step.Order,
			"tool", full,
			"args", describeAction(namespace, command, step.Args),
		)
	}

	res, record := s.dispatch(ctx, step.ID, full, namespace, command, args)
	if res.NeedsConfirmation {
		res.Success = false
		res.Error = "tool asked for confirmation at run time: " + strings.TrimSpace(res.Prompt)
		record.Success = false
		record.Error = res.Error
	}
	record.Step = step.Order
	resp.ToolCalls = append(resp.ToolCalls, record)
	st.ToolResults = append(st.ToolResults, record)
	results[step.Order] = res

	var content string
	if record.Success {
		content = resultContent(res)
		if res.Data != nil {
			step.Result = res.Data
		} else {
			step.Result = res.Output
		}
		s.advance(step, StepCompleted)
	} else {
		step.Error = failureText(res, full)
		ae := a.classifier.Classify(step.Error, full, command)
		resp.Errors = append(resp.Errors, ae)
		content = ae.ForModel()
		s.advance(step, StepFailed)
	}
	s.remember("tool result", func(m MemoryContext) error {
		return m.RememberToolResult(ctx, st.SessionID, full, step.Args, content, record.Success)
	})
}

func (s *Session) advance(step *PlanStep, to StepStatus) {
	if err := step.transition(to); err != nil {
		s.log.Error("步骤状态迁移失败", "step", step.Order, "error", err)
	}
}

// blockingDependency 返回第一个以失败或跳过结束的依赖步骤序号，没有则返回 0。
// 计划中不存在的序号不阻塞执行。
func blockingDependency(plan *ExecutionPlan, step *PlanStep) int {
	for _, order := range step.DependsOn {
		dep := plan.Step(order)
		if dep == nil {
			continue
		}
		if dep.Status == StepFailed || dep.Status == StepSkipped {
			return order
		}
	}
	return 0
}

// pipeResult 去掉 uses_result_from，并把所引用步骤结果中的 output_path
// 填入 document（优先，transmit 命名空间总是如此）或 files 参数。
func pipeResult(namespace string, args map[string]any, results map[int]*plugin.Result) map[string]any {
	out := cloneArgs(args)
	ref, ok := out[argUsesResultFrom]
	if !ok {
		return out
	}
	delete(out, argUsesResultFrom)

	order, ok := toOrder(ref)
	if !ok {
		return out
	}
	res := results[order]
	if res == nil || !res.Success {
		return out
	}
	data, ok := res.Data.(map[string]any)
	if !ok {
		return out
	}
	path, ok := data[resultOutputPath]
	if !ok {
		return out
	}
	if _, has := out[argDocument]; has || namespace == transmitNamespace {
		out[argDocument] = path
	} else if _, has := out[argFiles]; has {
		out[argFiles] = []any{path}
	}
	return out
}

func toOrder(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), n == float64(int(n))
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

func planResults(plan *ExecutionPlan) string {
	var b strings.Builder
	for _, step := range plan.Steps {
		switch step.Status {
		case StepCompleted:
			fmt.Fprintf(&b, "  %s Step %d: Success\n", stepIcons[StepCompleted], step.Order)
			if summary := summarize(step.Result); summary != "" {
				fmt.Fprintf(&b, "     %s\n", summary)
			}
		case StepFailed:
			fmt.Fprintf(&b, "  %s Step %d: Failed - %s\n", stepIcons[StepFailed], step.Order, step.Error)
		case StepSkipped:
			fmt.Fprintf(&b, "  %s Step %d: Skipped - %s\n", stepIcons[StepSkipped], step.Order, step.Error)
		}
	}
	return b.String()
}

func summarize(v any) string {
	var text string
	switch r := v.(type) {
	case nil:
		return ""
	case string:
		text = r
	default:
		raw, err := json.Marshal(r)
		if err != nil {
			text = fmt.Sprint(r)
		} else {
			text = string(raw)
		}
	}
	runes := []rune(strings.TrimSpace(text))
	if len(runes) > resultSummarySize {
		runes = runes[:resultSummarySize]
	}
	return string(runes)
}

// ProcessWithPlanning 是带规划的入口：存在待批准计划时，肯定答复执行计划，
// 否定答复取消计划，其他输入生成新计划替换旧计划。
func (s *Session) ProcessWithPlanning(ctx context.Context, input string) *Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.PendingPlan != nil {
		word := strings.ToLower(strings.TrimSpace(input))
		if _, ok := approvalWords[word]; ok {
			resp, _ := s.executePlan(ctx, "")
			metrics.ObserveTurn("execute_plan", resp.Success)
			return resp
		}
		if _, ok := rejectionWords[word]; ok {
			s.log.Info("计划已取消", "plan_id", s.state.PendingPlan.ID)
			s.state.PendingPlan = nil
			resp := s.newResponse()
			resp.Success = true
			resp.Text = "Plan cancelled."
			metrics.ObserveTurn("cancel", true)
			return resp
		}
	}

	resp := s.createPlan(ctx, input)
	metrics.ObserveTurn("plan", resp.Success)
	return resp
}

// failureText 返回失败结果的错误文本，插件未给出原因时使用工具名兜底。
func failureText(res *plugin.Result, full string) string {
	if res != nil && strings.TrimSpace(res.Error) != "" {
		return res.Error
	}
	return full + " failed without an error message"
}
