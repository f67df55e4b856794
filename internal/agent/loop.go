package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"Mother-Agent/internal/classifier"
	"Mother-Agent/internal/llm"
	"Mother-Agent/internal/observability/metrics"
	"Mother-Agent/pkg/logger"
	"Mother-Agent/pkg/plugin"
)

const (
	memorySeparator     = "\n\n---\n"
	maxIterationsText   = "I reached the maximum number of steps. Please try a more specific request."
	notAttemptedText    = "Not attempted: the turn paused for user confirmation of an earlier call."
	emptyToolOutputText = "Success (no output)"
)

// Process 执行一个对话回合：反复调用模型并调度其请求的工具，直到模型给出
// 最终答复、某个调用需要用户确认，或达到迭代上限。Process 从不返回错误，
// 所有失败都体现在 Response 中。
//
// preConfirmed 为 true 时，本回合内所有需要确认的调用直接执行，
// 已有的待确认操作移入已确认集合。
func (s *Session) Process(ctx context.Context, input string, preConfirmed bool) *Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := s.process(ctx, input, preConfirmed)
	metrics.ObserveTurn("process", resp.Success)
	return resp
}

func (s *Session) process(ctx context.Context, input string, preConfirmed bool) *Response {
	a := s.agent
	st := s.state
	resp := s.newResponse()

	if preConfirmed && st.Pending != nil {
		s.approvePending("resubmitted")
	}

	s.remember("user input", func(m MemoryContext) error {
		return m.RememberUserInput(ctx, st.SessionID, input)
	})

	content := input
	if extra := s.memoryContext(ctx, input); extra != "" {
		content = input + memorySeparator + extra
	}
	st.appendUser(content)

	catalogue := a.tools.ListTools()
	system := renderPrompt(a.systemPrompt, catalogue)
	schemas := toolSchemas(catalogue)

	for iteration := 1; iteration <= a.maxIterations; iteration++ {
		reply, err := s.callModel(ctx, st.Messages, system, schemas)
		if err != nil {
			s.log.Error("模型调用失败", "iteration", iteration, "error", err)
			resp.Errors = []classifier.AgentError{a.classifier.FromError(err, "", "")}
			resp.Text = "API error: " + err.Error()
			resp.Code = CodeLLMFailure
			return resp
		}

		st.Messages = append(st.Messages, llm.AssistantTurn(reply.Text, reply.ToolCalls))

		// 只要带有工具调用就执行，停止原因仅作参考。
		if len(reply.ToolCalls) == 0 {
			resp.Text = reply.Text
			resp.Success = true
			s.remember("assistant response", func(m MemoryContext) error {
				return m.RememberAssistantResponse(ctx, st.SessionID, reply.Text)
			})
			return resp
		}

		if s.runToolCalls(ctx, reply.ToolCalls, preConfirmed, resp) {
			return resp
		}
	}

	s.log.Warn("达到迭代上限", "max_iterations", a.maxIterations, "tool_calls", len(resp.ToolCalls))
	resp.Text = maxIterationsText
	resp.Success = false
	return resp
}

// runToolCalls 按顺序处理一批工具调用，返回 true 表示回合因等待确认而暂停。
// 无论是否暂停，批次中的每个 tool_use 都会得到对应的 tool_result。
func (s *Session) runToolCalls(ctx context.Context, calls []llm.ToolCall, preConfirmed bool, resp *Response) bool {
	st := s.state
	results := make([]llm.ContentBlock, 0, len(calls))
	var notices []string

	for i, call := range calls {
		outcome := s.handleCall(ctx, call, preConfirmed, resp)
		results = append(results, outcome.block)
		if outcome.notice != "" {
			notices = append(notices, outcome.notice)
		}
		if outcome.pending == nil {
			continue
		}

		for _, rest := range calls[i+1:] {
			results = append(results, llm.ToolResultBlock(rest.ID, rest.Name, notAttemptedText, true))
		}
		st.Messages = append(st.Messages, llm.ToolResultsMessage(results...))

		resp.PendingConfirmation = outcome.pending.clone()
		resp.Success = true
		text := fmt.Sprintf("This action requires confirmation:\n\n%s\n\nPlease confirm to proceed.", outcome.pending.Description)
		if len(notices) > 0 {
			text = strings.Join(notices, "\n") + "\n\n" + text
		}
		resp.Text = text
		metrics.ObserveConfirmation("requested")
		return true
	}

	st.Messages = append(st.Messages, llm.ToolResultsMessage(results...))
	return false
}

type callOutcome struct {
	block   llm.ContentBlock
	pending *PendingConfirmation
	notice  string
}

func (s *Session) handleCall(ctx context.Context, call llm.ToolCall, preConfirmed bool, resp *Response) callOutcome {
	a := s.agent
	st := s.state

	namespace, command, ok := a.tools.ParseName(call.Name)
	if !ok {
		ae := s.unknownTool(call.Name)
		resp.Errors = append(resp.Errors, ae)
		s.log.Warn("模型请求了未知工具", "tool", call.Name, "category", ae.Category)
		return callOutcome{block: llm.ToolResultBlock(call.ID, call.Name, ae.ForModel(), true)}
	}

	_, alreadyConfirmed := st.Confirmed[call.ID]
	approved := preConfirmed || alreadyConfirmed
	gated := a.tools.RequiresConfirmation(call.Name)

	if gated && !approved {
		return s.gate(call, namespace, command, describeAction(namespace, command, call.Arguments), resp)
	}

	args := cloneArgs(call.Arguments)
	if gated || approved {
		args[plugin.ArgConfirmed] = true
	}
	res, record := s.dispatch(ctx, call.ID, call.Name, namespace, command, args)

	// 插件在运行时自行要求确认：尚未改变任何状态，按闸门处理。
	if res != nil && res.NeedsConfirmation && !approved {
		desc := strings.TrimSpace(res.Prompt)
		if desc == "" {
			desc = describeAction(namespace, command, call.Arguments)
		}
		return s.gate(call, namespace, command, desc, resp)
	}

	resp.ToolCalls = append(resp.ToolCalls, record)
	st.ToolResults = append(st.ToolResults, record)

	content, isError := s.renderResult(res, record, call.Name, command, resp)
	s.remember("tool result", func(m MemoryContext) error {
		return m.RememberToolResult(ctx, st.SessionID, call.Name, call.Arguments, content, !isError)
	})
	return callOutcome{block: llm.ToolResultBlock(call.ID, call.Name, content, isError)}
}

// unknownTool 区分命名空间不存在与命名空间存在但命令不存在两种情况。
func (s *Session) unknownTool(full string) classifier.AgentError {
	for _, t := range s.agent.tools.ListTools() {
		if cmd, found := strings.CutPrefix(full, t.Namespace+"."); found && cmd != "" {
			msg := fmt.Sprintf("command %s is not provided by %s", cmd, t.Namespace)
			return s.agent.classifier.New(classifier.CommandNotFound, msg, t.Namespace, cmd)
		}
	}
	return s.agent.classifier.New(classifier.ToolNotFound, fmt.Sprintf("tool %s is not available", full), full, "")
}

// gate 登记待确认操作。已有待确认操作时按策略拒绝或替换。
func (s *Session) gate(call llm.ToolCall, namespace, command, description string, resp *Response) callOutcome {
	a := s.agent
	st := s.state

	if prev := st.Pending; prev != nil && prev.ID != call.ID {
		if a.policy == PolicyReject {
			msg := fmt.Sprintf("action %s is already awaiting confirmation; %s was not executed", prev.ID, call.Name)
			ae := a.classifier.New(classifier.Validation, msg, call.Name, command)
			resp.Errors = append(resp.Errors, ae)
			metrics.ObserveConfirmation("rejected")
			s.log.Warn("已有待确认操作，拒绝新的确认请求", "pending_id", prev.ID, "tool", call.Name)
			return callOutcome{block: llm.ToolResultBlock(call.ID, call.Name, ae.ForModel(), true)}
		}
		metrics.ObserveConfirmation("overwritten")
		logger.Audit().Warn("pending action replaced",
			"session_id", st.SessionID,
			"discarded_id", prev.ID,
			"discarded_tool", prev.Tool,
			"replacement_id", call.ID,
			"replacement_tool", call.Name,
		)
		notice := fmt.Sprintf("Note: the earlier pending action (%s) was discarded and will not run.", prev.Description)
		s.setPending(call, namespace, command, description)
		return callOutcome{
			block:   llm.ToolResultBlock(call.ID, call.Name, "Awaiting user confirmation: "+description, false),
			pending: st.Pending,
			notice:  notice,
		}
	}

	s.setPending(call, namespace, command, description)
	return callOutcome{
		block:   llm.ToolResultBlock(call.ID, call.Name, "Awaiting user confirmation: "+description, false),
		pending: st.Pending,
	}
}

func (s *Session) setPending(call llm.ToolCall, namespace, command, description string) {
	s.state.Pending = &PendingConfirmation{
		ID:          call.ID,
		Namespace:   namespace,
		Command:     command,
		Tool:        call.Name,
		Args:        cloneArgs(call.Arguments),
		Description: description,
		CreatedAt:   s.agent.now().UTC(),
	}
	s.log.Info("等待用户确认", "confirmation_id", call.ID, "tool", call.Name)
}

// dispatch 调用注册表执行工具并记录耗时与指标。注册表错误转换为失败结果。
func (s *Session) dispatch(ctx context.Context, id, full, namespace, command string, args map[string]any) (*plugin.Result, ToolCallRecord) {
	start := time.Now()
	res, err := s.agent.tools.Execute(ctx, full, args)
	elapsed := time.Since(start)
	if err != nil {
		res = &plugin.Result{Success: false, Error: err.Error()}
	}
	if res == nil {
		res = &plugin.Result{Success: true}
	}
	if res.Duration == 0 {
		res.Duration = elapsed
	}

	record := ToolCallRecord{
		ID:       id,
		Tool:     full,
		Args:     cloneArgs(args),
		Success:  res.Success,
		Duration: res.Duration,
		Error:    res.Error,
	}
	delete(record.Args, plugin.ArgConfirmed)
	metrics.ObserveToolCall(full, res.Success, res.Duration)
	if res.Success {
		s.log.Debug("工具执行成功", "tool", full, "namespace", namespace, "command", command, "duration", res.Duration)
	} else {
		s.log.Warn("工具执行失败", "tool", full, "command", command, "error", res.Error)
	}
	return res, record
}

// renderResult 生成回填给模型的 tool_result 内容。失败时附带分类后的详细错误。
func (s *Session) renderResult(res *plugin.Result, record ToolCallRecord, full, command string, resp *Response) (string, bool) {
	if record.Success {
		return resultContent(res), false
	}
	ae := s.agent.classifier.Classify(failureText(res, full), full, command)
	resp.Errors = append(resp.Errors, ae)
	return ae.ForModel(), true
}

// resultContent 优先使用结构化数据，其次是文本输出。
func resultContent(res *plugin.Result) string {
	if res == nil {
		return emptyToolOutputText
	}
	if res.Data != nil {
		if raw, err := json.MarshalIndent(res.Data, "", "  "); err == nil {
			return string(raw)
		}
		return fmt.Sprint(res.Data)
	}
	if res.Output != "" {
		return res.Output
	}
	return emptyToolOutputText
}

// describeAction 生成给用户看的操作说明，总是包含参数取值。
func describeAction(namespace, command string, args map[string]any) string {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte(fmt.Sprint(args))
	}
	return fmt.Sprintf("Execute %s %s with args: %s", namespace, command, raw)
}

func (s *Session) callModel(ctx context.Context, messages []llm.Message, system string, tools []llm.ToolSchema) (*llm.Response, error) {
	a := s.agent
	if a.llmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
	}
	start := time.Now()
	reply, err := a.gateway.CreateMessage(ctx, messages, system, tools)
	if err == nil && reply == nil {
		err = llm.MalformedError("gateway", fmt.Errorf("empty response"))
	}
	metrics.ObserveLLMCall(err == nil, time.Since(start))
	if err != nil {
		return nil, err
	}
	for i := range reply.ToolCalls {
		if reply.ToolCalls[i].ID == "" {
			reply.ToolCalls[i].ID = llm.NewCallID()
		}
	}
	return reply, nil
}

func (s *Session) memoryContext(ctx context.Context, query string) string {
	m := s.agent.memory
	if m == nil {
		return ""
	}
	out, err := m.ContextForQuery(ctx, query, s.state.SessionID, s.agent.memoryItems)
	if err != nil {
		s.log.Warn("读取记忆失败", "error", err)
		return ""
	}
	return strings.TrimSpace(out)
}

// remember 执行尽力而为的记忆写入，失败只记录日志。
func (s *Session) remember(what string, fn func(MemoryContext) error) {
	m := s.agent.memory
	if m == nil {
		return
	}
	if err := fn(m); err != nil {
		s.log.Warn("写入记忆失败", "kind", what, "error", err)
	}
}

// approvePending 把当前待确认操作移入已确认集合。
func (s *Session) approvePending(via string) {
	st := s.state
	p := st.Pending
	st.Confirmed[p.ID] = struct{}{}
	st.Pending = nil
	metrics.ObserveConfirmation("confirmed")
	logger.Audit().Info("action confirmed",
		"session_id", st.SessionID,
		"confirmation_id", p.ID,
		"tool", p.Tool,
		"via", via,
	)
}
