package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PlanStatus 是计划的整体状态。completed 与 completed_with_errors 为终态。
type PlanStatus string

const (
	PlanPending             PlanStatus = "pending"
	PlanExecuting           PlanStatus = "executing"
	PlanCompleted           PlanStatus = "completed"
	PlanCompletedWithErrors PlanStatus = "completed_with_errors"
)

// StepStatus 是单个步骤的状态，只能向前推进。
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
)

var planTransitions = map[PlanStatus][]PlanStatus{
	PlanPending:   {PlanExecuting},
	PlanExecuting: {PlanCompleted, PlanCompletedWithErrors},
}

var stepTransitions = map[StepStatus][]StepStatus{
	StepPending:    {StepInProgress, StepSkipped},
	StepInProgress: {StepCompleted, StepFailed},
}

// ErrInvalidTransition 表示试图回退或跳过状态。
var ErrInvalidTransition = errors.New("invalid status transition")

// PlanStep 是计划中的一步。ToolName 是工具命名空间。
type PlanStep struct {
	ID                   string         `json:"id"`
	Order                int            `json:"order"`
	ToolName             string         `json:"tool_name"`
	Command              string         `json:"command"`
	Args                 map[string]any `json:"args"`
	Description          string         `json:"description"`
	DependsOn            []int          `json:"depends_on"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	Status               StepStatus     `json:"status"`
	Result               any            `json:"result,omitempty"`
	Error                string         `json:"error,omitempty"`
}

func (s *PlanStep) transition(to StepStatus) error {
	for _, allowed := range stepTransitions[s.Status] {
		if allowed == to {
			s.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: step %d %s -> %s", ErrInvalidTransition, s.Order, s.Status, to)
}

// ExecutionPlan 是一次获批后按依赖顺序执行的工具调用批次。
type ExecutionPlan struct {
	ID        string      `json:"id"`
	Goal      string      `json:"goal"`
	Steps     []*PlanStep `json:"steps"`
	Status    PlanStatus  `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

func (p *ExecutionPlan) transition(to PlanStatus) error {
	for _, allowed := range planTransitions[p.Status] {
		if allowed == to {
			p.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: plan %s %s -> %s", ErrInvalidTransition, p.ID, p.Status, to)
}

// Terminal 报告计划是否已结束。
func (p *ExecutionPlan) Terminal() bool {
	return p.Status == PlanCompleted || p.Status == PlanCompletedWithErrors
}

// Step 按 order 查找步骤。
func (p *ExecutionPlan) Step(order int) *PlanStep {
	for _, step := range p.Steps {
		if step.Order == order {
			return step
		}
	}
	return nil
}

func (p *ExecutionPlan) clone() *ExecutionPlan {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Steps = make([]*PlanStep, len(p.Steps))
	for i, step := range p.Steps {
		s := *step
		s.Args = cloneArgs(step.Args)
		s.DependsOn = append([]int(nil), step.DependsOn...)
		cp.Steps[i] = &s
	}
	return &cp
}

var stepIcons = map[StepStatus]string{
	StepPending:    "⏳",
	StepInProgress: "🔄",
	StepCompleted:  "✅",
	StepFailed:     "❌",
	StepSkipped:    "⏭️",
}

// Display 渲染给用户审阅的计划。需要确认的步骤会被标出。
func (p *ExecutionPlan) Display() string {
	lines := []string{
		"📋 Execution Plan",
		"Goal: " + p.Goal,
		"",
		"Steps:",
	}
	for _, step := range p.Steps {
		lines = append(lines, fmt.Sprintf("  %d. %s %s", step.Order, stepIcons[step.Status], step.Description))
		tool := fmt.Sprintf("     Tool: %s.%s", step.ToolName, step.Command)
		if step.RequiresConfirmation {
			tool += "  ⚠️ destructive, approved together with the plan"
		}
		lines = append(lines, tool)
		if len(step.DependsOn) > 0 {
			deps := make([]string, len(step.DependsOn))
			for i, d := range step.DependsOn {
				deps[i] = strconv.Itoa(d)
			}
			lines = append(lines, "     After: step "+strings.Join(deps, ", "))
		}
	}
	return strings.Join(lines, "\n")
}

// orderList 接受 [1, 2] 或 ["1", "2"]。
type orderList []int

func (o *orderList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]int, 0, len(raw))
	for _, item := range raw {
		n, err := strconv.Atoi(strings.Trim(string(bytes.TrimSpace(item)), `"`))
		if err != nil {
			return fmt.Errorf("dependency %s is not a step order", item)
		}
		out = append(out, n)
	}
	*o = out
	return nil
}

type planDocument struct {
	Goal  string `json:"goal"`
	Steps []struct {
		Order       *int           `json:"order"`
		ToolName    string         `json:"tool_name"`
		Command     string         `json:"command"`
		Args        map[string]any `json:"args"`
		Description string         `json:"description"`
		DependsOn   orderList      `json:"depends_on"`
	} `json:"steps"`
}

// parsePlan 从模型回复中提取计划 JSON。允许 ``` 包裹以及前后的说明文字。
func parsePlan(raw, fallbackGoal string) (*ExecutionPlan, error) {
	text := strings.TrimSpace(raw)
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, errors.New("no JSON object found in response")
	}

	var doc planDocument
	if err := json.Unmarshal([]byte(text[start:end+1]), &doc); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if len(doc.Steps) == 0 {
		return nil, errors.New("plan has no steps")
	}

	plan := &ExecutionPlan{
		ID:        uuid.NewString(),
		Goal:      strings.TrimSpace(doc.Goal),
		Status:    PlanPending,
		CreatedAt: time.Now().UTC(),
	}
	if plan.Goal == "" {
		plan.Goal = fallbackGoal
	}
	seen := make(map[int]struct{}, len(doc.Steps))
	for i, s := range doc.Steps {
		order := i + 1
		if s.Order != nil {
			order = *s.Order
		}
		if _, dup := seen[order]; dup {
			return nil, fmt.Errorf("duplicate step order %d", order)
		}
		seen[order] = struct{}{}
		args := s.Args
		if args == nil {
			args = map[string]any{}
		}
		plan.Steps = append(plan.Steps, &PlanStep{
			ID:          uuid.NewString(),
			Order:       order,
			ToolName:    strings.TrimSpace(s.ToolName),
			Command:     strings.TrimSpace(s.Command),
			Args:        args,
			Description: s.Description,
			DependsOn:   []int(s.DependsOn),
			Status:      StepPending,
		})
	}
	sort.SliceStable(plan.Steps, func(i, j int) bool { return plan.Steps[i].Order < plan.Steps[j].Order })
	return plan, nil
}
