package task

import (
	stdErrors "errors"

	"Mother-Agent/internal/agent"
	"Mother-Agent/internal/classifier"
	xerrors "Mother-Agent/internal/errors"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Kind 决定任务驱动会话的哪个入口。
type Kind string

const (
	// KindCommand 执行一个对话回合，Input 为用户输入。
	KindCommand Kind = "command"
	// KindConfirm 批准待确认操作，Input 为确认 ID（可为空）。
	KindConfirm Kind = "confirm"
	// KindPlan 生成执行计划，Input 为用户输入。
	KindPlan Kind = "plan"
	// KindExecutePlan 执行待批准计划，Input 为计划 ID（可为空）。
	KindExecutePlan Kind = "execute_plan"
)

// JobResult 是回合结束后保存的结果，字段与 agent.Response 对应。
type JobResult struct {
	Text                string                     `json:"text"`
	Success             bool                       `json:"success"`
	Code                string                     `json:"code,omitempty"`
	ToolCalls           []agent.ToolCallRecord     `json:"tool_calls,omitempty"`
	PendingConfirmation *agent.PendingConfirmation `json:"pending_confirmation,omitempty"`
	PendingPlan         *agent.ExecutionPlan       `json:"pending_plan,omitempty"`
	Errors              []classifier.AgentError    `json:"errors,omitempty"`
}

func resultFromResponse(resp *agent.Response) JobResult {
	if resp == nil {
		return JobResult{}
	}
	return JobResult{
		Text:                resp.Text,
		Success:             resp.Success,
		Code:                string(resp.Code),
		ToolCalls:           resp.ToolCalls,
		PendingConfirmation: resp.PendingConfirmation,
		PendingPlan:         resp.PendingPlan,
		Errors:              resp.Errors,
	}
}

// Job 描述了排队执行的会话回合。
type Job struct {
	ID           string     `json:"id"`
	SessionID    string     `json:"session_id"`
	Kind         Kind       `json:"kind"`
	Input        string     `json:"input"`
	PreConfirmed bool       `json:"pre_confirmed,omitempty"`
	Status       Status     `json:"status"`
	Attempts     int        `json:"attempts"`
	MaxRetries   int        `json:"max_retries"`
	LastError    string     `json:"last_error,omitempty"`
	ErrorCode    string     `json:"error_code,omitempty"`
	Result       *JobResult `json:"result,omitempty"`
	CreatedAt    int64      `json:"created_at"`
	UpdatedAt    int64      `json:"updated_at"`
}

var (
	// ErrJobNotFound 表示指定的任务不存在。
	ErrJobNotFound = xerrors.New(CodeJobNotFound, "job not found")
	// ErrJobConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrJobConflict = xerrors.New(CodeJobConflict, "job conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrJobCompleted 表示任务已经成功完成。
	ErrJobCompleted = xerrors.New(CodeJobCompleted, "job already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrJobExhausted 表示任务的重试次数已经耗尽。
	ErrJobExhausted = xerrors.New(CodeJobExhausted, "job retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeJobNotFound   xerrors.Code = "JOB_NOT_FOUND"
	CodeJobConflict   xerrors.Code = "JOB_CONFLICT"
	CodeJobCompleted  xerrors.Code = "JOB_COMPLETED"
	CodeJobExhausted  xerrors.Code = "JOB_RETRIES_EXHAUSTED"
	CodeJobValidation xerrors.Code = "JOB_VALIDATION_FAILED"
	CodeJobPublish    xerrors.Code = "JOB_PUBLISH_FAILED"
	CodeJobProcessing xerrors.Code = "JOB_PROCESSING_FAILED"
	CodeJobCompensate xerrors.Code = "JOB_COMPENSATION_FAILED"
)

func init() {
	xerrors.Register(CodeJobNotFound, xerrors.Attributes{
		Message:  "job not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobConflict, xerrors.Attributes{
		Message:  "job conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeJobCompleted, xerrors.Attributes{
		Message:  "job already completed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobExhausted, xerrors.Attributes{
		Message:  "job retries exhausted",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeJobValidation, xerrors.Attributes{
		Message:  "job validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobPublish, xerrors.Attributes{
		Message:   "failed to publish job",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeJobProcessing, xerrors.Attributes{
		Message:   "job execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeJobCompensate, xerrors.Attributes{
		Message:  "job compensation failed",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}

// IsJobError 判断错误是否为指定的任务错误。
func IsJobError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	switch {
	case stdErrors.Is(err, ErrJobNotFound):
		return target == CodeJobNotFound
	case stdErrors.Is(err, ErrJobConflict):
		return target == CodeJobConflict
	case stdErrors.Is(err, ErrJobCompleted):
		return target == CodeJobCompleted
	case stdErrors.Is(err, ErrJobExhausted):
		return target == CodeJobExhausted
	}
	return false
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

// IsValidKind 检查任务类型。
func IsValidKind(kind Kind) bool {
	switch kind {
	case KindCommand, KindConfirm, KindPlan, KindExecutePlan:
		return true
	default:
		return false
	}
}

func cloneJob(job *Job) *Job {
	clone := *job
	if job.Result != nil {
		result := *job.Result
		clone.Result = &result
	}
	return &clone
}
