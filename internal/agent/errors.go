package agent

import xerrors "Mother-Agent/internal/errors"

const (
	CodeNoPendingAction      xerrors.Code = "NO_PENDING_ACTION"
	CodeConfirmationMismatch xerrors.Code = "CONFIRMATION_MISMATCH"
	CodeNoPendingPlan        xerrors.Code = "NO_PENDING_PLAN"
	CodePlanMismatch         xerrors.Code = "PLAN_MISMATCH"
	CodePlanParseFailed      xerrors.Code = "PLAN_PARSE_FAILED"
	CodeLLMFailure           xerrors.Code = "LLM_FAILURE"
	CodeToolDispatchFailed   xerrors.Code = "TOOL_DISPATCH_FAILED"
)

func init() {
	xerrors.Register(CodeNoPendingAction, xerrors.Attributes{Message: "no pending action to confirm", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeConfirmationMismatch, xerrors.Attributes{Message: "confirmation id does not match the pending action", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeNoPendingPlan, xerrors.Attributes{Message: "no pending plan to execute", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodePlanMismatch, xerrors.Attributes{Message: "plan id does not match the pending plan", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodePlanParseFailed, xerrors.Attributes{Message: "model response is not a valid plan", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeLLMFailure, xerrors.Attributes{Message: "model call failed", Severity: xerrors.SeverityWarning, Retryable: true})
	xerrors.Register(CodeToolDispatchFailed, xerrors.Attributes{Message: "tool dispatch failed", Severity: xerrors.SeverityWarning})
}
