package task

import "context"

// RecoveryHandler 定义了在任务执行失败时的补偿策略。
type RecoveryHandler interface {
	// Recover 尝试根据失败原因进行补偿或降级。
	// 返回的 JobResult 将作为降级结果写入任务；若返回 nil 则继续按照失败流程处理。
	Recover(ctx context.Context, job *Job, cause error) (*JobResult, error)
}

// RecoveryFunc 把普通函数适配为 RecoveryHandler。
type RecoveryFunc func(ctx context.Context, job *Job, cause error) (*JobResult, error)

// Recover implements RecoveryHandler.
func (f RecoveryFunc) Recover(ctx context.Context, job *Job, cause error) (*JobResult, error) {
	return f(ctx, job, cause)
}
