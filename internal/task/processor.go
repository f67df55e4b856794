package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"Mother-Agent/internal/agent"
	xerrors "Mother-Agent/internal/errors"
	"Mother-Agent/internal/observability/alerting"
	"Mother-Agent/internal/observability/metrics"
	"Mother-Agent/pkg/logger"
)

// Executor 定义了处理器驱动会话所需的能力，agent.Sessions 即满足。
type Executor interface {
	Process(ctx context.Context, sessionID, input string, preConfirmed bool) *agent.Response
	Confirm(ctx context.Context, sessionID, confirmationID string) (*agent.Response, error)
	CreatePlan(ctx context.Context, sessionID, input string) *agent.Response
	ExecutePlan(ctx context.Context, sessionID, planID string) (*agent.Response, error)
}

// Processor 负责从队列消费任务并交给会话执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	recovery    RecoveryHandler
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRecoveryHandler 配置失败补偿策略。
func WithRecoveryHandler(handler RecoveryHandler) ProcessorOption {
	return func(p *Processor) {
		p.recovery = handler
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		logger:      logger.Named("task"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动任务处理循环，阻塞到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, msg Message) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	log := p.logger.With(
		slog.String("job_id", msg.JobID),
		slog.String("session_id", msg.SessionID),
		slog.String("kind", string(msg.Kind)),
		slog.Int("attempt", msg.Attempt),
	)
	job, err := p.store.Claim(ctx, msg.JobID)
	if err != nil {
		// 重复投递或过期消息：已完成、已耗尽、正被其他 worker 执行。
		if stdErrors.Is(err, ErrJobNotFound) || stdErrors.Is(err, ErrJobCompleted) ||
			stdErrors.Is(err, ErrJobExhausted) || stdErrors.Is(err, ErrJobConflict) {
			log.Debug("跳过任务", slog.String("reason", err.Error()))
			return nil
		}
		log.Error("领取任务失败", slog.Any("error", err))
		p.emitAlert(ctx, &Job{ID: msg.JobID, SessionID: msg.SessionID, Kind: msg.Kind}, CodeJobProcessing, err, "claim")
		return err
	}
	log.Debug("任务已领取", slog.Int("attempts", job.Attempts))

	resp, runErr := p.run(ctx, job)
	if runErr != nil {
		metrics.ObserveJob(string(job.Kind), "failed")
		return p.handleExecutionFailure(ctx, job, resp, runErr)
	}

	record := resultFromResponse(resp)
	if err := p.store.MarkSucceeded(ctx, job.ID, record); err != nil {
		p.logger.Error("标记任务成功状态失败", slog.Any("error", err), slog.String("job_id", job.ID))
		// 回合已经作用于会话，不能重放，只记录失败。
		if storeErr := p.store.MarkFailed(ctx, job.ID, xerrors.CodeStorageFailure, err.Error(), true); storeErr != nil {
			p.logger.Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("job_id", job.ID))
			return storeErr
		}
		p.emitAlert(ctx, job, xerrors.CodeStorageFailure, err, "persist")
		return nil
	}
	metrics.ObserveJob(string(job.Kind), "succeeded")
	logger.Audit().Info("任务执行完成",
		slog.String("job_id", job.ID),
		slog.String("session_id", job.SessionID),
		slog.String("kind", string(job.Kind)),
		slog.Bool("success", record.Success),
		slog.Int("tool_calls", len(record.ToolCalls)),
		slog.Bool("awaiting_confirmation", record.PendingConfirmation != nil),
	)
	return nil
}

// run 把任务分派到会话入口。只有不修改会话历史的失败才允许重试。
func (p *Processor) run(ctx context.Context, job *Job) (*agent.Response, error) {
	switch job.Kind {
	case KindCommand:
		resp := p.executor.Process(ctx, job.SessionID, job.Input, job.PreConfirmed)
		if resp != nil && resp.Code == agent.CodeLLMFailure {
			return resp, xerrors.New(agent.CodeLLMFailure, resp.Text, xerrors.WithRetryable(false))
		}
		return resp, nil
	case KindConfirm:
		resp, err := p.executor.Confirm(ctx, job.SessionID, job.Input)
		if err != nil {
			return resp, xerrors.Wrap(xerrors.CodeOf(err), err, "确认失败", xerrors.WithRetryable(false))
		}
		return resp, nil
	case KindPlan:
		resp := p.executor.CreatePlan(ctx, job.SessionID, job.Input)
		if resp != nil && resp.Code == agent.CodeLLMFailure {
			return resp, xerrors.New(agent.CodeLLMFailure, resp.Text, xerrors.WithRetryable(true))
		}
		return resp, nil
	case KindExecutePlan:
		resp, err := p.executor.ExecutePlan(ctx, job.SessionID, job.Input)
		if err != nil {
			return resp, xerrors.Wrap(xerrors.CodeOf(err), err, "执行计划失败", xerrors.WithRetryable(false))
		}
		return resp, nil
	default:
		return nil, xerrors.New(CodeJobValidation, fmt.Sprintf("unsupported job kind %q", job.Kind), xerrors.WithRetryable(false))
	}
}

func (p *Processor) handleExecutionFailure(ctx context.Context, job *Job, resp *agent.Response, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeJobProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := job.Attempts >= job.MaxRetries || !retryable

	if !retryable && p.recovery != nil {
		if fallback, recErr := p.recovery.Recover(ctx, job, execErr); recErr != nil {
			wrapped := xerrors.Wrap(CodeJobCompensate, recErr, "任务补偿失败")
			p.logger.Error("执行补偿逻辑失败", slog.Any("error", wrapped), slog.String("job_id", job.ID))
			p.emitAlert(ctx, job, CodeJobCompensate, wrapped, "compensate")
		} else if fallback != nil {
			if fallback.Code == "" {
				fallback.Code = string(code)
			}
			if err := p.store.MarkSucceeded(ctx, job.ID, *fallback); err != nil {
				p.logger.Error("记录降级结果失败", slog.Any("error", err), slog.String("job_id", job.ID))
				if storeErr := p.store.MarkFailed(ctx, job.ID, code, err.Error(), true); storeErr != nil {
					return storeErr
				}
				return nil
			}
			logger.Audit().Warn("任务降级完成",
				slog.String("job_id", job.ID),
				slog.String("session_id", job.SessionID),
				slog.String("cause", execErr.Error()),
			)
			p.emitAlert(ctx, job, code, execErr, "degraded")
			return nil
		}
	}

	message := execErr.Error()
	if resp != nil && resp.Text != "" {
		message = resp.Text
	}
	if storeErr := p.store.MarkFailed(ctx, job.ID, code, message, terminal); storeErr != nil {
		p.logger.Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("job_id", job.ID))
		return storeErr
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("job_id", job.ID),
		slog.String("session_id", job.SessionID),
		slog.String("kind", string(job.Kind)),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_retries", job.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
	}
	if !retryable {
		stage = "non_retryable"
	}
	p.emitAlert(ctx, job, code, execErr, stage)

	if retryable && !terminal {
		if pubErr := p.producer.Publish(ctx, messageFor(job)); pubErr != nil {
			return xerrors.Wrap(CodeJobPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", job.ID))
		}
		p.logger.Debug("任务已重新排队", slog.String("job_id", job.ID), slog.Int("attempts", job.Attempts))
	}
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, job *Job, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || job == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{"stage": stage}
	if cause != nil {
		message = cause.Error()
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		JobID:      job.ID,
		SessionID:  job.SessionID,
		Kind:       string(job.Kind),
		Attempts:   job.Attempts,
		MaxRetries: job.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("job_id", job.ID),
			slog.String("stage", stage),
		)
	}
}
