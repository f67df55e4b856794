package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	xerrors "Mother-Agent/internal/errors"
	"Mother-Agent/internal/observability/metrics"
	"Mother-Agent/pkg/logger"
)

// SubmitRequest 描述一次排队执行的会话回合。
type SubmitRequest struct {
	// ID 可选，用于幂等提交；为空时生成 ULID。
	ID string `json:"id,omitempty"`
	// SessionID 为空时新建会话。
	SessionID    string `json:"session_id,omitempty"`
	Kind         Kind   `json:"kind"`
	Input        string `json:"input"`
	PreConfirmed bool   `json:"pre_confirmed,omitempty"`
}

// Service 负责任务的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造任务服务。maxRetries 是单个任务允许的最大执行次数。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// Submit 创建一个新的任务并推送到队列。相同 ID 的重复提交返回已有任务。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if req.Kind == "" {
		req.Kind = KindCommand
	}
	if !IsValidKind(req.Kind) {
		return nil, xerrors.New(CodeJobValidation, "不支持的任务类型 "+string(req.Kind))
	}
	if (req.Kind == KindCommand || req.Kind == KindPlan) && strings.TrimSpace(req.Input) == "" {
		return nil, xerrors.New(CodeJobValidation, "任务输入不能为空")
	}
	if (req.Kind == KindConfirm || req.Kind == KindExecutePlan) && strings.TrimSpace(req.SessionID) == "" {
		return nil, xerrors.New(CodeJobValidation, "确认类任务必须指定会话")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}

	jobID := strings.TrimSpace(req.ID)
	if jobID != "" {
		job, err := s.store.Get(ctx, jobID)
		if err == nil {
			return job, nil
		}
		if !stdErrors.Is(err, ErrJobNotFound) {
			return nil, err
		}
	} else {
		jobID = ulid.Make().String()
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	job := &Job{
		ID:           jobID,
		SessionID:    sessionID,
		Kind:         req.Kind,
		Input:        req.Input,
		PreConfirmed: req.PreConfirmed,
		Status:       StatusPending,
		MaxRetries:   s.maxRetries,
	}
	if err := s.store.Create(ctx, job); err != nil {
		if stdErrors.Is(err, ErrJobConflict) {
			existing, getErr := s.store.Get(ctx, jobID)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, ErrJobNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, messageFor(job)); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("job_id", jobID))
		wrapped := xerrors.Wrap(CodeJobPublish, err, "发布任务到队列失败")
		_ = s.store.MarkFailed(ctx, jobID, CodeJobPublish, wrapped.Error(), true)
		metrics.ObserveJob(string(job.Kind), "publish_failed")
		return nil, wrapped
	}
	metrics.ObserveJob(string(job.Kind), "submitted")
	logger.Audit().Info("任务入队成功",
		slog.String("job_id", jobID),
		slog.String("session_id", sessionID),
		slog.String("kind", string(job.Kind)),
		slog.Int("max_retries", job.MaxRetries),
	)
	return job, nil
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Stats 返回符合过滤条件的任务统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (JobStats, error) {
	if s.store == nil {
		return JobStats{}, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Stats(ctx, buildListOptions(opts))
}

// Close 释放资源。
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return stdErrors.Join(errs...)
}

// WaitUntilCompleted 轮询到任务成功或终态失败。等待重试的失败任务继续等待。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status == StatusSucceeded || (job.Status == StatusFailed && job.Attempts >= job.MaxRetries) {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
