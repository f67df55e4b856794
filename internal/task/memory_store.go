package task

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "Mother-Agent/internal/errors"
)

// MemoryStore 以内存方式保存任务状态，适用于单进程部署和测试。
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	now  func() time.Time
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job), now: time.Now}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, job *Job) error {
	if job == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "job 不能为空")
	}
	if job.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return ErrJobConflict
	}
	now := m.now().Unix()
	if job.CreatedAt == 0 {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

// Get 返回任务副本。
func (m *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneJob(job), nil
}

// Claim 将任务状态更新为运行中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	switch job.Status {
	case StatusSucceeded:
		return cloneJob(job), ErrJobCompleted
	case StatusRunning:
		return cloneJob(job), ErrJobConflict
	}
	if job.Attempts >= job.MaxRetries {
		return cloneJob(job), ErrJobExhausted
	}
	job.Status = StatusRunning
	job.Attempts++
	job.LastError = ""
	job.ErrorCode = ""
	job.UpdatedAt = m.now().Unix()
	return cloneJob(job), nil
}

// MarkSucceeded 记录回合结果。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, result JobResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = StatusSucceeded
	job.Result = &result
	job.LastError = ""
	job.ErrorCode = ""
	job.UpdatedAt = m.now().Unix()
	return nil
}

// MarkFailed 标记任务失败。terminal 为 true 时耗尽剩余尝试次数，后续 Claim 返回 ErrJobExhausted。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = StatusFailed
	job.LastError = lastError
	job.ErrorCode = string(code)
	if terminal && job.Attempts < job.MaxRetries {
		job.Attempts = job.MaxRetries
	}
	job.UpdatedAt = m.now().Unix()
	return nil
}

// List 按条件返回任务。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Job, error) {
	opts.applyDefaults()

	m.mu.RLock()
	results := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if opts.matches(job) {
			results = append(results, cloneJob(job))
		}
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.UpdatedAt == b.UpdatedAt {
			if opts.Order == SortByUpdatedAsc {
				return a.ID < b.ID
			}
			return a.ID > b.ID
		}
		if opts.Order == SortByUpdatedAsc {
			return a.UpdatedAt < b.UpdatedAt
		}
		return a.UpdatedAt > b.UpdatedAt
	})

	if opts.Offset >= len(results) {
		return []*Job{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计匹配条件的任务，忽略分页参数。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (JobStats, error) {
	opts.applyDefaults()

	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats JobStats
	for _, job := range m.jobs {
		if opts.matches(job) {
			stats.add(job)
		}
	}
	return stats, nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }
