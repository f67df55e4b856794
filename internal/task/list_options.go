package task

import (
	"slices"
	"strings"
	"time"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// SortOrder 决定 List 按 UpdatedAt 的排序方向。
type SortOrder int

const (
	// SortByUpdatedDesc 最近更新的在前，默认值。
	SortByUpdatedDesc SortOrder = iota
	// SortByUpdatedAsc 最早更新的在前。
	SortByUpdatedAsc
)

// ListOptions 是 List 与 Stats 的筛选条件。Stats 忽略分页与排序。
type ListOptions struct {
	Limit      int
	Offset     int
	SessionID  string
	Statuses   []Status
	Kinds      []Kind
	UpdatedGTE int64
	UpdatedLTE int64
	HasResult  *bool
	Order      SortOrder
	// Query 对输入、错误信息和回合回复做不区分大小写的子串匹配。
	Query string
}

// ListOption 修改 ListOptions。
type ListOption func(*ListOptions)

// WithLimit 限制返回条数，上限 100。
func WithLimit(limit int) ListOption {
	return func(o *ListOptions) { o.Limit = limit }
}

// WithOffset 跳过前 offset 条匹配结果。
func WithOffset(offset int) ListOption {
	return func(o *ListOptions) { o.Offset = offset }
}

// WithSession 只保留某个会话的任务。
func WithSession(sessionID string) ListOption {
	return func(o *ListOptions) { o.SessionID = sessionID }
}

// WithKinds 按任务类型筛选。
func WithKinds(kinds ...Kind) ListOption {
	return func(o *ListOptions) { o.Kinds = slices.Clone(kinds) }
}

// WithStatuses 按状态筛选。
func WithStatuses(statuses ...Status) ListOption {
	return func(o *ListOptions) { o.Statuses = slices.Clone(statuses) }
}

// WithUpdatedSince 只保留 ts 之后（含）更新过的任务。零值表示不限。
func WithUpdatedSince(ts time.Time) ListOption {
	return func(o *ListOptions) { o.UpdatedGTE = unixOrZero(ts) }
}

// WithUpdatedUntil 只保留 ts 之前（含）更新过的任务。零值表示不限。
func WithUpdatedUntil(ts time.Time) ListOption {
	return func(o *ListOptions) { o.UpdatedLTE = unixOrZero(ts) }
}

// WithResultPresence 按是否已有回合结果筛选。
func WithResultPresence(hasResult bool) ListOption {
	return func(o *ListOptions) { o.HasResult = &hasResult }
}

// WithSortOrder 设置排序方向。
func WithSortOrder(order SortOrder) ListOption {
	return func(o *ListOptions) { o.Order = order }
}

// WithQuery 设置文本匹配条件。
func WithQuery(query string) ListOption {
	return func(o *ListOptions) { o.Query = query }
}

func buildListOptions(opts []ListOption) ListOptions {
	var o ListOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	o.applyDefaults()
	return o
}

func (o *ListOptions) applyDefaults() {
	switch {
	case o.Limit <= 0:
		o.Limit = defaultListLimit
	case o.Limit > maxListLimit:
		o.Limit = maxListLimit
	}
	o.Offset = max(o.Offset, 0)
	if o.Order != SortByUpdatedAsc {
		o.Order = SortByUpdatedDesc
	}
	o.SessionID = strings.TrimSpace(o.SessionID)
	o.Query = strings.TrimSpace(o.Query)
	o.Statuses = dedupe(o.Statuses, IsValidStatus)
	o.Kinds = dedupe(o.Kinds, IsValidKind)
}

// matches 判断任务是否满足除分页外的全部条件。
func (o ListOptions) matches(job *Job) bool {
	switch {
	case o.SessionID != "" && job.SessionID != o.SessionID:
		return false
	case len(o.Statuses) > 0 && !slices.Contains(o.Statuses, job.Status):
		return false
	case len(o.Kinds) > 0 && !slices.Contains(o.Kinds, job.Kind):
		return false
	case o.UpdatedGTE > 0 && job.UpdatedAt < o.UpdatedGTE:
		return false
	case o.UpdatedLTE > 0 && job.UpdatedAt > o.UpdatedLTE:
		return false
	case o.HasResult != nil && (job.Result != nil) != *o.HasResult:
		return false
	}
	if o.Query == "" {
		return true
	}
	query := strings.ToLower(o.Query)
	texts := []string{job.Input, job.LastError}
	if job.Result != nil {
		texts = append(texts, job.Result.Text)
	}
	return slices.ContainsFunc(texts, func(s string) bool {
		return strings.Contains(strings.ToLower(s), query)
	})
}

// dedupe 去掉非法值与重复值，保持原有顺序。结果为空时返回 nil。
func dedupe[T comparable](in []T, valid func(T) bool) []T {
	var out []T
	for _, v := range in {
		if valid(v) && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func unixOrZero(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.Unix()
}
