package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
)

// Code 是跨模块共享的错误码。
type Code string

// Severity 决定告警级别与日志级别。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 是错误码登记时的默认行为，Error 上的选项可以逐项覆盖。
//
// Suggestion 会原样回传给模型或用户，可为空。
type Attributes struct {
	Message    string
	Severity   Severity
	Retryable  bool
	Alert      bool
	Suggestion string
}

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeConflict              Code = "CONFLICT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
	CodeCanceled              Code = "CANCELED"
)

type registry struct {
	mu    sync.RWMutex
	codes map[Code]Attributes
}

var defaults = &registry{codes: map[Code]Attributes{
	CodeUnknown:               {Message: "unknown error", Severity: SeverityCritical, Alert: true},
	CodeInvalidArgument:       {Message: "invalid argument", Severity: SeverityInfo},
	CodeConflict:              {Message: "resource conflict", Severity: SeverityWarning},
	CodeInitializationFailure: {Message: "service not initialized", Severity: SeverityWarning, Retryable: true, Alert: true},
	CodeStorageFailure:        {Message: "storage failure", Severity: SeverityCritical, Retryable: true, Alert: true},
	CodeQueueFailure:          {Message: "queue failure", Severity: SeverityCritical, Retryable: true, Alert: true},
	CodeTimeout:               {Message: "operation timed out", Severity: SeverityWarning, Retryable: true, Alert: true},
	CodeCanceled:              {Message: "operation canceled", Severity: SeverityInfo},
}}

func (r *registry) lookup(code Code) (Attributes, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attr, ok := r.codes[code]
	return attr, ok
}

// Register 登记或覆盖错误码，通常在包的 init 中调用。
func Register(code Code, attr Attributes) {
	defaults.mu.Lock()
	defaults.codes[code] = attr
	defaults.mu.Unlock()
}

// Registered 判断错误码是否已登记。
func Registered(code Code) bool {
	_, ok := defaults.lookup(code)
	return ok
}

// AttributesOf 返回错误码的默认行为，未登记时退回 UNKNOWN。
func AttributesOf(code Code) Attributes {
	if attr, ok := defaults.lookup(code); ok {
		return attr
	}
	attr, _ := defaults.lookup(CodeUnknown)
	return attr
}

// SuggestionOf 返回错误码登记的恢复建议。
func SuggestionOf(code Code) string {
	return AttributesOf(code).Suggestion
}

// overrides 记录通过选项显式指定的行为。
type overrides struct {
	retryable *bool
	alert     *bool
	severity  *Severity
}

// Error 携带错误码、可选的底层原因和附加字段。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
	set      overrides
}

// Option 调整单个 Error 的行为。
type Option func(*Error)

// WithMetadata 附加一个键值对，会出现在日志与告警中。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = map[string]string{}
		}
		e.metadata[key] = value
	}
}

// WithRetryable 覆盖是否可重试。
func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.set.retryable = &retryable }
}

// WithAlert 覆盖是否告警。
func WithAlert(alert bool) Option {
	return func(e *Error) { e.set.alert = &alert }
}

// WithSeverity 覆盖严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) { e.set.severity = &sev }
}

// New 创建错误，message 为空时使用登记的默认描述。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 用错误码包裹 cause，errors.Is/As 仍可穿透到 cause。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause != nil:
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	default:
		return fmt.Sprintf("[%s] %s", e.code, e.message)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 按错误码比较，便于 errors.Is(err, New(code, "")) 这类判断。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

// Code 返回错误码，nil 时为 UNKNOWN。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回不含 cause 的描述。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加字段的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	return maps.Clone(e.metadata)
}

func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	return pick(e.set.retryable, AttributesOf(e.code).Retryable)
}

func (e *Error) ShouldAlert() bool {
	if e == nil {
		return false
	}
	return pick(e.set.alert, AttributesOf(e.code).Alert)
}

func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return pick(e.set.severity, AttributesOf(e.code).Severity)
}

// LogValue 让 slog 以分组形式输出错误码与附加字段。
func (e *Error) LogValue() slog.Value {
	if e == nil {
		return slog.StringValue("")
	}
	attrs := []slog.Attr{
		slog.String("code", string(e.code)),
		slog.String("message", e.message),
	}
	if e.cause != nil {
		attrs = append(attrs, slog.String("cause", e.cause.Error()))
	}
	for k, v := range e.metadata {
		attrs = append(attrs, slog.String(k, v))
	}
	return slog.GroupValue(attrs...)
}

func pick[T any](override *T, fallback T) T {
	if override != nil {
		return *override
	}
	return fallback
}

// From 在错误链中查找 *Error。
func From(err error) (*Error, bool) {
	var target *Error
	if err != nil && stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误链上的错误码。未携带错误码的 context 超时与取消
// 分别映射为 TIMEOUT 与 CANCELED。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	switch {
	case stdErrors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case stdErrors.Is(err, context.Canceled):
		return CodeCanceled
	}
	return CodeUnknown
}

// RetryableError 判断任意 error 是否值得重试。
func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return AttributesOf(CodeOf(err)).Retryable
}

// ShouldAlert 判断任意 error 是否需要告警。
func ShouldAlert(err error) bool {
	if e, ok := From(err); ok {
		return e.ShouldAlert()
	}
	return false
}
