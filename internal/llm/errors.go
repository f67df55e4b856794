package llm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	xerrors "Mother-Agent/internal/errors"
)

const (
	// CodeProviderFailure 表示模型服务返回了错误或无法访问。
	CodeProviderFailure xerrors.Code = "LLM_PROVIDER_FAILURE"
	// CodeProviderRejected 表示请求被拒绝（鉴权失败、参数非法等），重试无意义。
	CodeProviderRejected xerrors.Code = "LLM_PROVIDER_REJECTED"
	// CodeMalformedResponse 表示回复无法解析。
	CodeMalformedResponse xerrors.Code = "LLM_MALFORMED_RESPONSE"
)

func init() {
	xerrors.Register(CodeProviderFailure, xerrors.Attributes{
		Message:   "language model provider failure",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeProviderRejected, xerrors.Attributes{
		Message:  "language model provider rejected the request",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeMalformedResponse, xerrors.Attributes{
		Message:   "language model returned a malformed response",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}

// StatusError 把 HTTP 错误状态转换为统一错误。消息中带有 rate limit、
// authentication 等关键字，便于错误分类器识别。
func StatusError(provider string, status int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	if len(detail) > 512 {
		detail = detail[:512]
	}
	meta := xerrors.WithMetadata("provider", provider)

	switch {
	case status == http.StatusTooManyRequests:
		return xerrors.New(CodeProviderFailure, fmt.Sprintf("%s rate limit exceeded (status %d): %s", provider, status, detail), meta)
	case status == http.StatusUnauthorized:
		return xerrors.New(CodeProviderRejected, fmt.Sprintf("%s authentication failed (status %d): %s", provider, status, detail), meta)
	case status == http.StatusForbidden:
		return xerrors.New(CodeProviderRejected, fmt.Sprintf("%s access denied (status %d): %s", provider, status, detail), meta)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return xerrors.New(CodeProviderFailure, fmt.Sprintf("%s request timeout (status %d): %s", provider, status, detail), meta)
	case status >= http.StatusInternalServerError:
		return xerrors.New(CodeProviderFailure, fmt.Sprintf("%s service unavailable (status %d): %s", provider, status, detail), meta)
	default:
		return xerrors.New(CodeProviderRejected, fmt.Sprintf("%s rejected request (status %d): %s", provider, status, detail), meta)
	}
}

// TransportError 包装网络层错误。
func TransportError(provider string, err error) error {
	return xerrors.Wrap(CodeProviderFailure, err, provider+" network request failed", xerrors.WithMetadata("provider", provider))
}

// MalformedError 包装解析错误。
func MalformedError(provider string, err error) error {
	return xerrors.Wrap(CodeMalformedResponse, err, provider+" response could not be parsed", xerrors.WithMetadata("provider", provider))
}

// ParseArguments 解析厂商以字符串形式返回的工具参数。空串视为空对象；
// 无法解析时原样放入 "_raw_arguments"，交由工具校验后报错给模型。
func ParseArguments(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{"_raw_arguments": raw}
	}
	return args
}
