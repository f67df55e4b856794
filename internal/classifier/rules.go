package classifier

import (
	"regexp"

	xerrors "Mother-Agent/internal/errors"
)

// Category 是封闭的错误分类集合。取值同时注册为统一错误码。
type Category string

const (
	ToolNotFound     Category = "TOOL_NOT_FOUND"
	CommandNotFound  Category = "COMMAND_NOT_FOUND"
	ToolExecution    Category = "TOOL_EXECUTION"
	ToolTimeout      Category = "TOOL_TIMEOUT"
	Authentication   Category = "AUTHENTICATION"
	Permission       Category = "PERMISSION"
	Network          Category = "NETWORK"
	ParseError       Category = "PARSE_ERROR"
	Validation       Category = "VALIDATION"
	RateLimit        Category = "RATE_LIMIT"
	MissingParameter Category = "MISSING_PARAMETER"
	Internal         Category = "INTERNAL"
)

// Categories 返回全部分类，顺序固定。
func Categories() []Category {
	return []Category{
		ToolNotFound, CommandNotFound, ToolExecution, ToolTimeout,
		Authentication, Permission, Network, ParseError,
		Validation, RateLimit, MissingParameter, Internal,
	}
}

// Code 返回分类对应的统一错误码。
func (c Category) Code() xerrors.Code {
	return xerrors.Code(c)
}

// Suggestion 返回分类唯一的恢复建议。
func (c Category) Suggestion() string {
	return suggestions[c]
}

var suggestions = map[Category]string{
	Authentication:   "Check that the required credentials are set correctly in the environment or configuration file.",
	Permission:       "Verify file permissions and folder access. You may need to run with elevated privileges or fix ownership.",
	ToolTimeout:      "The operation took too long. Try with a smaller limit, narrower range, or different parameters.",
	Network:          "Check your network connection. The remote server may be temporarily unavailable, so try again in a moment.",
	ToolNotFound:     "The requested resource doesn't exist. Verify the ID or path is correct, or try listing available items first.",
	RateLimit:        "You've made too many requests. Wait a few minutes before retrying.",
	MissingParameter: "A required parameter is missing. Check the command syntax and provide all required values.",
	ParseError:       "The input format is invalid. Check the expected format for this command.",
	CommandNotFound:  "This command doesn't exist for this tool. Use a different command or check available commands.",
	Validation:       "The arguments were rejected. Check the allowed values and types for this command.",
	ToolExecution:    "The tool ran but reported a failure. Inspect its output and adjust the arguments before retrying.",
	Internal:         "An unexpected error occurred. Check the tool output for details.",
}

var recoverable = map[Category]bool{
	Authentication:   true,
	Permission:       false,
	ToolTimeout:      true,
	Network:          true,
	ToolNotFound:     true,
	RateLimit:        true,
	MissingParameter: true,
	ParseError:       true,
	CommandNotFound:  true,
	Validation:       true,
	ToolExecution:    true,
	Internal:         false,
}

func init() {
	for _, c := range Categories() {
		sev := xerrors.SeverityInfo
		if c == Internal || c == Permission || c == Authentication {
			sev = xerrors.SeverityWarning
		}
		xerrors.Register(c.Code(), xerrors.Attributes{
			Message:    "tool failure: " + string(c),
			Severity:   sev,
			Retryable:  recoverable[c],
			Alert:      c == Internal,
			Suggestion: suggestions[c],
		})
	}
}

// Rule 是一条有序分类规则：Pattern 匹配小写后的原始文本。
type Rule struct {
	Pattern     *regexp.Regexp
	Category    Category
	Prefix      string
	Recoverable bool
}

func rule(pattern string, c Category, prefix string) Rule {
	return Rule{Pattern: regexp.MustCompile(pattern), Category: c, Prefix: prefix, Recoverable: recoverable[c]}
}

// DefaultRules 返回默认规则表的副本。顺序即优先级：
// 权限类规则必须排在通用 not found 之前。
func DefaultRules() []Rule {
	return []Rule{
		rule(`password|credential|auth|login|api key`, Authentication, "Authentication failed"),
		rule(`permission denied|access denied|forbidden|operation not permitted`, Permission, "Permission denied"),
		rule(`rate limit|too many requests|throttl|quota exceeded`, RateLimit, "Rate limit exceeded"),
		rule(`timeout|timed out|deadline exceeded`, ToolTimeout, "Operation timed out"),
		rule(`connection|network|unreachable|refused|unavailable|no route to host`, Network, "Network connection failed"),
		rule(`unknown command|command not found|no such command|unsupported command`, CommandNotFound, "Command not found"),
		rule(`not found|does not exist|no such|unknown tool`, ToolNotFound, "Resource not found"),
		rule(`missing|required|must provide`, MissingParameter, "Missing required parameter"),
		rule(`invalid|malformed|parse error|unexpected token|cannot unmarshal`, ParseError, "Invalid input format"),
		rule(`validation|out of range|not allowed|must be`, Validation, "Validation failed"),
		rule(`exit status|failed|execution error|non-zero`, ToolExecution, "Tool execution failed"),
	}
}
