package agent

import (
	"context"

	"Mother-Agent/pkg/plugin"
)

// ToolRegistry 解析并执行 namespace.command 形式的工具。实现需要支持多个会话并发调用。
type ToolRegistry interface {
	ParseName(full string) (namespace, command string, ok bool)
	RequiresConfirmation(full string) bool
	// Execute 仅在注册表层面出错时返回 error；命令自身失败体现在 Result.Success。
	Execute(ctx context.Context, full string, args map[string]any) (*plugin.Result, error)
	ListTools() []plugin.ToolInfo
}

// MemoryContext 是尽力而为的会话记忆。返回的错误只会被记录，不会影响回合结果。
type MemoryContext interface {
	ContextForQuery(ctx context.Context, query, sessionID string, maxItems int) (string, error)
	RememberUserInput(ctx context.Context, sessionID, content string) error
	RememberAssistantResponse(ctx context.Context, sessionID, content string) error
	RememberToolResult(ctx context.Context, sessionID, tool string, args map[string]any, result string, success bool) error
}
