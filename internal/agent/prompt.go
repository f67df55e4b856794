package agent

import (
	"fmt"
	"strings"

	"Mother-Agent/internal/llm"
	"Mother-Agent/pkg/plugin"
)

// catalogueLimit 是每个命名空间在提示词中列出的命令上限。
const catalogueLimit = 8

const toolsPlaceholder = "{tools}"

// DefaultSystemPrompt 是对话模式的基础提示词，{tools} 会被替换为工具目录。
const DefaultSystemPrompt = `You are Mother, an assistant that gets things done for the user through command line tools and plugins.

{tools}

Guidelines:
1. Pick the tool that matches the request instead of guessing an answer.
2. Destructive actions (send, write, delete and similar) may need the user's confirmation before they run.
3. Chain tools when one result feeds the next, for example search first and then read.
4. Summarize tool results clearly and briefly.
5. When a tool fails, explain what went wrong and suggest an alternative.
6. When listing items, keep only the key information.

Be concise and focus on what the user can act on.`

const planningPrompt = `You are Mother in PLANNING MODE. Produce an execution plan for a multi-step task. Do not call any tools.

{tools}

Respond with a single JSON document in exactly this shape:
{
  "goal": "Short statement of what the plan achieves",
  "steps": [
    {
      "order": 1,
      "tool_name": "namespace",
      "command": "command_name",
      "args": {"arg1": "value1"},
      "description": "What this step does, in plain words",
      "depends_on": []
    },
    {
      "order": 2,
      "tool_name": "other_namespace",
      "command": "command_name",
      "args": {"arg1": "value1", "uses_result_from": 1},
      "description": "What this step does with the output of step 1",
      "depends_on": [1]
    }
  ]
}

Rules:
1. Split the task into clear, ordered steps.
2. List in "depends_on" the steps that must succeed first.
3. Put "uses_result_from" in args to consume the output of an earlier step.
4. Be specific about paths, recipients and other values.
5. Include every step needed; do not skip any.
6. The user approves the whole plan once before it runs, destructive steps included.

Reply with the JSON plan only.`

// toolCatalogue 按命名空间分组渲染工具目录。带 * 的命令需要确认。
func toolCatalogue(tools []plugin.ToolInfo) string {
	if len(tools) == 0 {
		return "No tools are currently available."
	}

	var (
		namespaces []string
		commands   = map[string][]string{}
	)
	for _, t := range tools {
		if _, seen := commands[t.Namespace]; !seen {
			namespaces = append(namespaces, t.Namespace)
		}
		name := t.Command
		if t.RequiresConfirmation {
			name += "*"
		}
		commands[t.Namespace] = append(commands[t.Namespace], name)
	}

	lines := []string{"Available tools (call them as namespace.command, * needs confirmation):"}
	for _, ns := range namespaces {
		cmds := commands[ns]
		listed := cmds
		if len(listed) > catalogueLimit {
			listed = listed[:catalogueLimit]
		}
		entry := strings.Join(listed, ", ")
		if extra := len(cmds) - len(listed); extra > 0 {
			entry += fmt.Sprintf(", ... (+%d more)", extra)
		}
		lines = append(lines, fmt.Sprintf("- **%s**: %s", ns, entry))
	}
	return strings.Join(lines, "\n")
}

func renderPrompt(base string, tools []plugin.ToolInfo) string {
	catalogue := toolCatalogue(tools)
	if strings.Contains(base, toolsPlaceholder) {
		return strings.Replace(base, toolsPlaceholder, catalogue, 1)
	}
	return base + "\n\n" + catalogue
}

// toolSchemas 把注册表目录转换为模型可见的工具定义。
func toolSchemas(tools []plugin.ToolInfo) []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(tools))
	for _, t := range tools {
		desc := t.Description
		if t.RequiresConfirmation {
			desc = strings.TrimSpace(desc + " (requires user confirmation)")
		}
		out = append(out, llm.ToolSchema{Name: t.Name, Description: desc, InputSchema: llm.NormalizeSchema(t.Parameters)})
	}
	return out
}
