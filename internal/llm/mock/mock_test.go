package mock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Mother-Agent/internal/llm"
)

func TestRuleMatchProducesToolCall(t *testing.T) {
	p := New()
	resp, err := p.CreateMessage(context.Background(), []llm.Message{llm.UserText("Please run the build command")}, "", nil)
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "shell.run_command", resp.ToolCalls[0].Name)
	assert.Equal(t, llm.StopToolUse, resp.StopReason)
	assert.Equal(t, 1, p.CallCount())
}

func TestUnavailableToolIsSkipped(t *testing.T) {
	p := New()
	resp, err := p.CreateMessage(context.Background(), []llm.Message{llm.UserText("whoami")}, "", []llm.ToolSchema{{Name: "scratchpad.read"}})
	require.NoError(t, err)
	assert.Empty(t, resp.ToolCalls)
	assert.Equal(t, DefaultReply, resp.Text)
}

func TestToolResultEndsTurn(t *testing.T) {
	p := New()
	history := []llm.Message{
		llm.UserText("whoami"),
		llm.AssistantTurn("", []llm.ToolCall{{ID: "c", Name: "shell.whoami"}}),
		llm.ToolResultsMessage(llm.ToolResultBlock("c", "shell.whoami", "root", false)),
	}
	resp, err := p.CreateMessage(context.Background(), history, "", nil)
	require.NoError(t, err)
	assert.Equal(t, CompletionReply, resp.Text)
	assert.Equal(t, llm.StopEndTurn, resp.StopReason)
}

func TestTextOnlyRule(t *testing.T) {
	rule, err := NewRule(`plan`, "", nil, `{"goal":"g","steps":[]}`)
	require.NoError(t, err)
	p := New(rule)
	resp, err := p.CreateMessage(context.Background(), []llm.Message{llm.UserText("make a PLAN")}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, `{"goal":"g","steps":[]}`, resp.Text)
}

func TestNewRuleRejectsBadPattern(t *testing.T) {
	_, err := NewRule("(", "x.y", nil, "")
	require.Error(t, err)
}
