package main

import (
	"bufio"
	"bytes"
	"context"
	stdErrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Mother-Agent/internal/agent"
	"Mother-Agent/internal/classifier"
	"Mother-Agent/internal/config"
	"Mother-Agent/internal/llm/mock"
	"Mother-Agent/internal/observability/alerting"
	"Mother-Agent/internal/task"
)

func init() {
	color.NoColor = true
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("MOTHER_LLM_PROVIDER", "mock")
	c, err := config.LoadOrDefault("", t.TempDir())
	require.NoError(t, err)
	return c
}

func TestNewGatewayMock(t *testing.T) {
	gw, err := newGateway(config.LLMConfig{Provider: "mock"})
	require.NoError(t, err)
	assert.IsType(t, &mock.Provider{}, gw)
}

func TestNewGatewayRejectsUnknownProvider(t *testing.T) {
	_, err := newGateway(config.LLMConfig{Provider: "nope"})
	assert.Error(t, err)
}

func TestNewGatewayRejectsBadMockPattern(t *testing.T) {
	_, err := newGateway(config.LLMConfig{
		Provider: "mock",
		Mock:     config.MockConfig{Rules: []config.MockRule{{Pattern: "(", Reply: "x"}}},
	})
	assert.Error(t, err)
}

func TestProviderTimeout(t *testing.T) {
	c := config.LLMConfig{Provider: "openai", OpenAI: config.ProviderConfig{TimeoutSeconds: 7}}
	assert.Equal(t, 7*time.Second, providerTimeout(c))

	c.Provider = "ollama"
	assert.Zero(t, providerTimeout(c))
}

func TestLoggerConfigCarriesAudit(t *testing.T) {
	out := loggerConfig(config.LoggingConfig{
		Level:   "debug",
		Format:  "json",
		Outputs: []string{"stdout"},
		Audit:   config.AuditConfig{Enabled: true, Path: "/tmp/audit.log", MaxSizeMB: 5, MaxBackups: 2},
	})
	assert.Equal(t, "debug", out.Level)
	assert.Equal(t, []string{"stdout"}, out.OutputPaths)
	assert.True(t, out.Audit.Enabled)
	assert.Equal(t, "/tmp/audit.log", out.Audit.Path)
	assert.Equal(t, 5, out.Audit.MaxSizeMB)
	assert.Equal(t, 2, out.Audit.MaxBackups)
}

func TestNewAlerterChannels(t *testing.T) {
	assert.Equal(t, []alerting.Channel{alerting.ChannelLog}, newAlerter(config.AlertingConfig{}).Channels())

	withHook := newAlerter(config.AlertingConfig{WebhookURL: "http://127.0.0.1:1/hook"})
	assert.Equal(t, []alerting.Channel{alerting.ChannelLog, alerting.ChannelWebhook}, withHook.Channels())
}

func TestRenderResponse(t *testing.T) {
	var buf bytes.Buffer
	renderResponse(&buf, &agent.Response{
		SessionID: "s-1",
		Text:      "I need your approval.",
		ToolCalls: []agent.ToolCallRecord{
			{Tool: "shell.hostname", Success: true, Duration: 12 * time.Millisecond},
			{Tool: "scratchpad.read", Success: false, Error: "missing key"},
		},
		PendingConfirmation: &agent.PendingConfirmation{ID: "c-9", Description: "shell.run_command rm -rf tmp"},
	})

	out := buf.String()
	assert.Contains(t, out, "I need your approval.")
	assert.Contains(t, out, "✓ shell.hostname (12ms)")
	assert.Contains(t, out, "✗ scratchpad.read")
	assert.Contains(t, out, "missing key")
	assert.Contains(t, out, "confirmation required: shell.run_command rm -rf tmp")
	assert.Contains(t, out, "id c-9")
	assert.Contains(t, out, "session s-1")
}

func TestRenderJobShowsFollowUpCommands(t *testing.T) {
	var buf bytes.Buffer
	renderJob(&buf, &task.Job{
		ID:         "01JOB",
		SessionID:  "s-2",
		Kind:       task.KindCommand,
		Status:     task.StatusSucceeded,
		Attempts:   1,
		MaxRetries: 3,
		Result: &task.JobResult{
			Text:                "awaiting approval",
			PendingConfirmation: &agent.PendingConfirmation{ID: "c-1", Description: "delete note"},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "job 01JOB")
	assert.Contains(t, out, "attempts: 1/3")
	assert.Contains(t, out, "motherd submit --kind confirm --session s-2 c-1")
}

func TestClassifiedRecoveryDegradesFailure(t *testing.T) {
	recovery := classifiedRecovery(classifier.New())
	result, err := recovery(context.Background(), &task.Job{ID: "j"}, stdErrors.New("open /etc/shadow: permission denied"))
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, classifier.Permission, result.Errors[0].Category)
	assert.False(t, result.Success)
	assert.Contains(t, result.Text, "Suggestion:")

	var buf bytes.Buffer
	renderJob(&buf, &task.Job{ID: "j", Status: task.StatusSucceeded, Result: result})
	assert.Contains(t, buf.String(), "✗ PERMISSION")
}

func TestRenderJobList(t *testing.T) {
	var buf bytes.Buffer
	jobs := []*task.Job{
		{ID: "a", Kind: task.KindPlan, Status: task.StatusFailed, Input: strings.Repeat("x", 80)},
		{ID: "b", Kind: task.KindCommand, Status: task.StatusSucceeded, Input: "hostname"},
	}
	renderJobList(&buf, jobs, task.JobStats{Total: 2, Succeeded: 1, Failed: 1})

	out := buf.String()
	assert.Contains(t, out, "2 jobs")
	assert.Contains(t, out, "succeeded 1  failed 1")
	assert.Contains(t, out, "✗ a")
	assert.Contains(t, out, "✓ b")
	assert.Contains(t, out, strings.Repeat("x", 60)+"…")
}

func TestConsoleCancelsDeclinedAction(t *testing.T) {
	c := testConfig(t)
	a, err := bootstrap(context.Background(), c)
	require.NoError(t, err)
	defer a.Close()

	var out bytes.Buffer
	con := &console{
		sessions: a.sessions,
		in:       bufio.NewReader(strings.NewReader("n\n")),
		out:      &out,
	}
	con.ask(context.Background(), "please run a shell command")

	assert.Contains(t, out.String(), "confirmation required")
	assert.Contains(t, out.String(), "Pending action cancelled.")

	s, ok := a.sessions.Get(con.sessionID)
	require.True(t, ok)
	assert.Nil(t, s.Pending())
}

func TestConsoleRunsSafeToolWithoutPrompt(t *testing.T) {
	c := testConfig(t)
	a, err := bootstrap(context.Background(), c)
	require.NoError(t, err)
	defer a.Close()

	var out bytes.Buffer
	con := &console{sessions: a.sessions, in: bufio.NewReader(strings.NewReader("")), out: &out}
	con.ask(context.Background(), "what is the hostname")

	assert.Contains(t, out.String(), "✓ shell.hostname")
	assert.NotContains(t, out.String(), "confirmation required")
}

func TestREPLQuits(t *testing.T) {
	c := testConfig(t)
	a, err := bootstrap(context.Background(), c)
	require.NoError(t, err)
	defer a.Close()

	var out bytes.Buffer
	con := &console{sessions: a.sessions, in: bufio.NewReader(strings.NewReader("/reset\n/quit\n")), out: &out}
	require.NoError(t, con.repl(context.Background()))
	assert.Contains(t, out.String(), "conversation cleared")
}

func TestSubmitWithMemoryQueueProcessesInline(t *testing.T) {
	c := testConfig(t)
	prev := cfg
	cfg = c
	defer func() { cfg = prev }()

	cmd := submitCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--wait", "10s", "what", "is", "the", "hostname"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	assert.Contains(t, out.String(), "succeeded")
	assert.Contains(t, out.String(), "shell.hostname")
}
