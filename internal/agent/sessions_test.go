package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "Mother-Agent/internal/errors"
	"Mother-Agent/internal/llm"
)

func TestSessionsKeepStatePerSession(t *testing.T) {
	reg := fileTools()
	gw := &scriptedGateway{script: func(_ int, messages []llm.Message) (*llm.Response, error) {
		if len(messages) == 1 && messages[0].Text() == "delete file X" {
			return toolReply(call("c1", "files.delete", map[string]any{"path": "X"})), nil
		}
		return textReply("ok"), nil
	}}
	table := NewSessions(New(gw, reg), time.Hour)
	ctx := context.Background()

	resp := table.Process(ctx, "alice", "delete file X", false)
	require.NotNil(t, resp.PendingConfirmation)

	other := table.Process(ctx, "bob", "hello", false)
	assert.Nil(t, other.PendingConfirmation)

	_, err := table.Confirm(ctx, "bob", resp.PendingConfirmation.ID)
	assert.Equal(t, CodeNoPendingAction, xerrors.CodeOf(err))

	done, err := table.Confirm(ctx, "alice", resp.PendingConfirmation.ID)
	require.NoError(t, err)
	assert.True(t, done.Success)
	assert.Equal(t, 2, table.Len())
}

func TestSessionsGenerateIDWhenEmpty(t *testing.T) {
	table := NewSessions(New(replies(), fileTools()), 0)

	resp := table.Process(context.Background(), "", "hi", false)

	require.NotEmpty(t, resp.SessionID)
	_, ok := table.Get(resp.SessionID)
	assert.True(t, ok)
}

func TestSessionsEvictIdleEntries(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	table := NewSessions(New(replies(), fileTools(), WithClock(clock)), time.Minute)
	ctx := context.Background()

	table.Process(ctx, "old", "hi", false)
	now = now.Add(2 * time.Minute)
	table.Process(ctx, "fresh", "hi", false)

	assert.Equal(t, 1, table.Len())
	_, ok := table.Get("old")
	assert.False(t, ok)

	now = now.Add(30 * time.Second)
	assert.Equal(t, 0, table.Evict())
	now = now.Add(time.Minute)
	assert.Equal(t, 1, table.Evict())
}

func TestSessionsRunDifferentSessionsConcurrently(t *testing.T) {
	reg := fileTools()
	gw := &scriptedGateway{script: func(_ int, messages []llm.Message) (*llm.Response, error) {
		last := messages[len(messages)-1]
		if len(last.ToolResults()) > 0 {
			return textReply("listed"), nil
		}
		return toolReply(call(llm.NewCallID(), "files.list", nil)), nil
	}}
	table := NewSessions(New(gw, reg), time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i%4)
			resp := table.Process(ctx, id, "list files", false)
			assert.True(t, resp.Success)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 4, table.Len())
	assert.Len(t, reg.executions("files.list"), 8)
	for i := 0; i < 4; i++ {
		s, ok := table.Get(fmt.Sprintf("s%d", i))
		require.True(t, ok)
		assert.Len(t, s.History(), 8)
	}
}

func TestSessionsResetClearsHistory(t *testing.T) {
	table := NewSessions(New(replies(textReply("hello")), fileTools()), 0)
	ctx := context.Background()
	table.Process(ctx, "a", "hi", false)

	table.Reset("a")

	s, _ := table.Get("a")
	assert.Empty(t, s.History())
	assert.Equal(t, "a", s.ID())
}
