package task

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Mother-Agent/internal/agent"
)

func openSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "jobs.db")
	store, err := NewSQLStore(context.Background(), SQLOptions{Driver: "sqlite3", DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLStoreLifecycle(t *testing.T) {
	store := openSQLiteStore(t)
	ctx := context.Background()

	job := &Job{ID: "01J", SessionID: "s1", Kind: KindConfirm, Input: "call_1", Status: StatusPending, MaxRetries: 2}
	require.NoError(t, store.Create(ctx, job))
	assert.True(t, errors.Is(store.Create(ctx, job), ErrJobConflict))

	claimed, err := store.Claim(ctx, "01J")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)
	assert.Equal(t, KindConfirm, claimed.Kind)

	_, err = store.Claim(ctx, "01J")
	assert.True(t, errors.Is(err, ErrJobConflict))

	result := JobResult{
		Text:      "Action completed successfully.",
		Success:   true,
		ToolCalls: []agent.ToolCallRecord{{ID: "call_1", Tool: "shell.exec", Success: true}},
	}
	require.NoError(t, store.MarkSucceeded(ctx, "01J", result))

	got, err := store.Get(ctx, "01J")
	require.NoError(t, err)
	require.NotNil(t, got.Result)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Equal(t, "shell.exec", got.Result.ToolCalls[0].Tool)

	_, err = store.Claim(ctx, "01J")
	assert.True(t, errors.Is(err, ErrJobCompleted))

	_, err = store.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrJobNotFound))
}

func TestSQLStoreTerminalFailure(t *testing.T) {
	store := openSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Job{ID: "j", SessionID: "s", Kind: KindCommand, Input: "x", Status: StatusPending, MaxRetries: 3}))
	_, err := store.Claim(ctx, "j")
	require.NoError(t, err)

	require.NoError(t, store.MarkFailed(ctx, "j", CodeJobProcessing, "transient", false))
	got, err := store.Get(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)

	require.NoError(t, store.MarkFailed(ctx, "j", CodeJobValidation, "fatal", true))
	got, err = store.Get(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, string(CodeJobValidation), got.ErrorCode)

	_, err = store.Claim(ctx, "j")
	assert.True(t, errors.Is(err, ErrJobExhausted))
	assert.True(t, errors.Is(store.MarkFailed(ctx, "missing", CodeJobProcessing, "", false), ErrJobNotFound))
}

func TestSQLStoreListAndStats(t *testing.T) {
	store := openSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Job{ID: "a", SessionID: "s1", Kind: KindCommand, Input: "list pods", Status: StatusPending, MaxRetries: 3}))
	require.NoError(t, store.Create(ctx, &Job{ID: "b", SessionID: "s1", Kind: KindPlan, Input: "rotate keys", Status: StatusPending, MaxRetries: 3}))
	require.NoError(t, store.Create(ctx, &Job{ID: "c", SessionID: "s2", Kind: KindCommand, Input: "uptime", Status: StatusPending, MaxRetries: 3}))
	require.NoError(t, store.MarkSucceeded(ctx, "c", JobResult{Text: "up 3 days", Success: true}))

	session, err := store.List(ctx, ListOptions{SessionID: "s1"})
	require.NoError(t, err)
	assert.Len(t, session, 2)

	plans, err := store.List(ctx, ListOptions{Kinds: []Kind{KindPlan}})
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "b", plans[0].ID)

	matched, err := store.List(ctx, ListOptions{Query: "3 days"})
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "c", matched[0].ID)

	stats, err := store.Stats(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 1, stats.Succeeded)

	empty, err := store.Stats(ctx, ListOptions{SessionID: "nobody"})
	require.NoError(t, err)
	assert.Equal(t, JobStats{}, empty)
}

func TestNewSQLStoreRejectsUnknownDriver(t *testing.T) {
	_, err := NewSQLStore(context.Background(), SQLOptions{Driver: "postgres", DSN: "x"})
	require.Error(t, err)
}
