package memory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Mother-Agent/internal/config"
)

func steppingClock() func() time.Time {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func TestContextForQueryExcludesCurrentSession(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(NewInMemoryStore(), WithClock(steppingClock()))
	require.NoError(t, err)

	require.NoError(t, m.RememberUserInput(ctx, "old", "deploy the billing service"))
	require.NoError(t, m.RememberToolResult(ctx, "old", "ops.deploy", map[string]any{"service": "billing"}, "billing deployed to prod", true))
	require.NoError(t, m.RememberUserInput(ctx, "current", "deploy the billing service again"))

	text, err := m.ContextForQuery(ctx, "billing deploy status", "current", 5)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "Relevant memory:\n"), text)
	assert.Contains(t, text, "- [ops.deploy] billing deployed to prod")
	assert.Contains(t, text, "- [user] deploy the billing service")
	assert.NotContains(t, text, "again")
}

func TestContextForQueryEmptyWhenNothingStored(t *testing.T) {
	m, err := NewManager(NewInMemoryStore())
	require.NoError(t, err)
	text, err := m.ContextForQuery(context.Background(), "anything here", "s", 5)
	require.NoError(t, err)
	assert.Empty(t, text)

	text, err = m.ContextForQuery(context.Background(), "anything", "s", 0)
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestContextForQueryIncludesKnowledgeAndRecentActivity(t *testing.T) {
	ctx := context.Background()
	kb := NewStaticProvider([]Snippet{
		{Title: "Runbook", Content: "Restart with systemctl", Keywords: []string{"restart"}},
		{Title: "Unrelated", Content: "nothing", Keywords: []string{"zebra"}},
	}, 3)
	m, err := NewManager(NewInMemoryStore(), WithKnowledge(kb), WithClock(steppingClock()))
	require.NoError(t, err)
	require.NoError(t, m.RememberAssistantResponse(ctx, "other", "Disk usage is at 40%"))

	text, err := m.ContextForQuery(ctx, "how do I restart nginx", "current", 5)
	require.NoError(t, err)
	assert.Contains(t, text, "- [knowledge] Runbook: Restart with systemctl")
	assert.NotContains(t, text, "Unrelated")
	assert.Contains(t, text, "Recent activity:\n- [assistant] Disk usage is at 40%")
}

func TestRememberToolResultTruncates(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	m, err := NewManager(store)
	require.NoError(t, err)

	require.NoError(t, m.RememberToolResult(ctx, "s", "fs.read", nil, strings.Repeat("x", 5000), false))
	recs, err := store.Recent(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Len(t, recs[0].Content, 2000)
	assert.False(t, recs[0].Success)
	assert.NotEmpty(t, recs[0].ID)

	require.NoError(t, m.RememberUserInput(ctx, "s", "   "))
	recs, _ = store.Recent(ctx, 0, "")
	assert.Len(t, recs, 1)
}

func TestFileStorePersistsAndBounds(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	for i := 0; i < fileStoreCapacity+10; i++ {
		require.NoError(t, store.Append(ctx, Record{SessionID: "s", Role: RoleUser, Content: "entry", CreatedAt: time.Now()}))
	}
	require.NoError(t, store.Append(ctx, Record{SessionID: "s", Role: RoleUser, Content: "latest marker"}))

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	recs, err := reopened.Recent(ctx, 0, "")
	require.NoError(t, err)
	assert.Len(t, recs, fileStoreCapacity)
	assert.Equal(t, "latest marker", recs[0].Content)

	hits, err := reopened.Search(ctx, "marker", 5, "")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	hits, err = reopened.Search(ctx, "marker", 5, "s")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSQLStoreWithSQLite(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "memory.db")
	store, err := NewSQLStore(ctx, "sqlite3", dsn)
	require.NoError(t, err)
	defer store.Close()

	m, err := NewManager(store, WithClock(steppingClock()))
	require.NoError(t, err)
	require.NoError(t, m.RememberUserInput(ctx, "a", "check the nginx logs"))
	require.NoError(t, m.RememberToolResult(ctx, "a", "logs.tail", map[string]any{"unit": "nginx"}, "502 upstream errors in nginx", false))
	require.NoError(t, m.RememberAssistantResponse(ctx, "b", "unrelated weather reply"))

	hits, err := store.Search(ctx, "nginx upstream", 5, "b")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "logs.tail", hits[0].ToolName)
	assert.Equal(t, "nginx", hits[0].ToolArgs["unit"])
	assert.False(t, hits[0].Success)

	recent, err := store.Recent(ctx, 10, "a")
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, RoleAssistant, recent[0].Role)

	text, err := m.ContextForQuery(ctx, "nginx errors", "b", 5)
	require.NoError(t, err)
	assert.Contains(t, text, "- [logs.tail failed] 502 upstream errors in nginx")
}

func TestNewSQLStoreRejectsUnknownDriver(t *testing.T) {
	_, err := NewSQLStore(context.Background(), "postgres", "dsn")
	assert.ErrorContains(t, err, "unsupported")
	_, err = NewSQLStore(context.Background(), "mysql", " ")
	assert.ErrorContains(t, err, "DSN")
}

func TestOpenFromConfig(t *testing.T) {
	dir := t.TempDir()
	kbPath := filepath.Join(dir, "kb.json")
	require.NoError(t, os.WriteFile(kbPath, []byte(`[{"title":"T","content":"C"}]`), 0o644))

	m, err := Open(context.Background(), config.MemoryConfig{Driver: "file", KnowledgeSource: kbPath, MaxResults: 2}, dir)
	require.NoError(t, err)
	defer m.Close()

	text, err := m.ContextForQuery(context.Background(), "anything", "s", 3)
	require.NoError(t, err)
	assert.Equal(t, "Relevant memory:\n- [knowledge] T: C", text)

	_, err = Open(context.Background(), config.MemoryConfig{Driver: "cassandra"}, dir)
	assert.Error(t, err)
}
