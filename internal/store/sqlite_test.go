// ABOUTME: Tests for the SQLite agent registry store
// ABOUTME: Covers agent CRUD, name uniqueness, archiving, and usage counters

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a SQLite store backed by a temp directory.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "warren.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testAgent(name string) *Agent {
	now := time.Now().UTC().Truncate(time.Second)
	return &Agent{
		ID:           uuid.New().String(),
		Name:         name,
		Model:        "sonnet",
		SystemPrompt: "You are a test agent.",
		WorkingDir:   "/tmp/work",
		Capabilities: []string{"read", "write"},
		Status:       StatusIdle,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func strPtr(s string) *string {
	return &s
}

func TestSQLiteStore_CreateAndGetAgent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	agent := testAgent("builder")
	agent.DisabledCapabilities = []string{"network"}
	require.NoError(t, s.CreateAgent(ctx, agent))

	got, err := s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "builder", got.Name)
	assert.Equal(t, "sonnet", got.Model)
	assert.Equal(t, []string{"read", "write"}, got.Capabilities)
	assert.Equal(t, []string{"network"}, got.DisabledCapabilities)
	assert.Equal(t, StatusIdle, got.Status)
	assert.Nil(t, got.SessionToken)
	assert.False(t, got.Archived)
}

func TestSQLiteStore_GetAgent_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetAgent(context.Background(), "no-such-agent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_DuplicateName(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAgent(ctx, testAgent("builder")))

	err := s.CreateAgent(ctx, testAgent("builder"))
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestSQLiteStore_NameReusableAfterArchive(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first := testAgent("builder")
	require.NoError(t, s.CreateAgent(ctx, first))
	require.NoError(t, s.ArchiveAgent(ctx, first.ID))

	// Archived rows no longer hold the live-name slot
	second := testAgent("builder")
	require.NoError(t, s.CreateAgent(ctx, second))

	got, err := s.GetAgentByName(ctx, "builder")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestSQLiteStore_GetAgentByName_ExcludesArchived(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	agent := testAgent("builder")
	require.NoError(t, s.CreateAgent(ctx, agent))
	require.NoError(t, s.ArchiveAgent(ctx, agent.ID))

	_, err := s.GetAgentByName(ctx, "builder")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ListAgents(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a := testAgent("alpha")
	b := testAgent("beta")
	b.CreatedAt = a.CreatedAt.Add(time.Second)
	b.UpdatedAt = b.CreatedAt
	require.NoError(t, s.CreateAgent(ctx, a))
	require.NoError(t, s.CreateAgent(ctx, b))
	require.NoError(t, s.ArchiveAgent(ctx, b.ID))

	live, err := s.ListAgents(ctx, false)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "alpha", live[0].Name)

	all, err := s.ListAgents(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].Name)
	assert.Equal(t, "beta", all[1].Name)
	assert.True(t, all[1].Archived)
}

func TestSQLiteStore_UpdateStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	agent := testAgent("builder")
	require.NoError(t, s.CreateAgent(ctx, agent))
	require.NoError(t, s.UpdateAgentStatus(ctx, agent.ID, StatusExecuting))

	got, err := s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuting, got.Status)

	err = s.UpdateAgentStatus(ctx, "missing", StatusBlocked)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_UpdateSession(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	agent := testAgent("builder")
	require.NoError(t, s.CreateAgent(ctx, agent))

	require.NoError(t, s.UpdateAgentSession(ctx, agent.ID, "sess-1"))
	require.NoError(t, s.UpdateAgentSession(ctx, agent.ID, "sess-2"))

	got, err := s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SessionToken)
	assert.Equal(t, "sess-2", *got.SessionToken)
}

func TestSQLiteStore_UsageAccumulatesAndResets(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	agent := testAgent("builder")
	require.NoError(t, s.CreateAgent(ctx, agent))

	require.NoError(t, s.AddAgentUsage(ctx, agent.ID, 100, 50, 0.25))
	require.NoError(t, s.AddAgentUsage(ctx, agent.ID, 10, 5, 0.05))

	got, err := s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(110), got.InputTokens)
	assert.Equal(t, int64(55), got.OutputTokens)
	assert.InDelta(t, 0.30, got.CostUSD, 1e-9)

	// Token reset keeps accumulated cost
	require.NoError(t, s.ResetAgentTokens(ctx, agent.ID))
	got, err = s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Zero(t, got.InputTokens)
	assert.Zero(t, got.OutputTokens)
	assert.InDelta(t, 0.30, got.CostUSD, 1e-9)
}

func TestSQLiteStore_ArchiveIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	agent := testAgent("builder")
	require.NoError(t, s.CreateAgent(ctx, agent))
	require.NoError(t, s.UpdateAgentStatus(ctx, agent.ID, StatusBlocked))

	require.NoError(t, s.ArchiveAgent(ctx, agent.ID))
	require.NoError(t, s.ArchiveAgent(ctx, agent.ID))

	got, err := s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.True(t, got.Archived)
	// Status frozen at its value when archived
	assert.Equal(t, StatusBlocked, got.Status)
}

func TestSQLiteStore_ReopenPreservesData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warren.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)

	agent := testAgent("builder")
	require.NoError(t, s.CreateAgent(ctx, agent))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "builder", got.Name)
}
