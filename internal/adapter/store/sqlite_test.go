package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agntschat/internal/domain"
	"agntschat/internal/infra/config"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := config.StoreConfig{
		Path:        filepath.Join(t.TempDir(), "nested", "agntschat.db"),
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		BusyTimeout: time.Second,
	}
	db, err := Open(context.Background(), cfg, newTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAgentRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewAgentRepository(openTestDB(t))

	writer, err := repo.Save(ctx, domain.AgentDescriptor{Name: "Writer", Description: "drafts", Selected: true})
	require.NoError(t, err)
	require.NotNil(t, writer.ID)

	_, err = repo.Save(ctx, domain.AgentDescriptor{Name: "Reviewer", InstructionsRef: "review.md"})
	require.NoError(t, err)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Reviewer", all[0].Name, "ordered by name")
	assert.False(t, all[1].Selected, "selection is never persisted")

	writer.Description = "writes drafts"
	_, err = repo.Save(ctx, writer)
	require.NoError(t, err)

	got, err := repo.FindByNames(ctx, []string{"Writer", "Reviewer"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Writer", "Reviewer"}, domain.AgentNames(got))
	assert.Equal(t, "writes drafts", got[0].Description)

	deleted, err := repo.Delete(ctx, *writer.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.Delete(ctx, *writer.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestAgentRepository_DuplicateNameIsIntegrityError(t *testing.T) {
	ctx := context.Background()
	repo := NewAgentRepository(openTestDB(t))

	_, err := repo.Save(ctx, domain.AgentDescriptor{Name: "Writer"})
	require.NoError(t, err)
	_, err = repo.Save(ctx, domain.AgentDescriptor{Name: "Writer"})
	assert.ErrorIs(t, err, domain.ErrIntegrity)
}

func TestAgentRepository_UpdateMissing(t *testing.T) {
	id := int64(42)
	_, err := NewAgentRepository(openTestDB(t)).Save(context.Background(), domain.AgentDescriptor{ID: &id, Name: "Ghost"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAgentRepository_RejectsEmptyName(t *testing.T) {
	_, err := NewAgentRepository(openTestDB(t)).Save(context.Background(), domain.AgentDescriptor{Name: " "})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAgentRepository_FindByNamesMissing(t *testing.T) {
	_, err := NewAgentRepository(openTestDB(t)).FindByNames(context.Background(), []string{"Nobody"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAgentRepository_ImportJSON(t *testing.T) {
	ctx := context.Background()
	repo := NewAgentRepository(openTestDB(t))

	path := filepath.Join(t.TempDir(), "agents.config.json")
	legacy := `[
		{"Name": "Writer", "Description": "drafts", "InstructionsPath": "w.txt", "PromptyPath": "w.prompty"},
		{"name": "Reviewer", "instructions_ref": "r.txt", "persona_ref": "r.prompty"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0600))

	n, err := repo.ImportJSON(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "r.txt", all[0].InstructionsRef)
	assert.Equal(t, "w.prompty", all[1].PersonaRef)

	// Second import is a no-op because the table is no longer empty.
	n, err = repo.ImportJSON(ctx, path)
	require.NoError(t, err)
	assert.Zero(t, n)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestAgentRepository_ImportJSONMissingFile(t *testing.T) {
	n, err := NewAgentRepository(openTestDB(t)).ImportJSON(context.Background(), filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSourceRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewSourceRepository(openTestDB(t))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	repo.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	first, err := repo.Save(ctx, domain.ContextSourceDescriptor{
		Name:          "Invoices",
		Kind:          domain.SourceLocalFiles,
		Configuration: json.RawMessage(`{"filePath":"/tmp/invoices.txt"}`),
		Enabled:       true,
	})
	require.NoError(t, err)
	assert.NotZero(t, first.ID)

	second, err := repo.Save(ctx, domain.ContextSourceDescriptor{Name: "Wiki", Kind: domain.SourceWebAPI})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(second.Configuration))

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Wiki", all[0].Name, "newest first")
	assert.Equal(t, domain.SourceLocalFiles, all[1].Kind)
	assert.True(t, all[1].Enabled)

	require.NoError(t, repo.SetEnabled(ctx, first.ID, false))
	got, err := repo.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.JSONEq(t, `{"filePath":"/tmp/invoices.txt"}`, string(got.Configuration))
	assert.True(t, got.ModifiedAt.After(got.CreatedAt))

	_, err = repo.Get(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, repo.SetEnabled(ctx, 999, true), domain.ErrNotFound)

	ok, err := repo.Delete(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestChatLogRepository_Recent(t *testing.T) {
	ctx := context.Background()
	repo := NewChatLogRepository(openTestDB(t))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, run := range []string{"run-1", "run-2", "run-3"} {
		require.NoError(t, repo.RecordRequest(ctx, domain.ChatRequestLog{
			ID: "req-" + run, RunID: run, Message: "hello " + run,
			Agents: []string{"Writer", "Reviewer"}, At: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, repo.RecordResponse(ctx, domain.ChatResponseLog{
		ID: "resp-3", RunID: "run-3", Agent: "Writer", Response: "hi", Degraded: true,
		At: base.Add(3 * time.Minute),
	}))

	recent, err := repo.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "run-2", recent[0].Request.RunID, "oldest first")
	assert.Equal(t, "run-3", recent[1].Request.RunID)
	assert.Equal(t, []string{"Writer", "Reviewer"}, recent[1].Request.Agents)
	require.Len(t, recent[1].Responses, 1)
	assert.True(t, recent[1].Responses[0].Degraded)
	assert.Empty(t, recent[0].Responses)
}
