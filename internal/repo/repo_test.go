package repo_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalix/gateway/internal/db"
	"github.com/signalix/gateway/internal/model"
	"github.com/signalix/gateway/internal/repo"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	// Distinct named in-memory databases keep tests isolated.
	url := "sqlite:file:" + t.Name() + "?mode=memory&cache=shared"
	database, dialect, err := db.Open(context.Background(), url)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(database, dialect))
	t.Cleanup(func() { database.Close() })
	return database
}

func TestAuthRepo_UpsertListDelete(t *testing.T) {
	ctx := context.Background()
	r := repo.NewAuthRepo(openTestDB(t))

	require.NoError(t, r.Upsert(ctx, "tenant-a", "creds.json", `{"a":1}`))
	require.NoError(t, r.Upsert(ctx, "tenant-a", "session.json", `{}`))
	require.NoError(t, r.Upsert(ctx, "tenant-b", "creds.json", `{"b":1}`))

	// Upsert replaces the value of an existing row.
	require.NoError(t, r.Upsert(ctx, "tenant-a", "creds.json", `{"a":2}`))

	records, err := r.ListBySession(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "creds.json", records[0].Key)
	assert.Equal(t, `{"a":2}`, records[0].Value)
	assert.Equal(t, "session.json", records[1].Key)

	n, err := r.DeleteBySession(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Idempotent.
	n, err = r.DeleteBySession(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Zero(t, n)

	records, err = r.ListBySession(ctx, "tenant-b")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSessionRepo_Lifecycle(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	sessions := repo.NewSessionRepo(database)
	chats := repo.NewChatRepo(database)

	s, err := sessions.CreateOrTouch(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConnecting, s.Status)

	require.NoError(t, sessions.UpdateStatus(ctx, "alpha", model.StatusConnected))
	err = sessions.UpdateStatus(ctx, "missing", model.StatusConnected)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	// Touch moves an existing record back to connecting.
	_, err = sessions.CreateOrTouch(ctx, "alpha")
	require.NoError(t, err)
	got, err := sessions.Get(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConnecting, got.Status)

	_, err = sessions.CreateOrTouch(ctx, "beta")
	require.NoError(t, err)
	require.NoError(t, sessions.UpdateStatus(ctx, "beta", model.StatusAuthenticated))
	require.NoError(t, chats.Save(ctx, &model.ChatMessage{
		SessionID:   "alpha",
		PhoneNumber: "628123",
		Message:     "hi",
		Direction:   model.DirectionOutgoing,
	}))

	count, err := sessions.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	list, err := sessions.List(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	counts := map[string]int{}
	for _, s := range list {
		counts[s.SessionID] = s.MessageCount
	}
	assert.Equal(t, map[string]int{"alpha": 1, "beta": 0}, counts)

	restorable, err := sessions.ListByStatus(ctx, model.StatusConnected, model.StatusAuthenticated)
	require.NoError(t, err)
	require.Len(t, restorable, 1)
	assert.Equal(t, "beta", restorable[0].SessionID)

	require.NoError(t, sessions.Delete(ctx, "alpha"))
	_, err = sessions.Get(ctx, "alpha")
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.ErrorIs(t, sessions.Delete(ctx, "alpha"), repo.ErrNotFound)

	_, total, err := chats.List(ctx, repo.ChatQuery{SessionID: "alpha"})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestChatRepo_ListPagesAndFilters(t *testing.T) {
	ctx := context.Background()
	chats := repo.NewChatRepo(openTestDB(t))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, phone := range []string{"111", "222", "111", "111"} {
		require.NoError(t, chats.Save(ctx, &model.ChatMessage{
			SessionID:   "alpha",
			PhoneNumber: phone,
			Message:     "m",
			MessageType: model.MessageImage,
			Direction:   model.DirectionIncoming,
			Metadata:    map[string]any{"n": float64(i)},
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
		}))
	}

	page, total, err := chats.List(ctx, repo.ChatQuery{SessionID: "alpha", PhoneNumber: "111", Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	// Newest first.
	assert.Equal(t, float64(3), page[0].Metadata["n"])
	assert.Equal(t, float64(2), page[1].Metadata["n"])
	assert.Equal(t, model.MessageImage, page[0].MessageType)

	page, total, err = chats.List(ctx, repo.ChatQuery{SessionID: "alpha", PhoneNumber: "111", Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, float64(0), page[0].Metadata["n"])

	_, total, err = chats.List(ctx, repo.ChatQuery{SessionID: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
}
