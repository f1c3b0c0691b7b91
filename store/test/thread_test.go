package test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/marketsense/store"
)

func createThread(ctx context.Context, t *testing.T, ts *store.Store, id, userID string, updatedTs int64) *store.Thread {
	t.Helper()
	thread, err := ts.CreateThread(ctx, &store.Thread{
		ID:        id,
		UserID:    userID,
		CreatedTs: updatedTs,
		UpdatedTs: updatedTs,
	})
	require.NoError(t, err)
	return thread
}

func TestThreadStore(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	created := createThread(ctx, t, ts, "thread-1", "user-a", 1000)
	require.Nil(t, created.Title)
	require.Empty(t, created.Metadata)

	createThread(ctx, t, ts, "thread-2", "user-a", 2000)
	createThread(ctx, t, ts, "thread-3", "user-b", 3000)

	userID := "user-a"
	threads, err := ts.ListThreads(ctx, &store.FindThread{UserID: &userID})
	require.NoError(t, err)
	require.Len(t, threads, 2)
	require.Equal(t, "thread-2", threads[0].ID, "most recently updated first")

	title := "Wedding niche ideas"
	updatedTs := int64(4000)
	updated, err := ts.UpdateThread(ctx, &store.UpdateThread{ID: "thread-1", Title: &title, UpdatedTs: &updatedTs})
	require.NoError(t, err)
	require.NotNil(t, updated.Title)
	require.Equal(t, title, *updated.Title)
	require.Equal(t, int64(4000), updated.UpdatedTs)

	archived := true
	_, err = ts.UpdateThread(ctx, &store.UpdateThread{ID: "thread-2", Archived: &archived})
	require.NoError(t, err)

	notArchived := false
	threads, err = ts.ListThreads(ctx, &store.FindThread{UserID: &userID, Archived: &notArchived})
	require.NoError(t, err)
	require.Len(t, threads, 1)
	require.Equal(t, "thread-1", threads[0].ID)

	missing := "nope"
	thread, err := ts.GetThread(ctx, &store.FindThread{ID: &missing})
	require.NoError(t, err)
	require.Nil(t, thread)

	_, err = ts.UpdateThread(ctx, &store.UpdateThread{ID: "nope", Archived: &archived})
	require.Error(t, err)

	_, err = ts.UpdateThread(ctx, &store.UpdateThread{ID: "thread-1"})
	require.Error(t, err)
}

func TestThreadStatsIgnoreDeletedMessages(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	createThread(ctx, t, ts, "thread-1", "user-a", 1000)

	stats, err := ts.GetThreadStats(ctx, "thread-1")
	require.NoError(t, err)
	require.Equal(t, int32(0), stats.MessageCount)
	require.Nil(t, stats.LastMessageTs)

	for i, id := range []string{"m1", "m2", "m3"} {
		_, err := ts.CreateMessage(ctx, &store.Message{
			ID:        id,
			ThreadID:  "thread-1",
			Role:      store.MessageRoleUser,
			Content:   "hello",
			CreatedTs: int64(1000 + i),
		})
		require.NoError(t, err)
	}
	deletedTs := int64(5000)
	require.NoError(t, ts.UpdateMessage(ctx, &store.UpdateMessage{ID: "m3", DeletedTs: &deletedTs}))

	stats, err = ts.GetThreadStats(ctx, "thread-1")
	require.NoError(t, err)
	require.Equal(t, int32(2), stats.MessageCount)
	require.NotNil(t, stats.LastMessageTs)
	require.Equal(t, int64(1001), *stats.LastMessageTs)
}

func TestUpdateThreadClearsLastMessageTs(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	createThread(ctx, t, ts, "thread-1", "user-a", 1000)

	last := int64(1500)
	thread, err := ts.UpdateThread(ctx, &store.UpdateThread{ID: "thread-1", LastMessageTs: &last})
	require.NoError(t, err)
	require.NotNil(t, thread.LastMessageTs)

	count := int32(0)
	thread, err = ts.UpdateThread(ctx, &store.UpdateThread{ID: "thread-1", MessageCount: &count, LastMessageTs: &last, ClearLastMessageTs: true})
	require.NoError(t, err)
	require.Nil(t, thread.LastMessageTs)
	require.Equal(t, int32(0), thread.MessageCount)
}
