package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopostd/autopostd/store"
	"github.com/autopostd/autopostd/store/teststore"
)

func TestCreatePostAttemptForMissingPost(t *testing.T) {
	st := teststore.New(t)

	_, err := st.CreatePostAttempt(context.Background(), &store.PostAttempt{
		PostID:  "vanished",
		Success: true,
	})
	assert.ErrorIs(t, err, store.ErrForeignKeyViolation)
}

func TestLatestDeletableAttemptPicksNewestLiveMessage(t *testing.T) {
	st := teststore.New(t)
	ctx := context.Background()
	bot := seedBot(t, st, 1)
	g := seedGroup(t, st, bot, -100)
	p := seedPost(t, st, g, nil)

	msg := func(id int64) *int64 { return &id }
	seedAttempt(t, st, p, func(a *store.PostAttempt) {
		a.CreatedTs, a.MessageID = 100, msg(1)
	})
	seedAttempt(t, st, p, func(a *store.PostAttempt) {
		a.CreatedTs, a.MessageID, a.Success = 200, nil, false
		a.ErrorCode = "TelegramNetworkError"
	})
	seedAttempt(t, st, p, func(a *store.PostAttempt) {
		a.CreatedTs, a.MessageID, a.Deleted = 300, msg(2), true
	})
	seedAttempt(t, st, p, func(a *store.PostAttempt) {
		a.CreatedTs, a.MessageID = 400, msg(3)
	})

	latest, err := st.LatestDeletableAttempt(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, latest.MessageID)
	assert.Equal(t, int64(3), *latest.MessageID)

	require.NoError(t, st.MarkAttemptDeleted(ctx, latest.ID))

	// Failed and already-deleted attempts never qualify.
	next, err := st.LatestDeletableAttempt(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, next.MessageID)
	assert.Equal(t, int64(1), *next.MessageID)

	require.NoError(t, st.MarkAttemptDeleted(ctx, next.ID))
	_, err = st.LatestDeletableAttempt(ctx, p.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteAttemptsOlderThan(t *testing.T) {
	st := teststore.New(t)
	ctx := context.Background()
	bot := seedBot(t, st, 1)
	g := seedGroup(t, st, bot, -100)
	p := seedPost(t, st, g, nil)

	now := time.Now().Unix()
	seedAttempt(t, st, p, func(a *store.PostAttempt) { a.ID, a.CreatedTs = "ancient", now - 90*86400 })
	seedAttempt(t, st, p, func(a *store.PostAttempt) { a.ID, a.CreatedTs = "old", now - 40*86400 })
	seedAttempt(t, st, p, func(a *store.PostAttempt) { a.ID, a.CreatedTs = "fresh", now - 86400 })

	pruned, err := st.DeleteAttemptsOlderThan(ctx, now-30*86400)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)

	left, err := st.ListPostAttempts(ctx, &store.FindPostAttempt{PostID: &p.ID})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "fresh", left[0].ID)

	pruned, err = st.DeleteAttemptsOlderThan(ctx, now-30*86400)
	require.NoError(t, err)
	assert.Zero(t, pruned, "pruning is idempotent")
}

func TestCountAttemptsSince(t *testing.T) {
	st := teststore.New(t)
	ctx := context.Background()
	bot := seedBot(t, st, 1)
	other := seedBot(t, st, 2)
	g := seedGroup(t, st, bot, -100)
	p := seedPost(t, st, g, nil)

	now := time.Now().Unix()
	seedAttempt(t, st, p, func(a *store.PostAttempt) { a.CreatedTs = now - 3600 })
	seedAttempt(t, st, p, func(a *store.PostAttempt) { a.CreatedTs = now - 60 })
	seedAttempt(t, st, p, func(a *store.PostAttempt) {
		a.CreatedTs = now - 60
		a.BotID = other.ID
	})

	count, err := st.CountAttemptsSince(ctx, bot.ID, now-600)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "only this bot's recent attempts count")

	count, err = st.CountAttemptsSince(ctx, bot.ID, now-7200)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestListPostAttemptsFilters(t *testing.T) {
	st := teststore.New(t)
	ctx := context.Background()
	bot := seedBot(t, st, 1)
	g := seedGroup(t, st, bot, -100)
	p := seedPost(t, st, g, nil)

	seedAttempt(t, st, p, func(a *store.PostAttempt) { a.CreatedTs = 100 })
	seedAttempt(t, st, p, func(a *store.PostAttempt) {
		a.CreatedTs, a.MessageID, a.Success = 200, nil, false
		a.ErrorCode = "TelegramBadRequest"
		a.ErrorMsg = "chat not found"
	})

	failed := false
	failures, err := st.ListPostAttempts(ctx, &store.FindPostAttempt{PostID: &p.ID, Success: &failed})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "TelegramBadRequest", failures[0].ErrorCode)
	assert.Equal(t, "chat not found", failures[0].ErrorMsg)

	all, err := st.ListPostAttempts(ctx, &store.FindPostAttempt{PostID: &p.ID})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.False(t, all[0].Success, "newest first")

	limit := int32(1)
	page, err := st.ListPostAttempts(ctx, &store.FindPostAttempt{PostID: &p.ID, Limit: &limit})
	require.NoError(t, err)
	assert.Len(t, page, 1)
}
