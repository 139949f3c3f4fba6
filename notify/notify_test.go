package notify

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopostd/autopostd/store"
	"github.com/autopostd/autopostd/store/teststore"
	"github.com/autopostd/autopostd/telegram"
)

// fakeClient records SendText calls and can fail per chat id.
type fakeClient struct {
	mu      sync.Mutex
	sent    map[int64][]string
	sendErr map[int64]error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		sent:    make(map[int64][]string),
		sendErr: make(map[int64]error),
	}
}

func (f *fakeClient) GetMe(context.Context) (*telegram.UserInfo, error) {
	return &telegram.UserInfo{ID: 1, Username: "fake_bot"}, nil
}

func (f *fakeClient) GetChat(context.Context, int64) (*telegram.ChatInfo, error) {
	return &telegram.ChatInfo{}, nil
}

func (f *fakeClient) GetChatMember(context.Context, int64, int64) (telegram.MemberStatus, error) {
	return telegram.MemberStatusAdministrator, nil
}

func (f *fakeClient) Forward(context.Context, int64, telegram.Source) (int64, error) {
	return 0, nil
}

func (f *fakeClient) Delete(context.Context, int64, int64) error { return nil }

func (f *fakeClient) Pin(context.Context, int64, int64) error { return nil }

func (f *fakeClient) SendText(_ context.Context, chatID int64, html string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendErr[chatID]; err != nil {
		return err
	}
	f.sent[chatID] = append(f.sent[chatID], html)
	return nil
}

func seedAdmin(t *testing.T, st *store.Store, tgUserID int64) {
	t.Helper()
	_, err := st.UpsertUser(context.Background(), &store.User{
		TgUserID:    tgUserID,
		Username:    "admin",
		IsSuperuser: true,
	})
	require.NoError(t, err)
}

func TestBroadcastReachesEverySuperuser(t *testing.T) {
	st := teststore.New(t)
	client := newFakeClient()
	ctx := context.Background()

	seedAdmin(t, st, 100)
	seedAdmin(t, st, 200)
	_, err := st.UpsertUser(ctx, &store.User{TgUserID: 300, Username: "mortal"})
	require.NoError(t, err)

	n := NewAdminNotifier(st, client, nil)
	require.NoError(t, n.Broadcast(ctx, "<b>hello</b>"))

	assert.Len(t, client.sent[100], 1)
	assert.Len(t, client.sent[200], 1)
	assert.Empty(t, client.sent[300], "non-superusers must not be notified")
}

func TestBroadcastToleratesPerAdminFailures(t *testing.T) {
	st := teststore.New(t)
	client := newFakeClient()
	client.sendErr[100] = &telegram.APIError{Op: "sendMessage", Name: "TelegramForbiddenError", Code: 403, Message: "bot was blocked"}
	ctx := context.Background()

	seedAdmin(t, st, 100)
	seedAdmin(t, st, 200)

	n := NewAdminNotifier(st, client, nil)
	require.NoError(t, n.Broadcast(ctx, "alert"))

	assert.Empty(t, client.sent[100])
	assert.Len(t, client.sent[200], 1, "delivery must continue past a failing admin")
}

func TestBroadcastWithoutAdminsIsNoop(t *testing.T) {
	st := teststore.New(t)
	client := newFakeClient()

	n := NewAdminNotifier(st, client, nil)
	require.NoError(t, n.Broadcast(context.Background(), "alert"))
	assert.Empty(t, client.sent)
}

func TestDistributionFailureMessage(t *testing.T) {
	st := teststore.New(t)
	client := newFakeClient()
	ctx := context.Background()

	seedAdmin(t, st, 100)

	name := "morning-run"
	bot := &store.Bot{ID: "bot-1", Username: "poster_bot"}
	group := &store.Group{Title: "Deals & <Steals>", TgChatID: -1001234}
	post := &store.Post{ID: "post-1", DistributionName: &name}

	n := NewAdminNotifier(st, client, nil)
	err := n.DistributionFailure(ctx, bot, group, post, telegram.KindBotKicked,
		&telegram.APIError{Op: "forwardMessage", Name: "TelegramForbiddenError", Code: 403, Message: "bot was kicked"})
	require.NoError(t, err)

	require.Len(t, client.sent[100], 1)
	msg := client.sent[100][0]
	assert.Contains(t, msg, "DISTRIBUTION FAILURE")
	assert.Contains(t, msg, "@poster_bot")
	assert.Contains(t, msg, "-1001234")
	assert.Contains(t, msg, "morning-run")
	assert.Contains(t, msg, telegram.KindBotKicked.Human())
	assert.Contains(t, msg, "Deals &amp; &lt;Steals&gt;", "chat titles must be HTML-escaped")
	assert.Contains(t, msg, "removed from the distribution list")
}

func TestDistributionFailureFallsBackToPostID(t *testing.T) {
	st := teststore.New(t)
	client := newFakeClient()
	ctx := context.Background()

	seedAdmin(t, st, 100)

	bot := &store.Bot{ID: "bot-1", Username: "poster_bot"}
	group := &store.Group{Title: "Deals", TgChatID: -1001234}
	post := &store.Post{ID: "post-77"}

	n := NewAdminNotifier(st, client, nil)
	require.NoError(t, n.DistributionFailure(ctx, bot, group, post, telegram.KindChatNotFound, nil))

	require.Len(t, client.sent[100], 1)
	assert.Contains(t, client.sent[100][0], "post-77")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "", Truncate("anything", 0))
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "…", Truncate("long", 1))
	assert.Equal(t, "abc…", Truncate("abcdefgh", 4))

	out := Truncate(strings.Repeat("я", 600), 500)
	assert.Equal(t, 500, len([]rune(out)))
	assert.True(t, strings.HasSuffix(out, "…"))
}
