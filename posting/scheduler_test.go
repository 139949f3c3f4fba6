package posting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/autopostd/autopostd/metrics"
	"github.com/autopostd/autopostd/notify"
	"github.com/autopostd/autopostd/ratelimit"
	"github.com/autopostd/autopostd/store"
	"github.com/autopostd/autopostd/store/teststore"
	"github.com/autopostd/autopostd/telegram"
)

const testToken = "1000001:test"

type forwardOutcome struct {
	id  int64
	err error
}

type sentMessage struct {
	chatID    int64
	messageID int64
}

// scriptedClient plays back queued outcomes and records every outbound call.
type scriptedClient struct {
	t  *testing.T
	mu sync.Mutex

	forwards     []forwardOutcome
	forwardCalls int

	deleteErrs []error
	deleted    []sentMessage

	pinErrs []error
	pinned  []sentMessage

	texts map[int64][]string
}

func newScriptedClient(t *testing.T) *scriptedClient {
	return &scriptedClient{t: t, texts: map[int64][]string{}}
}

func (c *scriptedClient) queueForward(id int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forwards = append(c.forwards, forwardOutcome{id: id, err: err})
}

func (c *scriptedClient) queueDeleteErr(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteErrs = append(c.deleteErrs, errs...)
}

func (c *scriptedClient) queuePinErr(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinErrs = append(c.pinErrs, errs...)
}

func (c *scriptedClient) GetMe(context.Context) (*telegram.UserInfo, error) {
	return &telegram.UserInfo{ID: 1000001, Username: "poster_bot"}, nil
}

func (c *scriptedClient) GetChat(_ context.Context, chatID int64) (*telegram.ChatInfo, error) {
	return &telegram.ChatInfo{ID: chatID, Type: "supergroup"}, nil
}

func (c *scriptedClient) GetChatMember(context.Context, int64, int64) (telegram.MemberStatus, error) {
	return telegram.MemberStatusAdministrator, nil
}

func (c *scriptedClient) Forward(_ context.Context, _ int64, _ telegram.Source) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forwardCalls++
	if len(c.forwards) == 0 {
		c.t.Errorf("forward call %d has no scripted outcome", c.forwardCalls)
		return 0, &telegram.APIError{Op: "forward", Name: "TelegramBadRequest", Message: "unscripted forward"}
	}
	next := c.forwards[0]
	c.forwards = c.forwards[1:]
	return next.id, next.err
}

func (c *scriptedClient) Delete(_ context.Context, chatID, messageID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, sentMessage{chatID: chatID, messageID: messageID})
	if len(c.deleteErrs) > 0 {
		err := c.deleteErrs[0]
		c.deleteErrs = c.deleteErrs[1:]
		return err
	}
	return nil
}

func (c *scriptedClient) Pin(_ context.Context, chatID, messageID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinned = append(c.pinned, sentMessage{chatID: chatID, messageID: messageID})
	if len(c.pinErrs) > 0 {
		err := c.pinErrs[0]
		c.pinErrs = c.pinErrs[1:]
		return err
	}
	return nil
}

func (c *scriptedClient) SendText(_ context.Context, chatID int64, html string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts[chatID] = append(c.texts[chatID], html)
	return nil
}

type fixture struct {
	s      *Scheduler
	st     *store.Store
	client *scriptedClient
	bot    *store.Bot
	group  *store.Group
	slept  []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := teststore.New(t)
	client := newScriptedClient(t)

	bot, err := st.CreateBot(ctx, &store.Bot{
		BotID:    1000001,
		Username: "poster_bot",
		Token:    testToken,
		ServerIP: "10.0.0.1",
		MaxPosts: 50,
	})
	require.NoError(t, err)

	_, err = st.CreateSetting(ctx, &store.Setting{
		Name:               "default",
		IsCurrent:          true,
		HeartbeatIntervalS: 15,
		OnlineThresholdS:   60,
		OfflineThresholdS:  300,
		PaginationSize:     10,
		MaxPostsPerBot:     50,
		NotifyFailures:     true,
		RetentionEnabled:   true,
		RetentionDays:      30,
	})
	require.NoError(t, err)

	group, err := st.CreateGroup(ctx, &store.Group{
		TgChatID:      -1001234,
		Type:          store.GroupTypeSupergroup,
		Title:         "Deals",
		Username:      "deals_group",
		AssignedBotID: &bot.ID,
	})
	require.NoError(t, err)

	exporter := metrics.NewExporter(metrics.DefaultConfig())
	f := &fixture{st: st, client: client, bot: bot, group: group}
	f.s = &Scheduler{
		store:    st,
		client:   client,
		notifier: notify.NewAdminNotifier(st, client, exporter),
		metrics:  exporter,
		window:   ratelimit.New(ratelimit.DefaultMaxCalls, ratelimit.DefaultPeriod),
		spacing:  rate.NewLimiter(rate.Limit(1000), 1),
		token:    testToken,
		tick:     time.Second,
		now:      time.Now,
		sleep: func(_ context.Context, d time.Duration) error {
			f.slept = append(f.slept, d)
			return nil
		},
	}
	return f
}

func (f *fixture) seedPost(t *testing.T, mutate func(*store.Post)) *store.Post {
	t.Helper()
	name := "launch"
	post := &store.Post{
		GroupID:               f.group.ID,
		BotID:                 &f.bot.ID,
		Status:                store.PostStatusActive,
		TargetChatID:          f.group.TgChatID,
		DistributionName:      &name,
		SourceChannelUsername: "deals",
		SourceMessageID:       42,
		TargetAttempts:        -1,
		NotifyOnFailure:       true,
	}
	if mutate != nil {
		mutate(post)
	}
	created, err := f.st.CreatePost(context.Background(), post)
	require.NoError(t, err)
	return created
}

func (f *fixture) attempts(t *testing.T, postID string) []*store.PostAttempt {
	t.Helper()
	list, err := f.st.ListPostAttempts(context.Background(), &store.FindPostAttempt{PostID: &postID})
	require.NoError(t, err)
	return list
}

func (f *fixture) seedAdmin(t *testing.T, tgUserID int64) {
	t.Helper()
	_, err := f.st.UpsertUser(context.Background(), &store.User{
		TgUserID:    tgUserID,
		Username:    "admin",
		IsSuperuser: true,
	})
	require.NoError(t, err)
}

func transientErr(msg string) error {
	return &telegram.APIError{Op: "forward", Name: "TelegramNetworkError", Message: msg}
}

func TestCycleCompletesPostAfterTargetAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.seedPost(t, func(p *store.Post) { p.TargetAttempts = 3 })

	f.client.queueForward(101, nil)
	f.client.queueForward(102, nil)
	f.client.queueForward(103, nil)

	for i := 0; i < 3; i++ {
		examined, err := f.s.cycle(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, examined)
	}

	got, err := f.st.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, store.PostStatusDone, got.Status)
	assert.Equal(t, int32(3), got.CountAttempts)
	assert.NotZero(t, got.LastAttemptTs)

	attempts := f.attempts(t, post.ID)
	require.Len(t, attempts, 3)
	seen := map[int64]bool{}
	for _, a := range attempts {
		assert.True(t, a.Success)
		require.NotNil(t, a.MessageID)
		seen[*a.MessageID] = true
		assert.Equal(t, f.bot.ID, a.BotID)
		assert.Equal(t, f.group.ID, a.GroupID)
		assert.Equal(t, f.group.TgChatID, a.ChatID)
	}
	assert.Equal(t, map[int64]bool{101: true, 102: true, 103: true}, seen)

	// Done is terminal: the post is still fetched but never attempted again.
	examined, err := f.s.cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, examined)
	assert.Equal(t, 3, f.client.forwardCalls)

	group, err := f.st.GetGroup(ctx, &store.FindGroup{ID: &f.group.ID})
	require.NoError(t, err)
	assert.NotZero(t, group.LastPostTs)
}

func TestTransientStormSkipsWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.seedPost(t, nil)

	f.client.queueForward(0, transientErr("request timeout"))
	f.client.queueForward(0, transientErr("bad gateway"))
	f.client.queueForward(0, transientErr("request timeout"))

	_, err := f.s.cycle(ctx)
	require.NoError(t, err)

	// Three tries in one tick, two fixed backoffs between them.
	assert.Equal(t, 3, f.client.forwardCalls)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, f.slept)

	assert.Empty(t, f.attempts(t, post.ID))
	got, err := f.st.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, store.PostStatusActive, got.Status)
	assert.Zero(t, got.CountAttempts)
	assert.Zero(t, got.LastAttemptTs)
	assert.Empty(t, got.LastError)
}

func TestFailureWritesAttemptAndErrorState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.seedPost(t, func(p *store.Post) { p.NotifyOnFailure = false })

	f.client.queueForward(0, &telegram.APIError{
		Op: "forward", Name: "TelegramBadRequest", Code: 400,
		Message: "Bad Request: chat not found",
	})

	_, err := f.s.cycle(ctx)
	require.NoError(t, err)

	// Non-transient failures are not retried within the tick.
	assert.Equal(t, 1, f.client.forwardCalls)

	attempts := f.attempts(t, post.ID)
	require.Len(t, attempts, 1)
	assert.False(t, attempts[0].Success)
	assert.Nil(t, attempts[0].MessageID)
	assert.Equal(t, "TelegramBadRequest", attempts[0].ErrorCode)
	assert.Contains(t, attempts[0].ErrorMsg, "chat not found")

	got, err := f.st.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, store.PostStatusError, got.Status)
	assert.Contains(t, got.LastError, "chat not found")
	assert.Zero(t, got.CountAttempts)

	// Escalation is gated on the post's notify flag; the group survives.
	_, err = f.st.GetGroup(ctx, &store.FindGroup{ID: &f.group.ID})
	require.NoError(t, err)
	assert.Empty(t, f.client.texts)
}

func TestCriticalFailureEscalates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedAdmin(t, 900)
	post := f.seedPost(t, nil)

	f.client.queueForward(0, &telegram.APIError{
		Op: "forward", Name: "TelegramForbiddenError", Code: 403,
		Message: "Forbidden: bot was kicked from the supergroup chat",
	})

	_, err := f.s.cycle(ctx)
	require.NoError(t, err)

	require.Len(t, f.client.texts[900], 1)
	alert := f.client.texts[900][0]
	assert.Contains(t, alert, "DISTRIBUTION FAILURE")
	assert.Contains(t, alert, "@poster_bot")
	assert.Contains(t, alert, "Deals")

	// The group is dropped and the post cascades away with it.
	_, err = f.st.GetGroup(ctx, &store.FindGroup{ID: &f.group.ID})
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.st.GetPost(ctx, post.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	examined, err := f.s.cycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, examined)
	assert.Equal(t, 1, f.client.forwardCalls)
}

func TestUnknownFailureDoesNotEscalate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedAdmin(t, 900)
	post := f.seedPost(t, nil)

	f.client.queueForward(0, &telegram.APIError{
		Op: "forward", Name: "TelegramBadRequest", Code: 400,
		Message: "Bad Request: message to forward not found",
	})

	_, err := f.s.cycle(ctx)
	require.NoError(t, err)

	got, err := f.st.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, store.PostStatusError, got.Status)

	_, err = f.st.GetGroup(ctx, &store.FindGroup{ID: &f.group.ID})
	require.NoError(t, err)
	assert.Empty(t, f.client.texts)
}

func TestPinModuloWithServiceNoticeCleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	every := int32(2)
	f.seedPost(t, func(p *store.Post) {
		p.PinAfterPost = true
		p.NumAttemptForPin = &every
	})

	for id := int64(201); id <= 204; id++ {
		f.client.queueForward(id, nil)
	}
	for i := 0; i < 4; i++ {
		_, err := f.s.cycle(ctx)
		require.NoError(t, err)
	}

	// Attempts 2 and 4 pin; each pin removes the service notice at id+1.
	assert.Equal(t, []sentMessage{
		{chatID: f.group.TgChatID, messageID: 202},
		{chatID: f.group.TgChatID, messageID: 204},
	}, f.client.pinned)
	assert.Equal(t, []sentMessage{
		{chatID: f.group.TgChatID, messageID: 203},
		{chatID: f.group.TgChatID, messageID: 205},
	}, f.client.deleted)
}

func TestPinEveryAttemptWhenThresholdUnset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPost(t, func(p *store.Post) { p.PinAfterPost = true })

	f.client.queueForward(301, nil)
	f.client.queueForward(302, nil)
	for i := 0; i < 2; i++ {
		_, err := f.s.cycle(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, []sentMessage{
		{chatID: f.group.TgChatID, messageID: 301},
		{chatID: f.group.TgChatID, messageID: 302},
	}, f.client.pinned)
}

func TestPinHonorsFloodControl(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPost(t, func(p *store.Post) { p.PinAfterPost = true })

	f.client.queueForward(401, nil)
	f.client.queuePinErr(&telegram.APIError{
		Op: "pin", Name: "TelegramRetryAfter", Code: 429,
		RetryAfter: 3, Message: "Too Many Requests: retry after 3",
	}, nil)

	_, err := f.s.cycle(ctx)
	require.NoError(t, err)

	require.Len(t, f.client.pinned, 2)
	assert.Contains(t, f.slept, 3*time.Second)
	// The notice delete still runs after the retried pin lands.
	assert.Equal(t, []sentMessage{{chatID: f.group.TgChatID, messageID: 402}}, f.client.deleted)
}

func TestDeletePreviousBeforeForward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.seedPost(t, func(p *store.Post) { p.DeleteLastAttempt = true })

	f.client.queueForward(501, nil)
	_, err := f.s.cycle(ctx)
	require.NoError(t, err)
	// Nothing to delete on the first pass.
	assert.Empty(t, f.client.deleted)

	f.client.queueForward(502, nil)
	_, err = f.s.cycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, []sentMessage{{chatID: f.group.TgChatID, messageID: 501}}, f.client.deleted)

	attempts := f.attempts(t, post.ID)
	require.Len(t, attempts, 2)
	byMessage := map[int64]*store.PostAttempt{}
	for _, a := range attempts {
		require.NotNil(t, a.MessageID)
		byMessage[*a.MessageID] = a
	}
	assert.True(t, byMessage[501].Deleted)
	assert.False(t, byMessage[502].Deleted)
}

func TestDeletePreviousHonorsFloodControl(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPost(t, func(p *store.Post) { p.DeleteLastAttempt = true })

	f.client.queueForward(601, nil)
	_, err := f.s.cycle(ctx)
	require.NoError(t, err)

	f.client.queueDeleteErr(&telegram.APIError{
		Op: "delete", Name: "TelegramRetryAfter", Code: 429,
		RetryAfter: 1, Message: "Too Many Requests: retry after 1",
	}, nil)
	f.client.queueForward(602, nil)
	_, err = f.s.cycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, []sentMessage{
		{chatID: f.group.TgChatID, messageID: 601},
		{chatID: f.group.TgChatID, messageID: 601},
	}, f.client.deleted)
	assert.Contains(t, f.slept, time.Second)
}

func TestDeletePreviousTreatsMissingMessageAsDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.seedPost(t, func(p *store.Post) { p.DeleteLastAttempt = true })

	f.client.queueForward(701, nil)
	_, err := f.s.cycle(ctx)
	require.NoError(t, err)

	f.client.queueDeleteErr(&telegram.APIError{
		Op: "delete", Name: "TelegramBadRequest", Code: 400,
		Message: "Bad Request: message to delete not found",
	})
	f.client.queueForward(702, nil)
	_, err = f.s.cycle(ctx)
	require.NoError(t, err)

	attempts := f.attempts(t, post.ID)
	require.Len(t, attempts, 2)
	for _, a := range attempts {
		if *a.MessageID == 701 {
			assert.True(t, a.Deleted)
		}
	}
	// Only one delete call fired; the miss was not retried.
	assert.Len(t, f.client.deleted, 1)
}

func TestDeletePreviousGivesUpOnHardError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.seedPost(t, func(p *store.Post) { p.DeleteLastAttempt = true })

	f.client.queueForward(801, nil)
	_, err := f.s.cycle(ctx)
	require.NoError(t, err)

	f.client.queueDeleteErr(&telegram.APIError{
		Op: "delete", Name: "TelegramBadRequest", Code: 400,
		Message: "Bad Request: message can't be deleted",
	})
	f.client.queueForward(802, nil)
	_, err = f.s.cycle(ctx)
	require.NoError(t, err)

	// The forward still happens and the old attempt stays undeleted.
	assert.Equal(t, 2, f.client.forwardCalls)
	attempts := f.attempts(t, post.ID)
	require.Len(t, attempts, 2)
	for _, a := range attempts {
		if *a.MessageID == 801 {
			assert.False(t, a.Deleted)
		}
	}
}

func TestCycleSkipsIneligiblePosts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPost(t, func(p *store.Post) { p.PauseBetweenAttemptsS = 3600 })

	f.client.queueForward(901, nil)
	examined, err := f.s.cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, examined)
	assert.Equal(t, 1, f.client.forwardCalls)

	// Within the pause the post is fetched but never attempted.
	examined, err = f.s.cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, examined)
	assert.Equal(t, 1, f.client.forwardCalls)
}

func TestCycleSkipsPausedAndDeactivated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.seedPost(t, func(p *store.Post) { p.Status = store.PostStatusPaused })

	examined, err := f.s.cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, examined)
	assert.Zero(t, f.client.forwardCalls)

	name := *post.DistributionName
	_, err = f.st.ResumePostsByDistribution(ctx, &name)
	require.NoError(t, err)

	deactivated := true
	_, err = f.st.UpdateBot(ctx, &store.UpdateBot{
		ID: f.bot.ID, Version: f.bot.Version, Deactivated: &deactivated,
	})
	require.NoError(t, err)

	// A deactivated node does no posting work at all.
	examined, err = f.s.cycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, examined)
	assert.Zero(t, f.client.forwardCalls)
}

func TestCycleWithoutRegistrationIsNoop(t *testing.T) {
	st := teststore.New(t)
	client := newScriptedClient(t)
	exporter := metrics.NewExporter(metrics.DefaultConfig())
	s := &Scheduler{
		store:   st,
		client:  client,
		metrics: exporter,
		window:  ratelimit.New(ratelimit.DefaultMaxCalls, ratelimit.DefaultPeriod),
		spacing: rate.NewLimiter(rate.Limit(1000), 1),
		token:   testToken,
		now:     time.Now,
		sleep:   func(context.Context, time.Duration) error { return nil },
	}

	examined, err := s.cycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, examined)
	assert.Zero(t, client.forwardCalls)
}

func TestSweepAttemptsPrunesOldRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.seedPost(t, nil)

	old := time.Now().Add(-40 * 24 * time.Hour).Unix()
	msg := int64(11)
	_, err := f.st.CreatePostAttempt(ctx, &store.PostAttempt{
		CreatedTs: old,
		PostID:    post.ID,
		BotID:     f.bot.ID,
		GroupID:   f.group.ID,
		ChatID:    post.TargetChatID,
		MessageID: &msg,
		Success:   true,
	})
	require.NoError(t, err)

	fresh := int64(12)
	_, err = f.st.CreatePostAttempt(ctx, &store.PostAttempt{
		PostID:    post.ID,
		BotID:     f.bot.ID,
		GroupID:   f.group.ID,
		ChatID:    post.TargetChatID,
		MessageID: &fresh,
		Success:   true,
	})
	require.NoError(t, err)

	f.s.sweepAttempts(ctx)

	attempts := f.attempts(t, post.ID)
	require.Len(t, attempts, 1)
	assert.Equal(t, fresh, *attempts[0].MessageID)
}

func TestSweepAttemptsRespectsRetentionToggle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.seedPost(t, nil)

	setting, err := f.st.GetCurrentSetting(ctx)
	require.NoError(t, err)
	off := false
	_, err = f.st.UpdateSetting(ctx, &store.UpdateSetting{
		ID: setting.ID, Version: setting.Version, RetentionEnabled: &off,
	})
	require.NoError(t, err)

	old := time.Now().Add(-365 * 24 * time.Hour).Unix()
	msg := int64(21)
	_, err = f.st.CreatePostAttempt(ctx, &store.PostAttempt{
		CreatedTs: old,
		PostID:    post.ID,
		BotID:     f.bot.ID,
		GroupID:   f.group.ID,
		ChatID:    post.TargetChatID,
		MessageID: &msg,
		Success:   true,
	})
	require.NoError(t, err)

	f.s.sweepAttempts(ctx)
	assert.Len(t, f.attempts(t, post.ID), 1)
}

func TestForwardRecoversAfterTransientFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.seedPost(t, nil)

	f.client.queueForward(0, transientErr("network error"))
	f.client.queueForward(1001, nil)

	_, err := f.s.cycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, f.client.forwardCalls)
	attempts := f.attempts(t, post.ID)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Success)
	assert.Equal(t, int64(1001), *attempts[0].MessageID)

	got, err := f.st.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), got.CountAttempts)
	assert.Equal(t, store.PostStatusActive, got.Status)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	f := newFixture(t)
	f.s.tick = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.s.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}
