package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopostd/autopostd/store"
	"github.com/autopostd/autopostd/store/teststore"
)

func TestPostEligible(t *testing.T) {
	base := store.Post{
		Status:                store.PostStatusActive,
		TargetAttempts:        -1,
		PauseBetweenAttemptsS: 60,
	}
	now := int64(10_000)

	tests := []struct {
		name   string
		mutate func(*store.Post)
		want   bool
	}{
		{"never attempted", nil, true},
		{"paused", func(p *store.Post) { p.Status = store.PostStatusPaused }, false},
		{"errored", func(p *store.Post) { p.Status = store.PostStatusError }, false},
		{"done", func(p *store.Post) { p.Status = store.PostStatusDone }, false},
		{"target reached", func(p *store.Post) { p.TargetAttempts = 3; p.CountAttempts = 3 }, false},
		{"below target", func(p *store.Post) { p.TargetAttempts = 3; p.CountAttempts = 2 }, true},
		{"infinite target keeps going", func(p *store.Post) { p.CountAttempts = 1 << 20 }, true},
		{"inside pause", func(p *store.Post) { p.LastAttemptTs = now - 59 }, false},
		{"pause boundary", func(p *store.Post) { p.LastAttemptTs = now - 60 }, true},
		{"zero pause repeats immediately", func(p *store.Post) {
			p.PauseBetweenAttemptsS = 0
			p.LastAttemptTs = now
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			if tt.mutate != nil {
				tt.mutate(&p)
			}
			assert.Equal(t, tt.want, p.Eligible(now))
		})
	}
}

func TestPostShouldPin(t *testing.T) {
	pin := func(k int32) *int32 { return &k }

	tests := []struct {
		name  string
		post  store.Post
		count int32
		want  bool
	}{
		{"pin disabled", store.Post{}, 1, false},
		{"nil threshold pins every attempt", store.Post{PinAfterPost: true}, 7, true},
		{"threshold one pins every attempt", store.Post{PinAfterPost: true, NumAttemptForPin: pin(1)}, 2, true},
		{"zero threshold pins every attempt", store.Post{PinAfterPost: true, NumAttemptForPin: pin(0)}, 3, true},
		{"modulo hit", store.Post{PinAfterPost: true, NumAttemptForPin: pin(3)}, 6, true},
		{"modulo miss", store.Post{PinAfterPost: true, NumAttemptForPin: pin(3)}, 7, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.post.ShouldPin(tt.count))
		})
	}
}

func TestCreatePostReplacesSameSource(t *testing.T) {
	st := teststore.New(t)
	ctx := context.Background()
	bot := seedBot(t, st, 1)
	g := seedGroup(t, st, bot, -100)

	old := seedPost(t, st, g, nil)
	seedAttempt(t, st, old, nil)
	require.NoError(t, st.IncrementPostAttempts(ctx, old.ID, 1234))

	// Same (group, source channel, source message) triple replaces the row.
	fresh := seedPost(t, st, g, nil)
	assert.NotEqual(t, old.ID, fresh.ID)

	_, err := st.GetPost(ctx, old.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	attempts, err := st.ListPostAttempts(ctx, &store.FindPostAttempt{PostID: &old.ID})
	require.NoError(t, err)
	assert.Empty(t, attempts, "the old row takes its attempts with it")

	current, err := st.GetPost(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Zero(t, current.CountAttempts)
}

func TestCreatePostRejectsSecondLivePostPerGroup(t *testing.T) {
	st := teststore.New(t)
	ctx := context.Background()
	bot := seedBot(t, st, 1)
	g := seedGroup(t, st, bot, -100)

	first := seedPost(t, st, g, nil)

	_, err := st.CreatePost(ctx, &store.Post{
		GroupID:               g.ID,
		Status:                store.PostStatusActive,
		TargetChatID:          g.TgChatID,
		SourceChannelUsername: "deals",
		SourceMessageID:       43, // different source, same group
		TargetAttempts:        -1,
	})
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	// A done post no longer occupies the group.
	require.NoError(t, st.MarkPostDone(ctx, first.ID))
	_, err = st.CreatePost(ctx, &store.Post{
		GroupID:               g.ID,
		Status:                store.PostStatusActive,
		TargetChatID:          g.TgChatID,
		SourceChannelUsername: "deals",
		SourceMessageID:       43,
		TargetAttempts:        -1,
	})
	assert.NoError(t, err)
}

func TestMarkPostDoneIsTerminal(t *testing.T) {
	st := teststore.New(t)
	ctx := context.Background()
	bot := seedBot(t, st, 1)
	g := seedGroup(t, st, bot, -100)
	p := seedPost(t, st, g, nil)

	require.NoError(t, st.MarkPostDone(ctx, p.ID))
	require.NoError(t, st.MarkPostError(ctx, p.ID, "late failure"))

	got, err := st.GetPost(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, store.PostStatusDone, got.Status)
	assert.Empty(t, got.LastError)
}

// seedDistributions lays out three classes with pinned ids and timestamps:
//
//	launch    post-b1 (done)                         created 2000
//	breakfast post-a1 (active), post-a2 (error)      created 1000, 1100
//	unnamed   post-n1 (active), post-n2 (paused)     created 3000, 500
func seedDistributions(t *testing.T, st *store.Store) (groups map[string]*store.Group) {
	t.Helper()
	ctx := context.Background()
	bot := seedBot(t, st, 1)

	g1 := seedGroup(t, st, bot, -101)
	g2 := seedGroup(t, st, bot, -102)
	g3 := seedGroup(t, st, bot, -103)
	g4 := seedGroup(t, st, bot, -104)
	g5 := seedGroup(t, st, bot, -105)

	seedPost(t, st, g1, func(p *store.Post) {
		p.ID, p.CreatedTs = "post-a1", 1000
		p.DistributionName = strp("breakfast")
	})
	p2 := seedPost(t, st, g2, func(p *store.Post) {
		p.ID, p.CreatedTs = "post-a2", 1100
		p.DistributionName = strp("breakfast")
		p.NotifyOnFailure = false
	})
	p3 := seedPost(t, st, g3, func(p *store.Post) {
		p.ID, p.CreatedTs = "post-b1", 2000
		p.DistributionName = strp("launch")
	})
	seedPost(t, st, g4, func(p *store.Post) {
		p.ID, p.CreatedTs = "post-n1", 3000
	})
	seedPost(t, st, g5, func(p *store.Post) {
		p.ID, p.CreatedTs = "post-n2", 500
		p.Status = store.PostStatusPaused
	})

	require.NoError(t, st.MarkPostError(ctx, p2.ID, "bot was kicked"))
	require.NoError(t, st.MarkPostDone(ctx, p3.ID))

	return map[string]*store.Group{"g1": g1, "g3": g3, "g5": g5}
}

func TestListDistributionsAggregates(t *testing.T) {
	st := teststore.New(t)
	ctx := context.Background()
	seedDistributions(t, st)

	list, err := st.ListDistributions(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)

	// Newest class first, by earliest member creation.
	launch, breakfast, unnamed := list[0], list[1], list[2]

	require.NotNil(t, launch.Name)
	assert.Equal(t, "launch", *launch.Name)
	assert.Equal(t, "post-b1", launch.ID)
	assert.Equal(t, int32(1), launch.DoneCount)
	assert.Equal(t, int32(1), launch.TotalPosts)
	assert.True(t, launch.NotifyOnFailure)

	require.NotNil(t, breakfast.Name)
	assert.Equal(t, "breakfast", *breakfast.Name)
	assert.Equal(t, "post-a1", breakfast.ID, "class id is the smallest member id")
	assert.Equal(t, int32(1), breakfast.ActiveCount)
	assert.Equal(t, int32(1), breakfast.ErrorCount)
	assert.Equal(t, int32(2), breakfast.TotalPosts)
	assert.False(t, breakfast.NotifyOnFailure, "one opted-out member silences the class")
	assert.Equal(t, int64(1000), breakfast.EarliestCreatedTs)
	assert.Equal(t, "deals", breakfast.SourceChannelUsername)

	assert.Nil(t, unnamed.Name, "unnamed posts form their own class")
	assert.Equal(t, "post-n1", unnamed.ID)
	assert.Equal(t, int32(1), unnamed.ActiveCount)
	assert.Equal(t, int32(1), unnamed.PausedCount)
	assert.Equal(t, int64(500), unnamed.EarliestCreatedTs)

	count, err := st.CountDistributions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(3), count)

	offset, err := st.ListDistributions(ctx, 10, 1)
	require.NoError(t, err)
	require.Len(t, offset, 2)
	require.NotNil(t, offset[0].Name)
	assert.Equal(t, "breakfast", *offset[0].Name)
}

func TestGetDistributionSummaryByClass(t *testing.T) {
	st := teststore.New(t)
	ctx := context.Background()
	seedDistributions(t, st)

	unnamed, err := st.GetDistributionSummary(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, unnamed.Name)
	assert.Equal(t, int32(2), unnamed.TotalPosts)

	_, err = st.GetDistributionSummary(ctx, strp("no such distribution"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEarliestPostByDistribution(t *testing.T) {
	st := teststore.New(t)
	ctx := context.Background()
	seedDistributions(t, st)

	donor, err := st.EarliestPostByDistribution(ctx, strp("breakfast"))
	require.NoError(t, err)
	assert.Equal(t, "post-a1", donor.ID)

	unnamed, err := st.EarliestPostByDistribution(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "post-n2", unnamed.ID)

	_, err = st.EarliestPostByDistribution(ctx, strp("no such distribution"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGroupsDistributionUsage(t *testing.T) {
	st := teststore.New(t)
	ctx := context.Background()
	groups := seedDistributions(t, st)

	usage, err := st.GroupsDistributionUsage(ctx, []string{
		groups["g1"].ID, groups["g3"].ID, groups["g5"].ID, "missing-group",
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		groups["g1"].ID: "post-a1",
		groups["g5"].ID: "post-n1",
	}, usage, "done posts and unknown groups do not occupy anything")
}

func TestListPostsByDistributionReturnsClassMembers(t *testing.T) {
	st := teststore.New(t)
	ctx := context.Background()
	seedDistributions(t, st)

	members, err := st.ListPostsByDistribution(ctx, strp("breakfast"))
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "post-a2", members[0].ID, "newest first")
	assert.Equal(t, "post-a1", members[1].ID)

	unnamed, err := st.ListPostsByDistribution(ctx, nil)
	require.NoError(t, err)
	require.Len(t, unnamed, 2)
	assert.Equal(t, "post-n1", unnamed[0].ID)
	assert.Equal(t, "post-n2", unnamed[1].ID)

	none, err := st.ListPostsByDistribution(ctx, strp("no such distribution"))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListPostsByBotFollowsGroupBinding(t *testing.T) {
	st := teststore.New(t)
	ctx := context.Background()
	bot1 := seedBot(t, st, 1)
	bot2 := seedBot(t, st, 2)
	g1 := seedGroup(t, st, bot1, -101)
	g2 := seedGroup(t, st, bot1, -102)
	g3 := seedGroup(t, st, bot2, -103)

	seedPost(t, st, g1, func(p *store.Post) { p.ID, p.CreatedTs = "post-1", 1000 })
	p2 := seedPost(t, st, g2, func(p *store.Post) { p.ID, p.CreatedTs = "post-2", 2000 })
	seedPost(t, st, g3, func(p *store.Post) { p.ID, p.CreatedTs = "post-3", 3000 })

	// Status is not filtered here; the scheduler decides eligibility.
	require.NoError(t, st.MarkPostError(ctx, p2.ID, "down"))

	posts, err := st.ListPostsByBot(ctx, bot1.ID, 50)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "post-2", posts[0].ID, "newest first")
	assert.Equal(t, "post-1", posts[1].ID)

	posts, err = st.ListPostsByBot(ctx, bot1.ID, 1)
	require.NoError(t, err)
	require.Len(t, posts, 1)
}

func TestBulkOpsScopeToDistributionClass(t *testing.T) {
	st := teststore.New(t)
	ctx := context.Background()
	seedDistributions(t, st)

	// Pausing the unnamed class must not touch named members.
	affected, err := st.PausePostsByDistribution(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected, "only the active unnamed post flips")

	breakfastActive, err := st.GetPost(ctx, "post-a1")
	require.NoError(t, err)
	assert.Equal(t, store.PostStatusActive, breakfastActive.Status)

	// Resume reactivates paused and errored members and clears the error.
	affected, err = st.ResumePostsByDistribution(ctx, strp("breakfast"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	recovered, err := st.GetPost(ctx, "post-a2")
	require.NoError(t, err)
	assert.Equal(t, store.PostStatusActive, recovered.Status)
	assert.Empty(t, recovered.LastError)

	affected, err = st.DeleteDistribution(ctx, strp("breakfast"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	count, err := st.CountDistributions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), count)
}
