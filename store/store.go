package store

import (
	"context"
	"database/sql"

	"github.com/autopostd/autopostd/internal/profile"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) GetDB() *sql.DB {
	return s.driver.GetDB()
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

// RunInTx runs fn against a Store bound to a single transaction. This is the
// unit-of-work boundary: services wrap each multi-statement operation in one
// call and never nest them.
func (s *Store) RunInTx(ctx context.Context, fn func(*Store) error) error {
	return s.driver.RunInTx(ctx, func(txDriver Driver) error {
		return fn(&Store{profile: s.profile, driver: txDriver})
	})
}

// Bot methods.

func (s *Store) CreateBot(ctx context.Context, create *Bot) (*Bot, error) {
	normalizeRow(&create.ID, &create.CreatedTs, &create.UpdatedTs, &create.Version)
	return s.driver.CreateBot(ctx, create)
}

func (s *Store) ListBots(ctx context.Context, find *FindBot) ([]*Bot, error) {
	return s.driver.ListBots(ctx, find)
}

// GetBot returns the single bot matching find, or ErrNotFound.
func (s *Store) GetBot(ctx context.Context, find *FindBot) (*Bot, error) {
	list, err := s.driver.ListBots(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

func (s *Store) UpdateBot(ctx context.Context, update *UpdateBot) (*Bot, error) {
	return s.driver.UpdateBot(ctx, update)
}

func (s *Store) UpdateBotHeartbeat(ctx context.Context, id string, ts int64) error {
	return s.driver.UpdateBotHeartbeat(ctx, id, ts)
}

func (s *Store) MarkBotDeactivated(ctx context.Context, id string) error {
	return s.driver.MarkBotDeactivated(ctx, id)
}

func (s *Store) HasBotIPConflict(ctx context.Context, serverIP, token string) (bool, error) {
	return s.driver.HasBotIPConflict(ctx, serverIP, token)
}

func (s *Store) BotLoads(ctx context.Context) ([]*BotLoad, error) {
	return s.driver.BotLoads(ctx)
}

// Group methods.

func (s *Store) CreateGroup(ctx context.Context, create *Group) (*Group, error) {
	normalizeRow(&create.ID, &create.CreatedTs, &create.UpdatedTs, &create.Version)
	return s.driver.CreateGroup(ctx, create)
}

func (s *Store) ListGroups(ctx context.Context, find *FindGroup) ([]*Group, error) {
	return s.driver.ListGroups(ctx, find)
}

// GetGroup returns the single group matching find, or ErrNotFound.
func (s *Store) GetGroup(ctx context.Context, find *FindGroup) (*Group, error) {
	list, err := s.driver.ListGroups(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

func (s *Store) AssignGroupsToBot(ctx context.Context, botID string, chatIDs []int64) (*AssignResult, error) {
	return s.driver.AssignGroupsToBot(ctx, botID, chatIDs)
}

func (s *Store) UpdateGroupMetadata(ctx context.Context, update *UpdateGroupMetadata) error {
	return s.driver.UpdateGroupMetadata(ctx, update)
}

func (s *Store) UpdateGroupLastPost(ctx context.Context, id string, ts int64) error {
	return s.driver.UpdateGroupLastPost(ctx, id, ts)
}

func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	return s.driver.DeleteGroup(ctx, id)
}

func (s *Store) CountGroupsByBot(ctx context.Context, botID string) (int32, error) {
	return s.driver.CountGroupsByBot(ctx, botID)
}

// Setting methods.

func (s *Store) CreateSetting(ctx context.Context, create *Setting) (*Setting, error) {
	normalizeRow(&create.ID, &create.CreatedTs, &create.UpdatedTs, &create.Version)
	return s.driver.CreateSetting(ctx, create)
}

func (s *Store) GetCurrentSetting(ctx context.Context) (*Setting, error) {
	return s.driver.GetCurrentSetting(ctx)
}

func (s *Store) UpdateSetting(ctx context.Context, update *UpdateSetting) (*Setting, error) {
	return s.driver.UpdateSetting(ctx, update)
}

// Post methods.

func (s *Store) CreatePost(ctx context.Context, create *Post) (*Post, error) {
	normalizeRow(&create.ID, &create.CreatedTs, &create.UpdatedTs, &create.Version)
	return s.driver.CreatePost(ctx, create)
}

func (s *Store) ListPosts(ctx context.Context, find *FindPost) ([]*Post, error) {
	return s.driver.ListPosts(ctx, find)
}

// GetPost returns the post with the given id, or ErrNotFound.
func (s *Store) GetPost(ctx context.Context, id string) (*Post, error) {
	list, err := s.driver.ListPosts(ctx, &FindPost{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

func (s *Store) ListPostsByBot(ctx context.Context, botID string, limit int32) ([]*Post, error) {
	return s.driver.ListPostsByBot(ctx, botID, limit)
}

func (s *Store) ListPostsByDistribution(ctx context.Context, name *string) ([]*Post, error) {
	return s.driver.ListPostsByDistribution(ctx, name)
}

func (s *Store) IncrementPostAttempts(ctx context.Context, id string, ts int64) error {
	return s.driver.IncrementPostAttempts(ctx, id, ts)
}

func (s *Store) MarkPostError(ctx context.Context, id string, lastError string) error {
	return s.driver.MarkPostError(ctx, id, lastError)
}

func (s *Store) MarkPostDone(ctx context.Context, id string) error {
	return s.driver.MarkPostDone(ctx, id)
}

func (s *Store) PausePostsByDistribution(ctx context.Context, name *string) (int64, error) {
	return s.driver.PausePostsByDistribution(ctx, name)
}

func (s *Store) ResumePostsByDistribution(ctx context.Context, name *string) (int64, error) {
	return s.driver.ResumePostsByDistribution(ctx, name)
}

func (s *Store) SetNotifyByDistribution(ctx context.Context, name *string, notify bool) (int64, error) {
	return s.driver.SetNotifyByDistribution(ctx, name, notify)
}

func (s *Store) DeleteDistribution(ctx context.Context, name *string) (int64, error) {
	return s.driver.DeleteDistribution(ctx, name)
}

func (s *Store) DeleteDistributionGroups(ctx context.Context, name *string, groupIDs []string) (int64, error) {
	return s.driver.DeleteDistributionGroups(ctx, name, groupIDs)
}

func (s *Store) DeleteActivePostsByGroups(ctx context.Context, groupIDs []string) (int64, error) {
	return s.driver.DeleteActivePostsByGroups(ctx, groupIDs)
}

func (s *Store) PausePostsByBot(ctx context.Context, botID string) (int64, error) {
	return s.driver.PausePostsByBot(ctx, botID)
}

func (s *Store) UnassignPostsByBot(ctx context.Context, botID string) (int64, error) {
	return s.driver.UnassignPostsByBot(ctx, botID)
}

func (s *Store) GroupsDistributionUsage(ctx context.Context, groupIDs []string) (map[string]string, error) {
	return s.driver.GroupsDistributionUsage(ctx, groupIDs)
}

func (s *Store) ListDistributions(ctx context.Context, limit, offset int32) ([]*Distribution, error) {
	return s.driver.ListDistributions(ctx, limit, offset)
}

func (s *Store) CountDistributions(ctx context.Context) (int32, error) {
	return s.driver.CountDistributions(ctx)
}

func (s *Store) GetDistributionSummary(ctx context.Context, name *string) (*Distribution, error) {
	return s.driver.GetDistributionSummary(ctx, name)
}

func (s *Store) EarliestPostByDistribution(ctx context.Context, name *string) (*Post, error) {
	return s.driver.EarliestPostByDistribution(ctx, name)
}

// PostAttempt methods.

func (s *Store) CreatePostAttempt(ctx context.Context, create *PostAttempt) (*PostAttempt, error) {
	normalizeRow(&create.ID, &create.CreatedTs, &create.UpdatedTs, &create.Version)
	return s.driver.CreatePostAttempt(ctx, create)
}

func (s *Store) ListPostAttempts(ctx context.Context, find *FindPostAttempt) ([]*PostAttempt, error) {
	return s.driver.ListPostAttempts(ctx, find)
}

func (s *Store) LatestDeletableAttempt(ctx context.Context, postID string) (*PostAttempt, error) {
	return s.driver.LatestDeletableAttempt(ctx, postID)
}

func (s *Store) MarkAttemptDeleted(ctx context.Context, id string) error {
	return s.driver.MarkAttemptDeleted(ctx, id)
}

func (s *Store) DeleteAttemptsOlderThan(ctx context.Context, ts int64) (int64, error) {
	return s.driver.DeleteAttemptsOlderThan(ctx, ts)
}

func (s *Store) CountAttemptsSince(ctx context.Context, botID string, ts int64) (int64, error) {
	return s.driver.CountAttemptsSince(ctx, botID, ts)
}

// User methods.

func (s *Store) UpsertUser(ctx context.Context, upsert *User) (*User, error) {
	normalizeRow(&upsert.ID, &upsert.CreatedTs, &upsert.UpdatedTs, &upsert.Version)
	return s.driver.UpsertUser(ctx, upsert)
}

func (s *Store) ListSuperusers(ctx context.Context, limit int32) ([]*User, error) {
	return s.driver.ListSuperusers(ctx, limit)
}
