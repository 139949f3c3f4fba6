package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store database drivers. Every method maps to a
// single statement or a small fixed statement sequence; multi-statement units
// of work compose through RunInTx.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Migrate brings the schema up to date. Must be called on a driver that
	// is not inside a transaction.
	Migrate(ctx context.Context) error

	// RunInTx runs fn against a driver bound to one transaction: commit on
	// nil, rollback otherwise. Calling it on a transactional driver returns
	// ErrNestedTx.
	RunInTx(ctx context.Context, fn func(Driver) error) error

	// Bot repository.
	CreateBot(ctx context.Context, create *Bot) (*Bot, error)
	ListBots(ctx context.Context, find *FindBot) ([]*Bot, error)
	UpdateBot(ctx context.Context, update *UpdateBot) (*Bot, error)
	// UpdateBotHeartbeat is a direct update without a version bump.
	UpdateBotHeartbeat(ctx context.Context, id string, ts int64) error
	// MarkBotDeactivated is a direct update without a version bump: the kill
	// switch never fails on a stale version.
	MarkBotDeactivated(ctx context.Context, id string) error
	// HasBotIPConflict reports whether a different non-deactivated bot holds
	// the ip.
	HasBotIPConflict(ctx context.Context, serverIP, token string) (bool, error)
	BotLoads(ctx context.Context) ([]*BotLoad, error)

	// Group repository.
	CreateGroup(ctx context.Context, create *Group) (*Group, error)
	ListGroups(ctx context.Context, find *FindGroup) ([]*Group, error)
	AssignGroupsToBot(ctx context.Context, botID string, chatIDs []int64) (*AssignResult, error)
	// UpdateGroupMetadata is a direct update without a version bump.
	UpdateGroupMetadata(ctx context.Context, update *UpdateGroupMetadata) error
	// UpdateGroupLastPost is a direct update without a version bump.
	UpdateGroupLastPost(ctx context.Context, id string, ts int64) error
	DeleteGroup(ctx context.Context, id string) error
	CountGroupsByBot(ctx context.Context, botID string) (int32, error)

	// Setting repository.
	CreateSetting(ctx context.Context, create *Setting) (*Setting, error)
	GetCurrentSetting(ctx context.Context) (*Setting, error)
	UpdateSetting(ctx context.Context, update *UpdateSetting) (*Setting, error)

	// Post repository.
	CreatePost(ctx context.Context, create *Post) (*Post, error)
	ListPosts(ctx context.Context, find *FindPost) ([]*Post, error)
	// ListPostsByBot returns the newest posts whose group is bound to the
	// bot, all statuses, for the scheduler to filter.
	ListPostsByBot(ctx context.Context, botID string, limit int32) ([]*Post, error)
	// ListPostsByDistribution returns the members of one distribution class,
	// newest first. A nil name selects the unnamed class.
	ListPostsByDistribution(ctx context.Context, name *string) ([]*Post, error)
	// IncrementPostAttempts is a direct update without a version bump.
	IncrementPostAttempts(ctx context.Context, id string, ts int64) error
	MarkPostError(ctx context.Context, id string, lastError string) error
	MarkPostDone(ctx context.Context, id string) error
	PausePostsByDistribution(ctx context.Context, name *string) (int64, error)
	ResumePostsByDistribution(ctx context.Context, name *string) (int64, error)
	SetNotifyByDistribution(ctx context.Context, name *string, notify bool) (int64, error)
	DeleteDistribution(ctx context.Context, name *string) (int64, error)
	DeleteDistributionGroups(ctx context.Context, name *string, groupIDs []string) (int64, error)
	DeleteActivePostsByGroups(ctx context.Context, groupIDs []string) (int64, error)
	PausePostsByBot(ctx context.Context, botID string) (int64, error)
	UnassignPostsByBot(ctx context.Context, botID string) (int64, error)
	GroupsDistributionUsage(ctx context.Context, groupIDs []string) (map[string]string, error)
	ListDistributions(ctx context.Context, limit, offset int32) ([]*Distribution, error)
	CountDistributions(ctx context.Context) (int32, error)
	GetDistributionSummary(ctx context.Context, name *string) (*Distribution, error)
	EarliestPostByDistribution(ctx context.Context, name *string) (*Post, error)

	// PostAttempt repository.
	CreatePostAttempt(ctx context.Context, create *PostAttempt) (*PostAttempt, error)
	ListPostAttempts(ctx context.Context, find *FindPostAttempt) ([]*PostAttempt, error)
	// LatestDeletableAttempt returns the newest successful, not yet deleted
	// attempt carrying a message id, or ErrNotFound.
	LatestDeletableAttempt(ctx context.Context, postID string) (*PostAttempt, error)
	MarkAttemptDeleted(ctx context.Context, id string) error
	DeleteAttemptsOlderThan(ctx context.Context, ts int64) (int64, error)
	CountAttemptsSince(ctx context.Context, botID string, ts int64) (int64, error)

	// User repository.
	UpsertUser(ctx context.Context, upsert *User) (*User, error)
	ListSuperusers(ctx context.Context, limit int32) ([]*User, error)
}
