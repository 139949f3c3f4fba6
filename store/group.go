package store

// GroupType is the platform chat type.
type GroupType string

const (
	GroupTypeGroup      GroupType = "group"
	GroupTypeSupergroup GroupType = "supergroup"
	GroupTypeChannel    GroupType = "channel"
)

// Group is a target chat. A group bound to a bot means the bot has admin
// rights there and may post.
type Group struct {
	ID        string
	CreatedTs int64
	UpdatedTs int64
	Version   int32

	TgChatID            int64
	Type                GroupType
	Title               string
	Username            string
	LastPostTs          int64
	AssignedBotID       *string
	MetadataRefreshedTs int64
}

type FindGroup struct {
	ID            *string
	TgChatID      *int64
	AssignedBotID *string
	OnlyAssigned  bool
	Limit         *int32
	Offset        *int32
}

// UpdateGroupMetadata is applied with a direct UPDATE that does not bump the
// version column: a metadata refresh is idempotent and must not invalidate a
// concurrent posting update.
type UpdateGroupMetadata struct {
	ID                  string
	Title               *string
	Username            *string
	MetadataRefreshedTs int64
}

// AssignResult reports the three disjoint outcomes of binding chats to a bot.
type AssignResult struct {
	NewlyAssigned   []int64
	AlreadyAssigned []int64
	Reassigned      []ReassignedGroup
}

// ReassignedGroup names the bot a chat was taken from.
type ReassignedGroup struct {
	TgChatID      int64
	PreviousBotID string
}
