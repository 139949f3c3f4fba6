package store

import "strings"

// Bot is the node's identity on the messaging platform. One row per token;
// a row is never deleted, only deactivated, so the fleet history stays
// auditable.
type Bot struct {
	ID        string
	CreatedTs int64
	UpdatedTs int64
	Version   int32

	BotID           int64 // platform numeric id, from get_me
	Username        string
	Name            string
	Token           string
	ServerIP        string
	LastHeartbeatTs int64
	SelfDestruction bool
	Deactivated     bool
	SettingsID      *string
	MaxPosts        int32

	// Code revision tracking, maintained by the heartbeat loop.
	TrackedBranch             string
	CurrentCommitHash         string
	LatestAvailableCommitHash string
	CommitsBehind             int32
	LastUpdateCheckTs         int64
	ForceUpdate               bool
}

// TelegramID returns the token prefix before ':'. Display helper only; the
// platform numeric id from get_me is the canonical identity.
func (b *Bot) TelegramID() string {
	if i := strings.IndexByte(b.Token, ':'); i > 0 {
		return b.Token[:i]
	}
	return b.Token
}

type FindBot struct {
	ID          *string
	Token       *string
	ServerIP    *string
	Deactivated *bool
}

// UpdateBot is a versioned partial update. Version must match the loaded
// row; on mismatch the driver returns ErrStaleVersion.
type UpdateBot struct {
	ID      string
	Version int32

	BotID           *int64
	Username        *string
	Name            *string
	ServerIP        *string
	SelfDestruction *bool
	Deactivated     *bool
	SettingsID      *string
	MaxPosts        *int32

	TrackedBranch             *string
	CurrentCommitHash         *string
	LatestAvailableCommitHash *string
	CommitsBehind             *int32
	LastUpdateCheckTs         *int64
	ForceUpdate               *bool

	UpdatedTs *int64
}

// BotLoad is one row of the fleet load report: how many non-done posts are
// currently routed through each bot.
type BotLoad struct {
	BotID       string
	Username    string
	ActivePosts int32
}
