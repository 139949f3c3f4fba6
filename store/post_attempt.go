package store

// PostAttempt is the evidence of one forward try. Attempts cascade away with
// their post; bot_id, group_id and chat_id are denormalized for audit
// queries that never touch the parent tables.
type PostAttempt struct {
	ID        string
	CreatedTs int64
	UpdatedTs int64
	Version   int32

	PostID  string
	BotID   string
	GroupID string
	ChatID  int64
	// MessageID is nil exactly when the attempt failed.
	MessageID *int64
	Success   bool
	// Deleted marks the forwarded message as removed by the delete-previous
	// protocol.
	Deleted   bool
	ErrorCode string
	ErrorMsg  string
}

type FindPostAttempt struct {
	PostID  *string
	Success *bool
	Limit   *int32
}
