package store

// Distribution is a read model, not a table: the equivalence class of posts
// sharing a distribution_name, with NULL names forming their own class. The
// ID is the lexicographically smallest member post id, stable as long as that
// member survives, and used only for referencing from the operator UI.
type Distribution struct {
	ID   string
	Name *string

	SourceChannelUsername string
	SourceChannelID       *int64
	SourceMessageID       int64

	// NotifyOnFailure is the logical AND over all members.
	NotifyOnFailure bool

	ActiveCount int32
	PausedCount int32
	ErrorCount  int32
	DoneCount   int32
	TotalPosts  int32

	EarliestCreatedTs int64
	LatestUpdatedTs   int64
}
