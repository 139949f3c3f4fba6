package store

// DrainMode selects what freeing a bot does to its posts.
type DrainMode int32

const (
	// DrainInstant unassigns the bot so posts can be picked up by a new bot
	// bound to the same groups.
	DrainInstant DrainMode = 0
	// DrainGraceful pauses the bot's posts without unassigning.
	DrainGraceful DrainMode = 1
)

// Setting is a profile of runtime tunables. Exactly one row is current at a
// time; all nodes sharing the database read the current one.
type Setting struct {
	ID        string
	CreatedTs int64
	UpdatedTs int64
	Version   int32

	Name               string
	IsCurrent          bool
	HeartbeatIntervalS int32
	OnlineThresholdS   int32
	OfflineThresholdS  int32
	PaginationSize     int32
	MaxPostsPerBot     int32
	NotifyRightsError  bool
	NotifyFailures     bool
	RetentionEnabled   bool
	RetentionDays      int32
	DefaultDrainMode   DrainMode
}

// UpdateSetting is a versioned partial update.
type UpdateSetting struct {
	ID      string
	Version int32

	Name               *string
	IsCurrent          *bool
	HeartbeatIntervalS *int32
	OnlineThresholdS   *int32
	OfflineThresholdS  *int32
	PaginationSize     *int32
	MaxPostsPerBot     *int32
	NotifyRightsError  *bool
	NotifyFailures     *bool
	RetentionEnabled   *bool
	RetentionDays      *int32
	DefaultDrainMode   *DrainMode

	UpdatedTs *int64
}
