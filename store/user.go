package store

// User is a platform user known to the node. Only superusers matter to the
// engine: they receive failure notifications.
type User struct {
	ID        string
	CreatedTs int64
	UpdatedTs int64
	Version   int32

	TgUserID    int64
	Username    string
	FirstName   string
	IsSuperuser bool
}
