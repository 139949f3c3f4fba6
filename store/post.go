package store

// PostStatus is the per-post state machine.
//
//	active → done   when count_attempts reaches a positive target
//	active ↔ paused via bulk operations
//	active → error  on a non-transient failure; resume clears it
//
// done is terminal.
type PostStatus string

const (
	PostStatusActive PostStatus = "active"
	PostStatusPaused PostStatus = "paused"
	PostStatusError  PostStatus = "error"
	PostStatusDone   PostStatus = "done"
)

// Post is one scheduled forward instance targeting one group. Posts sharing
// a distribution_name form a distribution; the name is the logical key and
// NULL groups into its own class.
type Post struct {
	ID        string
	CreatedTs int64
	UpdatedTs int64
	Version   int32

	GroupID          string
	BotID            *string
	Status           PostStatus
	TargetChatID     int64
	DistributionName *string

	SourceChannelUsername string
	SourceChannelID       *int64
	SourceMessageID       int64

	// LastAttemptTs is zero when the post has never been attempted.
	LastAttemptTs int64
	LastError     string
	CountAttempts int32
	// TargetAttempts is -1 for infinite, else >= 1.
	TargetAttempts int32

	DeleteLastAttempt bool
	PinAfterPost      bool
	// NumAttemptForPin nil, 0 or 1 pins every successful attempt; k > 1 pins
	// when count_attempts mod k == 0.
	NumAttemptForPin      *int32
	PauseBetweenAttemptsS int32
	NotifyOnFailure       bool
}

// Eligible reports whether the scheduler may attempt the post at unix time
// now: it must be active, below its attempt target, and past its pause.
func (p *Post) Eligible(now int64) bool {
	if p.Status != PostStatusActive {
		return false
	}
	if p.TargetAttempts >= 0 && p.CountAttempts >= p.TargetAttempts {
		return false
	}
	if p.LastAttemptTs == 0 {
		return true
	}
	return now >= p.LastAttemptTs+int64(p.PauseBetweenAttemptsS)
}

// ShouldPin reports whether a successful attempt that brought the counter to
// countAttempts must be pinned.
func (p *Post) ShouldPin(countAttempts int32) bool {
	if !p.PinAfterPost {
		return false
	}
	if p.NumAttemptForPin == nil || *p.NumAttemptForPin <= 1 {
		return true
	}
	return countAttempts%*p.NumAttemptForPin == 0
}

type FindPost struct {
	ID      *string
	GroupID *string
	Status  *PostStatus
	Limit   *int32
	Offset  *int32
}
