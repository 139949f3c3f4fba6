package distribution

import (
	"context"
	"log/slog"
	"time"

	"github.com/autopostd/autopostd/store"
	"github.com/autopostd/autopostd/telegram"
)

// metadataMaxAge is how long cached chat titles are trusted.
const metadataMaxAge = 7 * 24 * time.Hour

// Refresher re-reads chat metadata for groups whose cached title has gone
// stale. Refreshing is best effort: platform failures are logged and the
// cached row is served as is.
type Refresher struct {
	store  *store.Store
	client telegram.Client
	maxAge time.Duration

	now func() time.Time
}

func NewRefresher(st *store.Store, client telegram.Client) *Refresher {
	return &Refresher{
		store:  st,
		client: client,
		maxAge: metadataMaxAge,
		now:    time.Now,
	}
}

// Refresh returns the group with up-to-date metadata, hitting the platform
// only when the cache is stale and the group has a bot to ask through.
func (r *Refresher) Refresh(ctx context.Context, g *store.Group) *store.Group {
	if g.AssignedBotID == nil || !r.stale(g) {
		return g
	}

	info, err := r.client.GetChat(ctx, g.TgChatID)
	if err != nil {
		slog.Warn("failed to refresh group metadata",
			"tg_chat_id", g.TgChatID,
			"error", err)
		return g
	}

	// The refresh timestamp is bumped even when the platform returns empty
	// fields, so an unnamed chat is not re-queried on every listing.
	update := &store.UpdateGroupMetadata{
		ID:                  g.ID,
		MetadataRefreshedTs: r.now().Unix(),
	}
	if info.Title != "" {
		update.Title = &info.Title
	}
	if info.Username != "" {
		update.Username = &info.Username
	}
	if err := r.store.UpdateGroupMetadata(ctx, update); err != nil {
		slog.Warn("failed to persist group metadata",
			"tg_chat_id", g.TgChatID,
			"error", err)
		return g
	}

	if update.Title != nil {
		g.Title = *update.Title
	}
	if update.Username != nil {
		g.Username = *update.Username
	}
	g.MetadataRefreshedTs = update.MetadataRefreshedTs
	return g
}

// stale reports whether the cached metadata needs a re-read: either it was
// never filled, or the last refresh is older than maxAge.
func (r *Refresher) stale(g *store.Group) bool {
	if g.Title == "" && g.Username == "" {
		return true
	}
	return r.now().Unix()-g.MetadataRefreshedTs >= int64(r.maxAge/time.Second)
}
