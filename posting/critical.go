package posting

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/autopostd/autopostd/store"
	"github.com/autopostd/autopostd/telegram"
)

// recordFailure writes the failed attempt, moves the post to error, and
// escalates critical kinds.
func (s *Scheduler) recordFailure(ctx context.Context, bot *store.Bot, post *store.Post, cause error) {
	kind := telegram.Classify(cause)
	s.metrics.RecordPostError(string(kind))
	slog.Error("forward failed",
		"post", post.ID, "chat", post.TargetChatID, "kind", kind, "error", cause)

	attempt := &store.PostAttempt{
		PostID:    post.ID,
		BotID:     bot.ID,
		GroupID:   post.GroupID,
		ChatID:    post.TargetChatID,
		Success:   false,
		ErrorCode: telegram.ErrorName(cause),
		ErrorMsg:  cause.Error(),
	}
	if _, err := s.store.CreatePostAttempt(ctx, attempt); err != nil {
		if errors.Is(err, store.ErrForeignKeyViolation) {
			slog.Warn("post removed mid-flight, dropping attempt", "post", post.ID)
			return
		}
		slog.Error("failed to persist attempt", "post", post.ID, "error", err)
	}
	if err := s.store.MarkPostError(ctx, post.ID, cause.Error()); err != nil {
		slog.Error("failed to mark post errored", "post", post.ID, "error", err)
	}

	if kind.Critical() && post.NotifyOnFailure {
		s.escalate(ctx, bot, post, kind, cause)
	}
}

// escalate handles a critical failure: alert the admins, then drop the group
// so the distribution stops targeting it. The post and its attempts cascade
// away with the group.
func (s *Scheduler) escalate(ctx context.Context, bot *store.Bot, post *store.Post, kind telegram.Kind, cause error) {
	group, err := s.store.GetGroup(ctx, &store.FindGroup{ID: &post.GroupID})
	if err != nil {
		slog.Error("failed to load group for escalation", "group", post.GroupID, "error", err)
		group = &store.Group{ID: post.GroupID, TgChatID: post.TargetChatID}
	}

	if err := s.notifier.DistributionFailure(ctx, bot, group, post, kind, cause); err != nil {
		slog.Error("failed to notify admins", "error", err)
	}

	if err := s.store.DeleteGroup(ctx, post.GroupID); err != nil {
		slog.Error("failed to delete group", "group", post.GroupID, "error", err)
		return
	}
	s.metrics.RecordCriticalCleanup()
	slog.Info("group removed after critical error",
		"group", post.GroupID, "chat", post.TargetChatID, "kind", kind)
}
