// Package posting drives the forward cycle: each tick finds the node's
// eligible posts and forwards them under rate limits, with retries for
// transient platform failures and escalation for critical ones.
package posting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/autopostd/autopostd/internal/profile"
	"github.com/autopostd/autopostd/metrics"
	"github.com/autopostd/autopostd/notify"
	"github.com/autopostd/autopostd/ratelimit"
	"github.com/autopostd/autopostd/store"
	"github.com/autopostd/autopostd/telegram"
)

const (
	defaultTick = 5 * time.Second

	// forwardTries bounds one tick's forward calls for a post; only
	// transient failures are retried.
	forwardTries   = 3
	forwardBackoff = 2 * time.Second

	// floodTries bounds RetryAfter-honoring retries on delete and pin.
	floodTries = 3

	retentionSweepEvery = 24 * time.Hour
)

// errTransientStorm marks a forward abandoned after transient failures only.
// The post stays active and untouched; the next tick starts over.
var errTransientStorm = errors.New("transient failures exhausted")

// Scheduler is the per-node dispatcher. Posts are started sequentially, so
// outbound calls for one bot never overlap.
type Scheduler struct {
	store    *store.Store
	client   telegram.Client
	notifier *notify.AdminNotifier
	metrics  *metrics.Exporter
	window   *ratelimit.Window
	spacing  *rate.Limiter

	token string
	tick  time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds the scheduler for the node identified by the profile's token.
func New(st *store.Store, client telegram.Client, notifier *notify.AdminNotifier, exporter *metrics.Exporter, p *profile.Profile) *Scheduler {
	tick := time.Duration(p.TickIntervalS) * time.Second
	if tick <= 0 {
		tick = defaultTick
	}
	perSecond := p.MaxPostsPerSecond
	if perSecond < 1 {
		perSecond = 1
	}
	return &Scheduler{
		store:    st,
		client:   client,
		notifier: notifier,
		metrics:  exporter,
		window:   ratelimit.New(ratelimit.DefaultMaxCalls, ratelimit.DefaultPeriod),
		spacing:  rate.NewLimiter(rate.Limit(perSecond), 1),
		token:    p.Token,
		tick:     tick,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Run drives the tick loop until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("posting scheduler started", "tick", s.tick)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	retention := time.NewTicker(retentionSweepEvery)
	defer retention.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("posting scheduler stopped")
			return nil
		case <-ticker.C:
			s.runCycle(ctx)
		case <-retention.C:
			s.sweepAttempts(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	started := s.now()
	examined, err := s.cycle(ctx)
	if err != nil {
		slog.Error("posting cycle failed", "error", err)
	}
	s.metrics.RecordCycle(examined, s.now().Sub(started))
}

// cycle runs one pass: load identity and settings, fetch candidate posts,
// dispatch the eligible ones in fetch order.
func (s *Scheduler) cycle(ctx context.Context) (int, error) {
	bot, err := s.store.GetBot(ctx, &store.FindBot{Token: &s.token})
	if errors.Is(err, store.ErrNotFound) {
		// Registration is the heartbeat loop's job.
		slog.Info("bot not registered yet, skipping cycle")
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to load bot")
	}
	if bot.Deactivated {
		return 0, nil
	}

	setting, err := s.store.GetCurrentSetting(ctx)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("no current settings, skipping cycle")
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to load settings")
	}

	posts, err := s.store.ListPostsByBot(ctx, bot.ID, setting.MaxPostsPerBot)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list posts")
	}

	now := s.now().Unix()
	for _, post := range posts {
		if !post.Eligible(now) {
			continue
		}
		waitStart := s.now()
		if err := s.spacing.Wait(ctx); err != nil {
			return len(posts), nil
		}
		s.metrics.RecordLimiterWait(s.now().Sub(waitStart))
		// State may have drifted since the fetch: an operator bulk op or a
		// critical cleanup can pause or remove the post mid-cycle.
		fresh, err := s.store.GetPost(ctx, post.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return len(posts), errors.Wrap(err, "failed to re-check post")
		}
		if !fresh.Eligible(s.now().Unix()) {
			continue
		}
		s.processPost(ctx, bot, fresh)
	}
	return len(posts), nil
}

// processPost runs the per-post state machine: delete the previous message,
// forward with retries, then success bookkeeping or failure escalation.
func (s *Scheduler) processPost(ctx context.Context, bot *store.Bot, post *store.Post) {
	if post.DeleteLastAttempt {
		s.deletePrevious(ctx, post)
	}

	waitStart := s.now()
	if err := s.window.Acquire(ctx); err != nil {
		return
	}
	s.metrics.RecordLimiterWait(s.now().Sub(waitStart))

	messageID, err := s.forward(ctx, post)
	switch {
	case err == nil:
		s.recordSuccess(ctx, bot, post, messageID)
	case errors.Is(err, errTransientStorm):
		slog.Warn("skipping post after transient failures", "post", post.ID, "error", err)
	case ctxDone(err):
		// Shutdown mid-flight; the post is untouched and retries next run.
	default:
		s.recordFailure(ctx, bot, post, err)
	}
}

// forward executes the forward call with up to forwardTries tries, backing
// off between tries only while the failure classifies as transient.
func (s *Scheduler) forward(ctx context.Context, post *store.Post) (int64, error) {
	src := telegram.Source{
		ChannelUsername: post.SourceChannelUsername,
		ChannelID:       post.SourceChannelID,
		MessageID:       post.SourceMessageID,
	}

	var lastErr error
	for try := 0; try < forwardTries; try++ {
		if try > 0 {
			if err := s.sleep(ctx, forwardBackoff); err != nil {
				return 0, err
			}
		}
		started := s.now()
		messageID, err := s.client.Forward(ctx, post.TargetChatID, src)
		latency := s.now().Sub(started)
		if err == nil {
			s.metrics.RecordForward(metrics.OutcomeSuccess, latency)
			return messageID, nil
		}
		kind := telegram.Classify(err)
		if !kind.Transient() {
			s.metrics.RecordForward(metrics.OutcomeFailed, latency)
			return 0, err
		}
		slog.Warn("transient forward failure",
			"post", post.ID, "try", try+1, "kind", kind, "error", err)
		lastErr = err
	}
	s.metrics.RecordForward(metrics.OutcomeSkipped, 0)
	return 0, fmt.Errorf("%w after %d tries: %v", errTransientStorm, forwardTries, lastErr)
}

// recordSuccess persists the attempt, advances the counter, and handles pin
// and completion. The done transition happens only after the attempt row is
// in place.
func (s *Scheduler) recordSuccess(ctx context.Context, bot *store.Bot, post *store.Post, messageID int64) {
	now := s.now().Unix()
	attempt := &store.PostAttempt{
		PostID:    post.ID,
		BotID:     bot.ID,
		GroupID:   post.GroupID,
		ChatID:    post.TargetChatID,
		MessageID: &messageID,
		Success:   true,
	}
	if _, err := s.store.CreatePostAttempt(ctx, attempt); err != nil {
		if errors.Is(err, store.ErrForeignKeyViolation) {
			// Operator deleted the post mid-flight; the deletion wins.
			slog.Warn("post removed mid-flight, dropping attempt", "post", post.ID)
			return
		}
		slog.Error("failed to persist attempt", "post", post.ID, "error", err)
		return
	}
	if err := s.store.IncrementPostAttempts(ctx, post.ID, now); err != nil {
		slog.Error("failed to advance attempt counter", "post", post.ID, "error", err)
	}
	if err := s.store.UpdateGroupLastPost(ctx, post.GroupID, now); err != nil {
		slog.Warn("failed to stamp group last post", "group", post.GroupID, "error", err)
	}

	count := post.CountAttempts + 1
	if post.ShouldPin(count) {
		s.pin(ctx, post, messageID)
	}
	if post.TargetAttempts >= 0 && count >= post.TargetAttempts {
		if err := s.store.MarkPostDone(ctx, post.ID); err != nil {
			slog.Error("failed to complete post", "post", post.ID, "error", err)
		}
	}
}

// pin pins the fresh message, then removes the platform's "pinned a message"
// service notice, which lands as message_id + 1.
func (s *Scheduler) pin(ctx context.Context, post *store.Post, messageID int64) {
	for try := 0; try < floodTries; try++ {
		err := s.client.Pin(ctx, post.TargetChatID, messageID)
		if err == nil {
			s.metrics.RecordPin(metrics.OutcomeSuccess)
			if err := s.client.Delete(ctx, post.TargetChatID, messageID+1); err != nil && !telegram.IsMessageNotFound(err) {
				slog.Debug("failed to remove pin notice", "post", post.ID, "error", err)
			}
			return
		}
		if wait := telegram.RetryAfterSeconds(err); wait > 0 && try < floodTries-1 {
			if s.sleep(ctx, time.Duration(wait)*time.Second) != nil {
				return
			}
			continue
		}
		slog.Warn("failed to pin message", "post", post.ID, "error", err)
		s.metrics.RecordPin(metrics.OutcomeFailed)
		return
	}
}

// deletePrevious removes the previously forwarded message before posting the
// next one. Flood control is honored with server-requested delays; a message
// already gone counts as deleted.
func (s *Scheduler) deletePrevious(ctx context.Context, post *store.Post) {
	attempt, err := s.store.LatestDeletableAttempt(ctx, post.ID)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		slog.Error("failed to load deletable attempt", "post", post.ID, "error", err)
		return
	}

	for try := 0; try < floodTries; try++ {
		err := s.client.Delete(ctx, attempt.ChatID, *attempt.MessageID)
		switch {
		case err == nil:
			s.metrics.RecordDelete(metrics.OutcomeSuccess)
		case telegram.IsMessageNotFound(err):
			s.metrics.RecordDelete(metrics.OutcomeMissing)
		default:
			if wait := telegram.RetryAfterSeconds(err); wait > 0 && try < floodTries-1 {
				if s.sleep(ctx, time.Duration(wait)*time.Second) != nil {
					return
				}
				continue
			}
			slog.Warn("failed to delete previous message",
				"post", post.ID, "message_id", *attempt.MessageID, "error", err)
			s.metrics.RecordDelete(metrics.OutcomeFailed)
			return
		}
		if err := s.store.MarkAttemptDeleted(ctx, attempt.ID); err != nil {
			slog.Error("failed to mark attempt deleted", "attempt", attempt.ID, "error", err)
		}
		return
	}
}

// sweepAttempts prunes old attempt rows when retention is enabled.
func (s *Scheduler) sweepAttempts(ctx context.Context) {
	setting, err := s.store.GetCurrentSetting(ctx)
	if err != nil {
		return
	}
	if !setting.RetentionEnabled || setting.RetentionDays < 1 {
		return
	}
	cutoff := s.now().Add(-time.Duration(setting.RetentionDays) * 24 * time.Hour).Unix()
	n, err := s.store.DeleteAttemptsOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("failed to prune attempts", "error", err)
		return
	}
	if n > 0 {
		s.metrics.RecordAttemptsPruned(n)
		slog.Info("pruned old attempts", "count", n, "retention_days", setting.RetentionDays)
	}
}

func ctxDone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
