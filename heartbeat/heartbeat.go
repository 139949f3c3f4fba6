// Package heartbeat keeps the node's bot row alive: it registers the row on
// first boot, stamps liveness every tick, tracks the code revision of the
// local checkout, and reacts to the operator's self-destruct and
// force-update flags.
package heartbeat

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/autopostd/autopostd/internal/profile"
	"github.com/autopostd/autopostd/metrics"
	"github.com/autopostd/autopostd/notify"
	"github.com/autopostd/autopostd/store"
	"github.com/autopostd/autopostd/telegram"
)

const (
	defaultInterval = 15 * time.Second
	minInterval     = time.Second

	// updateTimeout is the hard wall-clock limit on the update command.
	updateTimeout = 300 * time.Second

	gitProbeTimeout = 60 * time.Second
)

// ErrSettingsMissing means no current settings profile exists; the node
// cannot register itself without fleet defaults.
var ErrSettingsMissing = errors.New("no current settings profile")

// ErrIPConflict means another active bot already claims this server ip with
// a different token.
var ErrIPConflict = errors.New("server ip already claimed by another bot")

// ErrSelfDestruct reports that the operator flagged this node for permanent
// quiescence. Run returns it so the composition root stops the whole node.
var ErrSelfDestruct = errors.New("node flagged for self destruction")

// Service is the lifecycle loop running alongside the posting scheduler.
type Service struct {
	store    *store.Store
	client   telegram.Client
	notifier *notify.AdminNotifier
	metrics  *metrics.Exporter

	token         string
	gitEvery      time.Duration
	updateCommand string
	updateTimeout time.Duration

	git    *Git
	runner Runner

	detectIP func() string
	now      func() time.Time
}

// New builds the lifecycle service for the node identified by the profile's
// token.
func New(st *store.Store, client telegram.Client, notifier *notify.AdminNotifier, exporter *metrics.Exporter, p *profile.Profile) *Service {
	return &Service{
		store:         st,
		client:        client,
		notifier:      notifier,
		metrics:       exporter,
		token:         p.Token,
		gitEvery:      time.Duration(p.GitCheckIntervalS) * time.Second,
		updateCommand: p.UpdateCommand,
		updateTimeout: updateTimeout,
		git:           NewGit(p.GitRemote, p.GitBranch),
		runner:        ExecRunner{},
		detectIP:      detectPrimaryIP,
		now:           time.Now,
	}
}

// Run ticks until ctx is canceled. The first tick runs immediately so a
// fresh node registers without waiting a full interval. ErrSelfDestruct is
// the only error Run surfaces; everything else is logged and retried.
func (s *Service) Run(ctx context.Context) error {
	slog.Info("heartbeat started")
	for {
		interval, err := s.tick(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrSelfDestruct):
			slog.Info("self destruction requested, stopping node")
			return err
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			// fall through to the ctx.Done branch below
		default:
			s.metrics.RecordHeartbeat(false)
			slog.Error("heartbeat tick failed", "error", err)
		}

		select {
		case <-ctx.Done():
			slog.Info("heartbeat stopped")
			return nil
		case <-time.After(interval):
		}
	}
}

// tick runs one pass and returns the wait before the next one, taken from
// the current settings profile.
func (s *Service) tick(ctx context.Context) (time.Duration, error) {
	interval := defaultInterval
	setting, err := s.store.GetCurrentSetting(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		setting = nil
	case err != nil:
		return interval, errors.Wrap(err, "failed to load settings")
	default:
		interval = time.Duration(setting.HeartbeatIntervalS) * time.Second
		if interval < minInterval {
			interval = minInterval
		}
	}

	bot, err := s.store.GetBot(ctx, &store.FindBot{Token: &s.token})
	if errors.Is(err, store.ErrNotFound) {
		bot, err = s.bootstrap(ctx, setting)
	}
	if err != nil {
		return interval, err
	}

	if bot.SelfDestruction {
		// Bypasses the version check; the kill switch always lands.
		if err := s.store.MarkBotDeactivated(ctx, bot.ID); err != nil {
			// The flag survives in the row; the next boot converges.
			slog.Warn("failed to deactivate bot", "error", err)
		}
		return interval, ErrSelfDestruct
	}
	if bot.Deactivated {
		return interval, nil
	}

	if err := s.store.UpdateBotHeartbeat(ctx, bot.ID, s.now().Unix()); err != nil {
		return interval, errors.Wrap(err, "failed to stamp heartbeat")
	}
	s.metrics.RecordHeartbeat(true)

	if s.gitEvery > 0 && s.now().Unix()-bot.LastUpdateCheckTs >= int64(s.gitEvery.Seconds()) {
		bot = s.probeGit(ctx, bot)
	}

	if bot.ForceUpdate {
		if err := s.runUpdate(ctx, bot); err != nil {
			return interval, err
		}
	}
	return interval, nil
}

// bootstrap registers this node: detect the primary ip, refuse to boot over
// another active bot's address, then insert the identity row with the
// platform-provided names.
func (s *Service) bootstrap(ctx context.Context, setting *store.Setting) (*store.Bot, error) {
	if setting == nil {
		return nil, ErrSettingsMissing
	}

	ip := s.detectIP()
	conflict, err := s.store.HasBotIPConflict(ctx, ip, s.token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check ip conflict")
	}
	if conflict {
		return nil, errors.Wrapf(ErrIPConflict, "ip %s", ip)
	}

	me, err := s.client.GetMe(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get_me failed")
	}

	bot, err := s.store.CreateBot(ctx, &store.Bot{
		BotID:         me.ID,
		Username:      me.Username,
		Name:          me.FullName,
		Token:         s.token,
		ServerIP:      ip,
		SettingsID:    &setting.ID,
		MaxPosts:      setting.MaxPostsPerBot,
		TrackedBranch: s.git.Branch,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to register bot")
	}
	slog.Info("node registered", "username", me.Username, "server_ip", ip, "bot", bot.ID)
	return bot, nil
}

// probeGit refreshes the revision columns. Failures are logged, and the
// check timestamp is bumped either way so a broken checkout does not turn
// every tick into a fetch.
func (s *Service) probeGit(ctx context.Context, bot *store.Bot) *store.Bot {
	probeCtx, cancel := context.WithTimeout(ctx, gitProbeTimeout)
	defer cancel()

	checked := s.now().Unix()
	status, err := s.git.Probe(probeCtx, checked)
	if err != nil {
		slog.Warn("git probe failed", "error", err)
	}

	update := &store.UpdateBot{ID: bot.ID, Version: bot.Version, LastUpdateCheckTs: &checked}
	if status != nil {
		update.TrackedBranch = &status.Branch
		update.CurrentCommitHash = &status.LocalCommit
		update.LatestAvailableCommitHash = &status.RemoteCommit
		update.CommitsBehind = &status.CommitsBehind
	}
	updated, err := s.store.UpdateBot(ctx, update)
	if err != nil {
		slog.Warn("failed to persist git status", "error", err)
		return bot
	}
	if status != nil && status.CommitsBehind > 0 {
		slog.Info("update available",
			"branch", status.Branch, "behind", status.CommitsBehind,
			"local", status.LocalCommit, "remote", status.RemoteCommit)
	}
	return updated
}

// runUpdate clears the flag and commits before invoking the command: the
// command restarts the service, and a still-set flag would restart forever.
func (s *Service) runUpdate(ctx context.Context, bot *store.Bot) error {
	off := false
	if _, err := s.store.UpdateBot(ctx, &store.UpdateBot{
		ID: bot.ID, Version: bot.Version, ForceUpdate: &off,
	}); err != nil {
		return errors.Wrap(err, "failed to clear force_update")
	}

	slog.Info("running update command", "command", s.updateCommand)
	cmdCtx, cancel := context.WithTimeout(ctx, s.updateTimeout)
	defer cancel()

	res, err := s.runner.Run(cmdCtx, s.updateCommand)
	if err != nil {
		slog.Error("update command did not run", "error", err)
		s.notifyUpdateFailure(ctx, bot, -1, "", err.Error())
		return nil
	}
	if res.ExitCode != 0 {
		slog.Error("update command failed", "exit_code", res.ExitCode, "stderr", notify.Truncate(res.Stderr, 200))
		s.notifyUpdateFailure(ctx, bot, res.ExitCode, res.Stdout, res.Stderr)
		return nil
	}
	slog.Info("update command finished")
	return nil
}

func (s *Service) notifyUpdateFailure(ctx context.Context, bot *store.Bot, exitCode int, stdout, stderr string) {
	if err := s.notifier.Broadcast(ctx, renderUpdateFailure(bot, exitCode, stdout, stderr)); err != nil {
		slog.Error("failed to notify admins about update failure", "error", err)
	}
}

func renderUpdateFailure(bot *store.Bot, exitCode int, stdout, stderr string) string {
	var b strings.Builder
	b.WriteString("<b>⚠️ UPDATE FAILED</b>\n\n")
	fmt.Fprintf(&b, "<b>Bot:</b> @%s\n", html.EscapeString(bot.Username))
	fmt.Fprintf(&b, "<b>Exit code:</b> %d\n", exitCode)
	if stdout != "" {
		fmt.Fprintf(&b, "\n<b>Stdout:</b>\n<code>%s</code>\n", html.EscapeString(notify.Truncate(stdout, 500)))
	}
	if stderr != "" {
		fmt.Fprintf(&b, "\n<b>Stderr:</b>\n<code>%s</code>\n", html.EscapeString(notify.Truncate(stderr, 500)))
	}
	return b.String()
}
