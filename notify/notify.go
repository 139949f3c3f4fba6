// Package notify delivers HTML alerts to superuser admins. It owns its own
// client instance so that a failing admin delivery never destabilizes the
// scheduler's client.
package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/autopostd/autopostd/store"
	"github.com/autopostd/autopostd/telegram"
)

// maxAdmins caps the superuser fan-out per alert.
const maxAdmins = 100

// Metrics is the subset of the exporter the notifier reports to.
type Metrics interface {
	RecordAdminNotice(success bool)
}

// AdminNotifier sends alerts to every superuser.
type AdminNotifier struct {
	store   *store.Store
	client  telegram.Client
	metrics Metrics
}

// NewAdminNotifier creates a notifier backed by the given client.
func NewAdminNotifier(st *store.Store, client telegram.Client, metrics Metrics) *AdminNotifier {
	return &AdminNotifier{store: st, client: client, metrics: metrics}
}

// DistributionFailure alerts every admin that a critical error detached a
// group from a distribution. Per-admin delivery failures are logged and
// ignored; the only hard error is failing to load the admin list.
func (n *AdminNotifier) DistributionFailure(ctx context.Context, bot *store.Bot, group *store.Group, post *store.Post, kind telegram.Kind, cause error) error {
	text := renderDistributionFailure(bot, group, post, kind, cause)
	return n.Broadcast(ctx, text)
}

// Broadcast sends an HTML message to every superuser. An empty admin list is
// not an error.
func (n *AdminNotifier) Broadcast(ctx context.Context, htmlText string) error {
	admins, err := n.store.ListSuperusers(ctx, maxAdmins)
	if err != nil {
		return fmt.Errorf("failed to list superusers: %w", err)
	}
	if len(admins) == 0 {
		slog.Warn("no superusers registered, skipping admin alert")
		return nil
	}

	for _, admin := range admins {
		if err := n.client.SendText(ctx, admin.TgUserID, htmlText); err != nil {
			slog.Warn("failed to deliver admin alert",
				"tg_user_id", admin.TgUserID,
				"error", err)
			n.recordNotice(false)
			continue
		}
		n.recordNotice(true)
	}
	return nil
}

func (n *AdminNotifier) recordNotice(success bool) {
	if n.metrics != nil {
		n.metrics.RecordAdminNotice(success)
	}
}

// renderDistributionFailure builds the critical-error alert.
func renderDistributionFailure(bot *store.Bot, group *store.Group, post *store.Post, kind telegram.Kind, cause error) string {
	postRef := post.ID
	if post.DistributionName != nil && *post.DistributionName != "" {
		postRef = *post.DistributionName
	}

	details := ""
	if cause != nil {
		details = cause.Error()
	}

	var sb strings.Builder
	sb.WriteString("<b>⚠️ DISTRIBUTION FAILURE</b>\n\n")
	fmt.Fprintf(&sb, "<b>Bot:</b> @%s (<code>%s</code>)\n", html.EscapeString(bot.Username), html.EscapeString(bot.ID))
	fmt.Fprintf(&sb, "<b>Group:</b> %s (<code>%d</code>)\n", html.EscapeString(group.Title), group.TgChatID)
	fmt.Fprintf(&sb, "<b>Post:</b> %s\n", html.EscapeString(postRef))
	fmt.Fprintf(&sb, "<b>Reason:</b> %s\n", html.EscapeString(kind.Human()))
	fmt.Fprintf(&sb, "<b>Details:</b> <code>%s</code>\n\n", html.EscapeString(Truncate(details, 500)))
	sb.WriteString("The group was removed from the distribution list automatically.")
	return sb.String()
}

// Truncate shortens s to at most max runes, marking the cut with an ellipsis.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max == 1 {
		return "…"
	}
	return string(runes[:max-1]) + "…"
}
