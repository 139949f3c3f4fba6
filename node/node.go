// Package node composes one broadcast node: the posting scheduler, the
// lifecycle heartbeat, and the optional observability listener, sharing one
// store and one shutdown broadcast.
package node

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/autopostd/autopostd/heartbeat"
	"github.com/autopostd/autopostd/internal/profile"
	"github.com/autopostd/autopostd/metrics"
	"github.com/autopostd/autopostd/notify"
	"github.com/autopostd/autopostd/posting"
	"github.com/autopostd/autopostd/server"
	"github.com/autopostd/autopostd/store"
	"github.com/autopostd/autopostd/telegram"
)

// Node owns the task set of one running process.
type Node struct {
	scheduler *posting.Scheduler
	heartbeat *heartbeat.Service
	server    *server.Server
}

// New wires the tasks. Critical-error notices ride their own client
// instance so admin delivery failures never destabilize the dispatch
// client.
func New(p *profile.Profile, st *store.Store) (*Node, error) {
	client, err := telegram.NewBotClient(p.Token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build platform client")
	}
	notifyClient, err := telegram.NewBotClient(p.Token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build notifier client")
	}

	exporter := metrics.NewExporter(metrics.DefaultConfig())
	notifier := notify.NewAdminNotifier(st, notifyClient, exporter)

	n := &Node{
		scheduler: posting.New(st, client, notifier, exporter, p),
		heartbeat: heartbeat.New(st, client, notifier, exporter, p),
	}
	if p.MetricsAddr != "" {
		n.server = server.New(st, exporter, p.MetricsAddr)
	}
	return n, nil
}

// Run starts every task and blocks until the first one fails or ctx is
// canceled; the shared group context is the single shutdown broadcast. A
// self-destruct order cancels the group and counts as a clean exit.
func (n *Node) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.heartbeat.Run(ctx) })
	g.Go(func() error { return n.scheduler.Run(ctx) })
	if n.server != nil {
		g.Go(func() error { return n.server.Run(ctx) })
	}

	err := g.Wait()
	if errors.Is(err, heartbeat.ErrSelfDestruct) {
		slog.Info("node deactivated by operator")
		return nil
	}
	return err
}
