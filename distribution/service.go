// Package distribution implements the operator-facing service: creating and
// managing named sets of scheduled posts over the bound groups.
package distribution

import (
	"context"
	"log/slog"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/autopostd/autopostd/store"
	"github.com/autopostd/autopostd/telegram"
)

// Mode selects what happens to existing posts of the target groups.
type Mode string

const (
	ModeCreate  Mode = "create"
	ModeReplace Mode = "replace"
)

// Target selects which groups a new distribution covers.
type Target string

const (
	// TargetAll covers every group currently bound to a bot.
	TargetAll Target = "all"
	// TargetGroups covers the chats listed in CreateParams.ChatIDs.
	TargetGroups Target = "groups"
	// TargetBots covers every group bound to one of CreateParams.BotIDs.
	TargetBots Target = "bots"
)

// ErrNoTargets is returned when the target selector resolves no groups at all.
var ErrNoTargets = errors.New("no target groups resolved")

// Service exposes distribution operations to the operator UI.
type Service struct {
	store     *store.Store
	refresher *Refresher

	now func() time.Time
}

// NewService creates the distribution service. The client is used only to
// refresh stale group metadata on read paths.
func NewService(st *store.Store, client telegram.Client) *Service {
	return &Service{
		store:     st,
		refresher: NewRefresher(st, client),
		now:       time.Now,
	}
}

// CreateParams describes one new distribution.
type CreateParams struct {
	// Name is the logical key; auto-generated from the local time when empty.
	Name   string
	Mode   Mode
	Target Target

	// ChatIDs are the manual targets for TargetGroups.
	ChatIDs []int64
	// BotIDs select the bound groups for TargetBots.
	BotIDs []string

	Source telegram.Source

	PauseBetweenAttemptsS int32
	DeleteLastAttempt     bool
	PinAfterPost          bool
	// NumAttemptForPin nil or 1 pins every successful attempt.
	NumAttemptForPin *int32
	// TargetAttempts is -1 for infinite, else >= 1.
	TargetAttempts  int32
	NotifyOnFailure bool
}

func (p *CreateParams) validate() error {
	switch p.Mode {
	case ModeCreate, ModeReplace:
	default:
		return errors.Errorf("unknown mode %q", p.Mode)
	}
	switch p.Target {
	case TargetAll:
	case TargetGroups:
		if len(p.ChatIDs) == 0 {
			return errors.New("target groups requires at least one chat id")
		}
	case TargetBots:
		if len(p.BotIDs) == 0 {
			return errors.New("target bots requires at least one bot id")
		}
	default:
		return errors.Errorf("unknown target %q", p.Target)
	}
	if p.Source.ChannelUsername == "" && p.Source.ChannelID == nil {
		return errors.New("source channel is required")
	}
	if p.Source.MessageID < 1 {
		return errors.Errorf("source message id must be >= 1, got %d", p.Source.MessageID)
	}
	if p.PauseBetweenAttemptsS < 0 {
		return errors.Errorf("pause between attempts must be >= 0, got %d", p.PauseBetweenAttemptsS)
	}
	if p.TargetAttempts != -1 && p.TargetAttempts < 1 {
		return errors.Errorf("target attempts must be -1 or >= 1, got %d", p.TargetAttempts)
	}
	if p.NumAttemptForPin != nil && *p.NumAttemptForPin < 1 {
		return errors.Errorf("pin attempt number must be >= 1, got %d", *p.NumAttemptForPin)
	}
	return nil
}

// CreateResult reports what a create call did.
type CreateResult struct {
	Name    string
	Created int
	// SkippedChatIDs are target chats without a bound bot (or unknown chats).
	SkippedChatIDs []int64
}

// Create resolves the target groups and creates one active post per bound
// group, all in one unit of work. Replace mode clears the targets' non-done
// posts first; unbound targets are skipped and reported.
func (s *Service) Create(ctx context.Context, params CreateParams) (*CreateResult, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	name := params.Name
	if name == "" {
		name = s.generateName()
	}
	result := &CreateResult{Name: name}

	err := s.store.RunInTx(ctx, func(tx *store.Store) error {
		groups, skipped, err := resolveTargets(ctx, tx, params)
		if err != nil {
			return err
		}
		if len(groups) == 0 && len(skipped) == 0 {
			return ErrNoTargets
		}
		result.SkippedChatIDs = skipped

		if params.Mode == ModeReplace {
			ids := make([]string, 0, len(groups))
			for _, g := range groups {
				ids = append(ids, g.ID)
			}
			if _, err := tx.DeleteActivePostsByGroups(ctx, ids); err != nil {
				return errors.Wrap(err, "failed to clear replaced posts")
			}
		}

		for _, g := range groups {
			if g.AssignedBotID == nil {
				result.SkippedChatIDs = append(result.SkippedChatIDs, g.TgChatID)
				continue
			}
			if _, err := tx.CreatePost(ctx, newPost(name, g, params)); err != nil {
				return errors.Wrapf(err, "failed to create post for chat %d", g.TgChatID)
			}
			result.Created++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(result.SkippedChatIDs) > 0 {
		slog.Warn("distribution skipped unbound chats",
			"distribution", name,
			"chats", result.SkippedChatIDs)
	}
	return result, nil
}

// generateName builds a human-readable default name. The short unique suffix
// keeps two distributions created within the same second distinct.
func (s *Service) generateName() string {
	return s.now().Format("2006-01-02 15:04:05") + " " + shortuuid.New()[:5]
}

// resolveTargets maps the target selector onto group rows. Chats that do not
// exist as groups are reported in skipped.
func resolveTargets(ctx context.Context, tx *store.Store, params CreateParams) ([]*store.Group, []int64, error) {
	switch params.Target {
	case TargetAll:
		groups, err := tx.ListGroups(ctx, &store.FindGroup{OnlyAssigned: true})
		return groups, nil, err

	case TargetGroups:
		var groups []*store.Group
		var skipped []int64
		for _, chatID := range params.ChatIDs {
			g, err := tx.GetGroup(ctx, &store.FindGroup{TgChatID: &chatID})
			if errors.Is(err, store.ErrNotFound) {
				skipped = append(skipped, chatID)
				continue
			}
			if err != nil {
				return nil, nil, err
			}
			groups = append(groups, g)
		}
		return groups, skipped, nil

	case TargetBots:
		var groups []*store.Group
		for _, botID := range params.BotIDs {
			list, err := tx.ListGroups(ctx, &store.FindGroup{AssignedBotID: &botID})
			if err != nil {
				return nil, nil, err
			}
			groups = append(groups, list...)
		}
		return groups, nil, nil
	}
	return nil, nil, errors.Errorf("unknown target %q", params.Target)
}

// newPost builds the post row for one bound group.
func newPost(name string, g *store.Group, params CreateParams) *store.Post {
	return &store.Post{
		GroupID:          g.ID,
		BotID:            g.AssignedBotID,
		Status:           store.PostStatusActive,
		TargetChatID:     g.TgChatID,
		DistributionName: &name,

		SourceChannelUsername: params.Source.ChannelUsername,
		SourceChannelID:       params.Source.ChannelID,
		SourceMessageID:       params.Source.MessageID,

		TargetAttempts:        params.TargetAttempts,
		DeleteLastAttempt:     params.DeleteLastAttempt,
		PinAfterPost:          params.PinAfterPost,
		NumAttemptForPin:      params.NumAttemptForPin,
		PauseBetweenAttemptsS: params.PauseBetweenAttemptsS,
		NotifyOnFailure:       params.NotifyOnFailure,
	}
}

// Page is one page of the distribution list.
type Page struct {
	Distributions []*store.Distribution
	Total         int32
}

// List returns one page of distributions, newest first. A non-positive size
// falls back to the current setting's pagination size.
func (s *Service) List(ctx context.Context, page, size int32) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = s.paginationSize(ctx)
	}

	list, err := s.store.ListDistributions(ctx, size, (page-1)*size)
	if err != nil {
		return nil, err
	}
	total, err := s.store.CountDistributions(ctx)
	if err != nil {
		return nil, err
	}
	return &Page{Distributions: list, Total: total}, nil
}

const fallbackPageSize = 10

func (s *Service) paginationSize(ctx context.Context) int32 {
	setting, err := s.store.GetCurrentSetting(ctx)
	if err != nil || setting.PaginationSize < 1 {
		return fallbackPageSize
	}
	return setting.PaginationSize
}

// Summary is the operator view of one distribution.
type Summary struct {
	Distribution *store.Distribution
	// SourceLabel is the reconstructed source link, e.g. t.me/name/42.
	SourceLabel string
}

// Summary loads the aggregate view of the distribution referenced by id.
func (s *Service) Summary(ctx context.Context, distributionID string) (*Summary, error) {
	name, err := s.resolveName(ctx, s.store, distributionID)
	if err != nil {
		return nil, err
	}
	d, err := s.store.GetDistributionSummary(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Summary{Distribution: d, SourceLabel: SourceLabel(d)}, nil
}

// SourceLabel renders the source link of a distribution.
func SourceLabel(d *store.Distribution) string {
	src := telegram.Source{
		ChannelUsername: d.SourceChannelUsername,
		ChannelID:       d.SourceChannelID,
		MessageID:       d.SourceMessageID,
	}
	return src.Label()
}

// Pause pauses every active post of the distribution. Returns the affected
// count verbatim for operator feedback.
func (s *Service) Pause(ctx context.Context, distributionID string) (int64, error) {
	name, err := s.resolveName(ctx, s.store, distributionID)
	if err != nil {
		return 0, err
	}
	return s.store.PausePostsByDistribution(ctx, name)
}

// Resume reactivates paused and errored posts, clearing their last error.
func (s *Service) Resume(ctx context.Context, distributionID string) (int64, error) {
	name, err := s.resolveName(ctx, s.store, distributionID)
	if err != nil {
		return 0, err
	}
	return s.store.ResumePostsByDistribution(ctx, name)
}

// SetNotify flips the failure-notification flag on every member post.
func (s *Service) SetNotify(ctx context.Context, distributionID string, notify bool) (int64, error) {
	name, err := s.resolveName(ctx, s.store, distributionID)
	if err != nil {
		return 0, err
	}
	return s.store.SetNotifyByDistribution(ctx, name, notify)
}

// Delete removes every member post; attempts cascade.
func (s *Service) Delete(ctx context.Context, distributionID string) (int64, error) {
	name, err := s.resolveName(ctx, s.store, distributionID)
	if err != nil {
		return 0, err
	}
	return s.store.DeleteDistribution(ctx, name)
}

// AddResult reports what an add-groups call did.
type AddResult struct {
	Added int
	// Stolen counts the groups taken over from another distribution.
	Stolen int
	// SkippedChatIDs are chats without a bound bot (or unknown chats).
	SkippedChatIDs []int64
}

// AddGroups extends the distribution onto more chats, copying the posting
// config from the earliest surviving member. Chats currently held by another
// distribution are stolen: their active posts are deleted first so the
// one-non-done-post-per-group rule holds.
func (s *Service) AddGroups(ctx context.Context, distributionID string, chatIDs []int64) (*AddResult, error) {
	result := &AddResult{}

	err := s.store.RunInTx(ctx, func(tx *store.Store) error {
		name, err := s.resolveName(ctx, tx, distributionID)
		if err != nil {
			return err
		}
		donor, err := tx.EarliestPostByDistribution(ctx, name)
		if err != nil {
			return errors.Wrap(err, "failed to load donor post")
		}

		var groups []*store.Group
		for _, chatID := range chatIDs {
			g, err := tx.GetGroup(ctx, &store.FindGroup{TgChatID: &chatID})
			if errors.Is(err, store.ErrNotFound) {
				result.SkippedChatIDs = append(result.SkippedChatIDs, chatID)
				continue
			}
			if err != nil {
				return err
			}
			if g.AssignedBotID == nil {
				result.SkippedChatIDs = append(result.SkippedChatIDs, g.TgChatID)
				continue
			}
			groups = append(groups, g)
		}
		if len(groups) == 0 {
			return nil
		}

		groupIDs := make([]string, 0, len(groups))
		for _, g := range groups {
			groupIDs = append(groupIDs, g.ID)
		}
		usage, err := tx.GroupsDistributionUsage(ctx, groupIDs)
		if err != nil {
			return err
		}
		var stolen []string
		for _, g := range groups {
			if owner, ok := usage[g.ID]; ok && owner != distributionID {
				stolen = append(stolen, g.ID)
			}
		}
		if len(stolen) > 0 {
			if _, err := tx.DeleteActivePostsByGroups(ctx, stolen); err != nil {
				return errors.Wrap(err, "failed to steal groups")
			}
			result.Stolen = len(stolen)
		}

		for _, g := range groups {
			post := clonePostConfig(donor, g)
			if _, err := tx.CreatePost(ctx, post); err != nil {
				return errors.Wrapf(err, "failed to create post for chat %d", g.TgChatID)
			}
			result.Added++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// clonePostConfig copies the donor's posting config onto a new group. The
// attempt counter starts from zero: the new group has not seen the message.
func clonePostConfig(donor *store.Post, g *store.Group) *store.Post {
	return &store.Post{
		GroupID:          g.ID,
		BotID:            g.AssignedBotID,
		Status:           store.PostStatusActive,
		TargetChatID:     g.TgChatID,
		DistributionName: donor.DistributionName,

		SourceChannelUsername: donor.SourceChannelUsername,
		SourceChannelID:       donor.SourceChannelID,
		SourceMessageID:       donor.SourceMessageID,

		TargetAttempts:        donor.TargetAttempts,
		DeleteLastAttempt:     donor.DeleteLastAttempt,
		PinAfterPost:          donor.PinAfterPost,
		NumAttemptForPin:      donor.NumAttemptForPin,
		PauseBetweenAttemptsS: donor.PauseBetweenAttemptsS,
		NotifyOnFailure:       donor.NotifyOnFailure,
	}
}

// RemoveGroups drops the distribution's posts for the given chats. Attempts
// cascade with the posts.
func (s *Service) RemoveGroups(ctx context.Context, distributionID string, chatIDs []int64) (int64, error) {
	name, err := s.resolveName(ctx, s.store, distributionID)
	if err != nil {
		return 0, err
	}

	var groupIDs []string
	for _, chatID := range chatIDs {
		g, err := s.store.GetGroup(ctx, &store.FindGroup{TgChatID: &chatID})
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		groupIDs = append(groupIDs, g.ID)
	}
	return s.store.DeleteDistributionGroups(ctx, name, groupIDs)
}

// FreeBot releases a bot's posting load. Graceful drain pauses its posts in
// place; instant drain clears their bot binding so another bot bound to the
// same groups can pick them up.
func (s *Service) FreeBot(ctx context.Context, botID string, mode store.DrainMode) (int64, error) {
	switch mode {
	case store.DrainGraceful:
		return s.store.PausePostsByBot(ctx, botID)
	case store.DrainInstant:
		return s.store.UnassignPostsByBot(ctx, botID)
	}
	return 0, errors.Errorf("unknown drain mode %d", mode)
}

// Groups lists groups for the operator, refreshing stale chat metadata on
// the way out.
func (s *Service) Groups(ctx context.Context, find *store.FindGroup) ([]*store.Group, error) {
	groups, err := s.store.ListGroups(ctx, find)
	if err != nil {
		return nil, err
	}
	for i, g := range groups {
		groups[i] = s.refresher.Refresh(ctx, g)
	}
	return groups, nil
}

// resolveName maps a distribution id (the minimum member post id) onto the
// logical name. A nil name is the NULL-name class.
func (s *Service) resolveName(ctx context.Context, st *store.Store, distributionID string) (*string, error) {
	post, err := st.GetPost(ctx, distributionID)
	if err != nil {
		return nil, errors.Wrapf(err, "unknown distribution %s", distributionID)
	}
	return post.DistributionName, nil
}
