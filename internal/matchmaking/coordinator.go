// Package matchmaking wires slot changes to the queue, challenges and
// drafts: every lineup mutation is followed by a reconciliation that keeps
// auto-search, pending challenges and drafts consistent with the roster.
package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zulandar/pitchside/internal/challenge"
	"github.com/zulandar/pitchside/internal/draft"
	"github.com/zulandar/pitchside/internal/lineup"
	"github.com/zulandar/pitchside/internal/logging"
	"github.com/zulandar/pitchside/internal/match"
	"github.com/zulandar/pitchside/internal/models"
	"github.com/zulandar/pitchside/internal/queue"
	"github.com/zulandar/pitchside/internal/team"
)

// Coordinator is the entry point for every lineup, queue, challenge and
// draft operation.
type Coordinator struct {
	db         *gorm.DB
	slots      *lineup.Slots
	registry   *queue.Registry
	negotiator *challenge.Negotiator
	drafts     *draft.Engine
	log        *zap.Logger
	now        func() time.Time
}

// Opts holds parameters for creating a Coordinator.
type Opts struct {
	DB         *gorm.DB
	Slots      *lineup.Slots
	Registry   *queue.Registry
	Negotiator *challenge.Negotiator
	Drafts     *draft.Engine
	Log        *zap.Logger
	Now        func() time.Time // defaults to time.Now
}

// New creates a Coordinator.
func New(opts Opts) (*Coordinator, error) {
	if opts.DB == nil || opts.Slots == nil || opts.Registry == nil || opts.Negotiator == nil || opts.Drafts == nil {
		return nil, fmt.Errorf("matchmaking: db, slots, registry, negotiator and drafts are required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		db:         opts.DB,
		slots:      opts.Slots,
		registry:   opts.Registry,
		negotiator: opts.Negotiator,
		drafts:     opts.Drafts,
		log:        logging.OrNop(opts.Log),
		now:        now,
	}, nil
}

// Outcome is the state after an operation and whatever it triggered.
type Outcome struct {
	Lineup *models.Lineup
	Queued bool
	Match  *match.Match
	Draft  *draft.Session
}

// SetupRequest creates or replaces the lineup of a context.
type SetupRequest struct {
	ContextID  string
	GuildID    string
	Name       string
	Size       int
	Kind       string
	Visibility string
	AutoSearch bool
}

// Setup replaces the lineup of a context. Whatever the old lineup was
// doing (queue, challenge, draft) is dropped first. A mix lineup is
// registered so teams can challenge it.
func (c *Coordinator) Setup(ctx context.Context, req SetupRequest) (*models.Lineup, error) {
	if _, err := team.Get(c.db.WithContext(ctx), req.GuildID); err != nil {
		return nil, err
	}
	if err := c.teardownContext(ctx, req.ContextID); err != nil {
		return nil, err
	}
	l, err := lineup.Setup(c.db.WithContext(ctx), lineup.SetupOpts{
		ContextID:  req.ContextID,
		GuildID:    req.GuildID,
		Name:       req.Name,
		Size:       req.Size,
		Kind:       req.Kind,
		Visibility: req.Visibility,
		AutoSearch: req.AutoSearch,
	})
	if err != nil {
		return nil, err
	}
	if l.Kind == models.KindMix {
		if _, err := c.registry.Register(ctx, l); err != nil {
			return nil, err
		}
	}
	c.log.Info("lineup set up", zap.String("context", l.ContextID), zap.String("kind", l.Kind), zap.Int("size", l.Size))
	return l, nil
}

// DeleteLineup removes a context's lineup and everything attached to it.
func (c *Coordinator) DeleteLineup(ctx context.Context, contextID string) error {
	if err := c.teardownContext(ctx, contextID); err != nil {
		return err
	}
	return lineup.Delete(c.db.WithContext(ctx), contextID)
}

func (c *Coordinator) teardownContext(ctx context.Context, contextID string) error {
	if err := c.negotiator.CancelForContext(ctx, contextID, "The challenge was cancelled because the lineup was reset."); err != nil {
		return err
	}
	if err := c.drafts.Abort(ctx, contextID); err != nil {
		return err
	}
	var removed *models.QueueEntry
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		removed, err = queue.Remove(tx, contextID)
		return err
	})
	if err != nil {
		return err
	}
	if removed != nil {
		c.registry.DeleteNotifications(ctx, removed.Notifications)
	}
	return nil
}

// RegisterTeam creates or updates the team of a guild.
func (c *Coordinator) RegisterTeam(ctx context.Context, guildID, name, region string) (*models.Team, error) {
	return team.Register(c.db.WithContext(ctx), guildID, name, region)
}

// DeleteTeam removes a guild's team with its lineups, queue entries,
// challenges, drafts and bans.
func (c *Coordinator) DeleteTeam(ctx context.Context, guildID string) error {
	db := c.db.WithContext(ctx)
	if _, err := team.Get(db, guildID); err != nil {
		return err
	}
	if err := c.negotiator.TeardownGuild(ctx, guildID); err != nil {
		return err
	}
	lineups, err := lineup.ListByGuild(db, guildID)
	if err != nil {
		return err
	}
	for _, l := range lineups {
		if err := c.drafts.Abort(ctx, l.ContextID); err != nil {
			return err
		}
	}
	if err := lineup.DeleteByGuild(db, guildID); err != nil {
		return err
	}
	if err := team.Delete(db, guildID); err != nil {
		return err
	}
	c.log.Info("team deleted", zap.String("guild", guildID), zap.Int("lineups", len(lineups)))
	return nil
}

// Claim puts user in a role and reconciles.
func (c *Coordinator) Claim(ctx context.Context, contextID, role string, side int, user models.UserRef) (*Outcome, error) {
	l, err := c.slots.Claim(ctx, contextID, role, side, user)
	if err != nil {
		return nil, err
	}
	return c.Reconcile(ctx, l)
}

// Release removes user from the lineup and reconciles.
func (c *Coordinator) Release(ctx context.Context, contextID string, user models.UserRef) (*Outcome, error) {
	l, err := c.slots.Release(ctx, contextID, user.ID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, fmt.Errorf("matchmaking: release %s: %w", contextID, models.ErrNotInLineup)
	}
	return c.Reconcile(ctx, l)
}

// SignGuest signs a guest or another user into a role and reconciles.
func (c *Coordinator) SignGuest(ctx context.Context, contextID, role string, side int, user models.UserRef, guildID string) (*Outcome, error) {
	if !user.IsGuest() {
		if err := team.CheckBan(c.db.WithContext(ctx), guildID, user.ID, c.now()); err != nil {
			return nil, err
		}
	}
	l, err := c.slots.SignGuest(ctx, contextID, role, side, user)
	if err != nil {
		return nil, err
	}
	return c.Reconcile(ctx, l)
}

// ClearRole empties a role and reconciles.
func (c *Coordinator) ClearRole(ctx context.Context, contextID, role string, side int) (*Outcome, error) {
	l, err := c.slots.ClearRole(ctx, contextID, role, side)
	if err != nil {
		return nil, err
	}
	return c.Reconcile(ctx, l)
}

// JoinPool signs user into a pool lineup and reconciles.
func (c *Coordinator) JoinPool(ctx context.Context, contextID string, user models.UserRef, goalkeeper bool) (*Outcome, error) {
	l, err := c.slots.JoinPool(ctx, contextID, user, goalkeeper)
	if err != nil {
		return nil, err
	}
	return c.Reconcile(ctx, l)
}

// SetAutoSearch toggles auto-search and reconciles, so turning it on for a
// full lineup queues it right away.
func (c *Coordinator) SetAutoSearch(ctx context.Context, contextID string, on bool) (*Outcome, error) {
	l, err := c.slots.SetAutoSearch(ctx, contextID, on)
	if err != nil {
		return nil, err
	}
	return c.Reconcile(ctx, l)
}

// StartSearch queues a full team lineup.
func (c *Coordinator) StartSearch(ctx context.Context, contextID string) (*models.QueueEntry, error) {
	return c.registry.Join(ctx, contextID)
}

// StopSearch removes a team lineup from the queue.
func (c *Coordinator) StopSearch(ctx context.Context, contextID string) error {
	return c.registry.Leave(ctx, contextID)
}

// Discover lists the entries a context can challenge.
func (c *Coordinator) Discover(ctx context.Context, contextID string) ([]models.QueueEntry, error) {
	db := c.db.WithContext(ctx)
	l, err := lineup.Get(db, contextID)
	if err != nil {
		return nil, err
	}
	tm, err := team.Get(db, l.GuildID)
	if err != nil {
		return nil, err
	}
	return c.registry.Discover(ctx, queue.DiscoverQuery{
		Region:           tm.Region,
		Size:             l.Size,
		ExcludeContextID: contextID,
		GuildID:          l.GuildID,
	})
}

// Propose challenges a queued entry.
func (c *Coordinator) Propose(ctx context.Context, contextID, entryID string, user models.UserRef) (*challenge.Outcome, error) {
	return c.negotiator.Propose(ctx, challenge.ProposeRequest{ContextID: contextID, User: user, TargetEntryID: entryID})
}

// Accept accepts a challenge.
func (c *Coordinator) Accept(ctx context.Context, challengeID, contextID string, user models.UserRef) (*match.Match, error) {
	return c.negotiator.Accept(ctx, challengeID, contextID, user)
}

// Refuse refuses a challenge.
func (c *Coordinator) Refuse(ctx context.Context, challengeID, contextID string, user models.UserRef) error {
	return c.negotiator.Refuse(ctx, challengeID, contextID, user)
}

// Cancel withdraws a challenge.
func (c *Coordinator) Cancel(ctx context.Context, challengeID string, user models.UserRef, operator bool) error {
	return c.negotiator.Cancel(ctx, challengeID, user, operator)
}

// Challenge returns the open challenge of a context, or nil.
func (c *Coordinator) Challenge(ctx context.Context, contextID string) (*models.Challenge, error) {
	return c.negotiator.ForContext(ctx, contextID)
}

// Pick applies a draft pick.
func (c *Coordinator) Pick(ctx context.Context, contextID, byUserID, targetUserID string) (*draft.Result, error) {
	return c.drafts.Pick(ctx, contextID, byUserID, targetUserID)
}

// Lineup returns the lineup of a context and whether it is searching.
func (c *Coordinator) Lineup(ctx context.Context, contextID string) (*models.Lineup, bool, error) {
	l, err := lineup.Get(c.db.WithContext(ctx), contextID)
	if err != nil {
		return nil, false, err
	}
	queued, err := c.registry.IsQueued(ctx, contextID)
	if err != nil {
		return nil, false, err
	}
	return l, queued, nil
}

// Reconcile brings the queue, challenge and draft state in line with l:
//   - a team lineup that stopped being eligible drops its challenge and
//     leaves the queue; an eligible one with auto-search joins it;
//   - a mix that is being challenged resolves the challenge once its first
//     side is full, otherwise a full mix drafts;
//   - a full captains pool drafts.
func (c *Coordinator) Reconcile(ctx context.Context, l *models.Lineup) (*Outcome, error) {
	out := &Outcome{Lineup: l}
	switch l.Kind {
	case models.KindTeam:
		if err := c.reconcileTeam(ctx, l); err != nil {
			return nil, err
		}
	case models.KindMix:
		open, err := c.negotiator.ForContext(ctx, l.ContextID)
		if err != nil {
			return nil, err
		}
		if open != nil && open.ChallengedContextID == l.ContextID {
			m, err := c.negotiator.ResolveMix(ctx, l.ContextID)
			if err != nil {
				return nil, err
			}
			out.Match = m
			break
		}
		if err := c.startDraft(ctx, l, out); err != nil {
			return nil, err
		}
	case models.KindCaptains:
		if err := c.startDraft(ctx, l, out); err != nil {
			return nil, err
		}
	}

	fresh, queued, err := c.Lineup(ctx, l.ContextID)
	if err != nil {
		return nil, err
	}
	out.Lineup = fresh
	out.Queued = queued
	return out, nil
}

func (c *Coordinator) reconcileTeam(ctx context.Context, l *models.Lineup) error {
	if !l.IsEligible() {
		if err := c.negotiator.CancelForContext(ctx, l.ContextID,
			"The challenge was cancelled because a lineup is no longer complete."); err != nil {
			return err
		}
		err := c.registry.Leave(ctx, l.ContextID)
		if err != nil && !errors.Is(err, models.ErrNotQueued) {
			return err
		}
		return nil
	}
	if !l.AutoSearch {
		return nil
	}
	open, err := c.negotiator.ForContext(ctx, l.ContextID)
	if err != nil || open != nil {
		return err
	}
	_, err = c.registry.Join(ctx, l.ContextID)
	if err != nil && !errors.Is(err, models.ErrAlreadyQueued) {
		return err
	}
	return nil
}

func (c *Coordinator) startDraft(ctx context.Context, l *models.Lineup, out *Outcome) error {
	if !l.IsEligible() || l.IsDrafting {
		return nil
	}
	res, err := c.drafts.Start(ctx, l.ContextID)
	if errors.Is(err, models.ErrDraftInProgress) || errors.Is(err, models.ErrNotEligible) {
		return nil
	}
	if err != nil {
		return err
	}
	out.Draft = res.Session
	out.Match = res.Match
	return nil
}
