// Package challenge negotiates matches between queued lineups. A proposal
// reserves both queue entries atomically; accepting hands the pair to the
// match finalizer while refusing or cancelling releases them.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zulandar/pitchside/internal/guard"
	"github.com/zulandar/pitchside/internal/lineup"
	"github.com/zulandar/pitchside/internal/logging"
	"github.com/zulandar/pitchside/internal/match"
	"github.com/zulandar/pitchside/internal/models"
	"github.com/zulandar/pitchside/internal/queue"
	"github.com/zulandar/pitchside/internal/team"
	"github.com/zulandar/pitchside/internal/telegraph"
)

// Negotiator runs the challenge lifecycle.
type Negotiator struct {
	db        *gorm.DB
	notifier  telegraph.Notifier
	registry  *queue.Registry
	finalizer *match.Finalizer
	log       *zap.Logger
	now       func() time.Time
}

// NegotiatorOpts holds parameters for creating a Negotiator.
type NegotiatorOpts struct {
	DB        *gorm.DB
	Notifier  telegraph.Notifier
	Registry  *queue.Registry
	Finalizer *match.Finalizer
	Log       *zap.Logger
	Now       func() time.Time // defaults to time.Now
}

// NewNegotiator creates a Negotiator.
func NewNegotiator(opts NegotiatorOpts) (*Negotiator, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("challenge: db is required")
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("challenge: notifier is required")
	}
	if opts.Registry == nil || opts.Finalizer == nil {
		return nil, fmt.Errorf("challenge: registry and finalizer are required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Negotiator{
		db:        opts.DB,
		notifier:  opts.Notifier,
		registry:  opts.Registry,
		finalizer: opts.Finalizer,
		log:       logging.OrNop(opts.Log),
		now:       now,
	}, nil
}

// ProposeRequest asks to challenge a queued entry on behalf of a context.
type ProposeRequest struct {
	ContextID     string
	User          models.UserRef
	TargetEntryID string
}

// Outcome reports what a proposal led to. Match is set when the target was
// a mix whose first side was already complete.
type Outcome struct {
	Challenge *models.Challenge
	Match     *match.Match
}

// ForContext returns the open challenge involving contextID, or nil.
func (n *Negotiator) ForContext(ctx context.Context, contextID string) (*models.Challenge, error) {
	return forContext(n.db.WithContext(ctx), contextID)
}

func forContext(db *gorm.DB, contextID string) (*models.Challenge, error) {
	var ch models.Challenge
	err := db.Where("initiating_context_id = ? OR challenged_context_id = ?", contextID, contextID).
		Order("created_at ASC").Take(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("challenge: lookup %s: %w", contextID, err)
	}
	return &ch, nil
}

// Get returns a challenge by id, or models.ErrChallengeExpired.
func (n *Negotiator) Get(ctx context.Context, id string) (*models.Challenge, error) {
	var ch models.Challenge
	err := n.db.WithContext(ctx).Where("id = ?", id).Take(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("challenge: %s: %w", id, models.ErrChallengeExpired)
	}
	if err != nil {
		return nil, fmt.Errorf("challenge: %s: %w", id, err)
	}
	return &ch, nil
}

// Propose challenges a queued entry. Preconditions are checked in a fixed
// order so the first failing one is reported; a failed proposal changes
// nothing.
func (n *Negotiator) Propose(ctx context.Context, req ProposeRequest) (*Outcome, error) {
	db := n.db.WithContext(ctx)
	target, err := queue.Get(db, req.TargetEntryID)
	if err != nil {
		return nil, err
	}
	if open, err := forContext(db, req.ContextID); err != nil {
		return nil, err
	} else if open != nil {
		return nil, fmt.Errorf("challenge: propose from %s: %w", req.ContextID, models.ErrAlreadyChallenging)
	}
	if open, err := forContext(db, target.ContextID); err != nil {
		return nil, err
	} else if open != nil || target.IsReserved() {
		return nil, fmt.Errorf("challenge: propose to %s: %w", target.ContextID, models.ErrTargetBusy)
	}
	if target.Kind != models.KindTeam {
		if tl, err := lineup.Get(db, target.ContextID); err == nil && tl.IsDrafting {
			return nil, fmt.Errorf("challenge: propose to %s: %w", target.ContextID, models.ErrTargetBusy)
		}
	}
	l, err := lineup.Get(db, req.ContextID)
	if err != nil {
		return nil, err
	}
	if l.Kind != models.KindTeam || !l.IsEligible() || l.ContextID == target.ContextID {
		return nil, fmt.Errorf("challenge: propose from %s: %w", req.ContextID, models.ErrNotEligible)
	}
	if !l.HasUser(req.User.ID) {
		return nil, fmt.Errorf("challenge: propose from %s: %w", req.ContextID, models.ErrNotInLineup)
	}
	if l.Size != target.Size {
		return nil, fmt.Errorf("challenge: propose %d vs %d: %w", l.Size, target.Size, models.ErrSizeMismatch)
	}
	if err := guard.Check(l.Users(models.SideA), target.Snapshot.Users(models.SideA)); err != nil {
		return nil, err
	}

	ch := &models.Challenge{
		ID:                  uuid.NewString(),
		InitiatingUserID:    req.User.ID,
		InitiatingUserName:  req.User.Name,
		InitiatingContextID: l.ContextID,
		InitiatingGuildID:   l.GuildID,
		ChallengedEntryID:   target.ID,
		ChallengedContextID: target.ContextID,
		ChallengedGuildID:   target.GuildID,
		CreatedAt:           n.now(),
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		region, err := team.Region(tx, l.GuildID)
		if err != nil {
			return err
		}
		own, err := queue.EnsureEphemeral(tx, l, region)
		if err != nil {
			return err
		}
		ch.InitiatingEntryID = own.ID
		if err := queue.Reserve(tx, []string{own.ID, target.ID}, ch.ID); err != nil {
			return err
		}
		return tx.Create(ch).Error
	})
	if err != nil {
		return nil, fmt.Errorf("challenge: propose %s -> %s: %w", l.ContextID, target.ContextID, err)
	}
	n.log.Info("challenge proposed", zap.String("challenge", ch.ID),
		zap.String("from", ch.InitiatingContextID), zap.String("to", ch.ChallengedContextID))

	n.announce(ctx, ch, teamLabel(db, l.GuildID, l.Name), target)

	out := &Outcome{Challenge: ch}
	if target.Kind == models.KindMix {
		m, err := n.ResolveMix(ctx, target.ContextID)
		if err != nil {
			return out, err
		}
		out.Match = m
	}
	return out, nil
}

// announce posts the challenge to both contexts and stores the message
// handles so their buttons can be stripped later.
func (n *Negotiator) announce(ctx context.Context, ch *models.Challenge, from string, target *models.QueueEntry) {
	answerable := target.Kind == models.KindTeam
	if ref, err := n.notifier.Notify(ctx, ch.ChallengedContextID, telegraph.FormatChallengeReceived(*ch, from, answerable)); err != nil {
		n.log.Warn("notify challenged", zap.String("challenge", ch.ID), zap.Error(err))
	} else {
		ch.ChallengedMessage = ref
	}
	to := teamLabel(n.db.WithContext(ctx), target.GuildID, target.Snapshot.Name)
	if ref, err := n.notifier.Notify(ctx, ch.InitiatingContextID, telegraph.FormatChallengeSent(*ch, to)); err != nil {
		n.log.Warn("notify initiator", zap.String("challenge", ch.ID), zap.Error(err))
	} else {
		ch.InitiatingMessage = ref
	}
	if err := n.db.WithContext(ctx).Model(ch).
		Select("initiating_message", "challenged_message").Updates(ch).Error; err != nil {
		n.log.Warn("store challenge messages", zap.String("challenge", ch.ID), zap.Error(err))
	}
}

// Accept finalizes a challenge from the challenged context.
func (n *Negotiator) Accept(ctx context.Context, challengeID, contextID string, user models.UserRef) (*match.Match, error) {
	ch, err := n.Get(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if user.ID == ch.InitiatingUserID || contextID == ch.InitiatingContextID {
		return nil, fmt.Errorf("challenge: accept %s: %w", challengeID, models.ErrSelfAccept)
	}
	if contextID != ch.ChallengedContextID {
		return nil, fmt.Errorf("challenge: accept %s: %w", challengeID, models.ErrPermissionDenied)
	}
	if err := n.requireMember(ctx, contextID, user); err != nil {
		return nil, err
	}
	return n.finalizer.FinalizeChallenge(ctx, challengeID)
}

// Refuse declines a challenge from the challenged context.
func (n *Negotiator) Refuse(ctx context.Context, challengeID, contextID string, user models.UserRef) error {
	ch, err := n.Get(ctx, challengeID)
	if err != nil {
		return err
	}
	if contextID != ch.ChallengedContextID {
		return fmt.Errorf("challenge: refuse %s: %w", challengeID, models.ErrPermissionDenied)
	}
	if err := n.requireMember(ctx, contextID, user); err != nil {
		return err
	}
	return n.close(ctx, ch, fmt.Sprintf("%s refused the challenge.", user.Name))
}

// Cancel withdraws a challenge. Only its initiator or an operator may.
func (n *Negotiator) Cancel(ctx context.Context, challengeID string, user models.UserRef, operator bool) error {
	ch, err := n.Get(ctx, challengeID)
	if err != nil {
		return err
	}
	if !operator && user.ID != ch.InitiatingUserID {
		return fmt.Errorf("challenge: cancel %s: %w", challengeID, models.ErrPermissionDenied)
	}
	return n.close(ctx, ch, fmt.Sprintf("%s cancelled the challenge.", user.Name))
}

// CancelForContext drops the open challenge involving contextID, if any.
func (n *Negotiator) CancelForContext(ctx context.Context, contextID, reason string) error {
	ch, err := n.ForContext(ctx, contextID)
	if err != nil || ch == nil {
		return err
	}
	err = n.close(ctx, ch, reason)
	if errors.Is(err, models.ErrChallengeExpired) {
		return nil
	}
	return err
}

// ResolveMix finalizes the challenge targeting a mix once the mix's first
// side is full and the challenger is still complete. It returns nil when
// there is nothing to finalize yet.
func (n *Negotiator) ResolveMix(ctx context.Context, mixContextID string) (*match.Match, error) {
	db := n.db.WithContext(ctx)
	var ch models.Challenge
	err := db.Where("challenged_context_id = ?", mixContextID).Take(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("challenge: resolve mix %s: %w", mixContextID, err)
	}
	mix, err := lineup.Get(db, mixContextID)
	if err != nil {
		return nil, err
	}
	if !mix.IsSideFull(models.SideA) {
		return nil, nil
	}
	home, err := lineup.Get(db, ch.InitiatingContextID)
	if err != nil {
		return nil, err
	}
	if !home.IsEligible() {
		return nil, nil
	}
	m, err := n.finalizer.FinalizeChallenge(ctx, ch.ID)
	if errors.Is(err, models.ErrChallengeExpired) {
		return nil, nil
	}
	return m, err
}

// TeardownGuild cancels every challenge touching a guild and removes the
// guild's queue entries.
func (n *Negotiator) TeardownGuild(ctx context.Context, guildID string) error {
	var (
		closed  []models.Challenge
		removed []models.QueueEntry
	)
	err := n.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("initiating_guild_id = ? OR challenged_guild_id = ?", guildID, guildID).
			Find(&closed).Error; err != nil {
			return err
		}
		for _, ch := range closed {
			if err := tx.Where("id = ?", ch.ID).Delete(&models.Challenge{}).Error; err != nil {
				return err
			}
			if err := queue.ReleaseChallenge(tx, ch.ID); err != nil {
				return err
			}
		}
		var err error
		removed, err = queue.RemoveByGuild(tx, guildID)
		return err
	})
	if err != nil {
		return fmt.Errorf("challenge: teardown guild %s: %w", guildID, err)
	}
	for _, e := range removed {
		n.registry.DeleteNotifications(ctx, e.Notifications)
	}
	for i := range closed {
		n.closed(ctx, &closed[i], "The challenge was cancelled because a team was deleted.")
	}
	return nil
}

// ExpireBefore cancels challenges created before cutoff and returns how
// many it dropped.
func (n *Negotiator) ExpireBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var stale []models.Challenge
	if err := n.db.WithContext(ctx).Where("created_at < ?", cutoff).Find(&stale).Error; err != nil {
		return 0, fmt.Errorf("challenge: expire: %w", err)
	}
	count := 0
	for i := range stale {
		err := n.close(ctx, &stale[i], "The challenge expired without an answer.")
		if errors.Is(err, models.ErrChallengeExpired) {
			continue
		}
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// close deletes a challenge and releases its reservations, then tells both
// contexts why.
func (n *Negotiator) close(ctx context.Context, ch *models.Challenge, reason string) error {
	err := n.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", ch.ID).Delete(&models.Challenge{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.ErrChallengeExpired
		}
		return queue.ReleaseChallenge(tx, ch.ID)
	})
	if err != nil {
		return fmt.Errorf("challenge: close %s: %w", ch.ID, err)
	}
	n.closed(ctx, ch, reason)
	n.log.Info("challenge closed", zap.String("challenge", ch.ID), zap.String("reason", reason))
	return nil
}

func (n *Negotiator) closed(ctx context.Context, ch *models.Challenge, reason string) {
	for _, ref := range []models.MessageRef{ch.InitiatingMessage, ch.ChallengedMessage} {
		if ref.MessageID == "" {
			continue
		}
		if err := n.notifier.EditComponents(ctx, ref, nil); err != nil {
			n.log.Warn("strip challenge buttons", zap.String("message", ref.MessageID), zap.Error(err))
		}
	}
	msg := telegraph.FormatText("%s", reason)
	for _, c := range []string{ch.InitiatingContextID, ch.ChallengedContextID} {
		if _, err := n.notifier.Notify(ctx, c, msg); err != nil {
			n.log.Warn("notify challenge closed", zap.String("context", c), zap.Error(err))
		}
	}
}

func (n *Negotiator) requireMember(ctx context.Context, contextID string, user models.UserRef) error {
	l, err := lineup.Get(n.db.WithContext(ctx), contextID)
	if err != nil {
		return err
	}
	if !l.HasUser(user.ID) {
		return fmt.Errorf("challenge: %s in %s: %w", user.ID, contextID, models.ErrNotInLineup)
	}
	return nil
}

func teamLabel(db *gorm.DB, guildID, fallback string) string {
	if t, err := team.Get(db, guildID); err == nil {
		return t.Name
	}
	return fallback
}
