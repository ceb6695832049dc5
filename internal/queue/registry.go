package queue

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zulandar/pitchside/internal/lineup"
	"github.com/zulandar/pitchside/internal/logging"
	"github.com/zulandar/pitchside/internal/models"
	"github.com/zulandar/pitchside/internal/team"
	"github.com/zulandar/pitchside/internal/telegraph"
)

// Registry is the queue of lineups seeking an opponent.
type Registry struct {
	db       *gorm.DB
	notifier telegraph.Notifier
	log      *zap.Logger
}

// RegistryOpts holds parameters for creating a Registry.
type RegistryOpts struct {
	DB       *gorm.DB
	Notifier telegraph.Notifier
	Log      *zap.Logger
}

// NewRegistry creates a Registry.
func NewRegistry(opts RegistryOpts) (*Registry, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("queue: db is required")
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("queue: notifier is required")
	}
	return &Registry{db: opts.DB, notifier: opts.Notifier, log: logging.OrNop(opts.Log)}, nil
}

// DiscoverQuery selects the entries a context may challenge.
type DiscoverQuery struct {
	Region           string
	Size             int
	ExcludeContextID string
	GuildID          string // requester's guild, for team-only visibility
}

// Join queues a full team lineup and announces it to every other team of
// the same region and size. Pool lineups are registered silently instead.
func (r *Registry) Join(ctx context.Context, contextID string) (*models.QueueEntry, error) {
	db := r.db.WithContext(ctx)
	l, err := lineup.Get(db, contextID)
	if err != nil {
		return nil, fmt.Errorf("queue: join: %w", err)
	}
	if l.IsPool() {
		return r.Register(ctx, l)
	}
	if !l.IsEligible() {
		return nil, fmt.Errorf("queue: join %s: %w", contextID, models.ErrNotEligible)
	}
	tm, err := team.Get(db, l.GuildID)
	if err != nil {
		return nil, fmt.Errorf("queue: join %s: %w", contextID, err)
	}

	entry := newEntry(l, tm.Region, false)
	if err := db.Transaction(func(tx *gorm.DB) error {
		return create(tx, entry)
	}); err != nil {
		return nil, err
	}
	r.log.Info("lineup queued", zap.String("context", contextID), zap.String("entry", entry.ID),
		zap.String("region", tm.Region), zap.Int("size", l.Size))

	refs := r.announce(ctx, entry, tm.Name)
	if len(refs) > 0 {
		entry.Notifications = refs
		if err := db.Model(entry).Select("notifications").Updates(entry).Error; err != nil {
			// The announcements exist but are now untracked; they are
			// harmless since clicking one reports TargetExpired.
			r.log.Warn("record notifications", zap.String("entry", entry.ID), zap.Error(err))
		}
	}
	return entry, nil
}

// Register creates the silent entry that lets teams challenge a mix. It is
// idempotent.
func (r *Registry) Register(ctx context.Context, l *models.Lineup) (*models.QueueEntry, error) {
	db := r.db.WithContext(ctx)
	if existing, err := GetByContext(db, l.ContextID); err == nil {
		return existing, nil
	}
	region, err := team.Region(db, l.GuildID)
	if err != nil {
		return nil, fmt.Errorf("queue: register %s: %w", l.ContextID, err)
	}
	entry := newEntry(l, region, false)
	if err := db.Transaction(func(tx *gorm.DB) error {
		return create(tx, entry)
	}); err != nil {
		if errors.Is(err, models.ErrAlreadyQueued) {
			return GetByContext(db, l.ContextID)
		}
		return nil, err
	}
	return entry, nil
}

// announce posts the entry into every eligible context and returns the
// handles of the messages that were delivered.
func (r *Registry) announce(ctx context.Context, entry *models.QueueEntry, teamName string) []models.MessageRef {
	contexts, err := r.audience(ctx, entry)
	if err != nil {
		r.log.Warn("find contexts to notify", zap.String("entry", entry.ID), zap.Error(err))
		return nil
	}
	msg := telegraph.FormatSearch(*entry, teamName)
	var refs []models.MessageRef
	for _, c := range contexts {
		ref, err := r.notifier.Notify(ctx, c, msg)
		if err != nil {
			r.log.Warn("announce search", zap.String("entry", entry.ID), zap.String("to", c), zap.Error(err))
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}

// audience lists team contexts of the same region and size that may see
// the entry.
func (r *Registry) audience(ctx context.Context, entry *models.QueueEntry) ([]string, error) {
	q := r.db.WithContext(ctx).Model(&models.Lineup{}).
		Joins("JOIN teams ON teams.guild_id = lineups.guild_id").
		Where("teams.region = ? AND lineups.size = ? AND lineups.kind = ? AND lineups.context_id <> ?",
			entry.Region, entry.Size, models.KindTeam, entry.ContextID)
	if entry.Visibility == models.VisibilityTeam {
		q = q.Where("lineups.guild_id = ?", entry.GuildID)
	}
	var ids []string
	if err := q.Order("lineups.context_id").Pluck("lineups.context_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// Leave removes a context from the queue and deletes its announcements.
// Pool lineups stay registered. A reserved entry cannot leave until its
// challenge is resolved.
func (r *Registry) Leave(ctx context.Context, contextID string) error {
	db := r.db.WithContext(ctx)
	entry, err := GetByContext(db, contextID)
	if err != nil {
		return fmt.Errorf("queue: leave: %w", err)
	}
	if entry.Kind == models.KindMix || entry.Kind == models.KindCaptains {
		return nil
	}
	if entry.IsReserved() {
		return fmt.Errorf("queue: leave %s: %w", contextID, models.ErrAlreadyChallenging)
	}
	res := db.Where("id = ? AND reserved_by IS NULL", entry.ID).Delete(&models.QueueEntry{})
	if res.Error != nil {
		return fmt.Errorf("queue: leave %s: %w", contextID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("queue: leave %s: %w", contextID, models.ErrAlreadyChallenging)
	}
	r.DeleteNotifications(ctx, entry.Notifications)
	r.log.Info("lineup left queue", zap.String("context", contextID), zap.String("entry", entry.ID))
	return nil
}

// DeleteNotifications removes announcement messages, logging failures.
func (r *Registry) DeleteNotifications(ctx context.Context, refs []models.MessageRef) {
	for _, ref := range refs {
		if err := r.notifier.Delete(ctx, ref); err != nil {
			r.log.Warn("delete notification", zap.String("context", ref.ContextID),
				zap.String("message", ref.MessageID), zap.Error(err))
		}
	}
}

// Discover returns the unreserved entries matching q, oldest first. Team
// visibility entries only show up for their own guild.
func (r *Registry) Discover(ctx context.Context, q DiscoverQuery) ([]models.QueueEntry, error) {
	var out []models.QueueEntry
	err := r.db.WithContext(ctx).
		Where("region = ? AND size = ? AND context_id <> ? AND reserved_by IS NULL", q.Region, q.Size, q.ExcludeContextID).
		Where("(visibility = ? OR guild_id = ?)", models.VisibilityPublic, q.GuildID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("queue: discover: %w", err)
	}
	return out, nil
}

// IsQueued reports whether a context has a non-ephemeral queue entry.
func (r *Registry) IsQueued(ctx context.Context, contextID string) (bool, error) {
	e, err := GetByContext(r.db.WithContext(ctx), contextID)
	if errors.Is(err, models.ErrNotQueued) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !e.Ephemeral, nil
}
